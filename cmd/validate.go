package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/incident-sync/internal/importer"
)

var validateSource string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the source file and field configuration without writing",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if validateSource != "" {
			cfg.Import.Source = validateSource
		}

		deps, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer deps.Close()

		gc, err := initGeocoder(deps)
		if err != nil {
			return err
		}

		imp, err := importer.New(cfg.Import, deps.store, gc)
		if err != nil {
			return err
		}

		n, err := imp.Validate(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("validation passed",
			zap.String("source", cfg.Import.Source),
			zap.Int("records", n),
		)
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateSource, "source", "", "source spreadsheet path or URL (overrides config)")
	rootCmd.AddCommand(validateCmd)
}
