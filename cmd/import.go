package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/incident-sync/internal/importer"
	"github.com/sells-group/incident-sync/internal/report"
)

var importSource string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import an incident spreadsheet into the target store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if importSource != "" {
			cfg.Import.Source = importSource
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

		sum, runErr := imp.Run(ctx)
		if sum != nil {
			if err := writeReports(sum); err != nil {
				zap.L().Error("write reports", zap.Error(err))
			}
		}
		if runErr != nil {
			return runErr
		}

		zap.L().Info("import complete",
			zap.Int("appended", sum.Appended),
			zap.Int("updated", sum.Log.Updated),
			zap.Int("removed", sum.Log.Removed),
			zap.Int("reported", sum.Sink.Total()),
		)
		return nil
	},
}

// writeReports renders the run log and one exception CSV per non-empty
// category into the configured report directory.
func writeReports(sum *importer.Summary) error {
	dir := cfg.Report.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "create report dir")
	}

	stamp := sum.Log.Started.Format("20060102-150405")

	logPath := filepath.Join(dir, fmt.Sprintf("run-%s.log", stamp))
	f, err := os.Create(logPath)
	if err != nil {
		return eris.Wrap(err, "create run log")
	}
	if err := sum.Log.Write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrap(err, "close run log")
	}
	zap.L().Info("run log written", zap.String("path", logPath))

	for _, cat := range []report.Category{report.NullRequired, report.Unmatched, report.NotAppended} {
		if sum.Sink.Count(cat) == 0 {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("%s-%s.csv", cat, stamp))
		cf, err := os.Create(path)
		if err != nil {
			return eris.Wrapf(err, "create %s report", cat)
		}
		if err := sum.Sink.WriteCSV(cat, cf); err != nil {
			cf.Close()
			return err
		}
		if err := cf.Close(); err != nil {
			return eris.Wrapf(err, "close %s report", cat)
		}
		zap.L().Info("exception report written",
			zap.String("category", cat.String()),
			zap.Int("rows", sum.Sink.Count(cat)),
			zap.String("path", path),
		)
	}

	return nil
}

func init() {
	importCmd.Flags().StringVar(&importSource, "source", "", "source spreadsheet path or URL (overrides config)")
	rootCmd.AddCommand(importCmd)
}
