// Package importer runs one end-to-end import: read a source spreadsheet,
// map and validate fields, reconcile against the target store, locate the
// surviving records, and append them, collecting exception reports and a
// run log along the way.
package importer

import (
	"context"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/incident-sync/internal/fetcher"
	"github.com/sells-group/incident-sync/internal/reconcile"
	"github.com/sells-group/incident-sync/internal/record"
	"github.com/sells-group/incident-sync/internal/report"
	"github.com/sells-group/incident-sync/internal/store"
	"github.com/sells-group/incident-sync/pkg/geocode"
)

// AddressFields names the source columns fed to the locator. Street set
// means address mode; City, State, and Zip are optional components.
type AddressFields struct {
	Street string `yaml:"street" mapstructure:"street"`
	City   string `yaml:"city" mapstructure:"city"`
	State  string `yaml:"state" mapstructure:"state"`
	Zip    string `yaml:"zip" mapstructure:"zip"`
}

// Config holds one import run's settings.
type Config struct {
	// Source is a local spreadsheet path or an HTTP(S) URL to one.
	Source string `yaml:"source" mapstructure:"source"`

	// Sheet selects the XLSX worksheet; empty means the first.
	Sheet string `yaml:"sheet" mapstructure:"sheet"`

	// Target names the destination for run logs and messages.
	Target string `yaml:"target" mapstructure:"target"`

	// FieldMap renames source columns to target field names. When set,
	// only mapped columns carry over, and the configured id, date, and
	// summary fields must all appear among the mapped targets.
	FieldMap map[string]string `yaml:"field_map" mapstructure:"field_map"`

	// Reconcile configures the duplicate-resolution pass.
	Reconcile reconcile.Config `yaml:"reconcile" mapstructure:"reconcile"`

	// DeleteDuplicates enables the reconciliation pass. It requires the
	// reconcile date field.
	DeleteDuplicates bool `yaml:"delete_duplicates" mapstructure:"delete_duplicates"`

	// SummaryField, when set, tallies incident counts per distinct value
	// in the run log.
	SummaryField string `yaml:"summary_field" mapstructure:"summary_field"`

	// Address configures address mode. Leave Street empty for coordinate
	// mode.
	Address AddressFields `yaml:"address" mapstructure:"address"`

	// XField and YField name the coordinate columns, used as the geometry
	// source in coordinate mode and as attribute targets for locator
	// output in address mode.
	XField string `yaml:"x_field" mapstructure:"x_field"`
	YField string `yaml:"y_field" mapstructure:"y_field"`

	// AllowedAddrTypes overrides the locator address-type allow list.
	AllowedAddrTypes []string `yaml:"allowed_addr_types" mapstructure:"allowed_addr_types"`

	// Locator names the locator service for the run log.
	Locator string `yaml:"locator" mapstructure:"locator"`
}

// AddressMode reports whether records are located by address rather than by
// source coordinates.
func (c Config) AddressMode() bool { return c.Address.Street != "" }

// Summary is the outcome of one import run.
type Summary struct {
	Log      *report.RunLog
	Sink     *report.Sink
	Result   *reconcile.Result
	Appended int
}

// Importer executes import runs against one store.
type Importer struct {
	cfg      Config
	store    store.Store
	geocoder geocode.Client
	http     *fetcher.HTTPFetcher
}

// New validates the configuration and builds an importer. The geocoder may
// be nil in coordinate mode.
func New(cfg Config, st store.Store, gc geocode.Client) (*Importer, error) {
	if cfg.Source == "" {
		return nil, eris.New("importer: source is required")
	}
	if cfg.Reconcile.IDField == "" {
		return nil, eris.New("importer: reconcile id_field is required")
	}
	if cfg.DeleteDuplicates && cfg.Reconcile.DateField == "" {
		return nil, eris.New("importer: Report date field required to identify duplicate records")
	}
	if cfg.AddressMode() {
		if gc == nil {
			return nil, eris.New("importer: address mode requires a locator client")
		}
	} else if cfg.XField == "" || cfg.YField == "" {
		return nil, eris.New("importer: coordinate mode requires x_field and y_field")
	}
	return &Importer{
		cfg:      cfg,
		store:    st,
		geocoder: gc,
		http:     fetcher.NewHTTPFetcher(),
	}, nil
}

// Run executes the import.
func (im *Importer) Run(ctx context.Context) (*Summary, error) {
	log := zap.L().With(zap.String("component", "importer"))

	batch, err := im.load(ctx)
	if err != nil {
		return nil, err
	}

	if len(im.cfg.FieldMap) > 0 {
		batch, err = im.applyFieldMap(batch)
		if err != nil {
			return nil, err
		}
	}

	schema, err := im.store.Schema(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "importer: read target schema")
	}
	if err := im.validateFields(batch, schema); err != nil {
		return nil, err
	}

	sum := &Summary{
		Log:  report.NewRunLog(currentUser(), im.cfg.Source, im.targetName()),
		Sink: report.NewSink(batch.Fields),
	}
	sum.Log.Locator = im.cfg.Locator
	sum.Log.TotalRecords = len(batch.Records)
	log.Info("source loaded",
		zap.String("source", im.cfg.Source),
		zap.Int("records", len(batch.Records)),
	)

	if im.cfg.SummaryField != "" {
		for _, rec := range batch.Records {
			sum.Log.Summarize(im.cfg.SummaryField, rec.Value(im.cfg.SummaryField))
		}
	}

	inserts, err := im.reconcilePass(ctx, batch, sum)
	if err != nil {
		return nil, err
	}

	inserts = im.locate(ctx, inserts, sum)

	appended, err := im.append(ctx, inserts, sum)
	sum.Appended = appended
	sum.Log.Appended = appended
	if err != nil {
		return sum, err
	}

	log.Info("import complete",
		zap.Int("appended", sum.Appended),
		zap.Int("updated", sum.Log.Updated),
		zap.Int("removed", sum.Log.Removed),
		zap.Int("reported", sum.Sink.Total()),
	)
	return sum, nil
}

// Validate performs a dry run: it loads the source, applies the field map,
// and checks every configured field against the source and the target
// schema without writing anything. It returns the number of source records.
func (im *Importer) Validate(ctx context.Context) (int, error) {
	batch, err := im.load(ctx)
	if err != nil {
		return 0, err
	}
	if len(im.cfg.FieldMap) > 0 {
		batch, err = im.applyFieldMap(batch)
		if err != nil {
			return 0, err
		}
	}
	schema, err := im.store.Schema(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "importer: read target schema")
	}
	if err := im.validateFields(batch, schema); err != nil {
		return 0, err
	}
	return len(batch.Records), nil
}

// load reads the source spreadsheet, downloading it first when the source
// is a URL.
func (im *Importer) load(ctx context.Context) (*fetcher.Batch, error) {
	path := im.cfg.Source
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		tmp := filepath.Join(os.TempDir(), "incident-sync-"+filepath.Base(path))
		if _, err := im.http.DownloadToFile(ctx, path, tmp); err != nil {
			return nil, err
		}
		defer os.Remove(tmp) //nolint:errcheck
		path = tmp
	}

	return fetcher.ReadFile(path, fetcher.Options{Sheet: im.cfg.Sheet})
}

// applyFieldMap renames source columns to their target names and drops
// unmapped columns. The configured id, date, and summary fields must all be
// produced by the mapping.
func (im *Importer) applyFieldMap(batch *fetcher.Batch) (*fetcher.Batch, error) {
	mapped := make(map[string]bool, len(im.cfg.FieldMap))
	for _, target := range im.cfg.FieldMap {
		mapped[target] = true
	}
	required := []string{im.cfg.Reconcile.IDField}
	if im.cfg.DeleteDuplicates {
		required = append(required, im.cfg.Reconcile.DateField)
	}
	if im.cfg.SummaryField != "" {
		required = append(required, im.cfg.SummaryField)
	}
	for _, f := range required {
		if !mapped[f] {
			return nil, eris.Errorf("importer: field map does not produce required field %q", f)
		}
	}

	var fields []string
	for _, src := range batch.Fields {
		if target, ok := im.cfg.FieldMap[src]; ok {
			fields = append(fields, target)
		}
	}

	out := &fetcher.Batch{Fields: fields}
	for _, rec := range batch.Records {
		m := record.NewRecord(fields)
		for src, target := range im.cfg.FieldMap {
			if v, ok := rec.Get(src); ok {
				m.Set(target, v)
			}
		}
		out.Records = append(out.Records, m)
	}
	return out, nil
}

// validateFields checks that every named field exists where the run needs
// it. Optional fields left empty are skipped; named-but-missing ones are
// configuration errors.
func (im *Importer) validateFields(batch *fetcher.Batch, schema record.Schema) error {
	have := make(map[string]bool, len(batch.Fields))
	for _, f := range batch.Fields {
		have[f] = true
	}

	requireSource := func(name, role string) error {
		if name == "" {
			return nil
		}
		if !have[name] {
			return eris.Errorf("importer: %s field %q does not exist in %s", role, name, im.cfg.Source)
		}
		return nil
	}

	if err := requireSource(im.cfg.Reconcile.IDField, "id"); err != nil {
		return err
	}
	if !schema.Has(im.cfg.Reconcile.IDField) {
		return eris.Errorf("importer: id field %q does not exist in %s", im.cfg.Reconcile.IDField, im.targetName())
	}

	if im.cfg.DeleteDuplicates {
		if err := requireSource(im.cfg.Reconcile.DateField, "report date"); err != nil {
			return err
		}
		if !schema.Has(im.cfg.Reconcile.DateField) {
			return eris.Errorf("importer: report date field %q does not exist in %s", im.cfg.Reconcile.DateField, im.targetName())
		}
	}

	if im.cfg.AddressMode() {
		for role, name := range map[string]string{
			"street": im.cfg.Address.Street,
			"city":   im.cfg.Address.City,
			"state":  im.cfg.Address.State,
			"zip":    im.cfg.Address.Zip,
		} {
			if err := requireSource(name, role); err != nil {
				return err
			}
		}
	} else {
		if err := requireSource(im.cfg.XField, "x coordinate"); err != nil {
			return err
		}
		if err := requireSource(im.cfg.YField, "y coordinate"); err != nil {
			return err
		}
	}

	if err := requireSource(im.cfg.SummaryField, "summary"); err != nil {
		return err
	}
	for _, f := range im.cfg.Reconcile.LocationFields {
		if err := requireSource(f, "location"); err != nil {
			return err
		}
	}
	return nil
}

// reconcilePass runs duplicate resolution when enabled; otherwise it only
// rejects records with a null id.
func (im *Importer) reconcilePass(ctx context.Context, batch *fetcher.Batch, sum *Summary) ([]*record.Record, error) {
	if !im.cfg.DeleteDuplicates {
		var inserts []*record.Record
		for _, rec := range batch.Records {
			if rec.Value(im.cfg.Reconcile.IDField).IsNull() {
				sum.Sink.Add(report.NullRequired, rec, "null value in required field "+im.cfg.Reconcile.IDField)
				continue
			}
			inserts = append(inserts, rec)
		}
		sum.Log.Removed = sum.Sink.Count(report.NullRequired)
		return inserts, nil
	}

	eng, err := reconcile.New(im.cfg.Reconcile)
	if err != nil {
		return nil, err
	}
	res, err := eng.Run(ctx, batch.Records, im.store)
	if err != nil {
		return nil, err
	}
	sum.Result = res

	for _, rec := range res.NullRecords {
		sum.Sink.Add(report.NullRequired, rec, "null value in required field")
	}
	sum.Log.Updated = res.UpdateCount
	sum.Log.Removed = res.DeleteCount + len(res.NullRecords)
	return res.Inserts, nil
}

// locate attaches point geometry to the insert candidates, either from the
// locator or from the source coordinate columns, filing rejects in the
// appropriate report.
func (im *Importer) locate(ctx context.Context, inserts []*record.Record, sum *Summary) []*record.Record {
	if len(inserts) == 0 {
		return inserts
	}
	if im.cfg.AddressMode() {
		return im.locateByAddress(ctx, inserts, sum)
	}
	return im.locateByCoordinates(inserts, sum)
}

func (im *Importer) locateByAddress(ctx context.Context, inserts []*record.Record, sum *Summary) []*record.Record {
	addrs := make([]geocode.AddressInput, len(inserts))
	for i, rec := range inserts {
		addrs[i] = geocode.AddressInput{
			ID:      strconv.Itoa(i),
			Street:  rec.Value(im.cfg.Address.Street).Text(),
			City:    rec.Value(im.cfg.Address.City).Text(),
			State:   rec.Value(im.cfg.Address.State).Text(),
			ZipCode: rec.Value(im.cfg.Address.Zip).Text(),
		}
	}

	results, err := im.geocoder.BatchGeocode(ctx, addrs)
	if err != nil {
		// The batch call degrades item by item; a hard failure rejects all.
		for _, rec := range inserts {
			sum.Sink.Add(report.Unmatched, rec, "locator unavailable")
		}
		zap.L().Warn("importer: locator batch failed", zap.Error(err))
		return nil
	}

	var located []*record.Record
	for i, rec := range inserts {
		r := results[i]
		if !r.Accepted(im.cfg.AllowedAddrTypes) {
			reason := "no acceptable match (status " + statusOrU(r.Status) + ")"
			if r.Matched {
				// Matched but too coarse; keep the candidate point so the
				// report shows where the locator landed.
				reason = "address type " + r.AddrType + " not accepted"
				rec.SetGeometry(geom.NewPointFlat(geom.XY, []float64{r.X, r.Y}))
			}
			sum.Sink.Add(report.Unmatched, rec, reason)
			continue
		}

		rec.SetGeometry(geom.NewPointFlat(geom.XY, []float64{r.X, r.Y}))
		if im.cfg.XField != "" {
			rec.Set(im.cfg.XField, record.Float(r.X))
		}
		if im.cfg.YField != "" {
			rec.Set(im.cfg.YField, record.Float(r.Y))
		}
		located = append(located, rec)
	}

	sum.Log.Geocoded = len(located)
	return located
}

func (im *Importer) locateByCoordinates(inserts []*record.Record, sum *Summary) []*record.Record {
	var located []*record.Record
	for _, rec := range inserts {
		x, errX := coordinate(rec.Value(im.cfg.XField))
		y, errY := coordinate(rec.Value(im.cfg.YField))
		if errX != nil || errY != nil {
			sum.Sink.Add(report.NotAppended, rec, "invalid coordinates")
			continue
		}
		if im.cfg.Reconcile.IgnoreZeroCoordinates && x == 0 && y == 0 {
			sum.Sink.Add(report.NotAppended, rec, "zero coordinates")
			continue
		}

		rec.SetGeometry(geom.NewPointFlat(geom.XY, []float64{x, y}))
		located = append(located, rec)
	}
	return located
}

// append pushes the located records into the target in chunks. On failure
// only the rejected and never-sent records are reported; items that
// committed inside the failing chunk stay appended.
func (im *Importer) append(ctx context.Context, inserts []*record.Record, sum *Summary) (int, error) {
	writer := store.NewWriter(im.store, im.cfg.Reconcile.ChunkSize)
	res, err := writer.ApplyInserts(ctx, inserts)
	if err != nil {
		for _, i := range res.FailedIndexes {
			sum.Sink.Add(report.NotAppended, inserts[i], "append rejected by target")
		}
		for _, rec := range inserts[res.Processed:] {
			sum.Sink.Add(report.NotAppended, rec, "append not attempted")
		}
		sum.Log.NotAppended = len(inserts) - res.Succeeded
		return res.Succeeded, eris.Wrap(err, "importer: append records")
	}
	return res.Succeeded, nil
}

func (im *Importer) targetName() string {
	if im.cfg.Target != "" {
		return im.cfg.Target
	}
	return "target"
}

func coordinate(v record.Value) (float64, error) {
	if v.IsNull() {
		return 0, eris.New("importer: null coordinate")
	}
	switch v.Kind() {
	case record.KindFloat:
		return v.FloatVal(), nil
	case record.KindInteger:
		return float64(v.IntVal()), nil
	default:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Text()), 64)
		if err != nil {
			return 0, eris.Wrap(err, "importer: parse coordinate")
		}
		return f, nil
	}
}

func statusOrU(s string) string {
	if s == "" {
		return geocode.StatusUnmatched
	}
	return s
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}
