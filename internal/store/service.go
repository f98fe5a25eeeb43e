package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/incident-sync/internal/record"
	"github.com/sells-group/incident-sync/pkg/featureservice"
)

// FeatureService implements Store over a remote hosted feature layer. Date
// fields surface as epoch-milliseconds integers, which the engine's
// timestamp normalization accepts directly.
type FeatureService struct {
	client *featureservice.Client
	schema *record.Schema
	info   *featureservice.LayerInfo
}

// NewFeatureService creates the adapter for an already-configured client.
func NewFeatureService(client *featureservice.Client) *FeatureService {
	return &FeatureService{client: client}
}

func (f *FeatureService) layer(ctx context.Context) (*featureservice.LayerInfo, error) {
	if f.info != nil {
		return f.info, nil
	}
	info, err := f.client.Layer(ctx)
	if err != nil {
		return nil, err
	}
	f.info = info
	return info, nil
}

func (f *FeatureService) Schema(ctx context.Context) (record.Schema, error) {
	if f.schema != nil {
		return *f.schema, nil
	}

	info, err := f.layer(ctx)
	if err != nil {
		return record.Schema{}, err
	}

	schema := record.Schema{RowID: info.ObjectIDField}
	for _, fld := range info.Fields {
		schema.Fields = append(schema.Fields, record.Field{
			Name:     fld.Name,
			Kind:     kindFromServiceType(fld.Type),
			Nullable: true,
		})
	}
	if len(schema.Fields) == 0 {
		return record.Schema{}, eris.New("featureservice: layer reports no fields")
	}

	f.schema = &schema
	return schema, nil
}

func kindFromServiceType(t string) record.Kind {
	switch t {
	case featureservice.TypeOID, featureservice.TypeInteger, featureservice.TypeSmall:
		return record.KindInteger
	case featureservice.TypeDouble, featureservice.TypeSingle:
		return record.KindFloat
	case featureservice.TypeDate:
		return record.KindDate
	default:
		return record.KindString
	}
}

func (f *FeatureService) Query(ctx context.Context, where string, fields []string) ([]*record.Record, error) {
	schema, err := f.Schema(ctx)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		fields = schema.Names()
	}

	outFields := []string{schema.RowID}
	for _, fl := range fields {
		if fl != schema.RowID {
			outFields = append(outFields, fl)
		}
	}

	feats, err := f.client.Query(ctx, where, outFields)
	if err != nil {
		return nil, err
	}

	out := make([]*record.Record, 0, len(feats))
	for _, feat := range feats {
		rec := record.NewRecord(outFields)
		for _, name := range outFields {
			kind, _ := schema.Kind(name)
			rec.Set(name, record.FromAny(feat.Attributes[name], kind))
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *FeatureService) QueryIDs(ctx context.Context, idField string) (map[string]record.Value, error) {
	schema, err := f.Schema(ctx)
	if err != nil {
		return nil, err
	}
	kind, ok := schema.Kind(idField)
	if !ok {
		return nil, eris.Errorf("featureservice: field %s does not exist on the layer", idField)
	}

	feats, err := f.client.Query(ctx, idField+" IS NOT NULL", []string{idField})
	if err != nil {
		return nil, err
	}

	ids := make(map[string]record.Value, len(feats))
	for _, feat := range feats {
		v := record.FromAny(feat.Attributes[idField], kind)
		if v.IsNull() {
			continue
		}
		id := record.CastID(v, kind)
		ids[id.Key()] = id
	}
	return ids, nil
}

func (f *FeatureService) InsertBatch(ctx context.Context, recs []*record.Record) (EditResult, error) {
	return f.edit(ctx, recs, false)
}

func (f *FeatureService) UpdateBatch(ctx context.Context, recs []*record.Record) (EditResult, error) {
	return f.edit(ctx, recs, true)
}

func (f *FeatureService) edit(ctx context.Context, recs []*record.Record, update bool) (EditResult, error) {
	var res EditResult
	if len(recs) == 0 {
		return res, nil
	}

	schema, err := f.Schema(ctx)
	if err != nil {
		return res, err
	}

	feats := make([]featureservice.Feature, len(recs))
	for i, rec := range recs {
		feats[i] = featureservice.Feature{
			Attributes: serviceAttributes(rec, schema, update),
			Geometry:   featureservice.FromPoint(rec.Geometry()),
		}
	}

	var results *featureservice.EditResults
	var outcomes []featureservice.EditOutcome
	if update {
		results, err = f.client.ApplyEdits(ctx, nil, feats)
		if results != nil {
			outcomes = results.UpdateResults
		}
	} else {
		results, err = f.client.ApplyEdits(ctx, feats, nil)
		if results != nil {
			outcomes = results.AddResults
		}
	}
	if err != nil {
		return res, err
	}

	for i, outcome := range outcomes {
		if outcome.Success {
			res.SuccessCount++
			continue
		}
		desc := "edit rejected"
		if outcome.Error != nil {
			desc = outcome.Error.Description
		}
		res.Failures = append(res.Failures, Failure{Index: i, Err: eris.New("featureservice: " + desc)})
	}
	return res, nil
}

// serviceAttributes builds the attribute payload for one record. Dates are
// sent as epoch milliseconds, the layer's native representation; the row
// identity value is included only for updates.
func serviceAttributes(rec *record.Record, schema record.Schema, update bool) map[string]any {
	attrs := make(map[string]any)
	for _, name := range rec.Fields() {
		if name == schema.RowID && !update {
			continue
		}
		kind, ok := schema.Kind(name)
		if !ok {
			continue
		}
		v := rec.Value(name)
		if v.IsNull() {
			attrs[name] = nil
			continue
		}
		if kind == record.KindDate && v.Kind() == record.KindDate && !v.Time().IsZero() {
			attrs[name] = record.EpochMillis(v.Time())
			continue
		}
		attrs[name] = v.Any()
	}
	return attrs
}

func (f *FeatureService) DeleteWhere(ctx context.Context, where string) (int, error) {
	return f.client.DeleteWhere(ctx, where)
}
