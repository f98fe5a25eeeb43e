package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/incident-sync/internal/record"
	"github.com/sells-group/incident-sync/pkg/featureservice"
)

const layerJSON = `{
	"objectIdField": "OBJECTID",
	"geometryType": "esriGeometryPoint",
	"fields": [
		{"name": "OBJECTID", "type": "esriFieldTypeOID"},
		{"name": "incident_id", "type": "esriFieldTypeInteger"},
		{"name": "report_date", "type": "esriFieldTypeDate"},
		{"name": "address", "type": "esriFieldTypeString"},
		{"name": "severity", "type": "esriFieldTypeInteger"}
	]
}`

// newTestService spins up a layer endpoint that answers the metadata call
// and delegates everything else to handle.
func newTestService(t *testing.T, handle http.HandlerFunc) *FeatureService {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.URL.Path == "/" || r.URL.Path == "" {
			fmt.Fprint(w, layerJSON)
			return
		}
		handle(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewFeatureService(featureservice.NewClient(srv.URL))
}

func TestServiceSchema(t *testing.T) {
	st := newTestService(t, func(http.ResponseWriter, *http.Request) {})

	schema, err := st.Schema(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "OBJECTID", schema.RowID)
	kind, ok := schema.Kind("report_date")
	require.True(t, ok)
	assert.Equal(t, record.KindDate, kind)
	kind, _ = schema.Kind("incident_id")
	assert.Equal(t, record.KindInteger, kind)
}

func TestServiceQuery(t *testing.T) {
	reported := time.Date(2021, 5, 1, 8, 0, 0, 0, time.UTC)
	st := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "incident_id = 42", r.Form.Get("where"))
		assert.True(t, strings.HasPrefix(r.Form.Get("outFields"), "OBJECTID"))
		fmt.Fprintf(w, `{"features":[{"attributes":{"OBJECTID":9,"incident_id":42,"report_date":%d,"address":"10 Main St"}}]}`,
			record.EpochMillis(reported))
	})

	recs, err := st.Query(context.Background(), "incident_id = 42", []string{"incident_id", "report_date", "address"})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, int64(9), rec.Value("OBJECTID").IntVal())
	assert.Equal(t, int64(42), rec.Value("incident_id").IntVal())
	assert.Equal(t, "10 Main St", rec.Value("address").Str())

	// Raw epoch millis pass straight into timestamp normalization.
	got, err := record.ParseTimestamp(rec.Value("report_date"), "2006-01-02 15:04:05", time.UTC)
	require.NoError(t, err)
	assert.True(t, got.Equal(reported))
}

func TestServiceQueryIDs(t *testing.T) {
	st := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "incident_id IS NOT NULL", r.Form.Get("where"))
		fmt.Fprint(w, `{"features":[{"attributes":{"incident_id":42}},{"attributes":{"incident_id":7}}]}`)
	})

	ids, err := st.QueryIDs(context.Background(), "incident_id")
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, "42")
	assert.Contains(t, ids, "7")
}

func TestServiceInsertBatch(t *testing.T) {
	reported := time.Date(2021, 5, 1, 8, 0, 0, 0, time.UTC)

	var payload []featureservice.Feature
	st := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.Unmarshal([]byte(r.Form.Get("adds")), &payload))
		fmt.Fprint(w, `{"addResults":[{"objectId":10,"success":true}]}`)
	})

	rec := record.NewRecord([]string{"incident_id", "report_date", "address"})
	rec.Set("incident_id", record.Int(42))
	rec.Set("report_date", record.Date(reported))
	rec.Set("address", record.String("10 Main St"))
	rec.SetGeometry(geom.NewPointFlat(geom.XY, []float64{-93.1, 44.9}))

	res, err := st.InsertBatch(context.Background(), []*record.Record{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)

	require.Len(t, payload, 1)
	attrs := payload[0].Attributes
	assert.Equal(t, float64(42), attrs["incident_id"])
	assert.Equal(t, float64(record.EpochMillis(reported)), attrs["report_date"])
	require.NotNil(t, payload[0].Geometry)
	assert.InDelta(t, -93.1, payload[0].Geometry.X, 1e-9)
}

func TestServiceUpdateBatchCarriesObjectID(t *testing.T) {
	var payload []featureservice.Feature
	st := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.Unmarshal([]byte(r.Form.Get("updates")), &payload))
		fmt.Fprint(w, `{"updateResults":[{"objectId":9,"success":true}]}`)
	})

	rec := record.NewRecord([]string{"OBJECTID", "severity"})
	rec.Set("OBJECTID", record.Int(9))
	rec.Set("severity", record.Int(5))

	res, err := st.UpdateBatch(context.Background(), []*record.Record{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)

	require.Len(t, payload, 1)
	assert.Equal(t, float64(9), payload[0].Attributes["OBJECTID"])
}

func TestServiceEditFailuresEnumerated(t *testing.T) {
	st := newTestService(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"addResults":[
			{"objectId":10,"success":true},
			{"objectId":-1,"success":false,"error":{"code":1000,"description":"type mismatch"}}
		]}`)
	})

	recs := make([]*record.Record, 2)
	for i := range recs {
		rec := record.NewRecord([]string{"incident_id"})
		rec.Set("incident_id", record.Int(int64(i+1)))
		recs[i] = rec
	}

	res, err := st.InsertBatch(context.Background(), recs)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.Failures[0].Index)
	assert.Contains(t, res.Failures[0].Err.Error(), "type mismatch")
}
