package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/incident-sync/internal/record"
)

func TestTranslateFloatField(t *testing.T) {
	tests := []struct {
		name string
		in   record.Value
		want record.Value
	}{
		{"integer passes through", record.Int(5), record.Int(5)},
		{"whole float collapses", record.Float(2013.0), record.Int(2013)},
		{"fractional float kept", record.Float(2.5), record.Float(2.5)},
		{"numeric string", record.String("1,250"), record.Int(1250)},
		{"decimal string", record.String("12.75"), record.Float(12.75)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := translate("loss_amount", tt.in, record.KindFloat, "", time.UTC)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTranslateIncompatibleValue(t *testing.T) {
	_, err := translate("loss_amount", record.String("unknown"), record.KindFloat, "", time.UTC)
	require.Error(t, err)

	var ite *IncompatibleTypeError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, "loss_amount", ite.Field)
	assert.Contains(t, err.Error(), `"unknown"`)
}

func TestTranslateDateField(t *testing.T) {
	layout := "2006-01-02 15:04:05"

	got, err := translate("report_date", record.String("2024-03-01 08:30:00"), record.KindDate, layout, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC), got.Time())

	_, err = translate("report_date", record.String("not a date"), record.KindDate, layout, time.UTC)
	var ite *IncompatibleTypeError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, record.KindDate, ite.Kind)
}

func TestTranslateNullPassesThrough(t *testing.T) {
	got, err := translate("severity", record.Null(record.KindString), record.KindInteger, "", time.UTC)
	require.NoError(t, err)
	assert.True(t, got.IsNull())
	assert.Equal(t, record.KindInteger, got.Kind())
}
