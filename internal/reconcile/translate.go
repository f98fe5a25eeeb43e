package reconcile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/incident-sync/internal/record"
)

// IncompatibleTypeError reports a batch value that cannot be converted to
// the store's field kind. The engine resolves it by deleting the store row
// so the next pass re-inserts cleanly, rather than leaving a partially
// updated record.
type IncompatibleTypeError struct {
	Field string
	Value record.Value
	Kind  record.Kind
}

func (e *IncompatibleTypeError) Error() string {
	return fmt.Sprintf("value %q is incompatible with %s field %q", e.Value.Text(), e.Kind, e.Field)
}

// translate converts a batch value to the store's representation for one
// field. Float targets collapse integral values to integers and strip
// thousands separators; date targets normalize all three timestamp shapes;
// other targets collapse whole-number floats so "2013.0" matches a stored
// 2013.
func translate(field string, v record.Value, kind record.Kind, layout string, loc *time.Location) (record.Value, error) {
	if v.IsNull() {
		return record.Null(kind), nil
	}

	switch kind {
	case record.KindFloat:
		return translateFloat(field, v, kind)
	case record.KindDate:
		t, err := record.ParseTimestamp(v, layout, loc)
		if err != nil {
			return record.Value{}, &IncompatibleTypeError{Field: field, Value: v, Kind: kind}
		}
		return record.Date(t), nil
	default:
		return collapseIntegral(v), nil
	}
}

func translateFloat(field string, v record.Value, kind record.Kind) (record.Value, error) {
	switch v.Kind() {
	case record.KindInteger:
		return v, nil
	case record.KindFloat:
		return collapseIntegral(v), nil
	default:
		s := strings.ReplaceAll(strings.TrimSpace(v.Text()), ",", "")
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return record.Int(i), nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return record.Value{}, &IncompatibleTypeError{Field: field, Value: v, Kind: kind}
		}
		return collapseIntegral(record.Float(f)), nil
	}
}

// collapseIntegral turns a whole-number float into its integer form and
// leaves everything else untouched.
func collapseIntegral(v record.Value) record.Value {
	if v.Kind() == record.KindFloat {
		if f := v.FloatVal(); f == float64(int64(f)) {
			return record.Int(int64(f))
		}
	}
	return v
}
