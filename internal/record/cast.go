package record

import (
	"strconv"
	"strings"
)

// CastID casts a business identifier to the canonical representation for the
// target field kind. String-like targets stringify; every other kind
// attempts integer coercion and falls back to a string when the value is not
// a whole number. A single trailing ".0"-style fraction is stripped first,
// so a spreadsheet column that Excel silently promoted to float ("1042.0")
// still yields the integer id 1042.
func CastID(v Value, target Kind) Value {
	if v.IsNull() {
		return Null(target)
	}

	if target == KindString {
		return String(v.Text())
	}

	switch v.Kind() {
	case KindInteger:
		return Int(v.IntVal())
	case KindFloat:
		if f := v.FloatVal(); f == float64(int64(f)) {
			return Int(int64(f))
		}
		return String(v.Text())
	default:
		s := strings.TrimSpace(v.Text())
		if i, err := strconv.ParseInt(stripFraction(s), 10, 64); err == nil {
			return Int(i)
		}
		return String(s)
	}
}

// stripFraction removes a single trailing ".0"-style component ("1042.0",
// "1042.00"). Anything with a non-zero fraction is returned unchanged.
func stripFraction(s string) string {
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return s
	}
	frac := s[dot+1:]
	if frac == "" {
		return s[:dot]
	}
	for _, c := range frac {
		if c != '0' {
			return s
		}
	}
	return s[:dot]
}

// Key returns the canonical string form of an identifier, used for set
// membership when intersecting batch ids with store ids.
func (v Value) Key() string {
	return v.Text()
}

// QuoteForPredicate renders a value for use in a store query predicate.
// Numeric kinds render unquoted; everything else renders single-quoted with
// embedded quotes doubled.
func QuoteForPredicate(v Value, kind Kind) string {
	if kind.Numeric() {
		return v.Text()
	}
	return "'" + strings.ReplaceAll(v.Text(), "'", "''") + "'"
}

// DuplicateIDs returns the canonical keys of ids that appear more than once
// among the non-null id values in the batch.
func DuplicateIDs(batch []*Record, idField string, kind Kind) map[string]int {
	counts := make(map[string]int)
	for _, rec := range batch {
		id := rec.Value(idField)
		if id.IsNull() {
			continue
		}
		counts[CastID(id, kind).Key()]++
	}
	dups := make(map[string]int)
	for k, n := range counts {
		if n > 1 {
			dups[k] = n
		}
	}
	return dups
}
