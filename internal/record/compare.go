package record

import "strings"

// canonical renders a value for type-tolerant comparison: integral floats
// collapse to their integer form, thousands separators are stripped, and the
// result is upper-cased.
func canonical(v Value) string {
	return strings.ToUpper(strings.ReplaceAll(v.Text(), ",", ""))
}

// Equivalent reports whether two values are equal under type-tolerant
// comparison. "1,042" equals 1042.0 equals 1042; strings compare
// case-insensitively. Two nulls are equivalent; a null never equals a
// non-null.
func Equivalent(a, b Value) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() == b.IsNull()
	}
	return canonical(a) == canonical(b)
}

// LocationsDiffer compares the named location fields of two records with
// type-tolerant equality and reports true as soon as any field differs.
// Fields absent from the given field set are ignored.
func LocationsDiffer(a, b *Record, locFields, fields []string) bool {
	inSet := make(map[string]bool, len(fields))
	for _, f := range fields {
		inSet[f] = true
	}
	for _, loc := range locFields {
		if !inSet[loc] {
			continue
		}
		if !Equivalent(a.Value(loc), b.Value(loc)) {
			return true
		}
	}
	return false
}
