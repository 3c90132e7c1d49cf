// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package rowenc defines the row representation that flows between
// execution operators, along with the comparison and hashing helpers that
// routing and indexing rely on.
package rowenc

import (
	"encoding/binary"
	"hash/crc32"
	"math"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// Datum is a single column value. Supported dynamic types are nil (SQL
// NULL), int64, float64, string and bool.
type Datum = interface{}

// Row is a positional tuple of datums.
type Row []Datum

// Concat returns a new row holding the columns of left followed by the
// columns of right.
func Concat(left, right Row) Row {
	res := make(Row, 0, len(left)+len(right))
	res = append(res, left...)
	return append(res, right...)
}

// NullRow returns a row of the given width with every column NULL.
func NullRow(width int) Row {
	return make(Row, width)
}

// Equal returns whether the two rows hold equal datums.
func (r Row) Equal(o Row) bool {
	if len(r) != len(o) {
		return false
	}
	for i := range r {
		if CompareDatums(r[i], o[i]) != 0 {
			return false
		}
	}
	return true
}

// String formats the row as a bracketed, space separated list.
func (r Row) String() string {
	return redact.StringWithoutMarkers(r)
}

// SafeFormat implements redact.SafeFormatter.
func (r Row) SafeFormat(w redact.SafePrinter, _ rune) {
	w.SafeRune('[')
	for i, d := range r {
		if i > 0 {
			w.SafeRune(' ')
		}
		if d == nil {
			w.SafeString("NULL")
			continue
		}
		w.Print(d)
	}
	w.SafeRune(']')
}

// typeRank orders datums of different types: NULL sorts first.
func typeRank(d Datum) int {
	switch d.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, int:
		return 2
	case float64:
		return 3
	case string:
		return 4
	default:
		return 5
	}
}

// CompareDatums returns -1, 0 or 1 depending on whether a sorts before, equal
// to, or after b. NULL sorts before every other value. Values of different
// types are ordered by type.
func CompareDatums(a, b Datum) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case nil:
		return 0
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case int64:
		return cmpInt(av, asInt(b))
	case int:
		return cmpInt(int64(av), asInt(b))
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		return strings.Compare(av, b.(string))
	default:
		panic(errors.AssertionFailedf("unsupported datum type %T", a))
	}
}

func asInt(d Datum) int64 {
	if i, ok := d.(int); ok {
		return int64(i)
	}
	return d.(int64)
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// CompareRows compares two rows lexicographically on the given columns.
func CompareRows(a, b Row, cols []int) int {
	for _, c := range cols {
		if res := CompareDatums(a[c], b[c]); res != 0 {
			return res
		}
	}
	return 0
}

var crc32Table = crc32.MakeTable(crc32.Castagnoli)

// Fingerprint hashes the given columns of the row. Equal datums produce equal
// fingerprints regardless of which row they come from.
func Fingerprint(row Row, cols []int) uint32 {
	var buf []byte
	for _, c := range cols {
		buf = appendDatum(buf, row[c])
	}
	return crc32.Update(0, crc32Table, buf)
}

// FingerprintDatum hashes a single datum.
func FingerprintDatum(d Datum) uint32 {
	return crc32.Update(0, crc32Table, appendDatum(nil, d))
}

func appendDatum(buf []byte, d Datum) []byte {
	buf = append(buf, byte(typeRank(d)))
	switch v := d.(type) {
	case nil:
	case bool:
		if v {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case int64:
		buf = binary.BigEndian.AppendUint64(buf, uint64(v))
	case int:
		buf = binary.BigEndian.AppendUint64(buf, uint64(v))
	case float64:
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(v))
	case string:
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v)))
		buf = append(buf, v...)
	default:
		panic(errors.AssertionFailedf("unsupported datum type %T", d))
	}
	return buf
}
