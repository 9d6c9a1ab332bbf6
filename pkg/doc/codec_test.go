package doc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, d *Document) *Document {
	t.Helper()
	encoded, err := Encode(d)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	reencoded, err := Encode(decoded)
	require.NoError(t, err)
	require.Equal(t, encoded, reencoded, "re-encoding a decoded document must reproduce the original bytes")

	return decoded
}

func TestCodecRoundTrip_Scalars(t *testing.T) {
	d := NewDoc(
		Field{"a", NewDouble(3.25)},
		Field{"b", NewString("hello, world")},
		Field{"c", NewBool(true)},
		Field{"d", NewBool(false)},
		Field{"e", NewNull()},
		Field{"f", NewInt32(-42)},
		Field{"g", NewInt64(1 << 40)},
		Field{"h", NewDateTime(1700000000123)},
		Field{"i", NewObjectID(NewObjectIDValue())},
		Field{"j", NewBinary(0x05, []byte{1, 2, 3, 4})},
	)

	got := roundTrip(t, d)
	require.Equal(t, d.Len(), got.Len())

	v, ok := got.Get("b")
	require.True(t, ok)
	require.Equal(t, "hello, world", v.String())
}

func TestCodecRoundTrip_Nested(t *testing.T) {
	inner := NewDoc(Field{"x", NewInt32(1)}, Field{"y", NewInt32(2)})
	arr := NewArray([]Value{NewInt32(10), NewString("s"), NewBool(true)})

	d := NewDoc(
		Field{"nested", NewDocument(inner)},
		Field{"list", arr},
	)

	got := roundTrip(t, d)

	nv, ok := got.Get("nested")
	require.True(t, ok)
	require.Equal(t, TagDocument, nv.Tag())
	nx, ok := nv.Document().Get("x")
	require.True(t, ok)
	require.Equal(t, int32(1), nx.Int32())

	lv, ok := got.Get("list")
	require.True(t, ok)
	require.Equal(t, TagArray, lv.Tag())
	require.Len(t, lv.Array(), 3)
	require.Equal(t, int32(10), lv.Array()[0].Int32())
}

func TestCodecRoundTrip_FieldOrderPreserved(t *testing.T) {
	d := NewDoc(
		Field{"z", NewInt32(1)},
		Field{"a", NewInt32(2)},
		Field{"m", NewInt32(3)},
	)
	got := roundTrip(t, d)

	names := make([]string, 0, got.Len())
	for _, f := range got.Fields() {
		names = append(names, f.Name)
	}
	require.Equal(t, []string{"z", "a", "m"}, names)
}

func TestCodecRoundTrip_FieldUpdatePreservesPosition(t *testing.T) {
	d := NewDoc(Field{"a", NewInt32(1)}, Field{"b", NewInt32(2)})
	d.Set("a", NewInt32(99))

	names := make([]string, 0, d.Len())
	for _, f := range d.Fields() {
		names = append(names, f.Name)
	}
	require.Equal(t, []string{"a", "b"}, names)

	v, _ := d.Get("a")
	require.Equal(t, int32(99), v.Int32())
}

func TestDecode_UnknownTag(t *testing.T) {
	d := NewDoc(Field{"a", NewInt32(1)})
	encoded, err := Encode(d)
	require.NoError(t, err)

	// Corrupt the tag byte for field "a" (offset 4 is the first field tag).
	encoded[4] = 0xEE

	_, err = Decode(encoded)
	require.Error(t, err)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
}

func TestDecode_Truncated(t *testing.T) {
	d := NewDoc(Field{"a", NewString("a longer string value")})
	encoded, err := Encode(d)
	require.NoError(t, err)

	_, err = Decode(encoded[:len(encoded)-3])
	require.Error(t, err)
}

func TestDecode_BadUTF8FieldName(t *testing.T) {
	// Hand-build a document with an invalid UTF-8 byte in the field name.
	buf := []byte{0, 0, 0, 0, byte(TagInt32), 0xFF, 0xFE, 0x00, 1, 0, 0, 0, 0}
	total := len(buf)
	buf[0] = byte(total)
	_, err := Decode(buf)
	require.Error(t, err)
}

func TestDecode_LengthMismatch(t *testing.T) {
	d := NewDoc(Field{"a", NewInt32(1)})
	encoded, err := Encode(d)
	require.NoError(t, err)

	// Inflate the declared length beyond the buffer.
	encoded[0] = encoded[0] + 100
	_, err = Decode(encoded)
	require.Error(t, err)
}

func TestCompare_NumberFamily(t *testing.T) {
	require.Equal(t, 0, Compare(NewInt32(5), NewInt64(5)))
	require.Equal(t, -1, Compare(NewInt32(5), NewDouble(5.5)))
	require.Equal(t, 1, Compare(NewDouble(5.5), NewInt32(5)))
}

func TestCompare_NaNEqualsNaNAndGreaterThanFinite(t *testing.T) {
	nan := NewDouble(math.NaN())
	require.Equal(t, 0, Compare(nan, NewDouble(math.NaN())))
	require.Equal(t, 1, Compare(nan, NewDouble(1e300)))
	require.Equal(t, -1, Compare(NewDouble(1e300), nan))
}

func TestCompare_TypeRank(t *testing.T) {
	require.Equal(t, -1, Compare(NewNull(), NewBool(false)))
	require.Equal(t, -1, Compare(NewBool(true), NewInt32(0)))
	require.Equal(t, -1, Compare(NewInt32(0), NewString("")))
	require.Equal(t, -1, Compare(NewString("z"), NewBinary(0, nil)))
	require.Equal(t, -1, Compare(NewBinary(0, nil), NewObjectID(ObjectID{})))
	require.Equal(t, -1, Compare(NewObjectID(ObjectID{}), NewDateTime(0)))
}

func TestEncode_DepthLimitRefused(t *testing.T) {
	var v Value = NewInt32(1)
	for i := 0; i < MaxDepth+5; i++ {
		v = NewDocument(NewDoc(Field{"n", v}))
	}
	d := NewDoc(Field{"root", v})
	_, err := Encode(d)
	require.Error(t, err)
}
