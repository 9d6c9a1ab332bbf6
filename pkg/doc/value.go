// Package doc implements the self-describing binary document format (C1):
// a tagged-union value model plus its encode/decode codec.
//
// Grounded on the teacher's pkg/types (tagged Value) and pkg/record
// (length-prefixed serial encoding), generalized from a flat row format to
// the nested, self-describing document tree spec.md §3.1 calls for.
package doc

import "fmt"

// Tag identifies a value's variant. Values match spec.md §3.1 exactly so
// the on-disk byte is stable across versions.
type Tag byte

const (
	TagDouble     Tag = 0x01
	TagString     Tag = 0x02
	TagDocument   Tag = 0x03
	TagArray      Tag = 0x04
	TagBinary     Tag = 0x05
	TagObjectID   Tag = 0x07
	TagBool       Tag = 0x08
	TagDateTime   Tag = 0x09
	TagNull       Tag = 0x0A
	TagInt32      Tag = 0x10
	TagInt64      Tag = 0x12
	TagDecimal128 Tag = 0x13
)

func (t Tag) String() string {
	switch t {
	case TagDouble:
		return "double"
	case TagString:
		return "string"
	case TagDocument:
		return "document"
	case TagArray:
		return "array"
	case TagBinary:
		return "binary"
	case TagObjectID:
		return "object-id"
	case TagBool:
		return "bool"
	case TagDateTime:
		return "datetime"
	case TagNull:
		return "null"
	case TagInt32:
		return "int32"
	case TagInt64:
		return "int64"
	case TagDecimal128:
		return "decimal128"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// ObjectID is the 12-byte identifier from spec.md §3.1: 4-byte unix
// seconds (big-endian) + 5-byte machine/process identifier + 3-byte
// counter.
type ObjectID [12]byte

// Binary is a binary value with a subtype byte, matching BSON's binary
// subtype convention closely enough for round-trip purposes.
type Binary struct {
	Subtype byte
	Data    []byte
}

// Decimal128 stores 16 raw bytes, which the codec round-trips byte for
// byte. Ordering (Compare) reads them in the sign/exponent/coefficient
// layout that NewDecimalFromParts writes, not as IEEE-754-2008 BID; a
// BID-encoded value is not ordered by its numeric value. No decimal
// arithmetic is performed, so no bignum/decimal library is pulled in.
type Decimal128 [16]byte

// Value is a tagged union over every document value variant. Construct one
// with the New* helpers; inspect with Tag() and the typed accessors, which
// panic if the tag doesn't match (mirrors the teacher's pkg/types.Value
// convention of trusting the caller to check Type() first).
type Value struct {
	tag   Tag
	d     float64
	s     string
	doc   *Document
	arr   []Value
	bin   Binary
	oid   ObjectID
	b     bool
	dt    int64
	i32   int32
	i64   int64
	dec   Decimal128
}

func NewDouble(v float64) Value           { return Value{tag: TagDouble, d: v} }
func NewString(v string) Value            { return Value{tag: TagString, s: v} }
func NewDocument(v *Document) Value       { return Value{tag: TagDocument, doc: v} }
func NewArray(v []Value) Value            { return Value{tag: TagArray, arr: v} }
func NewBinary(subtype byte, b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{tag: TagBinary, bin: Binary{Subtype: subtype, Data: cp}}
}
func NewObjectID(id ObjectID) Value  { return Value{tag: TagObjectID, oid: id} }
func NewBool(v bool) Value           { return Value{tag: TagBool, b: v} }
func NewDateTime(unixMillis int64) Value { return Value{tag: TagDateTime, dt: unixMillis} }
func NewNull() Value                 { return Value{tag: TagNull} }
func NewInt32(v int32) Value         { return Value{tag: TagInt32, i32: v} }
func NewInt64(v int64) Value         { return Value{tag: TagInt64, i64: v} }
func NewDecimal128(v Decimal128) Value { return Value{tag: TagDecimal128, dec: v} }

func (v Value) Tag() Tag    { return v.tag }
func (v Value) IsNull() bool { return v.tag == TagNull }

func (v Value) Double() float64 {
	mustTag(v, TagDouble)
	return v.d
}
func (v Value) String() string {
	mustTag(v, TagString)
	return v.s
}
func (v Value) Document() *Document {
	mustTag(v, TagDocument)
	return v.doc
}
func (v Value) Array() []Value {
	mustTag(v, TagArray)
	return v.arr
}
func (v Value) Binary() Binary {
	mustTag(v, TagBinary)
	return v.bin
}
func (v Value) ObjectID() ObjectID {
	mustTag(v, TagObjectID)
	return v.oid
}
func (v Value) Bool() bool {
	mustTag(v, TagBool)
	return v.b
}
func (v Value) DateTime() int64 {
	mustTag(v, TagDateTime)
	return v.dt
}
func (v Value) Int32() int32 {
	mustTag(v, TagInt32)
	return v.i32
}
func (v Value) Int64() int64 {
	mustTag(v, TagInt64)
	return v.i64
}
func (v Value) Decimal128() Decimal128 {
	mustTag(v, TagDecimal128)
	return v.dec
}

func mustTag(v Value, want Tag) {
	if v.tag != want {
		panic(fmt.Sprintf("doc: value has tag %s, not %s", v.tag, want))
	}
}

// Field is a single (name, value) pair within a Document.
type Field struct {
	Name  string
	Value Value
}

// Document is an ordered sequence of fields. Field names are unique
// within a document; insertion order is preserved so encoding is
// deterministic (spec.md §3.1).
type Document struct {
	fields []Field
}

// NewDoc builds a Document from fields in the given order.
func NewDoc(fields ...Field) *Document {
	d := &Document{fields: make([]Field, 0, len(fields))}
	for _, f := range fields {
		d.Set(f.Name, f.Value)
	}
	return d
}

// Set appends a new field, or overwrites an existing one in place
// (preserving its original position — this is what keeps re-encoding
// deterministic across updates).
func (d *Document) Set(name string, v Value) {
	for i := range d.fields {
		if d.fields[i].Name == name {
			d.fields[i].Value = v
			return
		}
	}
	d.fields = append(d.fields, Field{Name: name, Value: v})
}

// Get returns the value for name and whether it was present.
func (d *Document) Get(name string) (Value, bool) {
	for _, f := range d.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Fields returns the fields in insertion order. Callers must not mutate
// the returned slice.
func (d *Document) Fields() []Field { return d.fields }

// Len returns the number of fields.
func (d *Document) Len() int { return len(d.fields) }
