package doc

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"unicode/utf8"

	"tinydb/pkg/tderr"
)

// MaxDepth bounds nested document/array recursion (spec.md §9). Encoding
// or decoding past this depth is refused with a FormatError rather than
// risking a stack overflow on a (possibly maliciously) cyclic or
// pathologically deep document graph.
const MaxDepth = 64

// FormatError reports a malformed encoding, the offset it was found at,
// and a human-readable reason. It always carries tderr.KindFormat.
type FormatError struct {
	Offset int
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("doc: format error at offset %d: %s", e.Offset, e.Reason)
}

func formatErr(offset int, reason string, args ...any) error {
	fe := &FormatError{Offset: offset, Reason: fmt.Sprintf(reason, args...)}
	return tderr.Wrap(tderr.KindFormat, fe.Error(), fe)
}

// Encode serializes a document to its self-describing byte form.
// Encoding is deterministic: re-encoding the value decoded from this
// output reproduces these bytes exactly (the round-trip law, spec.md §8).
func Encode(d *Document) ([]byte, error) {
	var buf []byte
	buf, err := encodeDocument(buf, d, 0)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func encodeDocument(buf []byte, d *Document, depth int) ([]byte, error) {
	if depth > MaxDepth {
		return nil, formatErr(len(buf), "nesting exceeds max depth %d", MaxDepth)
	}

	lenPos := len(buf)
	buf = append(buf, 0, 0, 0, 0) // placeholder for total length

	for _, f := range d.fields {
		buf = append(buf, byte(f.Value.Tag()))
		var err error
		buf, err = encodeCString(buf, f.Name)
		if err != nil {
			return nil, err
		}
		buf, err = encodeValue(buf, f.Value, depth)
		if err != nil {
			return nil, err
		}
	}
	buf = append(buf, 0x00) // terminator

	total := len(buf) - lenPos
	binary.LittleEndian.PutUint32(buf[lenPos:lenPos+4], uint32(total))
	return buf, nil
}

func encodeCString(buf []byte, name string) ([]byte, error) {
	if !utf8.ValidString(name) {
		return nil, formatErr(len(buf), "field name is not valid UTF-8")
	}
	buf = append(buf, name...)
	buf = append(buf, 0x00)
	return buf, nil
}

func encodeValue(buf []byte, v Value, depth int) ([]byte, error) {
	switch v.Tag() {
	case TagDouble:
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], doubleBits(v.Double()))
		return append(buf, tmp[:]...), nil
	case TagString:
		return encodeString(buf, v.String())
	case TagDocument:
		return encodeDocument(buf, v.Document(), depth+1)
	case TagArray:
		return encodeArray(buf, v.Array(), depth+1)
	case TagBinary:
		b := v.Binary()
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b.Data)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, b.Subtype)
		buf = append(buf, b.Data...)
		return buf, nil
	case TagObjectID:
		oid := v.ObjectID()
		return append(buf, oid[:]...), nil
	case TagBool:
		if v.Bool() {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	case TagDateTime:
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], uint64(v.DateTime()))
		return append(buf, tmp[:]...), nil
	case TagNull:
		return buf, nil
	case TagInt32:
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(v.Int32()))
		return append(buf, tmp[:]...), nil
	case TagInt64:
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], uint64(v.Int64()))
		return append(buf, tmp[:]...), nil
	case TagDecimal128:
		dec := v.Decimal128()
		return append(buf, dec[:]...), nil
	default:
		return nil, formatErr(len(buf), "unknown type tag 0x%02x", byte(v.Tag()))
	}
}

func encodeString(buf []byte, s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, formatErr(len(buf), "string value is not valid UTF-8")
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)+1))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s...)
	buf = append(buf, 0x00)
	return buf, nil
}

// encodeArray reuses the document encoding with stringified decimal
// indices for field names, per spec.md §3.1's array variant.
func encodeArray(buf []byte, values []Value, depth int) ([]byte, error) {
	ad := &Document{fields: make([]Field, len(values))}
	for i, v := range values {
		ad.fields[i] = Field{Name: strconv.Itoa(i), Value: v}
	}
	return encodeDocument(buf, ad, depth)
}

// Decode parses a self-describing byte sequence back into a document.
// Unknown type tags, truncation, bad UTF-8 in field names, or a declared
// length disagreeing with the actual length all produce a *FormatError.
func Decode(b []byte) (*Document, error) {
	d, n, err := decodeDocument(b, 0, 0)
	if err != nil {
		return nil, err
	}
	if n != len(b) {
		return nil, formatErr(n, "trailing %d bytes after top-level document", len(b)-n)
	}
	return d, nil
}

func decodeDocument(b []byte, offset int, depth int) (*Document, int, error) {
	if depth > MaxDepth {
		return nil, offset, formatErr(offset, "nesting exceeds max depth %d", MaxDepth)
	}
	if len(b) < 4 {
		return nil, offset, formatErr(offset, "truncated document length prefix")
	}
	declared := int(binary.LittleEndian.Uint32(b[0:4]))
	if declared < 5 || declared > len(b) {
		return nil, offset, formatErr(offset, "declared length %d disagrees with available %d bytes", declared, len(b))
	}

	d := &Document{}
	pos := 4
	for {
		if pos >= declared {
			return nil, offset + pos, formatErr(offset+pos, "missing document terminator")
		}
		tag := b[pos]
		if tag == 0x00 {
			pos++
			break
		}
		pos++

		name, consumed, err := decodeCString(b, pos, offset)
		if err != nil {
			return nil, offset + pos, err
		}
		pos += consumed

		val, consumed, err := decodeValue(Tag(tag), b[:declared], pos, offset, depth)
		if err != nil {
			return nil, offset + pos, err
		}
		pos += consumed

		d.Set(name, val)
	}

	if pos != declared {
		return nil, offset + pos, formatErr(offset+pos, "declared length %d does not match actual content length %d", declared, pos)
	}
	return d, pos, nil
}

func decodeCString(b []byte, pos int, baseOffset int) (string, int, error) {
	start := pos
	for pos < len(b) && b[pos] != 0x00 {
		pos++
	}
	if pos >= len(b) {
		return "", 0, formatErr(baseOffset+start, "unterminated field name")
	}
	name := string(b[start:pos])
	if !utf8.ValidString(name) {
		return "", 0, formatErr(baseOffset+start, "field name is not valid UTF-8")
	}
	return name, pos - start + 1, nil
}

func decodeValue(tag Tag, b []byte, pos int, baseOffset int, depth int) (Value, int, error) {
	need := func(n int) error {
		if pos+n > len(b) {
			return formatErr(baseOffset+pos, "truncated %s payload", tag)
		}
		return nil
	}

	switch tag {
	case TagDouble:
		if err := need(8); err != nil {
			return Value{}, 0, err
		}
		bits := binary.LittleEndian.Uint64(b[pos : pos+8])
		return NewDouble(doubleFromBits(bits)), 8, nil
	case TagString:
		if err := need(4); err != nil {
			return Value{}, 0, err
		}
		n := int(binary.LittleEndian.Uint32(b[pos : pos+4]))
		if n < 1 {
			return Value{}, 0, formatErr(baseOffset+pos, "string length %d is invalid", n)
		}
		if err := need(4 + n); err != nil {
			return Value{}, 0, err
		}
		raw := b[pos+4 : pos+4+n]
		if raw[n-1] != 0x00 {
			return Value{}, 0, formatErr(baseOffset+pos+4, "string payload missing trailing NUL")
		}
		s := string(raw[:n-1])
		if !utf8.ValidString(s) {
			return Value{}, 0, formatErr(baseOffset+pos+4, "string value is not valid UTF-8")
		}
		return NewString(s), 4 + n, nil
	case TagDocument:
		nested, n, err := decodeDocument(b[pos:], baseOffset+pos, depth+1)
		if err != nil {
			return Value{}, 0, err
		}
		return NewDocument(nested), n, nil
	case TagArray:
		nested, n, err := decodeDocument(b[pos:], baseOffset+pos, depth+1)
		if err != nil {
			return Value{}, 0, err
		}
		vals := make([]Value, nested.Len())
		for i, f := range nested.Fields() {
			idx, convErr := strconv.Atoi(f.Name)
			if convErr != nil || idx != i {
				return Value{}, 0, formatErr(baseOffset+pos, "array index field %q out of order", f.Name)
			}
			vals[i] = f.Value
		}
		return NewArray(vals), n, nil
	case TagBinary:
		if err := need(5); err != nil {
			return Value{}, 0, err
		}
		n := int(binary.LittleEndian.Uint32(b[pos : pos+4]))
		if n < 0 {
			return Value{}, 0, formatErr(baseOffset+pos, "binary length %d is invalid", n)
		}
		if err := need(5 + n); err != nil {
			return Value{}, 0, err
		}
		subtype := b[pos+4]
		data := b[pos+5 : pos+5+n]
		return NewBinary(subtype, data), 5 + n, nil
	case TagObjectID:
		if err := need(12); err != nil {
			return Value{}, 0, err
		}
		var oid ObjectID
		copy(oid[:], b[pos:pos+12])
		return NewObjectID(oid), 12, nil
	case TagBool:
		if err := need(1); err != nil {
			return Value{}, 0, err
		}
		switch b[pos] {
		case 0:
			return NewBool(false), 1, nil
		case 1:
			return NewBool(true), 1, nil
		default:
			return Value{}, 0, formatErr(baseOffset+pos, "bool payload byte %d is not 0 or 1", b[pos])
		}
	case TagDateTime:
		if err := need(8); err != nil {
			return Value{}, 0, err
		}
		ms := int64(binary.LittleEndian.Uint64(b[pos : pos+8]))
		return NewDateTime(ms), 8, nil
	case TagNull:
		return NewNull(), 0, nil
	case TagInt32:
		if err := need(4); err != nil {
			return Value{}, 0, err
		}
		v := int32(binary.LittleEndian.Uint32(b[pos : pos+4]))
		return NewInt32(v), 4, nil
	case TagInt64:
		if err := need(8); err != nil {
			return Value{}, 0, err
		}
		v := int64(binary.LittleEndian.Uint64(b[pos : pos+8]))
		return NewInt64(v), 8, nil
	case TagDecimal128:
		if err := need(16); err != nil {
			return Value{}, 0, err
		}
		var dec Decimal128
		copy(dec[:], b[pos:pos+16])
		return NewDecimal128(dec), 16, nil
	default:
		return Value{}, 0, formatErr(baseOffset+pos, "unknown type tag 0x%02x", byte(tag))
	}
}
