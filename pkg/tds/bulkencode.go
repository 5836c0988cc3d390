package tds

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// plpUnknownLength marks a PLP value whose total length was not computed
// up front; chunked writers always use it since they stream row-by-row.
const plpUnknownLength uint64 = 0xFFFFFFFFFFFFFFFE

// plpNull marks a PLP NULL.
const plpNull uint64 = 0xFFFFFFFFFFFFFFFF

// WriteBulkColMetadata appends a COLMETADATA token for columns to buf,
// using the same binary layout the server emits for a TABULAR_RESULT
// (§4.3), for the INSERT BULK wire format.
func WriteBulkColMetadata(buf *bytes.Buffer, columns []Column) {
	buf.WriteByte(byte(TokenColMetadata))
	binary.Write(buf, binary.LittleEndian, uint16(len(columns)))

	for _, col := range columns {
		binary.Write(buf, binary.LittleEndian, col.UserType)
		flags := col.Flags
		if col.Nullable {
			flags |= ColFlagNullable
		}
		binary.Write(buf, binary.LittleEndian, flags)
		writeBulkTypeInfo(buf, col)

		nameBytes := stringToUCS2(col.Name)
		buf.WriteByte(byte(len([]rune(col.Name))))
		buf.Write(nameBytes)
	}
}

func writeBulkTypeInfo(buf *bytes.Buffer, col Column) {
	buf.WriteByte(byte(col.Type))

	switch col.Type {
	case TypeBit, TypeInt1, TypeInt2, TypeInt4, TypeInt8, TypeFloat4, TypeFloat8,
		TypeMoney, TypeMoney4, TypeDateTime, TypeDateTime4, TypeNull:
		// fixed-length: no additional TYPE_INFO

	case TypeIntN, TypeBitN, TypeFloatN, TypeMoneyN, TypeDateTimeN:
		buf.WriteByte(byte(col.Length))

	case TypeDateN:
		// no additional info

	case TypeTimeN, TypeDateTime2N, TypeDateTimeOffsetN:
		buf.WriteByte(col.Scale)

	case TypeDecimalN, TypeNumericN:
		buf.WriteByte(byte(col.Length))
		buf.WriteByte(col.Precision)
		buf.WriteByte(col.Scale)

	case TypeGUID:
		buf.WriteByte(byte(col.Length))

	case TypeChar, TypeVarChar, TypeBinary, TypeVarBinary:
		buf.WriteByte(byte(col.Length))
		if col.Type == TypeChar || col.Type == TypeVarChar {
			writeCollationOrDefault(buf, col.Collation)
		}

	case TypeBigVarBin, TypeBigBinary:
		binary.Write(buf, binary.LittleEndian, uint16(col.Length))

	case TypeBigVarChar, TypeBigChar:
		binary.Write(buf, binary.LittleEndian, uint16(col.Length))
		writeCollationOrDefault(buf, col.Collation)

	case TypeNVarChar, TypeNChar:
		binary.Write(buf, binary.LittleEndian, uint16(col.Length))
		writeCollationOrDefault(buf, col.Collation)

	case TypeText, TypeNText, TypeImage:
		binary.Write(buf, binary.LittleEndian, uint32(col.Length))
		if col.Type != TypeImage {
			writeCollationOrDefault(buf, col.Collation)
		}
		buf.WriteByte(0)
	}
}

func writeCollationOrDefault(buf *bytes.Buffer, collation []byte) {
	if len(collation) >= 5 {
		buf.Write(collation[:5])
	} else {
		buf.Write([]byte{0, 0, 0, 0, 0})
	}
}

// WriteBulkRow appends a ROW token encoding values against columns, in
// the order columns declares, to buf.
func WriteBulkRow(buf *bytes.Buffer, columns []Column, values []interface{}) error {
	if len(values) != len(columns) {
		return fmt.Errorf("tds: %d values for %d columns", len(values), len(columns))
	}
	buf.WriteByte(byte(TokenRow))
	for i, v := range values {
		if err := writeBulkValue(buf, columns[i], v); err != nil {
			return fmt.Errorf("tds: column %d (%s): %w", i, columns[i].Name, err)
		}
	}
	return nil
}

func writeBulkValue(buf *bytes.Buffer, col Column, val interface{}) error {
	if val == nil {
		return writeBulkNull(buf, col)
	}

	switch col.Type {
	case TypeBit, TypeBitN:
		v, ok := toBool(val)
		if !ok {
			return fmt.Errorf("cannot convert %T to bool", val)
		}
		if col.Type == TypeBitN {
			buf.WriteByte(1)
		}
		if v {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}

	case TypeInt1:
		v, ok := toInt64(val)
		if !ok {
			return fmt.Errorf("cannot convert %T to int", val)
		}
		buf.WriteByte(byte(v))

	case TypeInt2:
		v, ok := toInt64(val)
		if !ok {
			return fmt.Errorf("cannot convert %T to int", val)
		}
		binary.Write(buf, binary.LittleEndian, int16(v))

	case TypeInt4:
		v, ok := toInt64(val)
		if !ok {
			return fmt.Errorf("cannot convert %T to int", val)
		}
		binary.Write(buf, binary.LittleEndian, int32(v))

	case TypeInt8:
		v, ok := toInt64(val)
		if !ok {
			return fmt.Errorf("cannot convert %T to int", val)
		}
		binary.Write(buf, binary.LittleEndian, v)

	case TypeIntN:
		v, ok := toInt64(val)
		if !ok {
			return fmt.Errorf("cannot convert %T to int", val)
		}
		buf.WriteByte(byte(col.Length))
		switch col.Length {
		case 1:
			buf.WriteByte(byte(v))
		case 2:
			binary.Write(buf, binary.LittleEndian, int16(v))
		case 4:
			binary.Write(buf, binary.LittleEndian, int32(v))
		case 8:
			binary.Write(buf, binary.LittleEndian, v)
		}

	case TypeFloat4:
		v, ok := toFloat64(val)
		if !ok {
			return fmt.Errorf("cannot convert %T to float", val)
		}
		binary.Write(buf, binary.LittleEndian, float32(v))

	case TypeFloat8:
		v, ok := toFloat64(val)
		if !ok {
			return fmt.Errorf("cannot convert %T to float", val)
		}
		binary.Write(buf, binary.LittleEndian, v)

	case TypeFloatN:
		v, ok := toFloat64(val)
		if !ok {
			return fmt.Errorf("cannot convert %T to float", val)
		}
		buf.WriteByte(byte(col.Length))
		if col.Length == 4 {
			binary.Write(buf, binary.LittleEndian, float32(v))
		} else {
			binary.Write(buf, binary.LittleEndian, v)
		}

	case TypeNVarChar, TypeNChar:
		s := toString(val)
		if col.Type.IsPLP(col.Length) {
			return writePLPString(buf, s, true)
		}
		data := stringToUCS2(s)
		if len(data) > int(col.Length) {
			data = data[:col.Length]
		}
		binary.Write(buf, binary.LittleEndian, uint16(len(data)))
		buf.Write(data)

	case TypeBigVarChar, TypeBigChar:
		s := toString(val)
		if col.Type.IsPLP(col.Length) {
			return writePLPString(buf, s, false)
		}
		data := []byte(s)
		if len(data) > int(col.Length) {
			data = data[:col.Length]
		}
		binary.Write(buf, binary.LittleEndian, uint16(len(data)))
		buf.Write(data)

	case TypeBigVarBin, TypeBigBinary:
		data, ok := toBytes(val)
		if !ok {
			return fmt.Errorf("cannot convert %T to bytes", val)
		}
		if col.Type.IsPLP(col.Length) {
			return writePLPBytes(buf, data)
		}
		if len(data) > int(col.Length) {
			data = data[:col.Length]
		}
		binary.Write(buf, binary.LittleEndian, uint16(len(data)))
		buf.Write(data)

	case TypeDecimalN, TypeNumericN:
		d, ok := val.(decimal.Decimal)
		if !ok {
			return fmt.Errorf("cannot convert %T to decimal", val)
		}
		return writeDecimal(buf, col, d)

	case TypeDateTime2N:
		t, ok := val.(time.Time)
		if !ok {
			return fmt.Errorf("cannot convert %T to time.Time", val)
		}
		return writeDateTime2(buf, col.Scale, t)

	case TypeGUID:
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("cannot convert %T to uniqueidentifier string", val)
		}
		buf.WriteByte(16)
		return writeGUID(buf, s)

	default:
		return fmt.Errorf("tds: bulk encode of type %s not supported", col.Type)
	}
	return nil
}

func writeBulkNull(buf *bytes.Buffer, col Column) error {
	switch col.Type {
	case TypeIntN, TypeBitN, TypeFloatN, TypeMoneyN, TypeDateTimeN, TypeGUID, TypeDecimalN, TypeNumericN:
		buf.WriteByte(0)
	case TypeDateN, TypeTimeN, TypeDateTime2N, TypeDateTimeOffsetN:
		buf.WriteByte(0)
	case TypeNVarChar, TypeNChar, TypeBigVarChar, TypeBigChar, TypeBigVarBin, TypeBigBinary:
		if col.Type.IsPLP(col.Length) {
			binary.Write(buf, binary.LittleEndian, plpNull)
			return nil
		}
		binary.Write(buf, binary.LittleEndian, uint16(0xFFFF))
	default:
		return fmt.Errorf("tds: type %s has no bulk NULL encoding", col.Type)
	}
	return nil
}

// writePLPString/writePLPBytes emit a MAX-length value as one PLP chunk:
// unknown total length, one length-prefixed chunk carrying the whole
// value, then the 0-length terminator.
func writePLPString(buf *bytes.Buffer, s string, unicode bool) error {
	var data []byte
	if unicode {
		data = stringToUCS2(s)
	} else {
		data = []byte(s)
	}
	return writePLPBytes(buf, data)
}

func writePLPBytes(buf *bytes.Buffer, data []byte) error {
	if data == nil {
		binary.Write(buf, binary.LittleEndian, plpNull)
		return nil
	}
	binary.Write(buf, binary.LittleEndian, plpUnknownLength)
	if len(data) > 0 {
		binary.Write(buf, binary.LittleEndian, uint32(len(data)))
		buf.Write(data)
	}
	binary.Write(buf, binary.LittleEndian, uint32(0))
	return nil
}

// writeDecimal encodes d as a sign byte (0 = negative, 1 = positive)
// followed by the magnitude as a little-endian unsigned integer, sized to
// col.Length - 1 bytes, the inverse of decodeDecimal. The fixed-scale
// string form (rather than any internal coefficient accessor) is used to
// get the exact scaled integer magnitude, independent of the decimal
// library's internal representation.
func writeDecimal(buf *bytes.Buffer, col Column, d decimal.Decimal) error {
	sign := byte(1)
	if d.Sign() < 0 {
		sign = 0
		d = d.Neg()
	}

	digits := d.Shift(int32(col.Scale)).Truncate(0).String()
	scaled, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return fmt.Errorf("tds: cannot parse decimal magnitude %q", digits)
	}

	magLen := int(col.Length) - 1
	be := scaled.Bytes()
	if len(be) > magLen {
		return fmt.Errorf("tds: decimal magnitude too large for declared length")
	}
	le := make([]byte, magLen)
	for i, v := range be {
		le[len(be)-1-i] = v
	}

	buf.WriteByte(byte(col.Length))
	buf.WriteByte(sign)
	buf.Write(le)
	return nil
}

// writeDateTime2 encodes t as DATETIME2(scale): a TIME(scale) component
// followed by a 3-byte date, the inverse of decodeTime+decodeDate+
// combineDateTime.
func writeDateTime2(buf *bytes.Buffer, scale uint8, t time.Time) error {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	timeOfDay := t.Sub(midnight)

	scaleUnit := map[uint8]uint64{0: 10000000, 1: 1000000, 2: 100000, 3: 10000, 4: 1000, 5: 100, 6: 10, 7: 1}
	unit := scaleUnit[scale]
	hundredNs := uint64(timeOfDay / (100 * time.Nanosecond))
	ticks := hundredNs / unit

	timeLen := timeByteLen(scale)
	buf.WriteByte(byte(timeLen) + 3)
	writeLittleEndianUint(buf, ticks, timeLen)

	days := int32(midnight.Sub(baseDate).Hours() / 24)
	buf.WriteByte(byte(days))
	buf.WriteByte(byte(days >> 8))
	buf.WriteByte(byte(days >> 16))
	return nil
}

func timeByteLen(scale uint8) int {
	switch {
	case scale <= 2:
		return 3
	case scale <= 4:
		return 4
	default:
		return 5
	}
}

func writeLittleEndianUint(buf *bytes.Buffer, v uint64, n int) {
	for i := 0; i < n; i++ {
		buf.WriteByte(byte(v >> (8 * uint(i))))
	}
}

// writeGUID encodes a canonical "XXXXXXXX-XXXX-XXXX-XXXX-XXXXXXXXXXXX"
// string as MS-TDS's mixed-endian 16-byte GUID, the inverse of decodeGUID.
func writeGUID(buf *bytes.Buffer, s string) error {
	var d1 uint32
	var d2, d3 uint16
	var rest [8]byte
	if _, err := fmt.Sscanf(s, "%08X-%04X-%04X-%02X%02X-%02X%02X%02X%02X%02X%02X",
		&d1, &d2, &d3, &rest[0], &rest[1], &rest[2], &rest[3], &rest[4], &rest[5], &rest[6], &rest[7]); err != nil {
		return fmt.Errorf("tds: invalid uniqueidentifier %q: %w", s, err)
	}
	var b [16]byte
	binary.LittleEndian.PutUint32(b[0:4], d1)
	binary.LittleEndian.PutUint16(b[4:6], d2)
	binary.LittleEndian.PutUint16(b[6:8], d3)
	copy(b[8:16], rest[:])
	buf.Write(b[:])
	return nil
}

// toInt64/toFloat64/toBool/toString/toBytes coerce a decoded or
// caller-supplied Go value for encoding. Unlike the decoder's value
// types, bulk-load callers may also supply plain int/float literals
// directly (e.g. from dml/CTAS code paths), so these accept a wider set
// than the wire decoder ever produces.
func toInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), true
	default:
		return 0, false
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case int, int8, int16, int32, int64:
		n, ok := toInt64(v)
		return float64(n), ok
	default:
		return 0, false
	}
}

func toBool(v interface{}) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case int64:
		return x != 0, true
	default:
		return false, false
	}
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toBytes(v interface{}) ([]byte, bool) {
	b, ok := v.([]byte)
	return b, ok
}
