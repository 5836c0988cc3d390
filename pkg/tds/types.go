package tds

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// SQLType identifies a SQL Server wire data type.
type SQLType uint8

const (
	TypeNull      SQLType = 0x1F // 31
	TypeInt1      SQLType = 0x30 // 48  tinyint
	TypeBit       SQLType = 0x32 // 50
	TypeInt2      SQLType = 0x34 // 52  smallint
	TypeInt4      SQLType = 0x38 // 56  int
	TypeDateTime4 SQLType = 0x3A // 58  smalldatetime
	TypeFloat4    SQLType = 0x3B // 59  real
	TypeMoney     SQLType = 0x3C // 60
	TypeDateTime  SQLType = 0x3D // 61
	TypeFloat8    SQLType = 0x3E // 62  float
	TypeMoney4    SQLType = 0x7A // 122 smallmoney
	TypeInt8      SQLType = 0x7F // 127 bigint

	TypeGUID            SQLType = 0x24 // 36
	TypeIntN             SQLType = 0x26 // 38
	TypeDecimal          SQLType = 0x37 // 55  legacy
	TypeNumeric          SQLType = 0x3F // 63  legacy
	TypeBitN             SQLType = 0x68 // 104
	TypeDecimalN         SQLType = 0x6A // 106
	TypeNumericN         SQLType = 0x6C // 108
	TypeFloatN           SQLType = 0x6D // 109
	TypeMoneyN           SQLType = 0x6E // 110
	TypeDateTimeN        SQLType = 0x6F // 111
	TypeDateN            SQLType = 0x28 // 40
	TypeTimeN            SQLType = 0x29 // 41
	TypeDateTime2N       SQLType = 0x2A // 42
	TypeDateTimeOffsetN  SQLType = 0x2B // 43

	TypeChar      SQLType = 0x2F // 47
	TypeVarChar   SQLType = 0x27 // 39
	TypeBinary    SQLType = 0x2D // 45
	TypeVarBinary SQLType = 0x25 // 37

	TypeBigVarBin  SQLType = 0xA5 // 165
	TypeBigVarChar SQLType = 0xA7 // 167
	TypeBigBinary  SQLType = 0xAD // 173
	TypeBigChar    SQLType = 0xAF // 175
	TypeNVarChar   SQLType = 0xE7 // 231
	TypeNChar      SQLType = 0xEF // 239
	TypeXML        SQLType = 0xF1 // 241
	TypeUDT        SQLType = 0xF0 // 240

	TypeText      SQLType = 0x23 // 35
	TypeImage     SQLType = 0x22 // 34
	TypeNText     SQLType = 0x63 // 99
	TypeSSVariant SQLType = 0x62 // 98
)

func (t SQLType) String() string {
	switch t {
	case TypeNull:
		return "NULL"
	case TypeInt1:
		return "TINYINT"
	case TypeBit, TypeBitN:
		return "BIT"
	case TypeInt2:
		return "SMALLINT"
	case TypeInt4:
		return "INT"
	case TypeInt8:
		return "BIGINT"
	case TypeFloat4:
		return "REAL"
	case TypeFloat8, TypeFloatN:
		return "FLOAT"
	case TypeDateTime, TypeDateTimeN:
		return "DATETIME"
	case TypeDateTime4:
		return "SMALLDATETIME"
	case TypeMoney, TypeMoneyN:
		return "MONEY"
	case TypeMoney4:
		return "SMALLMONEY"
	case TypeGUID:
		return "UNIQUEIDENTIFIER"
	case TypeIntN:
		return "INTN"
	case TypeDateN:
		return "DATE"
	case TypeTimeN:
		return "TIME"
	case TypeDateTime2N:
		return "DATETIME2"
	case TypeDateTimeOffsetN:
		return "DATETIMEOFFSET"
	case TypeDecimalN, TypeNumericN, TypeDecimal, TypeNumeric:
		return "DECIMAL"
	case TypeChar, TypeBigChar:
		return "CHAR"
	case TypeVarChar, TypeBigVarChar:
		return "VARCHAR"
	case TypeBinary, TypeBigBinary:
		return "BINARY"
	case TypeVarBinary, TypeBigVarBin:
		return "VARBINARY"
	case TypeNVarChar:
		return "NVARCHAR"
	case TypeNChar:
		return "NCHAR"
	case TypeText:
		return "TEXT"
	case TypeNText:
		return "NTEXT"
	case TypeImage:
		return "IMAGE"
	case TypeXML:
		return "XML"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(t))
	}
}

// IsPLP reports whether t uses partially-length-prefixed encoding, i.e. a
// MAX-length column (varchar(max), nvarchar(max), varbinary(max)).
func (t SQLType) IsPLP(declaredLen uint32) bool {
	switch t {
	case TypeBigVarBin, TypeBigVarChar, TypeNVarChar:
		return declaredLen == 0xFFFF
	}
	return false
}

// Column describes one column's metadata as carried in COLMETADATA.
type Column struct {
	Name      string
	Type      SQLType
	Length    uint32 // declared max length; 0xFFFFFFFF/0xFFFF marks MAX
	Precision uint8
	Scale     uint8
	Collation []byte // 5 bytes
	Nullable  bool
	UserType  uint32
	Flags     uint16
}

// ColumnFlags bit values carried in COLMETADATA.
const (
	ColFlagNullable        uint16 = 0x0001
	ColFlagCaseSen         uint16 = 0x0002
	ColFlagUpdateable      uint16 = 0x0008
	ColFlagIdentity        uint16 = 0x0010
	ColFlagComputed        uint16 = 0x0020
	ColFlagFixedLenCLR     uint16 = 0x0100
	ColFlagSparseColumn    uint16 = 0x0400
	ColFlagEncrypted       uint16 = 0x0800
	ColFlagHidden          uint16 = 0x2000
	ColFlagKey             uint16 = 0x4000
	ColFlagNullableUnknown uint16 = 0x8000
)

// DefaultCollation is Latin1_General_CI_AS, used when a server doesn't
// report one explicitly.
var DefaultCollation = []byte{0x09, 0x04, 0xD0, 0x00, 0x34}

// parseTypeInfo reads one column's TYPE_INFO (and trailing TABLENAME for
// LOB types) from c, filling in col.Type/Length/Precision/Scale/Collation.
func parseTypeInfo(c *cursor) (Column, error) {
	var col Column

	b, err := c.byte()
	if err != nil {
		return col, err
	}
	col.Type = SQLType(b)

	switch col.Type {
	case TypeNull, TypeInt1, TypeBit, TypeInt2, TypeInt4, TypeInt8,
		TypeFloat4, TypeFloat8, TypeMoney, TypeMoney4, TypeDateTime, TypeDateTime4:
		// fixed length, no TYPE_INFO beyond the type byte

	case TypeIntN, TypeBitN, TypeFloatN, TypeMoneyN, TypeDateTimeN:
		n, err := c.byte()
		if err != nil {
			return col, err
		}
		col.Length = uint32(n)

	case TypeDateN:
		// no additional info

	case TypeTimeN, TypeDateTime2N, TypeDateTimeOffsetN:
		scale, err := c.byte()
		if err != nil {
			return col, err
		}
		col.Scale = scale

	case TypeDecimalN, TypeNumericN, TypeDecimal, TypeNumeric:
		n, err := c.byte()
		if err != nil {
			return col, err
		}
		col.Length = uint32(n)
		prec, err := c.byte()
		if err != nil {
			return col, err
		}
		col.Precision = prec
		scale, err := c.byte()
		if err != nil {
			return col, err
		}
		col.Scale = scale

	case TypeGUID:
		n, err := c.byte()
		if err != nil {
			return col, err
		}
		col.Length = uint32(n)

	case TypeChar, TypeVarChar, TypeBinary, TypeVarBinary:
		n, err := c.byte()
		if err != nil {
			return col, err
		}
		col.Length = uint32(n)
		if col.Type == TypeChar || col.Type == TypeVarChar {
			coll, err := c.bytes(5)
			if err != nil {
				return col, err
			}
			col.Collation = append([]byte(nil), coll...)
		}

	case TypeBigVarChar, TypeBigChar, TypeBigVarBin, TypeBigBinary:
		n, err := c.uint16()
		if err != nil {
			return col, err
		}
		col.Length = uint32(n)
		if col.Type == TypeBigVarChar || col.Type == TypeBigChar {
			coll, err := c.bytes(5)
			if err != nil {
				return col, err
			}
			col.Collation = append([]byte(nil), coll...)
		}

	case TypeNVarChar, TypeNChar:
		n, err := c.uint16()
		if err != nil {
			return col, err
		}
		col.Length = uint32(n)
		coll, err := c.bytes(5)
		if err != nil {
			return col, err
		}
		col.Collation = append([]byte(nil), coll...)

	case TypeText, TypeNText, TypeImage:
		n, err := c.uint32()
		if err != nil {
			return col, err
		}
		col.Length = n
		if col.Type != TypeImage {
			coll, err := c.bytes(5)
			if err != nil {
				return col, err
			}
			col.Collation = append([]byte(nil), coll...)
		}
		numParts, err := c.byte()
		if err != nil {
			return col, err
		}
		for i := 0; i < int(numParts); i++ {
			plen, err := c.uint16()
			if err != nil {
				return col, err
			}
			if err := c.skip(int(plen) * 2); err != nil {
				return col, err
			}
		}

	case TypeXML:
		// XMLINFO: 1-byte schema-present flag, followed by dbname/owner/
		// collection names (each a 1-byte-length UCS-2 string) when set.
		flag, err := c.byte()
		if err != nil {
			return col, err
		}
		if flag&0x01 != 0 {
			for i := 0; i < 3; i++ {
				n, err := c.byte()
				if err != nil {
					return col, err
				}
				if err := c.skip(int(n) * 2); err != nil {
					return col, err
				}
			}
		}

	default:
		return col, fmt.Errorf("tds: unsupported column type 0x%02X", uint8(col.Type))
	}

	return col, nil
}

// decodeValue reads one value for col from c, returning a nil interface{}
// for SQL NULL.
func decodeValue(c *cursor, col Column) (interface{}, error) {
	switch col.Type {
	case TypeNull:
		return nil, nil

	case TypeInt1:
		b, err := c.byte()
		return b, err

	case TypeBit:
		b, err := c.byte()
		return b != 0, err

	case TypeInt2:
		v, err := c.int16()
		return v, err

	case TypeInt4:
		v, err := c.int32()
		return v, err

	case TypeInt8:
		v, err := c.int64()
		return v, err

	case TypeFloat4:
		v, err := c.uint32()
		if err != nil {
			return nil, err
		}
		return math.Float32frombits(v), nil

	case TypeFloat8:
		v, err := c.uint64()
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(v), nil

	case TypeMoney:
		return decodeMoney(c, 8)

	case TypeMoney4:
		return decodeMoney(c, 4)

	case TypeDateTime:
		return decodeDateTimeLong(c)

	case TypeDateTime4:
		return decodeDateTimeShort(c)

	case TypeIntN:
		n, err := c.byte()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		switch n {
		case 1:
			b, err := c.byte()
			return int64(b), err
		case 2:
			v, err := c.int16()
			return int64(v), err
		case 4:
			v, err := c.int32()
			return int64(v), err
		case 8:
			v, err := c.int64()
			return v, err
		}
		return nil, fmt.Errorf("tds: bad INTN length %d", n)

	case TypeBitN:
		n, err := c.byte()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		b, err := c.byte()
		return b != 0, err

	case TypeFloatN:
		n, err := c.byte()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		if n == 4 {
			v, err := c.uint32()
			if err != nil {
				return nil, err
			}
			return float64(math.Float32frombits(v)), nil
		}
		v, err := c.uint64()
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(v), nil

	case TypeMoneyN:
		n, err := c.byte()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		return decodeMoney(c, int(n))

	case TypeDateTimeN:
		n, err := c.byte()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		if n == 4 {
			return decodeDateTimeShort(c)
		}
		return decodeDateTimeLong(c)

	case TypeDateN:
		n, err := c.byte()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		return decodeDate(c)

	case TypeTimeN:
		n, err := c.byte()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		return decodeTime(c, int(n), col.Scale)

	case TypeDateTime2N:
		n, err := c.byte()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		timeLen := int(n) - 3
		t, err := decodeTime(c, timeLen, col.Scale)
		if err != nil {
			return nil, err
		}
		d, err := decodeDate(c)
		if err != nil {
			return nil, err
		}
		return combineDateTime(d.(time.Time), t.(time.Duration)), nil

	case TypeDateTimeOffsetN:
		n, err := c.byte()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		timeLen := int(n) - 5
		t, err := decodeTime(c, timeLen, col.Scale)
		if err != nil {
			return nil, err
		}
		d, err := decodeDate(c)
		if err != nil {
			return nil, err
		}
		offsetMin, err := c.int16()
		if err != nil {
			return nil, err
		}
		base := combineDateTime(d.(time.Time), t.(time.Duration))
		loc := time.FixedZone("", int(offsetMin)*60)
		return base.In(loc), nil

	case TypeDecimalN, TypeNumericN, TypeDecimal, TypeNumeric:
		n, err := c.byte()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		return decodeDecimal(c, int(n), col.Scale)

	case TypeGUID:
		n, err := c.byte()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		b, err := c.bytes(int(n))
		if err != nil {
			return nil, err
		}
		return decodeGUID(b), nil

	case TypeChar, TypeVarChar, TypeBinary, TypeVarBinary:
		n, err := c.byte()
		if err != nil {
			return nil, err
		}
		if n == 0xFF {
			return nil, nil
		}
		b, err := c.bytes(int(n))
		if err != nil {
			return nil, err
		}
		return decodeCharOrBinary(col, b), nil

	case TypeBigVarChar, TypeBigVarBin:
		if col.Type.IsPLP(col.Length) {
			v, err := decodePLP(c, false)
			if err != nil || v == nil {
				return v, err
			}
			return decodeCharOrBinary(col, v.([]byte)), nil
		}
		n, err := c.uint16()
		if err != nil {
			return nil, err
		}
		if n == 0xFFFF {
			return nil, nil
		}
		b, err := c.bytes(int(n))
		if err != nil {
			return nil, err
		}
		return decodeCharOrBinary(col, b), nil

	case TypeBigChar, TypeBigBinary:
		n, err := c.uint16()
		if err != nil {
			return nil, err
		}
		if n == 0xFFFF {
			return nil, nil
		}
		b, err := c.bytes(int(n))
		if err != nil {
			return nil, err
		}
		return decodeCharOrBinary(col, b), nil

	case TypeNVarChar, TypeNChar:
		if col.Type.IsPLP(col.Length) {
			return decodePLP(c, true)
		}
		n, err := c.uint16()
		if err != nil {
			return nil, err
		}
		if n == 0xFFFF {
			return nil, nil
		}
		b, err := c.bytes(int(n))
		if err != nil {
			return nil, err
		}
		return ucs2ToString(b), nil

	case TypeText, TypeNText, TypeImage, TypeSSVariant:
		return nil, fmt.Errorf("tds: type %s not supported, use MAX types", col.Type)

	default:
		return nil, fmt.Errorf("tds: unsupported column type %s for decode", col.Type)
	}
}

func decodeMoney(c *cursor, size int) (interface{}, error) {
	var scaled int64
	if size == 4 {
		v, err := c.int32()
		if err != nil {
			return nil, err
		}
		scaled = int64(v)
	} else {
		hi, err := c.int32()
		if err != nil {
			return nil, err
		}
		lo, err := c.uint32()
		if err != nil {
			return nil, err
		}
		scaled = int64(hi)<<32 | int64(lo)
	}
	return decimal.New(scaled, -4), nil
}

// baseDate is the TDS epoch (1900-01-01) for DATETIME/SMALLDATETIME/DATE.
var baseDate = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

func decodeDateTimeLong(c *cursor) (interface{}, error) {
	days, err := c.int32()
	if err != nil {
		return nil, err
	}
	ticks, err := c.uint32()
	if err != nil {
		return nil, err
	}
	ms := int64(ticks) * 1000 / 300
	return baseDate.AddDate(0, 0, int(days)).Add(time.Duration(ms) * time.Millisecond), nil
}

func decodeDateTimeShort(c *cursor) (interface{}, error) {
	days, err := c.uint16()
	if err != nil {
		return nil, err
	}
	mins, err := c.uint16()
	if err != nil {
		return nil, err
	}
	return baseDate.AddDate(0, 0, int(days)).Add(time.Duration(mins) * time.Minute), nil
}

func decodeDate(c *cursor) (interface{}, error) {
	b, err := c.bytes(3)
	if err != nil {
		return nil, err
	}
	days := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	return baseDate.AddDate(0, 0, int(days)), nil
}

// decodeTime reads a TIME(n) value of byteLen bytes and returns the
// time-of-day as a time.Duration since midnight.
func decodeTime(c *cursor, byteLen int, scale uint8) (interface{}, error) {
	if byteLen <= 0 {
		return time.Duration(0), nil
	}
	b, err := c.bytes(byteLen)
	if err != nil {
		return nil, err
	}
	var ticks uint64
	for i := len(b) - 1; i >= 0; i-- {
		ticks = ticks<<8 | uint64(b[i])
	}
	// ticks are in units of 10^-scale seconds; normalize to 100ns units.
	scaleDiv := map[uint8]uint64{0: 10000000, 1: 1000000, 2: 100000, 3: 10000, 4: 1000, 5: 100, 6: 10, 7: 1}
	unit := scaleDiv[scale]
	hundredNs := ticks * unit
	return time.Duration(hundredNs) * 100 * time.Nanosecond, nil
}

func combineDateTime(date time.Time, timeOfDay time.Duration) time.Time {
	return date.Add(timeOfDay)
}

// decodeDecimal reads a DECIMAL/NUMERIC value: 1 sign byte (0 = negative,
// 1 = positive) followed by the magnitude as a little-endian unsigned
// integer of up to 16 bytes.
func decodeDecimal(c *cursor, byteLen int, scale uint8) (interface{}, error) {
	b, err := c.bytes(byteLen)
	if err != nil {
		return nil, err
	}
	sign := b[0]
	mag := b[1:]

	be := make([]byte, len(mag))
	for i, v := range mag {
		be[len(mag)-1-i] = v
	}
	bi := new(big.Int).SetBytes(be)
	if sign == 0 {
		bi.Neg(bi)
	}
	return decimal.NewFromBigInt(bi, -int32(scale)), nil
}

func decodeGUID(b []byte) string {
	// MS-TDS GUIDs are mixed-endian: first 3 fields little-endian, last two big-endian.
	if len(b) < 16 {
		return ""
	}
	return fmt.Sprintf("%08X-%04X-%04X-%02X%02X-%02X%02X%02X%02X%02X%02X",
		binary.LittleEndian.Uint32(b[0:4]),
		binary.LittleEndian.Uint16(b[4:6]),
		binary.LittleEndian.Uint16(b[6:8]),
		b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15])
}

func decodeCharOrBinary(col Column, b []byte) interface{} {
	switch col.Type {
	case TypeBinary, TypeVarBinary, TypeBigVarBin, TypeBigBinary:
		return append([]byte(nil), b...)
	default:
		return decodeCollatedString(col.Collation, b)
	}
}

// decodePLP reads a partially-length-prefixed value: an 8-byte total
// length (0xFFFFFFFFFFFFFFFF = PLP NULL, 0xFFFFFFFFFFFFFFFE = length not
// known up front), followed by length-prefixed chunks terminated by a
// 0-length chunk. The chunk loop below handles both non-NULL cases
// identically since it never relies on the declared total.
func decodePLP(c *cursor, isUnicode bool) (interface{}, error) {
	total, err := c.uint64()
	if err != nil {
		return nil, err
	}
	if total == 0xFFFFFFFFFFFFFFFF {
		return nil, nil // PLP NULL
	}
	var data []byte
	for {
		chunkLen, err := c.uint32()
		if err != nil {
			return nil, err
		}
		if chunkLen == 0 {
			break
		}
		b, err := c.bytes(int(chunkLen))
		if err != nil {
			return nil, err
		}
		data = append(data, b...)
	}
	if isUnicode {
		return ucs2ToString(data), nil
	}
	return data, nil
}

