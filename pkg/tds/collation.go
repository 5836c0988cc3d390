package tds

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// SQL Server's 5-byte COLLATION structure packs an LCID (20 bits), a
// comparison-flags nibble, and a 1-byte sort ID. The sort ID, when
// non-zero, identifies a legacy (pre-Unicode) codepage directly; this is
// the only part decodeCollatedString needs, since modern LCID-based
// collations are already resolved server-side for non-Unicode columns to
// one of these legacy codepages when no sort ID applies.
var sortIDToCharmap = map[byte]encoding.Encoding{
	1:  charmap.CodePage437,
	2:  charmap.CodePage437,
	3:  charmap.CodePage437,
	4:  charmap.CodePage437,
	40: charmap.Windows1250,
	41: charmap.Windows1250,
	42: charmap.Windows1250,
	43: charmap.Windows1250,
	44: charmap.Windows1250,
	45: charmap.Windows1250,
	46: charmap.Windows1250,
	47: charmap.Windows1250,
	48: charmap.Windows1250,
	49: charmap.Windows1250,
	50: charmap.Windows1251,
	51: charmap.Windows1251,
	52: charmap.Windows1251,
	53: charmap.Windows1251,
	54: charmap.Windows1251,
	55: charmap.Windows1251,
	56: charmap.Windows1253,
	57: charmap.Windows1253,
	58: charmap.Windows1253,
	59: charmap.Windows1253,
	60: charmap.Windows1253,
	61: charmap.Windows1253,
	80: charmap.Windows1254,
	81: charmap.Windows1254,
	82: charmap.Windows1254,
	83: charmap.Windows1254,
	84: charmap.Windows1255,
	85: charmap.Windows1255,
	86: charmap.Windows1255,
	87: charmap.Windows1255,
	88: charmap.Windows1256,
	89: charmap.Windows1256,
	90: charmap.Windows1256,
	91: charmap.Windows1256,
	104: charmap.Windows1257,
	105: charmap.Windows1257,
	106: charmap.Windows1257,
	107: charmap.Windows1257,
	108: charmap.Windows1257,
	109: charmap.Windows1257,
	112: charmap.Windows1257,
	113: charmap.Windows1257,
	114: charmap.Windows1257,
	115: charmap.Windows1257,
	116: charmap.Windows1257,
	117: charmap.Windows1257,
	120: charmap.Windows1252,
	121: charmap.Windows1252,
	122: charmap.Windows1252,
	123: charmap.Windows1252,
	124: charmap.Windows1252,
	125: charmap.Windows1252,
}

// decodeCollatedString decodes bytes b as a single-byte legacy-codepage
// string according to coll's sort ID, falling back to Windows-1252 (a
// superset of Latin-1, matching SQL Server's own default Latin1_General
// behavior) when the sort ID is unrecognized or the collation is absent.
func decodeCollatedString(coll []byte, b []byte) string {
	enc := charmap.Windows1252
	if len(coll) == 5 {
		sortID := coll[4]
		if e, ok := sortIDToCharmap[sortID]; ok {
			if cm, ok := e.(*charmap.Charmap); ok {
				enc = cm
			}
		}
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

// encodeCollatedString is the inverse of decodeCollatedString. The bulk
// row encoder does not call it: it writes VARCHAR/CHAR values as the Go
// string's raw bytes.
func encodeCollatedString(coll []byte, s string) []byte {
	enc := charmap.Windows1252
	if len(coll) == 5 {
		sortID := coll[4]
		if e, ok := sortIDToCharmap[sortID]; ok {
			if cm, ok := e.(*charmap.Charmap); ok {
				enc = cm
			}
		}
	}
	out, err := enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}
