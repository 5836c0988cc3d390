package tds

import (
	"encoding/binary"
	"unicode/utf16"
)

// LOGIN7 option flags.
const (
	// OptionFlags1
	FlagByteOrder uint8 = 0x01 // byte order (0=little endian)
	FlagChar      uint8 = 0x02 // character set (0=ASCII)
	FlagFloat     uint8 = 0x0C // float representation
	FlagDumpLoad  uint8 = 0x10 // dump/load off
	FlagUseDB     uint8 = 0x20 // USE DATABASE in login
	FlagDatabase  uint8 = 0x40 // initial database fatal
	FlagSetLang   uint8 = 0x80 // SET LANGUAGE in login

	// OptionFlags2
	FlagLanguage      uint8 = 0x01 // language fatal
	FlagODBC          uint8 = 0x02 // ODBC driver
	FlagTransBoundary uint8 = 0x04 // transaction boundary
	FlagCacheConnect  uint8 = 0x08 // cache connect
	FlagUserType      uint8 = 0x70 // user type
	FlagIntSecurity   uint8 = 0x80 // integrated security (SSPI)

	// OptionFlags3
	FlagChangePassword   uint8 = 0x01 // change password
	FlagBinaryXML        uint8 = 0x02 // send Yukon binary XML
	FlagUserInstance     uint8 = 0x04 // user instance
	FlagUnknownCollation uint8 = 0x08 // unknown collation handling
	FlagExtension        uint8 = 0x10 // feature extension present

	// TypeFlags
	FlagSQLType        uint8 = 0x0F // SQL type (4 bits)
	FlagOLEDB          uint8 = 0x10 // OLE DB
	FlagReadOnlyIntent uint8 = 0x20 // read-only intent
)

// Feature extension IDs (MS-TDS 2.2.6.4).
const (
	FeatureSessionRecovery uint8 = 0x01
	FeatureFedAuth         uint8 = 0x02
	FeatureColumnEncryption uint8 = 0x04
	FeatureGlobalTransactions uint8 = 0x05
	FeatureAzureSQLSupport  uint8 = 0x08
	FeatureDataClassification uint8 = 0x09
	FeatureUTF8Support      uint8 = 0x0A
	FeatureTerminator       uint8 = 0xFF
)

// Fedauth library values carried in the FEDAUTH feature extension.
const (
	FedAuthLibrarySecurityToken uint8 = 0x01 // caller supplies the token directly (FEDAUTH_TOKEN message follows)
	FedAuthLibraryADAL          uint8 = 0x02 // legacy ADAL-style flow, unused here
	FedAuthLibraryReserved      uint8 = 0x7F
)

// Login7HeaderSize is the fixed size of the LOGIN7 header.
const Login7HeaderSize = 94

// Login7Header is the fixed portion of a LOGIN7 message.
type Login7Header struct {
	Length               uint32
	TDSVersion           uint32
	PacketSize           uint32
	ClientProgVer        uint32
	ClientPID            uint32
	ConnectionID         uint32
	OptionFlags1         uint8
	OptionFlags2         uint8
	TypeFlags            uint8
	OptionFlags3         uint8
	ClientTimeZone       int32
	ClientLCID           uint32
	HostNameOffset       uint16
	HostNameLength       uint16
	UserNameOffset       uint16
	UserNameLength       uint16
	PasswordOffset       uint16
	PasswordLength       uint16
	AppNameOffset        uint16
	AppNameLength        uint16
	ServerNameOffset     uint16
	ServerNameLength     uint16
	ExtensionOffset      uint16
	ExtensionLength      uint16
	CtlIntNameOffset     uint16
	CtlIntNameLength     uint16
	LanguageOffset       uint16
	LanguageLength       uint16
	DatabaseOffset       uint16
	DatabaseLength       uint16
	ClientID             [6]byte
	SSPIOffset           uint16
	SSPILength           uint16
	AtchDBFileOffset     uint16
	AtchDBFileLength     uint16
	ChangePasswordOffset uint16
	ChangePasswordLength uint16
	SSPILongLength       uint32
}

// Login7Request is what this client sends after PRELOGIN to authenticate.
type Login7Request struct {
	TDSVersion    uint32
	PacketSize    uint32
	ClientPID     uint32
	HostName      string
	UserName      string
	Password      string
	AppName       string
	ServerName    string
	CtlIntName    string
	Language      string
	Database      string
	ReadOnlyIntent bool

	// FedAuthRequested, when true, requests the FEDAUTH feature extension
	// with library FedAuthLibrarySecurityToken; the token itself is sent
	// afterward in a separate FEDAUTH_TOKEN message once LOGINACK/an
	// initial auth handshake demands it (MS-TDS 2.2.7.13).
	FedAuthRequested bool
}

// ctlIntNameDefault identifies this client in the LOGIN7 CtlIntName field.
const ctlIntNameDefault = "mssqlext"

// Encode builds the wire bytes for a LOGIN7 message.
func (l *Login7Request) Encode() []byte {
	hostName := stringToUCS2(l.HostName)
	userName := stringToUCS2(l.UserName)
	password := manglePassword(l.Password)
	appName := stringToUCS2(l.AppName)
	serverName := stringToUCS2(l.ServerName)
	ctlIntName := stringToUCS2(orDefault(l.CtlIntName, ctlIntNameDefault))
	language := stringToUCS2(l.Language)
	database := stringToUCS2(l.Database)

	var featureExt []byte
	if l.FedAuthRequested {
		featureExt = encodeFedAuthFeature()
	}

	// Fixed header + variable section + optional feature-ext offset DWORD.
	varStart := Login7HeaderSize
	offset := uint16(varStart)

	fields := []struct {
		data []byte
	}{
		{hostName}, {userName}, {password}, {appName}, {serverName}, {ctlIntName}, {language}, {database},
	}
	offsets := make([]uint16, len(fields))
	for i, f := range fields {
		offsets[i] = offset
		offset += uint16(len(f.data))
	}

	var extensionOffsetField uint32
	var extensionBlock []byte
	extOffsetFieldOffset := uint16(0)
	if len(featureExt) > 0 {
		extOffsetFieldOffset = offset
		offset += 4 // the DWORD pointer itself
		extensionOffsetField = uint32(offset)
		extensionBlock = featureExt
		offset += uint16(len(extensionBlock))
	}

	total := int(offset)
	buf := make([]byte, total)

	h := Login7Header{
		Length:           uint32(total),
		TDSVersion:       l.TDSVersion,
		PacketSize:       l.PacketSize,
		ClientProgVer:    0x07000000,
		ClientPID:        l.ClientPID,
		ConnectionID:     0,
		OptionFlags1:     FlagUseDB | FlagSetLang,
		OptionFlags2:     FlagODBC,
		TypeFlags:        0,
		OptionFlags3:     0,
		ClientTimeZone:   0,
		ClientLCID:       0x00000409, // en-US

		HostNameOffset: offsets[0], HostNameLength: uint16(len(l.HostName)),
		UserNameOffset: offsets[1], UserNameLength: uint16(len(l.UserName)),
		PasswordOffset: offsets[2], PasswordLength: uint16(len(l.Password)),
		AppNameOffset: offsets[3], AppNameLength: uint16(len(l.AppName)),
		ServerNameOffset: offsets[4], ServerNameLength: uint16(len(l.ServerName)),
		CtlIntNameOffset: offsets[5], CtlIntNameLength: uint16(len(orDefault(l.CtlIntName, ctlIntNameDefault))),
		LanguageOffset: offsets[6], LanguageLength: uint16(len(l.Language)),
		DatabaseOffset: offsets[7], DatabaseLength: uint16(len(l.Database)),
	}
	if l.ReadOnlyIntent {
		h.TypeFlags |= FlagReadOnlyIntent
	}
	if len(featureExt) > 0 {
		h.OptionFlags3 |= FlagExtension
		h.ExtensionOffset = extOffsetFieldOffset
		h.ExtensionLength = 4
	}

	writeLogin7Header(buf, h)

	pos := varStart
	for _, f := range fields {
		copy(buf[pos:], f.data)
		pos += len(f.data)
	}
	if len(featureExt) > 0 {
		binary.LittleEndian.PutUint32(buf[pos:pos+4], extensionOffsetField)
		pos += 4
		copy(buf[pos:], extensionBlock)
		pos += len(extensionBlock)
	}

	return buf
}

func writeLogin7Header(buf []byte, h Login7Header) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Length)
	binary.LittleEndian.PutUint32(buf[4:8], h.TDSVersion)
	binary.LittleEndian.PutUint32(buf[8:12], h.PacketSize)
	binary.LittleEndian.PutUint32(buf[12:16], h.ClientProgVer)
	binary.LittleEndian.PutUint32(buf[16:20], h.ClientPID)
	binary.LittleEndian.PutUint32(buf[20:24], h.ConnectionID)
	buf[24] = h.OptionFlags1
	buf[25] = h.OptionFlags2
	buf[26] = h.TypeFlags
	buf[27] = h.OptionFlags3
	binary.LittleEndian.PutUint32(buf[28:32], uint32(h.ClientTimeZone))
	binary.LittleEndian.PutUint32(buf[32:36], h.ClientLCID)
	binary.LittleEndian.PutUint16(buf[36:38], h.HostNameOffset)
	binary.LittleEndian.PutUint16(buf[38:40], h.HostNameLength)
	binary.LittleEndian.PutUint16(buf[40:42], h.UserNameOffset)
	binary.LittleEndian.PutUint16(buf[42:44], h.UserNameLength)
	binary.LittleEndian.PutUint16(buf[44:46], h.PasswordOffset)
	binary.LittleEndian.PutUint16(buf[46:48], h.PasswordLength)
	binary.LittleEndian.PutUint16(buf[48:50], h.AppNameOffset)
	binary.LittleEndian.PutUint16(buf[50:52], h.AppNameLength)
	binary.LittleEndian.PutUint16(buf[52:54], h.ServerNameOffset)
	binary.LittleEndian.PutUint16(buf[54:56], h.ServerNameLength)
	binary.LittleEndian.PutUint16(buf[56:58], h.ExtensionOffset)
	binary.LittleEndian.PutUint16(buf[58:60], h.ExtensionLength)
	binary.LittleEndian.PutUint16(buf[60:62], h.CtlIntNameOffset)
	binary.LittleEndian.PutUint16(buf[62:64], h.CtlIntNameLength)
	binary.LittleEndian.PutUint16(buf[64:66], h.LanguageOffset)
	binary.LittleEndian.PutUint16(buf[66:68], h.LanguageLength)
	binary.LittleEndian.PutUint16(buf[68:70], h.DatabaseOffset)
	binary.LittleEndian.PutUint16(buf[70:72], h.DatabaseLength)
	copy(buf[72:78], h.ClientID[:])
	binary.LittleEndian.PutUint16(buf[78:80], h.SSPIOffset)
	binary.LittleEndian.PutUint16(buf[80:82], h.SSPILength)
	binary.LittleEndian.PutUint16(buf[82:84], h.AtchDBFileOffset)
	binary.LittleEndian.PutUint16(buf[84:86], h.AtchDBFileLength)
	binary.LittleEndian.PutUint16(buf[86:88], h.ChangePasswordOffset)
	binary.LittleEndian.PutUint16(buf[88:90], h.ChangePasswordLength)
	binary.LittleEndian.PutUint32(buf[90:94], h.SSPILongLength)
}

// encodeFedAuthFeature builds the FEDAUTH feature extension block: a
// 1-byte feature ID, a 4-byte data length, then feature data, terminated
// by the feature-list's own FeatureTerminator byte.
func encodeFedAuthFeature() []byte {
	// FedAuthLibrary (1 byte, upper 3 bits) | fReserved (bit 0) packed per
	// MS-TDS 2.2.6.4: we request FedAuthLibrarySecurityToken with no
	// echo of a SPN (server-side ADAL flows are out of scope; the token
	// is supplied by pkg/auth and sent via FEDAUTH_TOKEN).
	data := []byte{FedAuthLibrarySecurityToken << 1, 0x01} // fFedAuthLibrary<<1 | fEcho
	block := make([]byte, 0, 1+4+len(data)+1)
	block = append(block, FeatureFedAuth)
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(data)))
	block = append(block, lenBuf...)
	block = append(block, data...)
	block = append(block, FeatureTerminator)
	return block
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// manglePassword obfuscates a password for LOGIN7 transmission: swap the
// nibbles of each UCS-2 byte, then XOR with 0xA5. This is obfuscation only,
// not encryption, and must be applied after TLS is already in place for the
// connection to be meaningfully protected.
func manglePassword(s string) []byte {
	raw := stringToUCS2(s)
	out := make([]byte, len(raw))
	for i, b := range raw {
		swapped := (b >> 4) | (b << 4)
		out[i] = swapped ^ 0xA5
	}
	return out
}

// ucs2ToString converts UCS-2 (UTF-16LE) bytes to a Go string.
func ucs2ToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	u16 := make([]uint16, len(b)/2)
	for i := 0; i < len(u16); i++ {
		u16[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(u16))
}

// stringToUCS2 converts a Go string to UCS-2 (UTF-16LE) bytes.
func stringToUCS2(s string) []byte {
	u16 := utf16.Encode([]rune(s))
	b := make([]byte, len(u16)*2)
	for i, v := range u16 {
		binary.LittleEndian.PutUint16(b[i*2:], v)
	}
	return b
}
