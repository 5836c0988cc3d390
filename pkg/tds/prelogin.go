package tds

import (
	"encoding/binary"
	"fmt"
)

// TDS protocol versions.
const (
	VerTDS70     uint32 = 0x70000000
	VerTDS71     uint32 = 0x71000000
	VerTDS71Rev1 uint32 = 0x71000001
	VerTDS72     uint32 = 0x72090002
	VerTDS73A    uint32 = 0x730A0003
	VerTDS73B    uint32 = 0x730B0003
	VerTDS74     uint32 = 0x74000004
	VerTDS80     uint32 = 0x08000000 // TDS 8.0 (strict encryption)
)

// VersionString returns a human-readable version string.
func VersionString(ver uint32) string {
	switch ver {
	case VerTDS70:
		return "7.0"
	case VerTDS71:
		return "7.1"
	case VerTDS71Rev1:
		return "7.1 Rev 1"
	case VerTDS72:
		return "7.2"
	case VerTDS73A:
		return "7.3A"
	case VerTDS73B:
		return "7.3B"
	case VerTDS74:
		return "7.4"
	case VerTDS80:
		return "8.0"
	default:
		return fmt.Sprintf("unknown (0x%08X)", ver)
	}
}

// Prelogin option tokens.
const (
	PreloginVersion    uint8 = 0x00
	PreloginEncryption uint8 = 0x01
	PreloginInstOpt    uint8 = 0x02
	PreloginThreadID   uint8 = 0x03
	PreloginMARS       uint8 = 0x04
	PreloginTraceID    uint8 = 0x05
	PreloginFedAuth    uint8 = 0x06
	PreloginNonceOpt   uint8 = 0x07
	PreloginTerminator uint8 = 0xFF
)

// Encryption options for prelogin.
const (
	EncryptOff    uint8 = 0x00 // encryption available but off
	EncryptOn     uint8 = 0x01 // encryption available and on
	EncryptNotSup uint8 = 0x02 // encryption not supported
	EncryptReq    uint8 = 0x03 // encryption required
	EncryptStrict uint8 = 0x04 // strict encryption (TDS 8.0)
)

// PreloginOption is a single option header as it appears on the wire.
type PreloginOption struct {
	Token  uint8
	Offset uint16
	Length uint16
}

// PreloginRequest is what this client sends to open a connection.
type PreloginRequest struct {
	Version     []byte // 6 bytes: 4 version + 2 subbuild
	Encryption  uint8
	Instance    string
	ThreadID    uint32
	MARS        uint8
	FedAuthRequired bool // set FEDAUTH option to request the FEDAUTHREQUIRED extension
}

// ClientVersion is the version this client reports in PRELOGIN.
func ClientVersion() []byte {
	// 4-byte version + 2-byte subbuild, arbitrary but stable client identity.
	return []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00}
}

// Encode builds the wire bytes for a PRELOGIN request.
func (p *PreloginRequest) Encode() []byte {
	version := p.Version
	if version == nil {
		version = ClientVersion()
	}
	instanceData := append([]byte(p.Instance), 0) // null terminator

	type fieldSpec struct {
		token uint8
		data  []byte
	}
	fields := []fieldSpec{
		{PreloginVersion, version},
		{PreloginEncryption, []byte{p.Encryption}},
		{PreloginInstOpt, instanceData},
		{PreloginThreadID, threadIDBytes(p.ThreadID)},
		{PreloginMARS, []byte{p.MARS}},
	}
	if p.FedAuthRequired {
		fields = append(fields, fieldSpec{PreloginFedAuth, []byte{0x01}})
	}

	headerSize := len(fields)*5 + 1
	offset := uint16(headerSize)

	buf := make([]byte, headerSize)
	pos := 0
	var body []byte
	for _, f := range fields {
		buf[pos] = f.token
		binary.BigEndian.PutUint16(buf[pos+1:pos+3], offset)
		binary.BigEndian.PutUint16(buf[pos+3:pos+5], uint16(len(f.data)))
		pos += 5
		offset += uint16(len(f.data))
		body = append(body, f.data...)
	}
	buf[pos] = PreloginTerminator

	return append(buf, body...)
}

func threadIDBytes(id uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, id)
	return buf
}

// ServerVersion is the server's reported version in its PRELOGIN response.
type ServerVersion struct {
	Major    uint8
	Minor    uint8
	Build    uint16
	SubBuild uint16
}

// PreloginResponse is what the server replies with during PRELOGIN.
type PreloginResponse struct {
	Version         ServerVersion
	Encryption      uint8
	Instance        string
	ThreadID        uint32
	MARS            uint8
	FedAuthRequired bool
	Nonce           []byte // 32 bytes if present
}

// ParsePreloginResponse parses the server's PRELOGIN response payload.
func ParsePreloginResponse(data []byte) (*PreloginResponse, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("tds: empty prelogin response")
	}

	options := make(map[uint8]PreloginOption)
	offset := 0
	for {
		if offset >= len(data) {
			return nil, fmt.Errorf("tds: prelogin response truncated reading options")
		}
		token := data[offset]
		if token == PreloginTerminator {
			break
		}
		if offset+5 > len(data) {
			return nil, fmt.Errorf("tds: prelogin option header truncated")
		}
		options[token] = PreloginOption{
			Token:  token,
			Offset: binary.BigEndian.Uint16(data[offset+1 : offset+3]),
			Length: binary.BigEndian.Uint16(data[offset+3 : offset+5]),
		}
		offset += 5
	}

	resp := &PreloginResponse{}
	for token, opt := range options {
		start := int(opt.Offset)
		end := start + int(opt.Length)
		if end > len(data) || start < 0 {
			return nil, fmt.Errorf("tds: prelogin option %d data out of bounds", token)
		}
		value := data[start:end]

		switch token {
		case PreloginVersion:
			if len(value) >= 6 {
				resp.Version = ServerVersion{
					Major:    value[0],
					Minor:    value[1],
					Build:    binary.BigEndian.Uint16(value[2:4]),
					SubBuild: binary.BigEndian.Uint16(value[4:6]),
				}
			}
		case PreloginEncryption:
			if len(value) >= 1 {
				resp.Encryption = value[0]
			}
		case PreloginInstOpt:
			for i, b := range value {
				if b == 0 {
					resp.Instance = string(value[:i])
					break
				}
			}
		case PreloginThreadID:
			if len(value) >= 4 {
				resp.ThreadID = binary.BigEndian.Uint32(value)
			}
		case PreloginMARS:
			if len(value) >= 1 {
				resp.MARS = value[0]
			}
		case PreloginFedAuth:
			// Presence with a non-empty (possibly zero-length) value signals
			// the server supports/requires federated auth; per MS-TDS the
			// length is 0 and the FEDAUTHREQUIRED bit lives in the option's
			// mere presence, not a data byte.
			resp.FedAuthRequired = true
		case PreloginNonceOpt:
			if len(value) >= 32 {
				resp.Nonce = append([]byte(nil), value[:32]...)
			}
		}
	}

	return resp, nil
}
