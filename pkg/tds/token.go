package tds

import (
	"fmt"
	"io"

	tdserrors "github.com/ha1tch/mssqlext/pkg/errors"
)

// TokenType identifies a single element of a TABULAR_RESULT token stream.
type TokenType uint8

const (
	TokenReturnStatus  TokenType = 0x79
	TokenColMetadata   TokenType = 0x81
	TokenColInfo       TokenType = 0xA5
	TokenOrder         TokenType = 0xA9
	TokenError         TokenType = 0xAA
	TokenInfo          TokenType = 0xAB
	TokenReturnValue   TokenType = 0xAC
	TokenLoginAck      TokenType = 0xAD
	TokenFeatureExtAck TokenType = 0xAE
	TokenRow           TokenType = 0xD1
	TokenNBCRow        TokenType = 0xD2
	TokenEnvChange     TokenType = 0xE3
	TokenSSPI          TokenType = 0xED
	TokenFedAuthInfo   TokenType = 0xEE
	TokenDone          TokenType = 0xFD
	TokenDoneProc      TokenType = 0xFE
	TokenDoneInProc    TokenType = 0xFF
)

func (t TokenType) String() string {
	switch t {
	case TokenReturnStatus:
		return "RETURNSTATUS"
	case TokenColMetadata:
		return "COLMETADATA"
	case TokenColInfo:
		return "COLINFO"
	case TokenOrder:
		return "ORDER"
	case TokenError:
		return "ERROR"
	case TokenInfo:
		return "INFO"
	case TokenReturnValue:
		return "RETURNVALUE"
	case TokenLoginAck:
		return "LOGINACK"
	case TokenFeatureExtAck:
		return "FEATUREEXTACK"
	case TokenRow:
		return "ROW"
	case TokenNBCRow:
		return "NBCROW"
	case TokenEnvChange:
		return "ENVCHANGE"
	case TokenSSPI:
		return "SSPI"
	case TokenFedAuthInfo:
		return "FEDAUTHINFO"
	case TokenDone:
		return "DONE"
	case TokenDoneProc:
		return "DONEPROC"
	case TokenDoneInProc:
		return "DONEINPROC"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(t))
	}
}

// DONE status flags.
const (
	DoneFinal    uint16 = 0x0000
	DoneMore     uint16 = 0x0001
	DoneError    uint16 = 0x0002
	DoneInxact   uint16 = 0x0004
	DoneCount    uint16 = 0x0010
	DoneAttn     uint16 = 0x0020
	DoneSrvError uint16 = 0x0100
)

// ENVCHANGE types.
const (
	EnvDatabase            uint8 = 1
	EnvLanguage            uint8 = 2
	EnvCharset             uint8 = 3
	EnvPacketSize          uint8 = 4
	EnvSortID              uint8 = 5
	EnvSortFlags           uint8 = 6
	EnvSQLCollation        uint8 = 7
	EnvBeginTran           uint8 = 8
	EnvCommitTran          uint8 = 9
	EnvRollbackTran        uint8 = 10
	EnvEnlistDTC           uint8 = 11
	EnvDefectTran          uint8 = 12
	EnvMirrorPartner       uint8 = 13
	EnvPromoteTran         uint8 = 15
	EnvTranMgrAddr         uint8 = 16
	EnvTranEnded           uint8 = 17
	EnvResetConnAck        uint8 = 18
	EnvStartedInstanceName uint8 = 19
	EnvRouting             uint8 = 20
)

// DoneToken carries the rowcount/status of a completed statement.
type DoneToken struct {
	Type     TokenType
	Status   uint16
	CurCmd   uint16
	RowCount uint64
}

func (d DoneToken) More() bool  { return d.Status&DoneMore != 0 }
func (d DoneToken) HasError() bool { return d.Status&DoneError != 0 }
func (d DoneToken) HasCount() bool { return d.Status&DoneCount != 0 }

// EnvChange carries a single ENVCHANGE notification.
type EnvChange struct {
	Type     uint8
	NewValue string
	OldValue string
	// NewCollation/OldCollation hold raw bytes for EnvSQLCollation (collation
	// info) and for the transaction-descriptor ENVCHANGE types (BeginTran,
	// CommitTran, RollbackTran, EnlistDTC, TranEnded), none of which are
	// UCS2 strings.
	NewCollation []byte
	OldCollation []byte
}

// LoginAck carries the server's LOGINACK acceptance of this connection.
type LoginAck struct {
	Interface  uint8
	TDSVersion uint32
	ProgName   string
	ProgVersion uint32
}

// FedAuthInfoOpt is a single FEDAUTHINFO sub-option (STSURL or SPN).
type FedAuthInfoOpt struct {
	ID    uint8
	Value string
}

const (
	FedAuthInfoSTSURL uint8 = 0x01
	FedAuthInfoSPN    uint8 = 0x02
)

// Row is a decoded ROW/NBCROW token: one value per column, in column order.
type Row []interface{}

// TokenReader decodes a TABULAR_RESULT token stream one token at a time.
// Callers drive it with Next, inspecting the returned token's concrete
// type via a type switch; it tracks the COLMETADATA most recently seen so
// ROW/NBCROW tokens can be decoded against it.
type TokenReader struct {
	c       *cursor
	columns []Column
}

// NewTokenReader wraps buf, the full reassembled payload of one or more
// TABULAR_RESULT messages, for token-by-token decoding.
func NewTokenReader(buf []byte) *TokenReader {
	return &TokenReader{c: newCursor(buf)}
}

// Columns returns the column metadata from the most recent COLMETADATA
// token, or nil if none has been seen yet.
func (r *TokenReader) Columns() []Column {
	return r.columns
}

// Done reports whether the stream has been fully consumed.
func (r *TokenReader) Done() bool {
	return r.c.atEnd()
}

// Next decodes and returns the next token. The concrete type of the
// returned value depends on the token:
//
//	[]Column        COLMETADATA
//	Row             ROW, NBCROW
//	DoneToken       DONE, DONEPROC, DONEINPROC
//	*tdserrors.ServerError  ERROR, INFO (both carry the same shape;
//	                        callers distinguish via the TokenType returned)
//	EnvChange       ENVCHANGE
//	LoginAck        LOGINACK
//	[]FedAuthInfoOpt  FEDAUTHINFO (every option of the token at once)
//	int32           RETURNSTATUS
//
// Next returns io.EOF once the stream is exhausted.
func (r *TokenReader) Next() (TokenType, interface{}, error) {
	if r.c.atEnd() {
		return 0, nil, io.EOF
	}
	b, err := r.c.byte()
	if err != nil {
		return 0, nil, err
	}
	tok := TokenType(b)

	switch tok {
	case TokenColMetadata:
		cols, err := r.readColMetadata()
		if err != nil {
			return tok, nil, err
		}
		r.columns = cols
		return tok, cols, nil

	case TokenRow:
		row, err := r.readRow()
		return tok, row, err

	case TokenNBCRow:
		row, err := decodeNBCRow(r.c, r.columns)
		return tok, Row(row), err

	case TokenDone, TokenDoneProc, TokenDoneInProc:
		d, err := r.readDone(tok)
		return tok, d, err

	case TokenError, TokenInfo:
		e, err := r.readErrorOrInfo()
		return tok, e, err

	case TokenEnvChange:
		e, err := r.readEnvChange()
		return tok, e, err

	case TokenLoginAck:
		a, err := r.readLoginAck()
		return tok, a, err

	case TokenFedAuthInfo:
		opts, err := r.readFedAuthInfo()
		return tok, opts, err

	case TokenReturnStatus:
		v, err := r.c.int32()
		return tok, v, err

	case TokenOrder, TokenColInfo, TokenReturnValue, TokenFeatureExtAck, TokenSSPI:
		// These carry no decode semantics this client needs; skip the
		// USHORT-length-prefixed body.
		if err := r.skipUnhandled(tok); err != nil {
			return tok, nil, err
		}
		return tok, nil, nil

	default:
		return tok, nil, tdserrors.NewProtocolError("unknown token type 0x%02X", b)
	}
}

func (r *TokenReader) readColMetadata() ([]Column, error) {
	count, err := r.c.uint16()
	if err != nil {
		return nil, err
	}
	if count == 0xFFFF {
		// No metadata (e.g. a DDL-only batch with no result set).
		return nil, nil
	}
	cols := make([]Column, 0, count)
	for i := uint16(0); i < count; i++ {
		col, err := parseTypeInfo(r.c)
		if err != nil {
			return nil, err
		}
		nameLen, err := r.c.byte()
		if err != nil {
			return nil, err
		}
		nameBytes, err := r.c.bytes(int(nameLen) * 2)
		if err != nil {
			return nil, err
		}
		col.Name = ucs2ToString(nameBytes)
		cols = append(cols, col)
	}
	return cols, nil
}

func (r *TokenReader) readRow() (Row, error) {
	if r.columns == nil {
		return nil, tdserrors.NewProtocolError("ROW token with no preceding COLMETADATA")
	}
	row := make(Row, len(r.columns))
	for i, col := range r.columns {
		v, err := decodeValue(r.c, col)
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}

func (r *TokenReader) readDone(tok TokenType) (DoneToken, error) {
	status, err := r.c.uint16()
	if err != nil {
		return DoneToken{}, err
	}
	curCmd, err := r.c.uint16()
	if err != nil {
		return DoneToken{}, err
	}
	rowCount, err := r.c.uint64()
	if err != nil {
		return DoneToken{}, err
	}
	return DoneToken{Type: tok, Status: status, CurCmd: curCmd, RowCount: rowCount}, nil
}

func (r *TokenReader) readErrorOrInfo() (*tdserrors.ServerError, error) {
	if err := r.skipLength2(); err != nil {
		return nil, err
	}
	number, err := r.c.int32()
	if err != nil {
		return nil, err
	}
	state, err := r.c.byte()
	if err != nil {
		return nil, err
	}
	class, err := r.c.byte()
	if err != nil {
		return nil, err
	}
	msg, err := r.readUSVarChar()
	if err != nil {
		return nil, err
	}
	server, err := r.readBVarChar()
	if err != nil {
		return nil, err
	}
	proc, err := r.readBVarChar()
	if err != nil {
		return nil, err
	}
	lineNo, err := r.c.int32()
	if err != nil {
		return nil, err
	}
	return &tdserrors.ServerError{
		Number:   number,
		State:    state,
		Class:    class,
		Message:  msg,
		ProcName: proc,
		LineNo:   lineNo,
		Server:   server,
	}, nil
}

// skipLength2 discards the token's own USHORT length prefix; ERROR/INFO
// are self-delimited by their fields so the length isn't needed to parse
// them, only to skip them if the caller doesn't care.
func (r *TokenReader) skipLength2() error {
	_, err := r.c.uint16()
	return err
}

func (r *TokenReader) readEnvChange() (EnvChange, error) {
	tokenLen, err := r.c.uint16()
	if err != nil {
		return EnvChange{}, err
	}
	start := r.c.pos
	envType, err := r.c.byte()
	if err != nil {
		return EnvChange{}, err
	}
	e := EnvChange{Type: envType}
	if envType == EnvSQLCollation {
		newLen, err := r.c.byte()
		if err != nil {
			return EnvChange{}, err
		}
		e.NewCollation, err = r.c.bytes(int(newLen))
		if err != nil {
			return EnvChange{}, err
		}
		oldLen, err := r.c.byte()
		if err != nil {
			return EnvChange{}, err
		}
		e.OldCollation, err = r.c.bytes(int(oldLen))
		if err != nil {
			return EnvChange{}, err
		}
	} else if envType == EnvBeginTran || envType == EnvCommitTran || envType == EnvRollbackTran || envType == EnvEnlistDTC || envType == EnvTranEnded {
		// These carry a raw B_VARBYTE transaction descriptor, not a UCS2
		// string: a 1-byte length followed by that many raw bytes.
		newLen, err := r.c.byte()
		if err != nil {
			return EnvChange{}, err
		}
		e.NewCollation, err = r.c.bytes(int(newLen))
		if err != nil {
			return EnvChange{}, err
		}
		oldLen, err := r.c.byte()
		if err != nil {
			return EnvChange{}, err
		}
		e.OldCollation, err = r.c.bytes(int(oldLen))
		if err != nil {
			return EnvChange{}, err
		}
	} else if envType == EnvRouting {
		// ROUTING new_value is its own nested structure, not a B_VARCHAR:
		// u16 data length; u8 protocol (0=TCP); u16 port; u16 server name
		// length; server name in UCS2. old_value is an empty u16 length.
		if _, err := r.c.uint16(); err != nil { // data length, unused
			return EnvChange{}, err
		}
		if _, err := r.c.byte(); err != nil { // protocol
			return EnvChange{}, err
		}
		port, err := r.c.uint16()
		if err != nil {
			return EnvChange{}, err
		}
		host, err := r.readUSVarChar()
		if err != nil {
			return EnvChange{}, err
		}
		e.NewValue = fmt.Sprintf("%s:%d", host, port)
		if _, err := r.c.uint16(); err != nil { // old_value length (0)
			return EnvChange{}, err
		}
	} else {
		e.NewValue, err = r.readBVarChar()
		if err != nil {
			return EnvChange{}, err
		}
		e.OldValue, err = r.readBVarChar()
		if err != nil {
			return EnvChange{}, err
		}
	}
	// Defend against any field-width mismatch between what we parsed and
	// the token's declared length by resyncing to its end.
	end := start + int(tokenLen)
	if end > len(r.c.buf) {
		return EnvChange{}, io.ErrUnexpectedEOF
	}
	r.c.pos = end
	return e, nil
}

func (r *TokenReader) readLoginAck() (LoginAck, error) {
	if err := r.skipLength2(); err != nil {
		return LoginAck{}, err
	}
	iface, err := r.c.byte()
	if err != nil {
		return LoginAck{}, err
	}
	verBytes, err := r.c.bytes(4)
	if err != nil {
		return LoginAck{}, err
	}
	tdsVersion := uint32(verBytes[0])<<24 | uint32(verBytes[1])<<16 | uint32(verBytes[2])<<8 | uint32(verBytes[3])
	progName, err := r.readBVarChar()
	if err != nil {
		return LoginAck{}, err
	}
	progVerBytes, err := r.c.bytes(4)
	if err != nil {
		return LoginAck{}, err
	}
	progVersion := uint32(progVerBytes[0])<<24 | uint32(progVerBytes[1])<<16 | uint32(progVerBytes[2])<<8 | uint32(progVerBytes[3])
	return LoginAck{Interface: iface, TDSVersion: tdsVersion, ProgName: progName, ProgVersion: progVersion}, nil
}

func (r *TokenReader) readFedAuthInfo() ([]FedAuthInfoOpt, error) {
	tokenLen, err := r.c.uint32()
	if err != nil {
		return nil, err
	}
	start := r.c.pos
	count, err := r.c.uint32()
	if err != nil {
		return nil, err
	}
	type hdr struct {
		id     uint8
		length uint32
		offset uint32
	}
	hdrs := make([]hdr, count)
	for i := uint32(0); i < count; i++ {
		id, err := r.c.byte()
		if err != nil {
			return nil, err
		}
		length, err := r.c.uint32()
		if err != nil {
			return nil, err
		}
		offset, err := r.c.uint32()
		if err != nil {
			return nil, err
		}
		hdrs[i] = hdr{id, length, offset}
	}
	base := start + 4
	opts := make([]FedAuthInfoOpt, 0, len(hdrs))
	for _, h := range hdrs {
		s := base + int(h.offset)
		e := s + int(h.length)
		if s < 0 || e > len(r.c.buf) || e < s {
			return nil, tdserrors.NewProtocolError("fedauthinfo option out of bounds")
		}
		opts = append(opts, FedAuthInfoOpt{ID: h.id, Value: ucs2ToString(r.c.buf[s:e])})
	}
	r.c.pos = start + int(tokenLen)
	return opts, nil
}

// skipUnhandled discards a token this client parses structurally but has
// no use for. ORDER is a USHORT byte length followed by column-index
// USHORTs; everything else here is USHORT-length-prefixed too.
func (r *TokenReader) skipUnhandled(tok TokenType) error {
	if tok == TokenOrder {
		length, err := r.c.uint16()
		if err != nil {
			return err
		}
		return r.c.skip(int(length))
	}
	length, err := r.c.uint16()
	if err != nil {
		return err
	}
	return r.c.skip(int(length))
}

// readBVarChar reads a 1-byte character count followed by that many UCS2
// characters, per MS-TDS's B_VARCHAR rule used throughout the token
// stream for server/procedure/param names.
func (r *TokenReader) readBVarChar() (string, error) {
	n, err := r.c.byte()
	if err != nil {
		return "", err
	}
	b, err := r.c.bytes(int(n) * 2)
	if err != nil {
		return "", err
	}
	return ucs2ToString(b), nil
}

// readUSVarChar reads a 2-byte character count followed by that many UCS2
// characters, per MS-TDS's US_VARCHAR rule used for ERROR/INFO messages.
func (r *TokenReader) readUSVarChar() (string, error) {
	n, err := r.c.uint16()
	if err != nil {
		return "", err
	}
	b, err := r.c.bytes(int(n) * 2)
	if err != nil {
		return "", err
	}
	return ucs2ToString(b), nil
}
