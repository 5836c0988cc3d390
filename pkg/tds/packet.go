// Package tds implements the client side of the TDS (Tabular Data Stream)
// wire protocol used by SQL Server and Azure SQL: packet framing, PRELOGIN,
// LOGIN7, the token stream, and the value codecs. Unlike a TDS server, this
// package originates PRELOGIN/LOGIN7/SQL_BATCH/BULK_LOAD/ATTENTION messages
// and parses TABULAR_RESULT token streams coming back.
package tds

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PacketType identifies the type of TDS packet.
type PacketType uint8

const (
	PacketSQLBatch      PacketType = 1
	PacketRPCRequest    PacketType = 3
	PacketTabularResult PacketType = 4
	PacketAttention     PacketType = 6
	PacketBulkLoad      PacketType = 7
	PacketFedAuthToken  PacketType = 8
	PacketTransMgrReq   PacketType = 14
	PacketLogin7        PacketType = 16
	PacketSSPIMessage   PacketType = 17
	PacketPrelogin      PacketType = 18
)

func (p PacketType) String() string {
	switch p {
	case PacketSQLBatch:
		return "SQL_BATCH"
	case PacketRPCRequest:
		return "RPC_REQUEST"
	case PacketTabularResult:
		return "TABULAR_RESULT"
	case PacketAttention:
		return "ATTENTION"
	case PacketBulkLoad:
		return "BULK_LOAD"
	case PacketFedAuthToken:
		return "FEDAUTH_TOKEN"
	case PacketTransMgrReq:
		return "TRANS_MGR_REQ"
	case PacketLogin7:
		return "LOGIN7"
	case PacketSSPIMessage:
		return "SSPI_MESSAGE"
	case PacketPrelogin:
		return "PRELOGIN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", p)
	}
}

// PacketStatus indicates the status of a TDS packet.
type PacketStatus uint8

const (
	StatusNormal                  PacketStatus = 0x00
	StatusEOM                     PacketStatus = 0x01
	StatusIgnore                  PacketStatus = 0x02
	StatusResetConnection         PacketStatus = 0x08
	StatusResetConnectionSkipTran PacketStatus = 0x10
)

const (
	HeaderSize        = 8
	DefaultPacketSize = 4096
	MaxPacketSize     = 32767
	MinPacketSize     = 512
)

// Header represents a TDS packet header.
type Header struct {
	Type     PacketType
	Status   PacketStatus
	Length   uint16 // total packet length including header
	SPID     uint16
	PacketID uint8
	Window   uint8
}

// ReadHeader reads a TDS packet header from the given reader.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	return Header{
		Type:     PacketType(buf[0]),
		Status:   PacketStatus(buf[1]),
		Length:   binary.BigEndian.Uint16(buf[2:4]),
		SPID:     binary.BigEndian.Uint16(buf[4:6]),
		PacketID: buf[6],
		Window:   buf[7],
	}, nil
}

// Write writes the header to the given writer.
func (h Header) Write(w io.Writer) error {
	var buf [HeaderSize]byte
	buf[0] = byte(h.Type)
	buf[1] = byte(h.Status)
	binary.BigEndian.PutUint16(buf[2:4], h.Length)
	binary.BigEndian.PutUint16(buf[4:6], h.SPID)
	buf[6] = h.PacketID
	buf[7] = h.Window
	_, err := w.Write(buf[:])
	return err
}

// Marshal returns the header's wire encoding.
func (h Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(h.Type)
	buf[1] = byte(h.Status)
	binary.BigEndian.PutUint16(buf[2:4], h.Length)
	binary.BigEndian.PutUint16(buf[4:6], h.SPID)
	buf[6] = h.PacketID
	buf[7] = h.Window
	return buf
}

// PayloadLength returns the length of the packet payload, excluding header.
func (h Header) PayloadLength() int {
	if h.Length <= HeaderSize {
		return 0
	}
	return int(h.Length) - HeaderSize
}

// IsLastPacket returns true if this is the last packet of the message.
func (h Header) IsLastPacket() bool {
	return h.Status&StatusEOM != 0
}

// MessageWriter splits an outbound message into packets of at most
// packetSize bytes (including the 8-byte header) and writes them to w,
// setting StatusEOM on the final packet.
type MessageWriter struct {
	w          io.Writer
	packetSize int
	packetID   uint8
}

// NewMessageWriter returns a MessageWriter that frames payloads at
// packetSize bytes per wire packet. packetSize is clamped to
// [MinPacketSize, MaxPacketSize].
func NewMessageWriter(w io.Writer, packetSize int) *MessageWriter {
	if packetSize < MinPacketSize {
		packetSize = MinPacketSize
	}
	if packetSize > MaxPacketSize {
		packetSize = MaxPacketSize
	}
	return &MessageWriter{w: w, packetSize: packetSize, packetID: 1}
}

// WriteMessage frames and writes payload as one or more packets of the
// given packet type.
func (mw *MessageWriter) WriteMessage(typ PacketType, payload []byte) error {
	return mw.WriteMessageWithStatus(typ, payload, StatusNormal)
}

// WriteMessageWithStatus is WriteMessage but ORs extraStatus into the
// first packet's status byte, e.g. StatusResetConnection on the first
// outbound message after a connection is returned to the pool.
func (mw *MessageWriter) WriteMessageWithStatus(typ PacketType, payload []byte, extraStatus PacketStatus) error {
	chunkSize := mw.packetSize - HeaderSize
	if chunkSize <= 0 {
		return fmt.Errorf("tds: packet size %d too small for header", mw.packetSize)
	}

	if len(payload) == 0 {
		hdr := Header{Type: typ, Status: StatusEOM | extraStatus, Length: HeaderSize, PacketID: mw.nextID()}
		return mw.writePacket(hdr, nil)
	}

	first := true
	for off := 0; off < len(payload); off += chunkSize {
		end := off + chunkSize
		last := end >= len(payload)
		if last {
			end = len(payload)
		}
		status := StatusNormal
		if last {
			status = StatusEOM
		}
		if first {
			status |= extraStatus
			first = false
		}
		hdr := Header{
			Type:     typ,
			Status:   status,
			Length:   uint16(HeaderSize + (end - off)),
			PacketID: mw.nextID(),
		}
		if err := mw.writePacket(hdr, payload[off:end]); err != nil {
			return err
		}
	}
	return nil
}

func (mw *MessageWriter) nextID() uint8 {
	id := mw.packetID
	mw.packetID++
	if mw.packetID == 0 {
		mw.packetID = 1
	}
	return id
}

func (mw *MessageWriter) writePacket(hdr Header, payload []byte) error {
	if err := hdr.Write(mw.w); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := mw.w.Write(payload)
	return err
}

// MessageReader reassembles a TDS message (possibly split across several
// packets) from an io.Reader, stripping headers and concatenating payloads
// until a packet with StatusEOM set arrives.
type MessageReader struct {
	r io.Reader
}

// NewMessageReader returns a MessageReader over r.
func NewMessageReader(r io.Reader) *MessageReader {
	return &MessageReader{r: r}
}

// ReadMessage reads one full TDS message and returns its type and
// concatenated payload.
func (mr *MessageReader) ReadMessage() (PacketType, []byte, error) {
	var payload []byte
	var typ PacketType
	first := true

	for {
		hdr, err := ReadHeader(mr.r)
		if err != nil {
			return 0, nil, err
		}
		if first {
			typ = hdr.Type
			first = false
		}
		n := hdr.PayloadLength()
		if n > 0 {
			buf := make([]byte, n)
			if _, err := io.ReadFull(mr.r, buf); err != nil {
				return 0, nil, err
			}
			payload = append(payload, buf...)
		}
		if hdr.IsLastPacket() {
			break
		}
	}
	return typ, payload, nil
}
