package result

import (
	"context"
	"encoding/binary"
	"io"
	"testing"
	"unicode/utf16"

	"github.com/ha1tch/mssqlext/pkg/conn"
	"github.com/ha1tch/mssqlext/pkg/tds"
)

// Fixture building targets the one fixed-length, no-TYPE_INFO column type
// (TypeInt4) so a row's payload is just its 4 raw bytes - no nullability
// byte, no collation, no length prefix to get wrong.

func ucs2(s string) []byte {
	u16 := utf16.Encode([]rune(s))
	b := make([]byte, len(u16)*2)
	for i, u := range u16 {
		binary.LittleEndian.PutUint16(b[i*2:], u)
	}
	return b
}

func appendColMetadata(buf []byte, names ...string) []byte {
	buf = append(buf, byte(tds.TokenColMetadata))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(names)))
	for _, n := range names {
		buf = append(buf, byte(tds.TypeInt4))
		nb := ucs2(n)
		buf = append(buf, byte(len(nb)/2))
		buf = append(buf, nb...)
	}
	return buf
}

func appendRow(buf []byte, vals ...int32) []byte {
	buf = append(buf, byte(tds.TokenRow))
	for _, v := range vals {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
	}
	return buf
}

func appendDone(buf []byte, status uint16, rowCount uint64) []byte {
	buf = append(buf, byte(tds.TokenDone))
	buf = binary.LittleEndian.AppendUint16(buf, status)
	buf = binary.LittleEndian.AppendUint16(buf, 0) // curcmd
	buf = binary.LittleEndian.AppendUint64(buf, rowCount)
	return buf
}

func appendError(buf []byte, number int32, msg string) []byte {
	msgb := ucs2(msg)
	body := []byte{}
	body = binary.LittleEndian.AppendUint32(body, uint32(number))
	body = append(body, 0, 0) // state, class
	body = binary.LittleEndian.AppendUint16(body, uint16(len(msgb)/2))
	body = append(body, msgb...)
	body = append(body, 0) // server (B_VARCHAR len 0)
	body = append(body, 0) // proc (B_VARCHAR len 0)
	body = binary.LittleEndian.AppendUint32(body, 0) // lineno

	buf = append(buf, byte(tds.TokenError))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(body)))
	buf = append(buf, body...)
	return buf
}

func TestScan_SingleResultSet(t *testing.T) {
	var buf []byte
	buf = appendColMetadata(buf, "ID", "Total")
	buf = appendRow(buf, 1, 100)
	buf = appendRow(buf, 2, 200)
	buf = appendDone(buf, tds.DoneFinal|tds.DoneCount, 2)

	c := &conn.Conn{}
	tr := tds.NewTokenReader(buf)

	res, err := Scan(c, tr)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Columns()) != 2 {
		t.Fatalf("len(Columns()) = %d, want 2", len(res.Columns()))
	}

	chunk, err := res.NextChunk(context.Background())
	if err != nil {
		t.Fatalf("NextChunk: %v", err)
	}
	if chunk.RowCount != 2 {
		t.Fatalf("RowCount = %d, want 2", chunk.RowCount)
	}
	if chunk.Values[0][0].(int32) != 1 || chunk.Values[0][1].(int32) != 2 {
		t.Errorf("column 0 = %v, want [1 2]", chunk.Values[0])
	}
	if chunk.Values[1][0].(int32) != 100 || chunk.Values[1][1].(int32) != 200 {
		t.Errorf("column 1 = %v, want [100 200]", chunk.Values[1])
	}

	if _, err := res.NextChunk(context.Background()); err != io.EOF {
		t.Errorf("second NextChunk error = %v, want io.EOF", err)
	}
	if c.State() != conn.StateIdle {
		t.Errorf("connection state = %v, want Idle after a final DONE", c.State())
	}
}

func TestScan_SkipsDDLBeforeResultSet(t *testing.T) {
	var buf []byte
	buf = appendDone(buf, tds.DoneMore, 0) // e.g. a preceding CREATE TABLE
	buf = appendColMetadata(buf, "X")
	buf = appendRow(buf, 42)
	buf = appendDone(buf, tds.DoneFinal, 1)

	res, err := Scan(&conn.Conn{}, tds.NewTokenReader(buf))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Columns()) != 1 {
		t.Fatalf("expected the DDL statement's DONE to be skipped silently, got %d columns", len(res.Columns()))
	}
}

func TestScan_ErrorDuringScanIsSurfaced(t *testing.T) {
	var buf []byte
	buf = appendError(buf, 547, "constraint violation")
	buf = appendColMetadata(buf, "X")

	_, err := Scan(&conn.Conn{}, tds.NewTokenReader(buf))
	if err == nil {
		t.Fatal("expected the ERROR token to surface as an error")
	}
}

func TestScan_NoColMetadataAtAll(t *testing.T) {
	var buf []byte
	buf = appendDone(buf, tds.DoneFinal, 0)

	res, err := Scan(&conn.Conn{}, tds.NewTokenReader(buf))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Columns() != nil {
		t.Errorf("expected a nil column set for a batch with no result set, got %v", res.Columns())
	}
	if _, err := res.NextChunk(context.Background()); err != io.EOF {
		t.Errorf("NextChunk on an empty result = %v, want io.EOF", err)
	}
}

func TestNextChunk_RespectsChunkWidth(t *testing.T) {
	var buf []byte
	buf = appendColMetadata(buf, "X")
	for i := int32(0); i < 5; i++ {
		buf = appendRow(buf, i)
	}
	buf = appendDone(buf, tds.DoneFinal, 5)

	res, err := ScanWidth(&conn.Conn{}, tds.NewTokenReader(buf), 2)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	var total int
	for {
		chunk, err := res.NextChunk(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextChunk: %v", err)
		}
		if chunk.RowCount > 2 {
			t.Fatalf("chunk.RowCount = %d, want <= 2", chunk.RowCount)
		}
		total += chunk.RowCount
	}
	if total != 5 {
		t.Errorf("total rows = %d, want 5", total)
	}
}

func TestNextChunk_ErrorMidStream(t *testing.T) {
	var buf []byte
	buf = appendColMetadata(buf, "X")
	buf = appendRow(buf, 1)
	buf = appendError(buf, 547, "boom")

	res, err := Scan(&conn.Conn{}, tds.NewTokenReader(buf))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if _, err := res.NextChunk(context.Background()); err == nil {
		t.Error("expected a mid-stream ERROR token to surface as an error")
	}
}

func TestNextChunk_DrainsRemainderWhenMoreStatementsFollow(t *testing.T) {
	var buf []byte
	buf = appendColMetadata(buf, "X")
	buf = appendRow(buf, 1)
	buf = appendDone(buf, tds.DoneMore, 1) // more statements follow
	buf = appendDone(buf, tds.DoneFinal, 0)

	res, err := Scan(&conn.Conn{}, tds.NewTokenReader(buf))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	c := res.c

	chunk, err := res.NextChunk(context.Background())
	if err != nil {
		t.Fatalf("NextChunk: %v", err)
	}
	if chunk.RowCount != 1 {
		t.Fatalf("RowCount = %d, want 1", chunk.RowCount)
	}
	if c.State() != conn.StateIdle {
		t.Error("expected the connection to be Idle once the trailing statements drain")
	}
}

func TestNextChunk_ContextCanceled(t *testing.T) {
	var buf []byte
	buf = appendColMetadata(buf, "X")
	buf = appendRow(buf, 1)
	buf = appendDone(buf, tds.DoneFinal, 1)

	res, err := Scan(&conn.Conn{}, tds.NewTokenReader(buf))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := res.NextChunk(ctx); err == nil {
		t.Error("expected an error from a canceled context")
	}
}

func TestClose_DrainsUnreadTokens(t *testing.T) {
	var buf []byte
	buf = appendColMetadata(buf, "X")
	buf = appendRow(buf, 1)
	buf = appendRow(buf, 2)
	buf = appendDone(buf, tds.DoneFinal, 2)

	res, err := Scan(&conn.Conn{}, tds.NewTokenReader(buf))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if err := res.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if res.c.State() != conn.StateIdle {
		t.Error("expected Close to leave the connection Idle")
	}
	// Safe to call again.
	if err := res.Close(); err != nil {
		t.Errorf("second Close returned an error: %v", err)
	}
}
