// Package conn implements the client-side TDS connection: the
// Disconnected→Connecting→Prelogin→Authenticating→Idle↔Executing↔Streaming
// state machine, the TLS-inside-PRELOGIN-packets carrier, ATTENTION-based
// cancellation, and reset-on-release. It sits directly on top of
// pkg/tds's packet framer and token reader.
package conn

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ha1tch/mssqlext/pkg/config"
	tdserrors "github.com/ha1tch/mssqlext/pkg/errors"
	"github.com/ha1tch/mssqlext/pkg/log"
	"github.com/ha1tch/mssqlext/pkg/tds"
)

// State is a position in the connection's lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StatePrelogin
	StateAuthenticating
	StateIdle
	StateExecuting
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StatePrelogin:
		return "prelogin"
	case StateAuthenticating:
		return "authenticating"
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// maxRoutingHops bounds ENVCHANGE-routing reconnects during Authenticating.
const maxRoutingHops = 5

// cancelDrainTimeout bounds how long Cancel waits for the DONE(ATTN) that
// acknowledges an ATTENTION.
const cancelDrainTimeout = 5 * time.Second

// TokenCredential supplies a bearer token for federated authentication.
// pkg/auth's strategies all satisfy this.
type TokenCredential interface {
	Token(ctx context.Context) (accessToken string, expiresAt time.Time, err error)
}

// Conn is one client-side TDS connection.
type Conn struct {
	mu sync.Mutex

	cfg  config.Config
	host string
	port int

	netConn    net.Conn
	reader     *bufio.Reader
	writer     *bufio.Writer
	packetSize int

	state State

	database   string
	tdsVersion uint32
	spid       uint16

	pendingReset bool
	txDescriptor []byte // captured from ENVCHANGE BeginTx (type 8)

	createdAt time.Time
	lastUsed  time.Time

	logger *log.CategoryLogger
}

// Dial opens a TCP connection to addr, runs PRELOGIN, optionally upgrades
// to TLS, and runs LOGIN7 (password or federated, per cred). It follows
// ENVCHANGE routing redirects up to maxRoutingHops times.
func Dial(ctx context.Context, host string, port int, database, user, password string, cred TokenCredential, cfg config.Config) (*Conn, error) {
	for hop := 0; ; hop++ {
		if hop > maxRoutingHops {
			return nil, &tdserrors.AuthError{Reason: "routing exceeded 5 hops"}
		}
		c, newHost, newPort, err := dialOnce(ctx, host, port, database, user, password, cred, cfg)
		if err != nil {
			return nil, err
		}
		if c != nil {
			return c, nil
		}
		log.Default().Connection().Info("following routing redirect", "hop", hop+1, "target_host", newHost, "target_port", newPort)
		host, port = newHost, newPort
	}
}

// dialOnce performs a single connect attempt. It returns (conn, "", 0, nil)
// on success, or (nil, newHost, newPort, nil) when the server redirected
// via ENVCHANGE routing.
func dialOnce(ctx context.Context, host string, port int, database, user, password string, cred TokenCredential, cfg config.Config) (*Conn, string, int, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, "", 0, &tdserrors.ConnectionClosed{Reason: err.Error()}
	}

	c := &Conn{
		cfg:        cfg,
		host:       host,
		port:       port,
		netConn:    nc,
		reader:     bufio.NewReaderSize(nc, tds.MaxPacketSize),
		writer:     bufio.NewWriterSize(nc, tds.MaxPacketSize),
		packetSize: tds.DefaultPacketSize,
		state:      StateConnecting,
		database:   database,
		createdAt:  time.Now(),
		logger:     log.Default().Connection(),
	}
	c.state = StatePrelogin

	fedAuth := cred != nil
	preloginResp, err := c.doPrelogin(fedAuth)
	if err != nil {
		nc.Close()
		return nil, "", 0, err
	}

	if preloginResp.Encryption != tds.EncryptNotSup {
		if err := c.upgradeToTLS(); err != nil {
			nc.Close()
			return nil, "", 0, err
		}
	}

	c.state = StateAuthenticating

	var token string
	if fedAuth {
		t, _, err := cred.Token(ctx)
		if err != nil {
			nc.Close()
			return nil, "", 0, &tdserrors.AuthError{Reason: "token acquisition failed", Cause: err}
		}
		token = t
	}

	loginResult, err := c.doLogin7(user, password, database, fedAuth, token)
	if err != nil {
		nc.Close()
		return nil, "", 0, err
	}
	if loginResult.routeHost != "" {
		nc.Close()
		return nil, loginResult.routeHost, loginResult.routePort, nil
	}

	c.state = StateIdle
	c.lastUsed = time.Now()
	c.logger.Info("connection established", "host", host, "port", port, "tds_version", tds.VersionString(c.tdsVersion))
	return c, "", 0, nil
}

func (c *Conn) doPrelogin(fedAuth bool) (*tds.PreloginResponse, error) {
	req := &tds.PreloginRequest{
		Encryption:      c.encryptionOption(),
		ThreadID:        uint32(c.spid),
		MARS:            0,
		FedAuthRequired: fedAuth,
	}
	mw := tds.NewMessageWriter(c.writer, tds.DefaultPacketSize)
	if err := mw.WriteMessage(tds.PacketPrelogin, req.Encode()); err != nil {
		return nil, tdserrors.NewProtocolError("writing prelogin: %v", err)
	}
	if err := c.writer.Flush(); err != nil {
		return nil, tdserrors.NewProtocolError("flushing prelogin: %v", err)
	}

	mr := tds.NewMessageReader(c.reader)
	typ, payload, err := mr.ReadMessage()
	if err != nil {
		return nil, &tdserrors.ConnectionClosed{Reason: err.Error()}
	}
	if typ != tds.PacketTabularResult {
		return nil, tdserrors.NewProtocolError("expected prelogin reply, got %s", typ)
	}
	resp, err := tds.ParsePreloginResponse(payload)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Conn) encryptionOption() uint8 {
	if c.cfg.Encrypt {
		return tds.EncryptOn
	}
	return tds.EncryptOff
}

// upgradeToTLS performs a TLS client handshake carried inside PRELOGIN
// packets, matching the server-side wrapped mode MS-TDS's PRELOGIN stage
// auto-detects: every handshake record this client writes goes out as a
// PRELOGIN packet; every record is read back the same way. Once the
// handshake completes, subsequent traffic is raw TLS on the socket.
func (c *Conn) upgradeToTLS() error {
	hc := &wrappedHandshakeConn{c: c}
	tlsCfg := &tls.Config{
		InsecureSkipVerify: c.cfg.TrustServerCert,
		ServerName:         c.host,
	}
	tlsConn := tls.Client(hc, tlsCfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return tdserrors.NewProtocolError("tls handshake failed: %v", err)
	}
	c.mu.Lock()
	c.netConn = tlsConn
	c.reader = bufio.NewReaderSize(tlsConn, tds.MaxPacketSize)
	c.writer = bufio.NewWriterSize(tlsConn, tds.MaxPacketSize)
	c.mu.Unlock()
	return nil
}

// wrappedHandshakeConn implements net.Conn over a Conn's PRELOGIN-wrapped
// byte stream, for the duration of the TLS handshake only.
type wrappedHandshakeConn struct {
	c       *Conn
	readBuf []byte
	readPos int
}

func (h *wrappedHandshakeConn) Read(b []byte) (int, error) {
	if h.readPos >= len(h.readBuf) {
		mr := tds.NewMessageReader(h.c.reader)
		typ, payload, err := mr.ReadMessage()
		if err != nil {
			return 0, err
		}
		if typ != tds.PacketPrelogin {
			return 0, fmt.Errorf("tds: expected prelogin-wrapped TLS record, got %s", typ)
		}
		h.readBuf = payload
		h.readPos = 0
	}
	n := copy(b, h.readBuf[h.readPos:])
	h.readPos += n
	return n, nil
}

func (h *wrappedHandshakeConn) Write(b []byte) (int, error) {
	mw := tds.NewMessageWriter(h.c.writer, tds.DefaultPacketSize)
	if err := mw.WriteMessage(tds.PacketPrelogin, b); err != nil {
		return 0, err
	}
	if err := h.c.writer.Flush(); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (h *wrappedHandshakeConn) Close() error                       { return nil }
func (h *wrappedHandshakeConn) LocalAddr() net.Addr                { return h.c.netConn.LocalAddr() }
func (h *wrappedHandshakeConn) RemoteAddr() net.Addr               { return h.c.netConn.RemoteAddr() }
func (h *wrappedHandshakeConn) SetDeadline(t time.Time) error      { return h.c.netConn.SetDeadline(t) }
func (h *wrappedHandshakeConn) SetReadDeadline(t time.Time) error  { return h.c.netConn.SetReadDeadline(t) }
func (h *wrappedHandshakeConn) SetWriteDeadline(t time.Time) error { return h.c.netConn.SetWriteDeadline(t) }

type loginResult struct {
	routeHost string
	routePort int
}

func (c *Conn) doLogin7(user, password, database string, fedAuth bool, token string) (loginResult, error) {
	req := &tds.Login7Request{
		TDSVersion:       tds.VerTDS74,
		PacketSize:       uint32(c.packetSize),
		HostName:         hostnameOrDefault(),
		UserName:         user,
		Password:         password,
		AppName:          "mssqlext",
		ServerName:       c.host,
		Database:         database,
		Language:         "us_english",
		FedAuthRequested: fedAuth,
	}
	mw := tds.NewMessageWriter(c.writer, c.packetSize)
	if err := mw.WriteMessage(tds.PacketLogin7, req.Encode()); err != nil {
		return loginResult{}, tdserrors.NewProtocolError("writing login7: %v", err)
	}
	if err := c.writer.Flush(); err != nil {
		return loginResult{}, tdserrors.NewProtocolError("flushing login7: %v", err)
	}

	if fedAuth {
		if err := c.sendFedAuthToken(token); err != nil {
			return loginResult{}, err
		}
	}

	return c.readLoginResponse()
}

// sendFedAuthToken sends the access token as its own FEDAUTH_TOKEN
// message: a u32 byte length followed by the UTF-16LE token text.
func (c *Conn) sendFedAuthToken(token string) error {
	utf16 := stringToUTF16LE(token)
	buf := make([]byte, 4+len(utf16))
	putUint32LE(buf, uint32(len(utf16)))
	copy(buf[4:], utf16)

	mw := tds.NewMessageWriter(c.writer, c.packetSize)
	if err := mw.WriteMessage(tds.PacketFedAuthToken, buf); err != nil {
		return tdserrors.NewProtocolError("writing fedauth token: %v", err)
	}
	return c.writer.Flush()
}

func (c *Conn) readLoginResponse() (loginResult, error) {
	mr := tds.NewMessageReader(c.reader)
	typ, payload, err := mr.ReadMessage()
	if err != nil {
		return loginResult{}, &tdserrors.ConnectionClosed{Reason: err.Error()}
	}
	if typ != tds.PacketTabularResult {
		return loginResult{}, tdserrors.NewProtocolError("expected login response, got %s", typ)
	}

	tr := tds.NewTokenReader(payload)
	var result loginResult
	for {
		tok, v, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return loginResult{}, err
		}
		switch tok {
		case tds.TokenLoginAck:
			ack := v.(tds.LoginAck)
			c.tdsVersion = ack.TDSVersion
		case tds.TokenEnvChange:
			e := v.(tds.EnvChange)
			c.applyEnvChange(e)
			if e.Type == tds.EnvRouting && result.routeHost == "" {
				h, p, perr := parseRoutingTarget(e.NewValue)
				if perr == nil {
					result.routeHost, result.routePort = h, p
				}
			}
		case tds.TokenError:
			se := v.(*tdserrors.ServerError)
			return loginResult{}, &tdserrors.AuthError{Reason: se.Message}
		case tds.TokenDone:
			d := v.(tds.DoneToken)
			if d.HasError() {
				return loginResult{}, &tdserrors.AuthError{Reason: "login rejected"}
			}
		}
	}
	if result.routeHost == "" && c.tdsVersion == 0 {
		return loginResult{}, &tdserrors.AuthError{Reason: "no LOGINACK received"}
	}
	return result, nil
}

// ApplyEnvChange applies an ENVCHANGE token decoded by a caller that is
// driving a *tds.TokenReader directly (pkg/result's chunked scan, which
// needs to interleave envchange handling with row collection rather than
// go through ExecuteBatch/Query's own loops).
func (c *Conn) ApplyEnvChange(e tds.EnvChange) {
	c.applyEnvChange(e)
}

// MarkIdle transitions the connection back to Idle and stamps LastUsed,
// for callers that drive their own token loop to completion (pkg/result).
func (c *Conn) MarkIdle() {
	c.mu.Lock()
	c.state = StateIdle
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

func (c *Conn) applyEnvChange(e tds.EnvChange) {
	switch e.Type {
	case tds.EnvDatabase:
		c.database = e.NewValue
	case tds.EnvPacketSize:
		var n int
		fmt.Sscanf(e.NewValue, "%d", &n)
		if n > 0 {
			c.packetSize = n
		}
	case tds.EnvBeginTran:
		c.txDescriptor = append([]byte(nil), e.NewCollation...)
	case tds.EnvCommitTran, tds.EnvRollbackTran:
		c.txDescriptor = nil
	}
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Database returns the currently selected database.
func (c *Conn) Database() string { return c.database }

// TxDescriptor returns the 8-byte transaction descriptor captured from the
// most recent ENVCHANGE BeginTx, or nil if no transaction is open.
func (c *Conn) TxDescriptor() []byte { return c.txDescriptor }

// CreatedAt and LastUsed support the pool's idle-timeout/validation logic.
func (c *Conn) CreatedAt() time.Time { return c.createdAt }
func (c *Conn) LastUsed() time.Time  { return c.lastUsed }

// MarkPendingReset sets the reset-on-release flag; the next outbound
// message will carry RESET_CONNECTION, causing the server to drop temp
// tables, session variables, and SET options.
func (c *Conn) MarkPendingReset() {
	c.mu.Lock()
	c.pendingReset = true
	c.mu.Unlock()
}

// IsSocketAlive performs a cheap liveness check by attempting a zero-
// deadline read: a timeout means the peer is silent but present, while EOF
// or a connection-reset error means the socket is dead. Used by the pool's
// fast validation tier for connections idle less than a minute, avoiding
// the cost of a round-trip ping.
func (c *Conn) IsSocketAlive() bool {
	c.mu.Lock()
	nc := c.netConn
	c.mu.Unlock()

	if err := nc.SetReadDeadline(time.Now()); err != nil {
		return false
	}
	defer nc.SetReadDeadline(time.Time{})

	one := make([]byte, 1)
	_, err := nc.Read(one)
	if err == nil {
		return true // unexpected data waiting; treat as alive, next use will surface it
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	return false
}

// Close closes the underlying socket and marks the connection disconnected.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	return c.netConn.Close()
}

// ExecuteBatch sends sql as a SQL_BATCH message and returns a TokenReader
// over the full response. The connection transitions Idle→Executing for
// the duration of the send, and the caller is expected to drive the
// returned reader to its DONE(FINAL) before treating the connection as
// Idle again (see DrainToIdle).
func (c *Conn) ExecuteBatch(ctx context.Context, sql string) (*tds.TokenReader, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil, tdserrors.NewProtocolError("ExecuteBatch called while connection is %s", c.state)
	}
	c.state = StateExecuting
	c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.netConn.SetWriteDeadline(deadline)
		defer c.netConn.SetWriteDeadline(time.Time{})
	}

	payload := stringToUTF16LE(sql)
	status := tds.PacketStatus(0)
	c.mu.Lock()
	if c.pendingReset {
		status |= tds.StatusResetConnection
		c.pendingReset = false
	}
	c.mu.Unlock()

	mw := tds.NewMessageWriter(c.writer, c.packetSize)
	if err := mw.WriteMessageWithStatus(tds.PacketSQLBatch, payload, status); err != nil {
		return nil, tdserrors.NewProtocolError("writing sql batch: %v", err)
	}
	if err := c.writer.Flush(); err != nil {
		return nil, tdserrors.NewProtocolError("flushing sql batch: %v", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.netConn.SetReadDeadline(deadline)
	}
	mr := tds.NewMessageReader(c.reader)
	typ, respPayload, err := mr.ReadMessage()
	c.netConn.SetReadDeadline(time.Time{})
	if err != nil {
		c.setDisconnected()
		return nil, &tdserrors.ConnectionClosed{Reason: err.Error()}
	}
	if typ != tds.PacketTabularResult {
		c.setDisconnected()
		return nil, tdserrors.NewProtocolError("expected tabular result, got %s", typ)
	}

	c.mu.Lock()
	c.state = StateStreaming
	c.mu.Unlock()
	return tds.NewTokenReader(respPayload), nil
}

// ExecuteBulk sends payload (COLMETADATA, ROW and DONE tokens assembled by
// pkg/bulk, which issues the INSERT BULK statement itself beforehand as a
// separate batch) as a BULK_LOAD message and drains the response to a final DONE. Any failure - write,
// read, or a server ERROR - closes the connection outright rather than
// merely transitioning it, since a partially-sent bulk stream can leave
// the server session in a state no later statement on this connection
// could recover from.
func (c *Conn) ExecuteBulk(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return tdserrors.NewProtocolError("ExecuteBulk called while connection is %s", c.state)
	}
	c.state = StateExecuting
	c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.netConn.SetWriteDeadline(deadline)
		defer c.netConn.SetWriteDeadline(time.Time{})
	}

	mw := tds.NewMessageWriter(c.writer, c.packetSize)
	if err := mw.WriteMessage(tds.PacketBulkLoad, payload); err != nil {
		c.Close()
		return tdserrors.NewProtocolError("writing bulk load: %v", err)
	}
	if err := c.writer.Flush(); err != nil {
		c.Close()
		return tdserrors.NewProtocolError("flushing bulk load: %v", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.netConn.SetReadDeadline(deadline)
	}
	mr := tds.NewMessageReader(c.reader)
	typ, respPayload, err := mr.ReadMessage()
	c.netConn.SetReadDeadline(time.Time{})
	if err != nil {
		c.Close()
		return &tdserrors.ConnectionClosed{Reason: err.Error()}
	}
	if typ != tds.PacketTabularResult {
		c.Close()
		return tdserrors.NewProtocolError("expected tabular result, got %s", typ)
	}

	tr := tds.NewTokenReader(respPayload)
	if err := c.DrainToIdle(tr); err != nil {
		c.Close()
		return err
	}
	return nil
}

// DrainToIdle consumes every remaining token from tr, applying ENVCHANGEs
// and surfacing the first ERROR token as an error, and returns the
// connection to Idle once a final DONE is observed.
func (c *Conn) DrainToIdle(tr *tds.TokenReader) error {
	var firstErr error
	for {
		tok, v, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		switch tok {
		case tds.TokenEnvChange:
			c.applyEnvChange(v.(tds.EnvChange))
		case tds.TokenError:
			se := v.(*tdserrors.ServerError)
			if firstErr == nil {
				firstErr = se
			}
			if se.Class >= tds.SeverityFatal {
				c.setDisconnected()
			}
		case tds.TokenDone, tds.TokenDoneProc, tds.TokenDoneInProc:
			d := v.(tds.DoneToken)
			if !d.More() {
				c.mu.Lock()
				c.state = StateIdle
				c.lastUsed = time.Now()
				c.mu.Unlock()
			}
		}
	}
	return firstErr
}

// Query runs sql and collects every COLMETADATA/ROW pair into memory,
// applying ENVCHANGEs and surfacing the first ERROR token encountered. It
// is meant for small, single-result-set administrative queries (catalog
// discovery, SELECT 1 pings) where buffering the whole result is
// appropriate; streaming consumers should drive ExecuteBatch's
// TokenReader directly instead.
func (c *Conn) Query(ctx context.Context, sql string) ([]tds.Column, []tds.Row, error) {
	tr, err := c.ExecuteBatch(ctx, sql)
	if err != nil {
		return nil, nil, err
	}

	var cols []tds.Column
	var rows []tds.Row
	var firstErr error
	for {
		tok, v, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			c.setDisconnected()
			return nil, nil, err
		}
		switch tok {
		case tds.TokenColMetadata:
			cols = v.([]tds.Column)
		case tds.TokenRow, tds.TokenNBCRow:
			rows = append(rows, v.(tds.Row))
		case tds.TokenEnvChange:
			c.applyEnvChange(v.(tds.EnvChange))
		case tds.TokenError:
			se := v.(*tdserrors.ServerError)
			if firstErr == nil {
				firstErr = se
			}
			if se.Class >= tds.SeverityFatal {
				c.setDisconnected()
			}
		case tds.TokenDone, tds.TokenDoneProc, tds.TokenDoneInProc:
			d := v.(tds.DoneToken)
			if !d.More() {
				c.mu.Lock()
				c.state = StateIdle
				c.lastUsed = time.Now()
				c.mu.Unlock()
			}
		}
	}
	if firstErr != nil {
		return nil, nil, firstErr
	}
	return cols, rows, nil
}

// Cancel sends an ATTENTION packet and drains the response stream until a
// DONE with DONE_ATTN is observed, or cancelDrainTimeout elapses (in which
// case the connection is torn down rather than reused).
func (c *Conn) Cancel() error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != StateExecuting && state != StateStreaming {
		return nil
	}

	mw := tds.NewMessageWriter(c.writer, c.packetSize)
	if err := mw.WriteMessage(tds.PacketAttention, nil); err != nil {
		return err
	}
	if err := c.writer.Flush(); err != nil {
		return err
	}

	c.netConn.SetReadDeadline(time.Now().Add(cancelDrainTimeout))
	defer c.netConn.SetReadDeadline(time.Time{})

	mr := tds.NewMessageReader(c.reader)
	typ, payload, err := mr.ReadMessage()
	if err != nil {
		c.setDisconnected()
		return &tdserrors.ConnectionClosed{Reason: "cancellation drain: " + err.Error()}
	}
	if typ != tds.PacketTabularResult {
		c.setDisconnected()
		return tdserrors.NewProtocolError("expected cancellation response, got %s", typ)
	}

	tr := tds.NewTokenReader(payload)
	for {
		tok, v, err := tr.Next()
		if err == io.EOF {
			c.setDisconnected()
			return tdserrors.NewProtocolError("cancellation drain ended without DONE_ATTN")
		}
		if err != nil {
			c.setDisconnected()
			return err
		}
		if tok == tds.TokenDone || tok == tds.TokenDoneProc || tok == tds.TokenDoneInProc {
			d := v.(tds.DoneToken)
			if d.Status&tds.DoneAttn != 0 {
				c.mu.Lock()
				c.state = StateIdle
				c.lastUsed = time.Now()
				c.mu.Unlock()
				return nil
			}
		}
	}
}

func (c *Conn) setDisconnected() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
}

// Ping sends a SELECT 1 batch and drains it to its final DONE, used by the pool's
// validation tier for idle connections older than 60 seconds.
func (c *Conn) Ping(ctx context.Context) error {
	tr, err := c.ExecuteBatch(ctx, "SELECT 1")
	if err != nil {
		return err
	}
	return c.DrainToIdle(tr)
}
