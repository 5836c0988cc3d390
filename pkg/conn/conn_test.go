package conn

import (
	"net"
	"testing"
	"time"

	"github.com/ha1tch/mssqlext/pkg/tds"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StatePrelogin, "prelogin"},
		{StateAuthenticating, "authenticating"},
		{StateIdle, "idle"},
		{StateExecuting, "executing"},
		{StateStreaming, "streaming"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func newTestConn(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { server.Close() })
	c := &Conn{
		netConn:    client,
		packetSize: tds.DefaultPacketSize,
		state:      StateIdle,
		database:   "master",
		createdAt:  time.Now(),
		lastUsed:   time.Now(),
	}
	return c, server
}

func TestApplyEnvChange_Database(t *testing.T) {
	c, _ := newTestConn(t)
	c.ApplyEnvChange(tds.EnvChange{Type: tds.EnvDatabase, NewValue: "Reporting"})
	if c.Database() != "Reporting" {
		t.Errorf("Database() = %q, want Reporting", c.Database())
	}
}

func TestApplyEnvChange_PacketSize(t *testing.T) {
	c, _ := newTestConn(t)
	c.ApplyEnvChange(tds.EnvChange{Type: tds.EnvPacketSize, NewValue: "4096"})
	if c.packetSize != 4096 {
		t.Errorf("packetSize = %d, want 4096", c.packetSize)
	}
}

func TestApplyEnvChange_BeginAndCommitTran(t *testing.T) {
	c, _ := newTestConn(t)
	descriptor := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	c.ApplyEnvChange(tds.EnvChange{Type: tds.EnvBeginTran, NewCollation: descriptor})
	if len(c.TxDescriptor()) != 8 {
		t.Fatalf("TxDescriptor length = %d, want 8", len(c.TxDescriptor()))
	}

	c.ApplyEnvChange(tds.EnvChange{Type: tds.EnvCommitTran})
	if c.TxDescriptor() != nil {
		t.Error("expected TxDescriptor to be cleared after commit")
	}
}

func TestMarkIdle(t *testing.T) {
	c, _ := newTestConn(t)
	c.state = StateStreaming
	c.MarkIdle()
	if c.State() != StateIdle {
		t.Errorf("State() = %v, want idle", c.State())
	}
}

func TestMarkPendingReset(t *testing.T) {
	c, _ := newTestConn(t)
	c.MarkPendingReset()
	if !c.pendingReset {
		t.Error("expected pendingReset to be set")
	}
}

func TestIsSocketAlive_Timeout(t *testing.T) {
	c, server := newTestConn(t)
	defer server.Close()
	if !c.IsSocketAlive() {
		t.Error("expected a live socket with nothing written to report alive (read timeout)")
	}
}

func TestIsSocketAlive_Closed(t *testing.T) {
	c, server := newTestConn(t)
	server.Close()
	c.netConn.Close()
	if c.IsSocketAlive() {
		t.Error("expected a closed socket to report dead")
	}
}
