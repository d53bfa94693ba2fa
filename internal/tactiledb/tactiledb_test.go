package tactiledb

import (
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
)

func TestDummyConnection(t *testing.T) {
	db := DummyDBConnection()
	assert.False(t, db.IsConnected())
	assert.Error(t, db.Err())

	// All calls on an inert connection are no-ops and must not block.
	msg := &RunMessage{ID: NewID(), Kind: "stroke", Start: time.Now()}
	db.RecordRun(msg)
	db.FinishRun(msg)
	db.Disconnect()
	assert.True(t, msg.End.IsZero(), "FinishRun on an inert connection should leave the message alone")

	var nilconn *Connection
	assert.False(t, nilconn.IsConnected())
	assert.Error(t, nilconn.Err())
}

func TestNewID(t *testing.T) {
	a := NewID()
	b := NewID()
	assert.NotEqual(t, a, b)
	for _, id := range []string{a, b} {
		_, err := ulid.Parse(id)
		assert.NoError(t, err, "NewID returned %q", id)
	}
}

func TestUnreachableServer(t *testing.T) {
	abort := make(chan struct{})
	defer close(abort)
	activity := &ActivityMessage{ID: NewID(), Start: time.Now()}
	// Nothing listens on port 1, so the connection must come back inert.
	db := StartDBConnection("127.0.0.1:1", activity, abort)
	assert.False(t, db.IsConnected())
	assert.Error(t, db.Err())
	db.RecordRun(&RunMessage{ID: NewID()})
}

func TestPingServer(t *testing.T) {
	addr := os.Getenv("TACTILE_DB_ADDR")
	if addr == "" {
		t.Skip("TACTILE_DB_ADDR not set; skipping live ClickHouse test")
	}
	version, err := PingServer(addr)
	if err != nil {
		t.Fatalf("PingServer(%q) failed: %v", addr, err)
	}
	t.Logf("ClickHouse server version %s", version)
}
