// Package tactiledb records server activity and playback runs in a ClickHouse database.
package tactiledb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// DefaultAddr is the ClickHouse native-protocol address used when none is configured.
const DefaultAddr = "localhost:9000"

const databaseName = "tactile" // official SQL name of the database

const timeFormat = "2006-01-02 15:04:05.000000"

// Connection is a (possibly inert) connection to the run-history database.
// When the server could not be reached, every method is a no-op.
type Connection struct {
	conn          clickhouse.Conn
	err           error
	activityEntry *ActivityMessage
	runmsg        chan *RunMessage
	done          chan struct{}
	sync.WaitGroup
}

// IsConnected tells whether db can accept messages.
func (db *Connection) IsConnected() bool {
	return (db != nil) && (db.conn != nil) && (db.err == nil)
}

// Err returns the error that made the connection inert, if any.
func (db *Connection) Err() error {
	if db == nil {
		return fmt.Errorf("no database connection")
	}
	return db.err
}

// PingServer reports the version of the server at addr, or why it can't be reached.
func PingServer(addr string) (string, error) {
	db := createDBConnection(addr)
	if !db.IsConnected() {
		return "", fmt.Errorf("database is not connected: %w", db.err)
	}
	defer db.conn.Close()
	v, err := db.conn.ServerVersion()
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// StartDBConnection connects to the server at addr, logs the activity row,
// and handles run messages until abort is closed.
func StartDBConnection(addr string, activity *ActivityMessage, abort <-chan struct{}) *Connection {
	db := createDBConnection(addr)
	db.activityEntry = activity
	db.logActivity()
	if db.IsConnected() {
		go db.handleConnection(abort)
	}
	return db
}

// DummyDBConnection returns an inert connection, for tests.
func DummyDBConnection() *Connection {
	return &Connection{err: fmt.Errorf("dummy connection")}
}

func createDBConnection(addr string) *Connection {
	db := &Connection{}
	if addr == "" {
		addr = DefaultAddr
	}
	auth := clickhouse.Auth{
		Database: databaseName,
		Username: os.Getenv("TACTILE_DB_USER"),
		Password: os.Getenv("TACTILE_DB_PASSWORD"),
	}
	client := clickhouse.ClientInfo{
		Products: []struct {
			Name    string
			Version string
		}{
			{Name: "tactile", Version: "unknown"},
		},
	}
	opt := clickhouse.Options{
		Addr:        []string{addr},
		Auth:        auth,
		ClientInfo:  client,
		DialTimeout: 2 * time.Second,
	}
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.err = err
		return db
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err = conn.Ping(ctx); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			fmt.Printf("Exception [%d] %s \n%s\n", exception.Code, exception.Message, exception.StackTrace)
		}
		conn.Close()
		db.err = err
		return db
	}
	db.conn = conn
	db.Add(1)
	db.runmsg = make(chan *RunMessage)
	db.done = make(chan struct{})
	return db
}

func (db *Connection) logActivity() {
	if !db.IsConnected() || db.activityEntry == nil {
		return
	}
	ctx := context.Background()
	const nowait = false
	ae := db.activityEntry
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO serveractivity VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		ae.ID, ae.Hostname, ae.Githash, ae.Version,
		ae.GoVersion, ae.CPUs, ae.Start.Format(timeFormat), ae.End.Format(timeFormat),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into serveractivity ", err)
		db.err = err
	}
}

func (db *Connection) handleConnection(abort <-chan struct{}) {
	defer db.Done()
	defer close(db.done)
	for {
		select {
		case <-abort:
			db.Disconnect()
			return
		case rmsg := <-db.runmsg:
			db.handleRunMessage(rmsg)
		}
	}
}

// Disconnect records the end of server activity.
func (db *Connection) Disconnect() {
	if db.IsConnected() && db.activityEntry != nil {
		db.activityEntry.End = time.Now()
		db.logActivity()
	}
}

// RecordRun stores the start of a playback run. It blocks until the message
// is accepted, so the run row exists before its FinishRun update.
func (db *Connection) RecordRun(msg *RunMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	select {
	case db.runmsg <- msg:
	case <-db.done:
	}
}

// FinishRun stamps the run's end time and stores it without waiting.
func (db *Connection) FinishRun(msg *RunMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	msg.End = time.Now()
	go func() {
		select {
		case db.runmsg <- msg:
		case <-db.done:
		}
	}()
}

func (db *Connection) handleRunMessage(m *RunMessage) {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	activityID := ""
	if db.activityEntry != nil {
		activityID = db.activityEntry.ID
	}
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO playbackruns VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.ID, activityID, m.Kind, m.Mode, m.Gain, m.NSteps, m.StepMs,
		m.Start.Format(timeFormat), m.End.Format(timeFormat), m.OK, m.State, m.Message,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into playbackruns ", err)
		db.err = err
	}
}
