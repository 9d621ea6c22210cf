// Copyright 2025 NexusGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package audit optionally persists the security-checkpoint log to
// Postgres. Grounded on orchestrator/audit_logger.go's channel-fed
// async writer over lib/pq, trimmed to this gateway's narrower entry
// shape and made genuinely optional: with no database URL configured,
// or if the database is unreachable at startup, every call is a no-op.
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"

	"github.com/nexusgate/gateway/internal/logger"
)

// Entry is one completed query's audit record.
type Entry struct {
	RequestID    string
	Timestamp    time.Time
	UserEmail    string
	Query        string
	Decision     string // "allowed", "blocked", "declined", "error"
	AgentUsed    string
	Provider     string
	TotalTokens  int
	ErrorMessage string
	Checkpoints  json.RawMessage
}

// Logger persists entries asynchronously; Close drains the queue.
type Logger struct {
	db    *sql.DB
	queue chan Entry
	log   *logger.Logger
	done  chan struct{}
}

// New opens databaseURL if non-empty and starts the async writer. An
// empty databaseURL, or a failed connection, yields a no-op logger —
// audit persistence is an enrichment, not a hard dependency.
func New(databaseURL string) *Logger {
	l := &Logger{
		queue: make(chan Entry, 1000),
		log:   logger.New("audit-logger"),
		done:  make(chan struct{}),
	}

	if databaseURL == "" {
		close(l.done)
		return l
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		l.log.ErrorWithErr("", "failed to open audit database, disabling persistence", err, nil)
		close(l.done)
		return l
	}

	return newWithDB(l, db)
}

// newWithDB wires an already-open *sql.DB into l, used by New for the
// postgres driver and by tests to inject a sqlmock-backed DB.
func newWithDB(l *Logger, db *sql.DB) *Logger {
	if err := createAuditTable(db); err != nil {
		l.log.ErrorWithErr("", "failed to create audit table, disabling persistence", err, nil)
		close(l.done)
		return l
	}

	l.db = db
	go l.processQueue()
	return l
}

func createAuditTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS gateway_audit_log (
			request_id     TEXT PRIMARY KEY,
			ts             TIMESTAMPTZ NOT NULL,
			user_email     TEXT,
			query_hash     TEXT,
			decision       TEXT,
			agent_used     TEXT,
			provider       TEXT,
			total_tokens   INTEGER,
			error_message  TEXT,
			checkpoints    JSONB
		)
	`)
	return err
}

// Log enqueues an entry for asynchronous persistence. It never blocks
// the caller on database I/O.
func (l *Logger) Log(e Entry) {
	if l.db == nil {
		return
	}
	select {
	case l.queue <- e:
	default:
		l.log.Warn("", "audit queue full, dropping entry", map[string]interface{}{"request_id": e.RequestID})
	}
}

func (l *Logger) processQueue() {
	for e := range l.queue {
		l.write(e)
	}
	close(l.done)
}

func (l *Logger) write(e Entry) {
	_, err := l.db.ExecContext(context.Background(), `
		INSERT INTO gateway_audit_log (request_id, ts, user_email, query_hash, decision, agent_used, provider, total_tokens, error_message, checkpoints)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (request_id) DO NOTHING
	`, e.RequestID, e.Timestamp, e.UserEmail, hashQuery(e.Query), e.Decision, e.AgentUsed, e.Provider, e.TotalTokens, e.ErrorMessage, e.Checkpoints)
	if err != nil {
		l.log.ErrorWithErr(e.RequestID, "failed to persist audit entry", err, nil)
	}
}

// Close stops accepting new entries and waits for the queue to drain.
func (l *Logger) Close() {
	if l.db != nil {
		close(l.queue)
		<-l.done
		l.db.Close()
	}
}

func hashQuery(q string) string {
	sum := sha256.Sum256([]byte(q))
	return hex.EncodeToString(sum[:])
}
