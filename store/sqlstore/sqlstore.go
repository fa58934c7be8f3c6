// Package sqlstore persists accepted messages to a SQLite database. Writes
// go through a single writer goroutine so concurrent sessions never trip
// over SQLite's one-writer lock.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/atomic"

	"github.com/corvuslabs/magpie"
)

const schema = `
	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		mail_from       TEXT NOT NULL,
		body_type       TEXT NOT NULL,
		declared_size   INTEGER NOT NULL DEFAULT 0,
		utf8            BOOLEAN NOT NULL DEFAULT 0,
		auth_identity   TEXT NOT NULL DEFAULT '',
		received_at     INTEGER NOT NULL,
		client_hostname TEXT NOT NULL DEFAULT '',
		remote_addr     TEXT NOT NULL DEFAULT '',
		tls             BOOLEAN NOT NULL DEFAULT 0,
		data            BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS recipients (
		message_id TEXT NOT NULL,
		ordinal    INTEGER NOT NULL,
		rcpt_to    TEXT NOT NULL,
		PRIMARY KEY (message_id, ordinal),
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
	);
`

const insertMessageStmt = `
	INSERT INTO messages (
		id, mail_from, body_type, declared_size, utf8, auth_identity,
		received_at, client_hostname, remote_addr, tls, data
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

const insertRecipientStmt = `
	INSERT INTO recipients (message_id, ordinal, rcpt_to) VALUES ($1, $2, $3)
`

const countMessagesStmt = `
	SELECT COUNT(*) FROM messages
`

const selectRecipientsStmt = `
	SELECT rcpt_to FROM recipients WHERE message_id = $1 ORDER BY ordinal
`

// Store is a SQLite-backed message store.
type Store struct {
	db               *sql.DB
	writer           *writer
	insertMessage    *sql.Stmt
	insertRecipient  *sql.Stmt
	countMessages    *sql.Stmt
	selectRecipients *sql.Stmt
}

// Open opens (creating if needed) the database at filename.
func Open(filename string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+filename+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("db.Exec(schema): %w", err)
	}

	s := &Store{
		db:     db,
		writer: &writer{todo: make(chan writerTask)},
	}
	if s.insertMessage, err = db.Prepare(insertMessageStmt); err != nil {
		return nil, fmt.Errorf("db.Prepare(insertMessageStmt): %w", err)
	}
	if s.insertRecipient, err = db.Prepare(insertRecipientStmt); err != nil {
		return nil, fmt.Errorf("db.Prepare(insertRecipientStmt): %w", err)
	}
	if s.countMessages, err = db.Prepare(countMessagesStmt); err != nil {
		return nil, fmt.Errorf("db.Prepare(countMessagesStmt): %w", err)
	}
	if s.selectRecipients, err = db.Prepare(selectRecipientsStmt); err != nil {
		return nil, fmt.Errorf("db.Prepare(selectRecipientsStmt): %w", err)
	}
	return s, nil
}

// Save writes the message and its recipients in one transaction. Failures
// come back as transient delivery errors so clients retry.
func (s *Store) Save(ctx context.Context, msg *magpie.Message) error {
	err := s.writer.do(s.db, func(txn *sql.Tx) error {
		_, err := txn.StmtContext(ctx, s.insertMessage).ExecContext(ctx,
			msg.ID,
			msg.Envelope.From.String(),
			string(msg.Envelope.BodyType),
			msg.Envelope.DeclaredSize,
			msg.Envelope.UTF8,
			msg.Envelope.AuthIdentity,
			msg.ReceivedAt.UnixNano(),
			msg.ClientHostname,
			msg.RemoteAddr,
			msg.TLS,
			msg.Data,
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		for i, rcpt := range msg.Envelope.To {
			if _, err := txn.StmtContext(ctx, s.insertRecipient).ExecContext(ctx, msg.ID, i, rcpt.String()); err != nil {
				return fmt.Errorf("insert recipient %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return magpie.TemporaryFailure("database write failed", err)
	}
	return nil
}

// Count returns the number of stored messages.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.countMessages.QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// Recipients returns the forward-paths of a stored message in the order
// they were accepted.
func (s *Store) Recipients(ctx context.Context, id string) ([]string, error) {
	rows, err := s.selectRecipients.QueryContext(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("select recipients: %w", err)
	}
	defer rows.Close()

	var rcpts []string
	for rows.Next() {
		var rcpt string
		if err := rows.Scan(&rcpt); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		rcpts = append(rcpts, rcpt)
	}
	return rcpts, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// writer serializes all writes through one goroutine, started lazily on
// the first task.
type writer struct {
	running atomic.Bool
	todo    chan writerTask
}

type writerTask struct {
	db   *sql.DB
	f    func(txn *sql.Tx) error
	wait chan error
}

func (w *writer) do(db *sql.DB, f func(txn *sql.Tx) error) error {
	if !w.running.Load() {
		go w.run()
	}
	task := writerTask{
		db:   db,
		f:    f,
		wait: make(chan error, 1),
	}
	w.todo <- task
	return <-task.wait
}

func (w *writer) run() {
	if !w.running.CAS(false, true) {
		return
	}
	defer w.running.Store(false)
	for task := range w.todo {
		task.wait <- func() error {
			txn, err := task.db.Begin()
			if err != nil {
				return fmt.Errorf("begin: %w", err)
			}
			if err := task.f(txn); err != nil {
				_ = txn.Rollback()
				return err
			}
			return txn.Commit()
		}()
		close(task.wait)
	}
}
