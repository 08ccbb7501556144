// Package postgres stores documents as JSONB rows in a single table and
// publishes changes with LISTEN/NOTIFY so other clients can subscribe.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/haulbook-dev/haulbook/internal/model"
	"github.com/haulbook-dev/haulbook/internal/store"
)

// Channel is the NOTIFY channel used for document changes.
const Channel = "haulbook_changes"

// payloads above this size are sent without the document body.
const maxNotifyDoc = 7000

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection text        NOT NULL,
	id         text        NOT NULL,
	doc        jsonb       NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_doc_gin ON documents USING gin (doc jsonb_path_ops);
`

// Connect opens a pool for dsn and ensures the documents table exists.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return pool, nil
}

// Store is one collection in the documents table.
type Store[T store.Document] struct {
	pool       *pgxpool.Pool
	collection string
	logger     logrus.FieldLogger
}

// New returns a Store for collection backed by pool.
func New[T store.Document](pool *pgxpool.Pool, collection string, logger logrus.FieldLogger) *Store[T] {
	return &Store[T]{pool: pool, collection: collection, logger: logger}
}

type notification struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Op         string          `json:"op"`
	Doc        json.RawMessage `json:"doc,omitempty"`
}

// List returns matching documents ordered by ID. The filter is pushed
// down as JSONB containment.
func (s *Store[T]) List(ctx context.Context, f store.Filter) ([]T, error) {
	filter := []byte("{}")
	if len(f) > 0 {
		var err error
		filter, err = json.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("encoding filter: %w", err)
		}
	}

	const query = `SELECT doc FROM documents WHERE collection = $1 AND doc @> $2::jsonb ORDER BY id`
	rows, err := s.pool.Query(ctx, query, s.collection, string(filter))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.collection, err)
	}
	defer rows.Close()

	var result []T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", s.collection, err)
		}
		var doc T
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", s.collection, err)
		}
		result = append(result, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.collection, err)
	}
	return result, nil
}

// Get returns the document with the given ID.
func (s *Store[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var doc T
	var data []byte

	const query = `SELECT doc FROM documents WHERE collection = $1 AND id = $2`
	err := s.pool.QueryRow(ctx, query, s.collection, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return doc, false, nil
	}
	if err != nil {
		return doc, false, fmt.Errorf("getting %s/%s: %w", s.collection, id, err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, false, fmt.Errorf("decoding %s/%s: %w", s.collection, id, err)
	}
	return doc, true, nil
}

// Put upserts the document and notifies listeners in the same transaction.
func (s *Store[T]) Put(ctx context.Context, doc T) error {
	id := doc.DocID()
	if id == "" {
		return errors.New("document has no ID")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", s.collection, id, err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		const upsert = `INSERT INTO documents (collection, id, doc, updated_at)
	VALUES ($1, $2, $3::jsonb, now())
	ON CONFLICT (collection, id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`
		if _, err := tx.Exec(ctx, upsert, s.collection, id, string(data)); err != nil {
			return fmt.Errorf("writing %s/%s: %w", s.collection, id, err)
		}
		return s.notify(ctx, tx, store.ChangePut, id, data)
	})
}

// Delete removes the document. Returns store.ErrNotFound if it is absent.
func (s *Store[T]) Delete(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var data []byte
		const del = `DELETE FROM documents WHERE collection = $1 AND id = $2 RETURNING doc`
		err := tx.QueryRow(ctx, del, s.collection, id).Scan(&data)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("deleting %s/%s: %w", s.collection, id, store.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("deleting %s/%s: %w", s.collection, id, err)
		}
		return s.notify(ctx, tx, store.ChangeDelete, id, data)
	})
}

func (s *Store[T]) notify(ctx context.Context, tx pgx.Tx, kind store.ChangeKind, id string, doc []byte) error {
	n := notification{Collection: s.collection, ID: id, Op: string(kind)}
	if len(doc) <= maxNotifyDoc {
		n.Doc = doc
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, Channel, string(payload)); err != nil {
		return fmt.Errorf("notifying %s/%s: %w", s.collection, id, err)
	}
	return nil
}

// Subscribe holds a dedicated connection listening on Channel until
// unsubscribe is called or ctx is done. Changes from every client,
// including this one, are delivered.
func (s *Store[T]) Subscribe(ctx context.Context, f store.Filter, fn func(store.Change[T])) (func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listening on %s: %w", Channel, err)
	}

	listenCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			n, err := conn.Conn().WaitForNotification(listenCtx)
			if err != nil {
				if listenCtx.Err() == nil {
					s.logger.WithError(err).WithField("collection", s.collection).Error("waiting for notification")
				}
				return
			}
			s.dispatch(listenCtx, n.Payload, f, fn)
		}
	}()

	return func() {
		cancel()
		<-done
		_, _ = conn.Exec(context.Background(), "UNLISTEN "+pgx.Identifier{Channel}.Sanitize())
		conn.Release()
	}, nil
}

func (s *Store[T]) dispatch(ctx context.Context, payload string, f store.Filter, fn func(store.Change[T])) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		s.logger.WithError(err).Warn("ignoring malformed notification")
		return
	}
	if n.Collection != s.collection {
		return
	}

	change := store.Change[T]{Kind: store.ChangeKind(n.Op), ID: n.ID}
	switch {
	case len(n.Doc) > 0:
		if err := json.Unmarshal(n.Doc, &change.Doc); err != nil {
			s.logger.WithError(err).WithField("id", n.ID).Warn("ignoring undecodable notification")
			return
		}
	case change.Kind == store.ChangePut:
		doc, ok, err := s.Get(ctx, n.ID)
		if err != nil || !ok {
			return
		}
		change.Doc = doc
	default:
		// Oversized delete: the filter cannot be checked, deliver as is.
		fn(change)
		return
	}

	ok, err := store.Match(change.Doc, f)
	if err != nil || !ok {
		return
	}
	fn(change)
}

// Compile-time check: ensure Store implements store.Store.
var _ store.Store[model.Order] = (*Store[model.Order])(nil)
