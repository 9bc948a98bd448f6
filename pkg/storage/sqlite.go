package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"spacecomms/pkg/cdm"
	"spacecomms/pkg/types"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite keeps records as JSON documents keyed by id, so the schema does not
// track every optional CDM field.
type SQLite struct {
	db *sql.DB
}

var _ Storage = (*SQLite)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cdms (
	cdm_id     TEXT PRIMARY KEY,
	tca        INTEGER NOT NULL,
	body       TEXT NOT NULL,
	stored_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS objects (
	object_id  TEXT PRIMARY KEY,
	body       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS seen_messages (
	message_id TEXT PRIMARY KEY,
	seen_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_seen_messages_seen_at ON seen_messages(seen_at);
`

// NewSQLite opens (creating if needed) the database at path. ":memory:"
// gives a private in-process database.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, types.Errorf(types.KindConfig, "sqlite storage requires a path")
	}

	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, types.Wrap(types.KindIO, err, "create storage directory")
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, types.Wrap(types.KindStorage, err, "open sqlite %s", path)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, types.Wrap(types.KindStorage, err, "ping sqlite %s", path)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, types.Wrap(types.KindStorage, err, "init sqlite schema")
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) StoreCDM(ctx context.Context, r *cdm.Record) error {
	if r == nil || r.CdmID == "" {
		return types.Errorf(types.KindStorage, "cdm without id")
	}
	body, err := json.Marshal(r)
	if err != nil {
		return types.Wrap(types.KindStorage, err, "encode cdm %s", r.CdmID)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cdms (cdm_id, tca, body, stored_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(cdm_id) DO UPDATE SET tca = excluded.tca, body = excluded.body, stored_at = excluded.stored_at
	`, string(r.CdmID), r.TCA.UnixNano(), string(body), time.Now().UnixNano())
	if err != nil {
		return types.Wrap(types.KindStorage, err, "store cdm %s", r.CdmID)
	}
	return nil
}

func (s *SQLite) GetCDM(ctx context.Context, id types.CdmID) (*cdm.Record, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM cdms WHERE cdm_id = ?`, string(id)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFound("cdm %s not found", id)
	}
	if err != nil {
		return nil, types.Wrap(types.KindStorage, err, "get cdm %s", id)
	}

	var r cdm.Record
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, types.Wrap(types.KindStorage, err, "decode cdm %s", id)
	}
	return &r, nil
}

func (s *SQLite) ListCDMs(ctx context.Context) ([]*cdm.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM cdms ORDER BY cdm_id`)
	if err != nil {
		return nil, types.Wrap(types.KindStorage, err, "list cdms")
	}
	defer rows.Close()

	out := []*cdm.Record{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, types.Wrap(types.KindStorage, err, "scan cdm")
		}
		var r cdm.Record
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, types.Wrap(types.KindStorage, err, "decode cdm")
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, types.Wrap(types.KindStorage, err, "list cdms")
	}
	return out, nil
}

func (s *SQLite) WithdrawCDM(ctx context.Context, id types.CdmID) error {
	return s.deleteByID(ctx, `DELETE FROM cdms WHERE cdm_id = ?`, string(id), "cdm")
}

func (s *SQLite) CdmCount(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM cdms`)
}

func (s *SQLite) StoreObject(ctx context.Context, o *cdm.ObjectRecord) error {
	if o == nil || o.ObjectID == "" {
		return types.Errorf(types.KindStorage, "object without id")
	}
	body, err := json.Marshal(o)
	if err != nil {
		return types.Wrap(types.KindStorage, err, "encode object %s", o.ObjectID)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO objects (object_id, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(object_id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, string(o.ObjectID), string(body), o.LastUpdated.UnixNano())
	if err != nil {
		return types.Wrap(types.KindStorage, err, "store object %s", o.ObjectID)
	}
	return nil
}

func (s *SQLite) GetObject(ctx context.Context, id types.ObjectID) (*cdm.ObjectRecord, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM objects WHERE object_id = ?`, string(id)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFound("object %s not found", id)
	}
	if err != nil {
		return nil, types.Wrap(types.KindStorage, err, "get object %s", id)
	}

	var o cdm.ObjectRecord
	if err := json.Unmarshal([]byte(body), &o); err != nil {
		return nil, types.Wrap(types.KindStorage, err, "decode object %s", id)
	}
	return &o, nil
}

func (s *SQLite) ListObjects(ctx context.Context) ([]*cdm.ObjectRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM objects ORDER BY object_id`)
	if err != nil {
		return nil, types.Wrap(types.KindStorage, err, "list objects")
	}
	defer rows.Close()

	out := []*cdm.ObjectRecord{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, types.Wrap(types.KindStorage, err, "scan object")
		}
		var o cdm.ObjectRecord
		if err := json.Unmarshal([]byte(body), &o); err != nil {
			return nil, types.Wrap(types.KindStorage, err, "decode object")
		}
		out = append(out, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, types.Wrap(types.KindStorage, err, "list objects")
	}
	return out, nil
}

func (s *SQLite) WithdrawObject(ctx context.Context, id types.ObjectID) error {
	return s.deleteByID(ctx, `DELETE FROM objects WHERE object_id = ?`, string(id), "object")
}

func (s *SQLite) ObjectCount(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM objects`)
}

func (s *SQLite) HasSeenMessage(ctx context.Context, id types.MessageID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM seen_messages WHERE message_id = ?`, string(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, types.Wrap(types.KindStorage, err, "check seen %s", id)
	}
	return true, nil
}

func (s *SQLite) MarkMessageSeen(ctx context.Context, id types.MessageID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seen_messages (message_id, seen_at) VALUES (?, ?)
		ON CONFLICT(message_id) DO UPDATE SET seen_at = max(seen_at, excluded.seen_at)
	`, string(id), at.UnixNano())
	if err != nil {
		return types.Wrap(types.KindStorage, err, "mark seen %s", id)
	}
	return nil
}

func (s *SQLite) ClaimMessage(ctx context.Context, id types.MessageID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO seen_messages (message_id, seen_at) VALUES (?, ?)
		ON CONFLICT(message_id) DO NOTHING
	`, string(id), at.UnixNano())
	if err != nil {
		return false, types.Wrap(types.KindStorage, err, "claim %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, types.Wrap(types.KindStorage, err, "claim %s", id)
	}
	return n == 1, nil
}

func (s *SQLite) ForgetMessage(ctx context.Context, id types.MessageID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM seen_messages WHERE message_id = ?`, string(id)); err != nil {
		return types.Wrap(types.KindStorage, err, "forget %s", id)
	}
	return nil
}

func (s *SQLite) ExpireSeenMessages(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM seen_messages WHERE seen_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, types.Wrap(types.KindStorage, err, "expire seen messages")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, types.Wrap(types.KindStorage, err, "expire seen messages")
	}
	return int(n), nil
}

func (s *SQLite) SeenCount(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM seen_messages`)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) deleteByID(ctx context.Context, query, id, what string) error {
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return types.Wrap(types.KindStorage, err, "withdraw %s %s", what, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return types.Wrap(types.KindStorage, err, "withdraw %s %s", what, id)
	}
	if n == 0 {
		return types.NotFound("%s %s not found", what, id)
	}
	return nil
}

func (s *SQLite) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, types.Wrap(types.KindStorage, err, "count")
	}
	return n, nil
}
