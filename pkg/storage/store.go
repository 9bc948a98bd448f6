// Package storage persists CDMs and tracked-object state, and keeps the
// time-windowed set of message ids used for gossip deduplication.
package storage

import (
	"context"
	"time"

	"spacecomms/pkg/cdm"
	"spacecomms/pkg/types"

	"go.uber.org/zap"
)

// Storage is the persistence contract shared by every backend.
//
// Each call is atomic with respect to its own collection only. Storing a
// record and marking its message seen are separate calls with no
// transaction spanning them.
type Storage interface {
	StoreCDM(ctx context.Context, r *cdm.Record) error
	// GetCDM returns a NotFound error when id is absent.
	GetCDM(ctx context.Context, id types.CdmID) (*cdm.Record, error)
	ListCDMs(ctx context.Context) ([]*cdm.Record, error)
	// WithdrawCDM returns a NotFound error when id is absent.
	WithdrawCDM(ctx context.Context, id types.CdmID) error
	CdmCount(ctx context.Context) (int, error)

	StoreObject(ctx context.Context, o *cdm.ObjectRecord) error
	GetObject(ctx context.Context, id types.ObjectID) (*cdm.ObjectRecord, error)
	ListObjects(ctx context.Context) ([]*cdm.ObjectRecord, error)
	WithdrawObject(ctx context.Context, id types.ObjectID) error
	ObjectCount(ctx context.Context) (int, error)

	HasSeenMessage(ctx context.Context, id types.MessageID) (bool, error)
	// MarkMessageSeen records id with the time it belongs to, normally the
	// envelope's origination timestamp.
	MarkMessageSeen(ctx context.Context, id types.MessageID, at time.Time) error
	// ClaimMessage records id at at only if it is not already recorded and
	// reports whether this call recorded it. Concurrent claims of one id
	// succeed exactly once.
	ClaimMessage(ctx context.Context, id types.MessageID, at time.Time) (bool, error)
	// ForgetMessage drops id so a later copy can be claimed again.
	ForgetMessage(ctx context.Context, id types.MessageID) error
	// ExpireSeenMessages forgets ids recorded before cutoff and returns how
	// many were dropped.
	ExpireSeenMessages(ctx context.Context, cutoff time.Time) (int, error)
	SeenCount(ctx context.Context) (int, error)

	Close() error
}

const (
	TypeMemory = "memory"
	TypeSQLite = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Type string
	// Path is the SQLite database file.
	Path string
	// DedupWindow sizes the in-memory seen-set buckets.
	DedupWindow time.Duration
}

// New opens the backend named by opts.Type.
func New(ctx context.Context, opts Options, logger *zap.Logger) (Storage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch opts.Type {
	case "", TypeMemory:
		logger.Info("Using in-memory storage", zap.Duration("dedup_window", opts.DedupWindow))
		return NewMemory(opts.DedupWindow), nil
	case TypeSQLite:
		s, err := NewSQLite(ctx, opts.Path)
		if err != nil {
			return nil, err
		}
		logger.Info("Using SQLite storage", zap.String("path", opts.Path))
		return s, nil
	default:
		return nil, types.Errorf(types.KindConfig, "unknown storage type %q", opts.Type)
	}
}
