// Package store implements the Durable Store: versioned, compare-and-swap
// persistence of flow snapshots, with the secondary indexes spec §6
// requires (correlationId, userId, (status, nonTerminal), createdAt).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
)

// ErrNotFound is returned when a flowId has no snapshot.
var ErrNotFound = errors.New("flow snapshot not found")

// ErrVersionConflict is returned by Save when the stored version
// no longer matches the caller's expected version.
var ErrVersionConflict = errors.New("version conflict")

// Filter narrows a List query. Zero values mean "don't filter on this
// field". NonTerminalOnly restricts to flows not yet Completed/Failed/Cancelled.
type Filter struct {
	FlowType        string
	Status          flow.Status
	NonTerminalOnly bool
	CorrelationID   string
	UserID          string
	CreatedAfter    *time.Time
	CreatedBefore   *time.Time
}

// Page describes pagination for List.
type Page struct {
	Offset int
	Limit  int
}

// DurableStore is the persistence contract every backend (in-memory,
// Postgres) must satisfy. Save performs compare-and-swap on Version: the
// caller must pass the Version it last observed (0 for a brand-new flow);
// the backend atomically rejects stale writers with ErrVersionConflict.
type DurableStore interface {
	// Save performs a CAS write. snap.Version is the NEW version to persist;
	// expectedVersion is the version the caller last read (0 means "create").
	Save(ctx context.Context, snap *flow.Snapshot, expectedVersion int64) error
	Load(ctx context.Context, flowID string) (*flow.Snapshot, error)
	Delete(ctx context.Context, flowID string) error
	List(ctx context.Context, filter Filter, page Page) ([]*flow.Snapshot, error)
	ListNonTerminal(ctx context.Context) ([]*flow.Snapshot, error)
	Close(ctx context.Context) error
}
