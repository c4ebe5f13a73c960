// Package store persists load records, offer history, and conversation
// threads in SQLite.
package store

import (
	"context"

	"loadpilot/internal/types"
)

// Persistence is what the workflow needs from storage. Loads are written
// through validated field updates only; offers and messages are append-only.
type Persistence interface {
	// GetLoad fetches a load by id. Returns types.ErrLoadNotFound when the
	// id is unknown.
	GetLoad(ctx context.Context, id string) (*types.LoadRecord, error)
	// PutLoad inserts or replaces a whole load record. Used to seed loads
	// from inbound requests; ongoing mutation goes through ApplyFieldUpdates.
	PutLoad(ctx context.Context, load *types.LoadRecord) error
	// ApplyFieldUpdates validates and applies a batch of field updates to
	// the stored record atomically. A record is written only if every
	// update in the set is valid.
	ApplyFieldUpdates(ctx context.Context, id string, updates *types.UpdateSet) (*types.LoadRecord, error)
	// AppendOffer records one bid in the load's offer history.
	AppendOffer(ctx context.Context, loadID string, offer types.BidOffer) error
	// Conversation returns a thread's messages in send order.
	Conversation(ctx context.Context, threadID string) ([]types.Message, error)
	// AppendMessage adds a message to a thread.
	AppendMessage(ctx context.Context, msg types.Message) error
	// Close releases the underlying database.
	Close() error
}
