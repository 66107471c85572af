package store

import (
	"context"
	"database/sql"
)

// FindRecord is the find condition for records. CreatorID is mandatory:
// every query is scoped to one user.
type FindRecord struct {
	ID        *RecordID
	CreatorID UserID

	// TagIDs selects records whose tag-set contains every listed tag
	// (AND-logic containment).
	TagIDs []TagID

	// ExactTagSet selects records whose tag-set equals the given set
	// precisely. Used for the dedup check.
	ExactTagSet *TagSet

	// ExcludeID drops one record from the result, so a record does not
	// collide with itself during an update-time dedup check.
	ExcludeID *RecordID

	Limit  int
	Offset int
}

// DeleteRecord is the delete condition for a single record.
type DeleteRecord struct {
	ID        RecordID
	CreatorID UserID
}

// Driver is the store port. Every backend implements these operations with
// identical semantics: per-user scoping on every query, tag-set dedup
// enforced by a storage-level uniqueness constraint, and all-or-nothing
// batches.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)
	Migrate(ctx context.Context) error

	// Record model related methods.
	CreateRecord(ctx context.Context, create *Record) (*Record, error)
	ListRecords(ctx context.Context, find *FindRecord) ([]*Record, error)
	CountRecords(ctx context.Context, find *FindRecord) (int64, error)
	UpdateRecord(ctx context.Context, update *Record) (*Record, error)
	DeleteRecord(ctx context.Context, delete *DeleteRecord) error

	// Batch variants. A single transaction backs the whole batch; the first
	// failure rolls back every item.
	CreateRecords(ctx context.Context, creates []*Record) ([]*Record, error)
	DeleteRecords(ctx context.Context, creator UserID, ids []RecordID) error

	// Aggregations.
	GetTagStatistics(ctx context.Context, creator UserID) ([]*TagStatistic, error)
	ListTagSuggestions(ctx context.Context, find *FindTagSuggestion) ([]*TagSuggestion, error)
}
