// Package store persists subject photos and try-on results.
//
// Two implementations are provided: MemoryStore for local runs and tests,
// and DynamoStore, a single-table DynamoDB design where all records of a
// user share the partition key USER#{userId} and sort keys distinguish
// PHOTO# and RESULT# records.
//
// Result history is capped per user: PutResult evicts the oldest results
// beyond the configured limit.
package store

import (
	"context"

	"github.com/fpang/tryon-pipeline/internal/model"
)

// DefaultHistoryLimit is the number of results retained per user.
const DefaultHistoryLimit = 50

// Store defines the persistence surface used by the pipeline. Each method
// is safe for concurrent use.
//
// All Get methods return (nil, nil) when the requested record does not exist.
// All Put methods perform full-item replacement (upsert semantics).
type Store interface {
	// PutSubjectPhoto stores a registered subject photo.
	PutSubjectPhoto(ctx context.Context, photo *model.SubjectPhoto) error

	// GetSubjectPhoto retrieves a subject photo by id. Returns nil, nil if not found.
	GetSubjectPhoto(ctx context.Context, userID, photoID string) (*model.SubjectPhoto, error)

	// LatestSubjectPhoto returns the most recently registered photo of a
	// user. Returns nil, nil if the user has none.
	LatestSubjectPhoto(ctx context.Context, userID string) (*model.SubjectPhoto, error)

	// PutResult stores a result and evicts the user's oldest results beyond
	// the history limit.
	PutResult(ctx context.Context, result *model.TryOnResult) error

	// GetResult retrieves a result by id. Returns nil, nil if not found.
	GetResult(ctx context.Context, userID, resultID string) (*model.TryOnResult, error)

	// ListResults returns up to limit results of a user, newest first.
	// A limit of zero or less returns the whole retained history.
	ListResults(ctx context.Context, userID string, limit int) ([]*model.TryOnResult, error)
}

func historyLimit(n int) int {
	if n <= 0 {
		return DefaultHistoryLimit
	}
	return n
}
