// Package store defines the namespaced key-value store that backs all
// long-term memory, plus in-memory and SQLite implementations.
//
// A namespace is (category, qualifier, user id). Categories partition the
// three memory kinds so records for one user can never collide across
// kinds. Search returns records in insertion order; callers that need a
// different ordering impose it themselves.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Category partitions records within a user's memory.
type Category string

const (
	CategoryProfile      Category = "profile"
	CategoryTodo         Category = "todo"
	CategoryInstructions Category = "instructions"
)

// Namespace identifies one partition of the store.
type Namespace struct {
	Category  Category
	Qualifier string
	UserID    string
}

// Record is a stored document with its key.
type Record struct {
	Key       string
	Value     json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ErrNotFound is returned by Get when no record exists at the key.
var ErrNotFound = errors.New("store: record not found")

// Store is the persistence contract consumed by the turn loop.
// Implementations must be safe for concurrent use across namespaces;
// within one namespace no mutual exclusion beyond per-call atomicity is
// promised, so concurrent turns for the same user are the scheduler's
// problem, not the store's.
type Store interface {
	Put(ctx context.Context, ns Namespace, key string, value json.RawMessage) error
	Get(ctx context.Context, ns Namespace, key string) (Record, error)
	Search(ctx context.Context, ns Namespace) ([]Record, error)
	Close() error
}

// NamespaceLister is an optional extension for stores that can enumerate
// the populated namespaces of a category. The reminder sweeper uses it to
// find every user's todo namespace.
type NamespaceLister interface {
	Namespaces(ctx context.Context, category Category) ([]Namespace, error)
}
