// Package workspace persists the owner's notes, to-do items and logged data
// points.
package workspace

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no open to-do matches a completion request.
var ErrNotFound = errors.New("no matching item")

// Note is a saved free-text note.
type Note struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Todo is one to-do list item.
type Todo struct {
	ID          string     `json:"id"`
	Content     string     `json:"content"`
	Done        bool       `json:"done"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Entry is a logged data point such as "8 glasses of water".
type Entry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the workspace persistence contract.
type Store interface {
	AddNote(ctx context.Context, content string) (*Note, error)
	AddTodo(ctx context.Context, content string) (*Todo, error)
	// CompleteTodo marks the best-matching open item done, or returns ErrNotFound.
	CompleteTodo(ctx context.Context, content string) (*Todo, error)
	ClearTodos(ctx context.Context) (int, error)
	ClearNotes(ctx context.Context) (int, error)
	LogData(ctx context.Context, content string) (*Entry, error)
	ListTodos(ctx context.Context, includeDone bool) ([]Todo, error)
	ListNotes(ctx context.Context, limit int) ([]Note, error)
	ListEntries(ctx context.Context, limit int) ([]Entry, error)
	// PruneCompleted deletes items completed before the cutoff.
	PruneCompleted(ctx context.Context, before time.Time) (int, error)
	Close() error
}
