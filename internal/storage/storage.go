package storage

import (
	"context"

	"raffled/internal/raffle"
)

type Storage interface {
	raffle.Store

	// cursor
	GetCursor(ctx context.Context, name string) (*Cursor, error)
	UpdateCursor(ctx context.Context, cursor *Cursor) error

	Close() error
}

const (
	EntryTrackerCursor = "entry-tracker"
)
