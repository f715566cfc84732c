package reading

import (
	"context"
	"errors"
)

var (
	// ErrDuplicateTimestamp is returned when an external append reuses a
	// timestamp already stored for the same device
	ErrDuplicateTimestamp = errors.New("reading with this timestamp already exists")
	ErrNotFound           = errors.New("no readings for device")
)

// Store keeps an ordered reading log per (client, device)
type Store interface {
	// Append adds an externally submitted reading and rejects a duplicate
	// timestamp for the same device
	Append(ctx context.Context, clientID string, r Reading) error
	// AppendInternal adds a synthetic reading without duplicate checks
	AppendInternal(ctx context.Context, clientID string, r Reading) error
	// GetLatest returns the newest reading by timestamp; ok is false on a miss
	GetLatest(ctx context.Context, clientID, deviceID string) (r Reading, ok bool, err error)
	// History returns every reading for the device, newest first
	History(ctx context.Context, clientID, deviceID string) ([]Reading, error)
	// All returns every reading of a client, newest first
	All(ctx context.Context, clientID string) ([]Reading, error)
	// Delete drops the device log; ErrNotFound when there is none
	Delete(ctx context.Context, clientID, deviceID string) error
	Close() error
}
