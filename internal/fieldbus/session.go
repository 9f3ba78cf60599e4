package fieldbus

import (
	"context"
	"time"

	"github.com/nerrad567/meterpoll/internal/utility"
)

// Dialer opens a session to a meter gateway.
type Dialer interface {
	Dial(ctx context.Context, addr utility.Address, timeout time.Duration) (Session, error)
}

// Session reads holding registers over one open connection.
// A session is used by one goroutine at a time.
type Session interface {
	ReadRegisters(ctx context.Context, nodeID uint8, start, count uint16) ([]uint16, error)
	Close() error
}
