package health

import (
	"context"
	"runtime"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than limit goroutines are running.
func GoroutineCountCheck(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("goroutine count %d exceeds %d", n, limit)
		}
		return nil
	}
}

// Pinger is a dependency that answers a round-trip, such as a pgx pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck fails when p does not answer.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// FreshnessCheck fails when loadedAt is zero or older than maxAge. It
// watches background refreshers such as the menu cache.
func FreshnessCheck(loadedAt func() time.Time, maxAge time.Duration) CheckFunc {
	return func(context.Context) error {
		at := loadedAt()
		if at.IsZero() {
			return errors.New("never loaded")
		}
		if age := time.Since(at); age > maxAge {
			return errors.Errorf("last loaded %s ago", age.Round(time.Second))
		}
		return nil
	}
}
