package occupancy

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/lib/pq"
)

const (
	listenerMinReconnectInterval = 10 * time.Second
	listenerMaxReconnectInterval = time.Minute
	listenerPingInterval         = 90 * time.Second
)

// ChangeFeed delivers the names of locations changed by any writer.
// Listen blocks until ctx is cancelled or the feed fails for good.
type ChangeFeed interface {
	Listen(ctx context.Context, onChange func(location string)) error
}

// SubscribeToChanges refreshes the store on every change notification. It blocks like Listen.
func (s *Store) SubscribeToChanges(ctx context.Context, feed ChangeFeed) error {
	return feed.Listen(ctx, func(location string) {
		if err := s.Refresh(ctx); err != nil {
			log.Printf("occupancy: refresh after change to %q failed: %v", location, err)
		}
	})
}

// PGListener is a ChangeFeed backed by PostgreSQL LISTEN/NOTIFY on the parking_slots trigger channel.
type PGListener struct {
	dsn     string
	channel string
}

func NewPGListener(dsn, channel string) *PGListener {
	return &PGListener{dsn: dsn, channel: channel}
}

func (l *PGListener) Listen(ctx context.Context, onChange func(location string)) error {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("occupancy feed: listener error: %v", err)
		}
	}

	listener := pq.NewListener(l.dsn, listenerMinReconnectInterval, listenerMaxReconnectInterval, reportProblem)
	defer listener.Close()

	if err := listener.Listen(l.channel); err != nil {
		return err
	}
	log.Printf("occupancy feed: listening on '%s' for notifications...", l.channel)

	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("occupancy feed: shutting down...")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case n := <-listener.Notify:
			if n == nil {
				// The connection was re-established; anything sent meanwhile was lost.
				log.Println("occupancy feed: reconnected, forcing refresh")
				onChange("")
				continue
			}
			onChange(n.Extra)

		case <-ticker.C:
			go listener.Ping()
		}
	}
}
