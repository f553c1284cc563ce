package jobs

import (
	"time"

	"taskminder/internal/logger"

	"github.com/lib/pq"
)

// Listener turns Postgres NOTIFY messages on a channel into worker wake-ups, so
// jobs inserted with a short delay do not wait for the next poll tick.
type Listener struct {
	l    *pq.Listener
	wake chan struct{}
}

func Listen(dsn, channel string, log *logger.Logger) (*Listener, error) {
	pl := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warnw("job listener event", "event", ev, "error", err)
		}
	})
	if err := pl.Listen(channel); err != nil {
		_ = pl.Close()
		return nil, err
	}

	l := &Listener{l: pl, wake: make(chan struct{}, 1)}
	go l.forward()
	return l, nil
}

func (l *Listener) forward() {
	// a nil notification follows a reconnect; waking then is harmless
	for range l.l.Notify {
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
}

func (l *Listener) C() <-chan struct{} { return l.wake }

func (l *Listener) Close() error { return l.l.Close() }
