package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"ridehail/internal/domain"
	"ridehail/internal/repository"
)

// PendingFeed turns NOTIFY events on PendingChannel into rides.
type PendingFeed struct {
	dsn   string
	rides *RideRepository
	log   logrus.FieldLogger
}

// NewPendingFeed creates a feed that listens with its own connection to dsn.
func NewPendingFeed(dsn string, rides *RideRepository, log logrus.FieldLogger) *PendingFeed {
	return &PendingFeed{dsn: dsn, rides: rides, log: log}
}

var _ repository.PendingFeed = (*PendingFeed)(nil)

// SubscribePending opens a LISTEN connection and streams rides that are
// still pending when their notification is read.
func (f *PendingFeed) SubscribePending(ctx context.Context) (<-chan *domain.Ride, error) {
	listener := pq.NewListener(f.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			f.log.WithError(err).WithField("event", ev).Warn("pending feed listener event")
		}
	})
	if err := listener.Listen(PendingChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("%w: listen %s: %v", repository.ErrStoreUnavailable, PendingChannel, err)
	}

	out := make(chan *domain.Ride, 64)
	go f.run(ctx, listener, out)
	return out, nil
}

func (f *PendingFeed) run(ctx context.Context, listener *pq.Listener, out chan<- *domain.Ride) {
	defer close(out)
	defer listener.Close()

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			if n == nil {
				// reconnected; notifications sent while down are lost
				f.log.Warn("pending feed reconnected")
				continue
			}
			ride, err := f.rides.GetByID(ctx, n.Extra)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					f.log.WithError(err).WithField("ride_id", n.Extra).Warn("pending feed lookup failed")
				}
				continue
			}
			if ride.Status != domain.RideStatusPending {
				continue
			}
			select {
			case out <- ride:
			case <-ctx.Done():
				return
			}
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				f.log.WithError(err).Warn("pending feed ping failed")
			}
		}
	}
}
