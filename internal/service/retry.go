package service

import (
	"errors"

	"github.com/sirupsen/logrus"

	"ridehail/internal/observability"
	"ridehail/internal/repository"
	"ridehail/internal/retry"
)

// newStoreRetrier retries only transient store failures.
func newStoreRetrier(cfg retry.Config, log logrus.FieldLogger, metrics *observability.Metrics) *retry.Retrier {
	cfg.Retryable = func(err error) bool {
		return errors.Is(err, repository.ErrStoreUnavailable)
	}
	return retry.New(cfg, log, metrics.StoreRetries.Inc)
}

// rideNotFound translates the store's not-found into the service error.
func rideNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrRideNotFound
	}
	return err
}
