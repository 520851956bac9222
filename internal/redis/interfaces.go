package redis

import (
	"ridehail/internal/broadcast"
	"ridehail/internal/directions"
	"ridehail/internal/middleware"
	"ridehail/internal/repository"
	"ridehail/internal/service"
)

// Ensure concrete types implement the interfaces they are wired into.
var (
	_ service.Locker           = (*LockStore)(nil)
	_ directions.Cache         = (*CacheStore)(nil)
	_ middleware.ResponseStore = (*CacheStore)(nil)
	_ repository.SessionStore  = (*SessionStore)(nil)
	_ broadcast.Router         = (*Relay)(nil)
)
