package api

import (
	"context"
)

/*
LEARNING: CONSUMER-DRIVEN INTERFACES (Go Idiom)

This package is the CONSUMER of the database, the relay and the session
manager, so the small interfaces it needs live HERE. Constructors elsewhere
return concrete types.
*/

// Pinger is a dependency whose liveness the health endpoint reports.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CollabStats exposes the counters shown by the stats endpoint.
type CollabStats interface {
	SessionCount() int
	LiveDocuments() int
}
