package engine

import (
	"errors"
	"fmt"
)

// ErrInvalidAgentID is returned when Retrieve is called with an empty or
// blank agent id. Never retried; surfaced to the caller immediately.
var ErrInvalidAgentID = errors.New("agent id is required")

// ErrNoEmbedder is returned when the hybrid path needs a query embedding but
// no embedder was configured.
var ErrNoEmbedder = errors.New("no embedder configured")

// DependencyError wraps a failure of one of the engine's two external
// collaborators. The engine never retries these — retry and backoff, if any,
// belong to the collaborator's own client.
type DependencyError struct {
	Dependency string // "store" or "embedder"
	Op         string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Dependency, e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	return &DependencyError{Dependency: "store", Op: op, Err: err}
}

func embedderErr(op string, err error) error {
	return &DependencyError{Dependency: "embedder", Op: op, Err: err}
}
