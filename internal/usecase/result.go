package usecase

import (
	"errors"
	"image"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
)

var (
	ErrEvicted     = errors.New("tile request evicted from a full queue")
	ErrDetached    = errors.New("tile provider detached")
	ErrInvalidTile = errors.New("invalid tile coordinates")
)

type Outcome int

const (
	OutcomeFailed Outcome = iota
	// OutcomeFresh is a copy from memory, disk or an archive that did not need the network.
	OutcomeFresh
	// OutcomeRefreshed is a copy the origin just sent or confirmed with a 304.
	OutcomeRefreshed
	// OutcomeExpired is a stale disk copy served because the origin could not be reached.
	OutcomeExpired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFresh:
		return "fresh"
	case OutcomeRefreshed:
		return "refreshed"
	case OutcomeExpired:
		return "expired"
	default:
		return "failed"
	}
}

// Result is the terminal value of one tile request.
type Result struct {
	Key     tile.Key
	Outcome Outcome
	Data    []byte
	Image   image.Image
	Err     error
}

func (r Result) OK() bool {
	return r.Outcome != OutcomeFailed
}

// Callback receives exactly one Result per request. It runs on a worker
// goroutine, or on the caller's goroutine when the tile is already in memory.
type Callback func(Result)

func failed(k tile.Key, err error) Result {
	return Result{Key: k, Outcome: OutcomeFailed, Err: err}
}
