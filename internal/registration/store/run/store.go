// Package run persists saga runs, their deadlines and dead letters.
//
// Save is a compare-and-set on the run's current state: it succeeds only when
// the stored state equals expected (an empty expected state means the run must
// not exist yet). This is the transition guard that makes duplicate event
// delivery a no-op.
package run

import "errors"

// ErrStaleState is returned by Save when the stored state differs from the
// expected one, or when creating a run that already exists.
var ErrStaleState = errors.New("saga run state changed concurrently")
