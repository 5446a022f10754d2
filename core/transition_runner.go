package core

import (
	"context"
	"errors"
	"strings"
)

const defaultMaxTransitionAttempts = 32

// transitionFunc computes the next record from a fresh read. Returning
// changed=false skips the write.
type transitionFunc[R any] func(current R) (next R, changed bool, err error)

type transitionResult[R any] struct {
	Record    R
	Changed   bool
	Conflicts int
}

// runTransition applies fn under optimistic concurrency: read, compute,
// compare-and-set, and start over from a fresh read when another writer won.
func runTransition[R any, P recordPointer[R]](
	ctx context.Context,
	store ProcessStore[R],
	id string,
	maxAttempts int,
	fn transitionFunc[R],
) (transitionResult[R], error) {
	var result transitionResult[R]
	id = strings.TrimSpace(id)
	if id == "" {
		return result, malformed("process id is required")
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxTransitionAttempts
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		current, version, err := store.GetForUpdate(ctx, id)
		if err != nil {
			return result, err
		}
		result.Record = current

		next, changed, err := fn(P(&current).Clone())
		if err != nil {
			return result, err
		}
		if !changed {
			return result, nil
		}

		ok, err := store.CompareAndSet(ctx, id, version, next)
		if err != nil && !errors.Is(err, ErrStoreConflict) {
			return result, err
		}
		if ok && err == nil {
			P(&next).Base().Version = version + 1
			result.Record = next
			result.Changed = true
			return result, nil
		}
		result.Conflicts++
	}
	return result, ErrTransitionContention
}
