package distrobaker

import (
	"context"

	"golang.org/x/xerrors"
)

// Retry encapsulates the cross-cutting retry discipline used by the git,
// lookaside, and configuration-loading collaborators (spec §4.3, §4.5,
// §4.6, §9): attempt an operation up to n times, logging a warning between
// attempts, and returning a wrapped error once attempts are exhausted.
//
// warn is called with the 1-based attempt number and the error from that
// attempt; it may be nil.
func Retry(ctx context.Context, n int, op func(attempt int) error, warn func(attempt int, err error)) error {
	if n < 1 {
		n = 1
	}
	var lastErr error
	for attempt := 1; attempt <= n; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(attempt)
		if lastErr == nil {
			return nil
		}
		if attempt < n && warn != nil {
			warn(attempt, lastErr)
		}
	}
	return xerrors.Errorf("exhausted %d attempt(s): %w", n, lastErr)
}
