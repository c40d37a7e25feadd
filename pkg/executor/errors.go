package executor

import (
	"context"
	"errors"

	"github.com/liliang-cn/rgrep/pkg/search"
	rgssh "github.com/liliang-cn/rgrep/pkg/ssh"
)

// classify maps an error from a Session or Opener to a search error.
// Errors that carry no sentinel get fallback.
func classify(err error, fallback search.Kind) *search.Error {
	var se *search.Error
	if errors.As(err, &se) {
		return se
	}

	kind := fallback
	switch {
	case errors.Is(err, rgssh.ErrAuthFailed):
		kind = search.ConnectionAuthFailed
	case errors.Is(err, rgssh.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		kind = search.ExecutionTimeout
	case errors.Is(err, rgssh.ErrUnreachable),
		errors.Is(err, rgssh.ErrHostKeyUnknown),
		errors.Is(err, rgssh.ErrHostKeyChanged):
		kind = search.ConnectionUnreachable
	}
	return search.NewError(kind, err.Error(), err)
}

// retryable reports whether a failed connect may succeed on another attempt.
// A host key mismatch is unreachable but will not fix itself.
func retryable(err error) bool {
	if errors.Is(err, rgssh.ErrHostKeyUnknown) || errors.Is(err, rgssh.ErrHostKeyChanged) {
		return false
	}
	return classify(err, search.ConnectionUnreachable).Kind == search.ConnectionUnreachable
}
