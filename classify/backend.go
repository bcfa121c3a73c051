package classify

import (
	"context"
	"net/http"

	"github.com/cenkalti/backoff/v4"
)

// Backend sends a prompt to one AI service and returns its raw answer.
// Errors wrapped with backoff.Permanent are not retried.
type Backend interface {
	Model() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// transient reports whether an HTTP status is worth retrying.
func transient(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// withStatus marks err permanent unless status is transient. A zero status
// means the request never got an answer and is retried.
func withStatus(err error, status int) error {
	if status == 0 || transient(status) {
		return err
	}
	return backoff.Permanent(err)
}
