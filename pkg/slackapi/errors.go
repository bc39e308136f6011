package slackapi

import (
	"errors"
	"fmt"

	"github.com/slack-go/slack"
)

// RemoteAPIError is returned whenever the platform reports a non-success
// response. Code carries the platform's error string ("channel_not_found",
// "invalid_auth", ...). The client never retries these.
type RemoteAPIError struct {
	Op   string
	Code string
	Err  error
}

func (e *RemoteAPIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("slack %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("slack %s: %v", e.Op, e.Err)
}

func (e *RemoteAPIError) Unwrap() error { return e.Err }

// wrapAPIError converts a slack-go error into a RemoteAPIError, pulling the
// platform error code out when one is present.
func wrapAPIError(op string, err error) error {
	if err == nil {
		return nil
	}
	var serr slack.SlackErrorResponse
	if errors.As(err, &serr) {
		return &RemoteAPIError{Op: op, Code: serr.Err, Err: err}
	}
	return &RemoteAPIError{Op: op, Err: err}
}
