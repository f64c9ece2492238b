//go:build !unix

package poller

import (
	"fmt"

	"spdev/internal/errors"
)

func newPoll() (Waiter, error) {
	return nil, fmt.Errorf("poller %s: %w", BackendPoll, errors.ErrUnsupported)
}

func newSelect() (Waiter, error) {
	return nil, fmt.Errorf("poller %s: %w", BackendSelect, errors.ErrUnsupported)
}
