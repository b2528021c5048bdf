package internal

import (
	"github.com/cockroachdb/errors"
)

// Relay error taxonomy. Failures are marked with one of these so that they can be
// classified with errors.Is after any amount of wrapping.
var (
	ErrDecode          = errors.New("decode error")
	ErrSubscription    = errors.New("subscription error")
	ErrAcknowledgement = errors.New("acknowledgement error")
)

func markDecode(err error) error {
	return errors.Mark(err, ErrDecode)
}
