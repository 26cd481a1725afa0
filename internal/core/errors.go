package core

import (
	"errors"
	"fmt"
)

var ErrMediaUnavailable = errors.New("media unavailable")

// CapabilityError reports that local media could not be acquired.
type CapabilityError struct {
	Err error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability: %v", e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

func (e *CapabilityError) Is(target error) bool { return target == ErrMediaUnavailable }
