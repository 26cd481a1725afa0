package voice

import "errors"

var (
	ErrNoRoom       = errors.New("room id required")
	ErrNotActive    = errors.New("no active session")
	ErrJoinAborted  = errors.New("join aborted")
	ErrJoinRejected = errors.New("join rejected by relay")
)
