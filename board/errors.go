package board

import "errors"

// ErrConflict marks a mutation rejected by a board rule, such as an
// agent trying to move a task to done. The task is left unchanged.
var ErrConflict = errors.New("conflict")

// ErrValidation marks malformed input, rejected before any state
// change.
var ErrValidation = errors.New("invalid request")
