package node

import "errors"

var (
	ErrAlreadyClosed = errors.New("node: already closed")
	ErrUnknownAction = errors.New("node: unknown control action")
)
