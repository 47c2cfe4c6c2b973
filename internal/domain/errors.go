package domain

import "errors"

var ErrNotFound = errors.New("not found")
var ErrUnsupported = errors.New("unsupported operation")

var (
	ErrInvalidGeometry = errors.New("invalid file geometry")
	ErrInvalidRange    = errors.New("invalid byte range")
	ErrFileDestroyed   = errors.New("file destroyed")
	ErrStoreDestroyed  = errors.New("store destroyed")
)
