package ports

import (
	"context"
	"io"
)

type StreamReader interface {
	io.ReadSeekCloser
	SetContext(context.Context)
	// Notify wakes reads blocked on piece data that has not arrived yet.
	Notify()
}
