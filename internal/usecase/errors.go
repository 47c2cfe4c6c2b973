package usecase

import (
	"errors"
	"fmt"

	"webtorrent/internal/domain"
)

var (
	ErrEngine           = errors.New("engine error")
	ErrInvalidFileIndex = errors.New("invalid file index")
	ErrInvalidSource    = errors.New("invalid torrent source")
)

var errNoEngine = errors.New("engine not configured")

func wrapEngine(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrEngine, err)
}

// engineError passes domain sentinels the caller maps itself through
// unchanged and wraps everything else.
func engineError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidRange),
		errors.Is(err, domain.ErrFileDestroyed),
		errors.Is(err, domain.ErrUnsupported):
		return err
	default:
		return wrapEngine(err)
	}
}
