package torrentfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"webtorrent/internal/domain"
	"webtorrent/internal/domain/ports"
	"webtorrent/internal/metrics"
	"webtorrent/internal/telemetry"
)

const (
	releaseReasonReleased       = "released"
	releaseReasonFileDestroyed  = "file_destroyed"
	releaseReasonStoreDestroyed = "store_destroyed"
)

// CreateReadStream opens a stream over the file's bytes, optionally limited
// to opts. While the stream is open the store downloads the file's pieces at
// high priority and wakes the stream as they arrive. The boost is released
// exactly once, when the stream hits EOF, fails, is closed or ctx is done.
func (f *File) CreateReadStream(ctx context.Context, opts domain.StreamOptions) (ports.StreamReader, error) {
	if f.info.Length == 0 {
		return endedStream{}, nil
	}
	if _, _, ok := opts.Bounds(f.info.Length); !ok {
		return nil, fmt.Errorf("%w: %d-%d of %d bytes", domain.ErrInvalidRange, opts.Start, opts.End, f.info.Length)
	}

	_, span := telemetry.Tracer().Start(ctx, "torrentfile.CreateReadStream", trace.WithAttributes(
		attribute.String("file.path", f.info.Path),
		attribute.Int64("file.length", f.info.Length),
		attribute.Int("file.start_piece", f.pieces.Start),
		attribute.Int("file.end_piece", f.pieces.End),
	))
	defer span.End()

	var (
		reader ports.StreamReader
		id     domain.SelectionID
		err    error
	)
	attached := f.withStore(func(store ports.Store) {
		reader, err = store.NewStream(f.info, opts)
		if err != nil {
			return
		}
		reader.SetContext(ctx)
		id = store.Select(f.pieces, true, reader.Notify)
	})
	if !attached {
		err = domain.ErrFileDestroyed
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	metrics.PieceSelectionsTotal.WithLabelValues("select", "stream").Inc()
	metrics.FileStreamsOpened.Inc()
	metrics.FileStreamBoostsActive.Inc()

	s := &boostedStream{StreamReader: reader, file: f, id: id}
	s.mu.Lock()
	s.stopWatch = context.AfterFunc(ctx, s.release)
	s.mu.Unlock()

	f.logger.Debug("file stream opened",
		slog.String("path", f.info.Path),
		slog.Int("startPiece", f.pieces.Start),
		slog.Int("endPiece", f.pieces.End),
		slog.Int64("start", opts.Start),
		slog.Int64("end", opts.End),
	)
	return s, nil
}

// releaseBoost undoes one stream's Select. It matches on the lifecycle under
// the read lock so Destroy cannot interleave with the deselect.
func (f *File) releaseBoost(id domain.SelectionID) string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	st, ok := f.state.(active)
	if !ok {
		return releaseReasonFileDestroyed
	}
	if st.store.Destroyed() {
		return releaseReasonStoreDestroyed
	}
	st.store.DeselectStream(id)
	metrics.PieceSelectionsTotal.WithLabelValues("deselect", "stream").Inc()
	return releaseReasonReleased
}

// boostedStream ties one priority boost to the lifetime of a reader.
type boostedStream struct {
	ports.StreamReader
	file *File
	id   domain.SelectionID

	once      sync.Once
	mu        sync.Mutex
	stopWatch func() bool
}

func (s *boostedStream) Read(p []byte) (int, error) {
	n, err := s.StreamReader.Read(p)
	if err != nil {
		// EOF and read failures are both terminal for the boost.
		s.release()
	}
	return n, err
}

func (s *boostedStream) Close() error {
	s.release()
	return s.StreamReader.Close()
}

func (s *boostedStream) release() {
	s.once.Do(func() {
		s.mu.Lock()
		stop := s.stopWatch
		s.mu.Unlock()
		if stop != nil {
			stop()
		}

		reason := s.file.releaseBoost(s.id)
		metrics.FileStreamBoostsActive.Dec()
		metrics.FileStreamsReleased.WithLabelValues(reason).Inc()
		s.file.logger.Debug("file stream released",
			slog.String("path", s.file.info.Path),
			slog.String("reason", reason),
		)
	})
}

// endedStream is the stream of an empty file: it has already ended, so the
// first Read reports EOF.
type endedStream struct{}

func (endedStream) Read([]byte) (int, error)   { return 0, io.EOF }
func (endedStream) Close() error               { return nil }
func (endedStream) SetContext(context.Context) {}
func (endedStream) Notify()                    {}

func (endedStream) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart, io.SeekCurrent, io.SeekEnd:
	default:
		return 0, errors.New("torrentfile: invalid whence")
	}
	if offset != 0 {
		return 0, errors.New("torrentfile: seek outside empty file")
	}
	return 0, nil
}
