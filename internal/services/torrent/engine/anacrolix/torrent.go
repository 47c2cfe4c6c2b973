package anacrolix

import (
	"context"
	"errors"
	"path"

	"github.com/anacrolix/torrent"

	"webtorrent/internal/domain"
)

var errFileIndex = errors.New("file index out of range")

// pieceTorrent is the part of a *torrent.Torrent the Store drives.
type pieceTorrent interface {
	PieceLength() int64
	NumPieces() int
	PieceComplete(index int) bool
	PieceBytesMissing(index int) int64
	SetPiecePriority(index int, prio torrent.PiecePriority)
	NewFileReader(fileIndex int) (fileReader, error)
}

// fileReader is the subset of torrent.Reader used for streams.
type fileReader interface {
	Read(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Close() error
	SetContext(ctx context.Context)
	SetReadahead(n int64)
	SetResponsive()
}

type torrentHandle struct {
	t *torrent.Torrent
}

func (h torrentHandle) PieceLength() int64                { return h.t.Info().PieceLength }
func (h torrentHandle) NumPieces() int                    { return h.t.NumPieces() }
func (h torrentHandle) PieceComplete(index int) bool      { return h.t.PieceState(index).Complete }
func (h torrentHandle) PieceBytesMissing(index int) int64 { return h.t.PieceBytesMissing(index) }

func (h torrentHandle) SetPiecePriority(index int, prio torrent.PiecePriority) {
	h.t.Piece(index).SetPriority(prio)
}

func (h torrentHandle) NewFileReader(fileIndex int) (fileReader, error) {
	files := h.t.Files()
	if fileIndex < 0 || fileIndex >= len(files) {
		return nil, errFileIndex
	}
	return files[fileIndex].NewReader(), nil
}

func mapFiles(t *torrent.Torrent) []domain.FileInfo {
	files := t.Files()
	mapped := make([]domain.FileInfo, 0, len(files))
	for i, f := range files {
		mapped = append(mapped, domain.FileInfo{
			Index:  i,
			Name:   path.Base(f.DisplayPath()),
			Path:   f.DisplayPath(),
			Length: f.Length(),
			Offset: f.Offset(),
		})
	}
	return mapped
}

func torrentInfoReady(t *torrent.Torrent) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}
