package ports

import (
	"context"

	"webtorrent/internal/domain"
)

// File is one file of an open torrent.
type File interface {
	Info() domain.FileInfo
	State() domain.FileState
	Downloaded() int64
	Progress() float64
	Done() <-chan struct{}
	Select(priority bool)
	Deselect()
	// SetSelection replaces the file's standing selections with a single
	// one, or with none when selected is false.
	SetSelection(selected, priority bool)
	Selected() bool
	CreateReadStream(ctx context.Context, opts domain.StreamOptions) (StreamReader, error)
	Destroy()
}

type Engine interface {
	Open(ctx context.Context, src domain.TorrentSource) (domain.TorrentID, error)
	Close() error
	ListTorrents(ctx context.Context) ([]domain.TorrentID, error)
	GetTorrentState(ctx context.Context, id domain.TorrentID) (domain.TorrentState, error)
	Files(ctx context.Context, id domain.TorrentID) ([]File, error)
	Remove(ctx context.Context, id domain.TorrentID) error
}
