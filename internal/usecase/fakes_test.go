package usecase

import (
	"context"
	"io"
	"strings"

	"webtorrent/internal/domain"
	"webtorrent/internal/domain/ports"
)

type fakeEngine struct {
	openID   domain.TorrentID
	openErr  error
	opened   []domain.TorrentSource
	states   map[domain.TorrentID]domain.TorrentState
	files    map[domain.TorrentID][]ports.File
	list     []domain.TorrentID
	listErr  error
	stateErr error
	removed  []domain.TorrentID
}

func (f *fakeEngine) Open(ctx context.Context, src domain.TorrentSource) (domain.TorrentID, error) {
	f.opened = append(f.opened, src)
	return f.openID, f.openErr
}

func (f *fakeEngine) Close() error { return nil }

func (f *fakeEngine) ListTorrents(ctx context.Context) ([]domain.TorrentID, error) {
	return f.list, f.listErr
}

func (f *fakeEngine) GetTorrentState(ctx context.Context, id domain.TorrentID) (domain.TorrentState, error) {
	if f.stateErr != nil {
		return domain.TorrentState{}, f.stateErr
	}
	state, ok := f.states[id]
	if !ok {
		return domain.TorrentState{}, domain.ErrNotFound
	}
	return state, nil
}

func (f *fakeEngine) Files(ctx context.Context, id domain.TorrentID) ([]ports.File, error) {
	files, ok := f.files[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return files, nil
}

func (f *fakeEngine) Remove(ctx context.Context, id domain.TorrentID) error {
	if _, ok := f.states[id]; !ok {
		return domain.ErrNotFound
	}
	f.removed = append(f.removed, id)
	return nil
}

type fakeFile struct {
	info      domain.FileInfo
	selected  []bool
	deselects int
	chosen    bool
	streamErr error
	streams   []domain.StreamOptions
}

func (f *fakeFile) Info() domain.FileInfo { return f.info }
func (f *fakeFile) Downloaded() int64     { return 0 }
func (f *fakeFile) Progress() float64     { return 0 }
func (f *fakeFile) Done() <-chan struct{} { return nil }
func (f *fakeFile) Select(priority bool)  { f.selected = append(f.selected, priority) }
func (f *fakeFile) Deselect()             { f.deselects++ }
func (f *fakeFile) Destroy()              {}

func (f *fakeFile) SetSelection(selected, priority bool) {
	if selected {
		f.selected = append(f.selected, priority)
	} else {
		f.deselects++
	}
	f.chosen = selected
}

func (f *fakeFile) Selected() bool { return f.chosen }

func (f *fakeFile) State() domain.FileState {
	return domain.FileState{FileInfo: f.info, Selected: f.Selected()}
}

func (f *fakeFile) CreateReadStream(ctx context.Context, opts domain.StreamOptions) (ports.StreamReader, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	f.streams = append(f.streams, opts)
	return nopStream{strings.NewReader("data")}, nil
}

type nopStream struct{ *strings.Reader }

func (nopStream) Close() error               { return nil }
func (nopStream) SetContext(context.Context) {}
func (nopStream) Notify()                    {}

var _ io.ReadSeekCloser = nopStream{}
