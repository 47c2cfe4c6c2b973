package usecase

import (
	"context"

	"webtorrent/internal/domain"
	"webtorrent/internal/domain/ports"
)

func lookupFile(ctx context.Context, engine ports.Engine, id domain.TorrentID, index int) (ports.File, error) {
	if engine == nil {
		return nil, errNoEngine
	}
	files, err := engine.Files(ctx, id)
	if err != nil {
		return nil, engineError(err)
	}
	if index < 0 || index >= len(files) {
		return nil, ErrInvalidFileIndex
	}
	return files[index], nil
}

type ListFiles struct {
	Engine ports.Engine
}

func (uc ListFiles) Execute(ctx context.Context, id domain.TorrentID) ([]domain.FileState, error) {
	if uc.Engine == nil {
		return nil, errNoEngine
	}
	files, err := uc.Engine.Files(ctx, id)
	if err != nil {
		return nil, engineError(err)
	}
	states := make([]domain.FileState, 0, len(files))
	for _, f := range files {
		states = append(states, f.State())
	}
	return states, nil
}

type SelectFile struct {
	Engine ports.Engine
}

func (uc SelectFile) Execute(ctx context.Context, id domain.TorrentID, index int, priority bool) (domain.FileState, error) {
	f, err := lookupFile(ctx, uc.Engine, id, index)
	if err != nil {
		return domain.FileState{}, err
	}
	f.SetSelection(true, priority)
	return f.State(), nil
}

type DeselectFile struct {
	Engine ports.Engine
}

func (uc DeselectFile) Execute(ctx context.Context, id domain.TorrentID, index int) (domain.FileState, error) {
	f, err := lookupFile(ctx, uc.Engine, id, index)
	if err != nil {
		return domain.FileState{}, err
	}
	f.SetSelection(false, false)
	return f.State(), nil
}

type StreamResult struct {
	Reader ports.StreamReader
	File   domain.FileInfo
}

type StreamFile struct {
	Engine ports.Engine
}

// Execute opens a stream over the file. The caller must Close the reader;
// the stream's priority boost lasts until then, or until ctx is done.
func (uc StreamFile) Execute(ctx context.Context, id domain.TorrentID, index int, opts domain.StreamOptions) (StreamResult, error) {
	f, err := lookupFile(ctx, uc.Engine, id, index)
	if err != nil {
		return StreamResult{}, err
	}
	reader, err := f.CreateReadStream(ctx, opts)
	if err != nil {
		return StreamResult{}, engineError(err)
	}
	return StreamResult{Reader: reader, File: f.Info()}, nil
}
