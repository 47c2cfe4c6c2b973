package usecase

import (
	"context"
	"errors"
	"strings"

	"webtorrent/internal/domain"
	"webtorrent/internal/domain/ports"
)

type CreateTorrent struct {
	Engine ports.Engine
}

func (uc CreateTorrent) Execute(ctx context.Context, src domain.TorrentSource) (domain.TorrentState, error) {
	if err := validateSource(src); err != nil {
		return domain.TorrentState{}, err
	}
	if uc.Engine == nil {
		return domain.TorrentState{}, errNoEngine
	}
	id, err := uc.Engine.Open(ctx, src)
	if err != nil {
		return domain.TorrentState{}, wrapEngine(err)
	}
	state, err := uc.Engine.GetTorrentState(ctx, id)
	if err != nil {
		return domain.TorrentState{}, engineError(err)
	}
	return state, nil
}

func validateSource(src domain.TorrentSource) error {
	magnet := strings.TrimSpace(src.Magnet)
	hasTorrent := strings.TrimSpace(src.Torrent) != ""
	if (magnet != "") == hasTorrent {
		return ErrInvalidSource
	}
	if magnet != "" && !strings.HasPrefix(strings.ToLower(magnet), "magnet:") {
		return ErrInvalidSource
	}
	return nil
}

type GetTorrentState struct {
	Engine ports.Engine
}

func (uc GetTorrentState) Execute(ctx context.Context, id domain.TorrentID) (domain.TorrentState, error) {
	if uc.Engine == nil {
		return domain.TorrentState{}, errNoEngine
	}
	state, err := uc.Engine.GetTorrentState(ctx, id)
	if err != nil {
		return domain.TorrentState{}, engineError(err)
	}
	return state, nil
}

type ListTorrentStates struct {
	Engine ports.Engine
}

// Execute skips torrents removed between listing and reading their state.
func (uc ListTorrentStates) Execute(ctx context.Context) ([]domain.TorrentState, error) {
	if uc.Engine == nil {
		return nil, errNoEngine
	}
	ids, err := uc.Engine.ListTorrents(ctx)
	if err != nil {
		return nil, wrapEngine(err)
	}
	states := make([]domain.TorrentState, 0, len(ids))
	for _, id := range ids {
		state, err := uc.Engine.GetTorrentState(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, wrapEngine(err)
		}
		states = append(states, state)
	}
	return states, nil
}

type DeleteTorrent struct {
	Engine ports.Engine
}

func (uc DeleteTorrent) Execute(ctx context.Context, id domain.TorrentID) error {
	if uc.Engine == nil {
		return errNoEngine
	}
	return engineError(uc.Engine.Remove(ctx, id))
}
