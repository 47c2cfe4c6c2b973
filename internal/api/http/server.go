package apihttp

import (
	"context"
	"log/slog"
	"net/http"

	"webtorrent/internal/app"
	"webtorrent/internal/domain"
	"webtorrent/internal/usecase"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type CreateTorrentUseCase interface {
	Execute(ctx context.Context, src domain.TorrentSource) (domain.TorrentState, error)
}

type DeleteTorrentUseCase interface {
	Execute(ctx context.Context, id domain.TorrentID) error
}

type GetTorrentStateUseCase interface {
	Execute(ctx context.Context, id domain.TorrentID) (domain.TorrentState, error)
}

type ListTorrentStatesUseCase interface {
	Execute(ctx context.Context) ([]domain.TorrentState, error)
}

type ListFilesUseCase interface {
	Execute(ctx context.Context, id domain.TorrentID) ([]domain.FileState, error)
}

type SelectFileUseCase interface {
	Execute(ctx context.Context, id domain.TorrentID, index int, priority bool) (domain.FileState, error)
}

type DeselectFileUseCase interface {
	Execute(ctx context.Context, id domain.TorrentID, index int) (domain.FileState, error)
}

type StreamFileUseCase interface {
	Execute(ctx context.Context, id domain.TorrentID, index int, opts domain.StreamOptions) (usecase.StreamResult, error)
}

type StorageSettingsController interface {
	Get() app.StorageSettingsView
	Update(settings app.StorageSettings) error
}

type Server struct {
	createTorrent  CreateTorrentUseCase
	deleteTorrent  DeleteTorrentUseCase
	getState       GetTorrentStateUseCase
	listStates     ListTorrentStatesUseCase
	listFiles      ListFilesUseCase
	selectFile     SelectFileUseCase
	deselectFile   DeselectFileUseCase
	streamFile     StreamFileUseCase
	storage        StorageSettingsController
	allowedOrigins []string
	rateLimitRPS   float64
	rateLimitBurst int
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
}

type ServerOption func(*Server)

func WithDeleteTorrent(uc DeleteTorrentUseCase) ServerOption {
	return func(s *Server) {
		s.deleteTorrent = uc
	}
}

func WithGetTorrentState(uc GetTorrentStateUseCase) ServerOption {
	return func(s *Server) {
		s.getState = uc
	}
}

func WithListTorrentStates(uc ListTorrentStatesUseCase) ServerOption {
	return func(s *Server) {
		s.listStates = uc
	}
}

func WithListFiles(uc ListFilesUseCase) ServerOption {
	return func(s *Server) {
		s.listFiles = uc
	}
}

func WithSelectFile(uc SelectFileUseCase) ServerOption {
	return func(s *Server) {
		s.selectFile = uc
	}
}

func WithDeselectFile(uc DeselectFileUseCase) ServerOption {
	return func(s *Server) {
		s.deselectFile = uc
	}
}

func WithStreamFile(uc StreamFileUseCase) ServerOption {
	return func(s *Server) {
		s.streamFile = uc
	}
}

func WithStorageSettings(ctrl StorageSettingsController) ServerOption {
	return func(s *Server) {
		s.storage = ctrl
	}
}

// WithAllowedOrigins restricts CORS to the given origins. An empty list
// allows any origin.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.rateLimitRPS = rps
			s.rateLimitBurst = burst
		}
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(create CreateTorrentUseCase, opts ...ServerOption) *Server {
	s := &Server{
		createTorrent:  create,
		rateLimitRPS:   50,
		rateLimitBurst: 100,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/torrents", s.handleTorrents)
	mux.HandleFunc("/torrents/", s.handleTorrentByID)
	mux.HandleFunc("/settings/storage", s.handleStorageSettings)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "webtorrent",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/metrics"
		}),
	)
	s.handler = recoveryMiddleware(s.logger,
		rateLimitMiddleware(s.rateLimitRPS, s.rateLimitBurst,
			metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{hub: s.wsHub, conn: conn, send: make(chan []byte, 64)}
	s.wsHub.register <- client
	go client.writePump()
	go client.readPump()
}

// BroadcastStates pushes torrent and file progress to every connected
// WebSocket client.
func (s *Server) BroadcastStates(states []domain.TorrentState) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.BroadcastStates(states)
}

// BroadcastCurrentStates lists the current states and broadcasts them.
// Listing is skipped when nobody is connected.
func (s *Server) BroadcastCurrentStates(ctx context.Context) {
	if s.wsHub == nil || s.listStates == nil || s.wsHub.clientCount() == 0 {
		return
	}
	states, err := s.listStates.Execute(ctx)
	if err != nil {
		s.logger.Debug("ws broadcast states failed", slog.String("error", err.Error()))
		return
	}
	s.wsHub.BroadcastStates(states)
}

// Close disconnects all WebSocket clients.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}
