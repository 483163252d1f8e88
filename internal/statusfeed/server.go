package statusfeed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/metacritical/termflix-sub001/internal/domain"
)

// Server exposes the current session progress over HTTP for external
// viewers. It is optional and runs only when an address is configured.
type Server struct {
	addr   string
	latest func() domain.ProgressSnapshot
	hub    *hub
	srv    *http.Server
	logger *slog.Logger
}

func NewServer(addr string, latest func() domain.ProgressSnapshot, reg *prometheus.Registry, logger *slog.Logger) *Server {
	s := &Server{
		addr:   addr,
		latest: latest,
		hub:    newHub(logger),
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled. A nil receiver is a no-op so callers
// can skip the feed without branching.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		<-ctx.Done()
		return nil
	}
	go s.hub.run()
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status feed listening", slog.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case <-ctx.Done():
		close(s.hub.done)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Publish pushes a snapshot to connected websocket clients.
func (s *Server) Publish(snap domain.ProgressSnapshot) {
	if s == nil {
		return
	}
	s.hub.broadcastSnapshot(snap)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshotJSON(s.latest()))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{hub: s.hub, conn: conn, send: make(chan []byte, 8)}
	// An upgrade racing shutdown must not block on a hub that is gone.
	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()

	// Late joiners see the current state immediately.
	data, err := json.Marshal(wsMessage{Type: "snapshot", Data: snapshotJSON(s.latest())})
	if err == nil {
		select {
		case client.send <- data:
		default:
		}
	}
}

type statusPayload struct {
	Percent         float64 `json:"percent"`
	BytesDownloaded uint64  `json:"bytesDownloaded"`
	DownloadRateBps uint64  `json:"downloadRateBps"`
	PeersConnected  uint32  `json:"peersConnected"`
	PeersTotal      uint32  `json:"peersTotal"`
	State           string  `json:"state"`
	SampledAt       string  `json:"sampledAt"`
}

func snapshotJSON(s domain.ProgressSnapshot) statusPayload {
	return statusPayload{
		Percent:         s.Percent,
		BytesDownloaded: s.BytesDownloaded,
		DownloadRateBps: s.DownloadRateBps,
		PeersConnected:  s.PeersConnected,
		PeersTotal:      s.PeersTotal,
		State:           s.State.String(),
		SampledAt:       s.SampledAt.UTC().Format(time.RFC3339),
	}
}
