package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deenoize/crypto-p2p-ai/internal/adapter"
	"github.com/deenoize/crypto-p2p-ai/internal/logger"
	"github.com/deenoize/crypto-p2p-ai/internal/poller"
	"github.com/deenoize/crypto-p2p-ai/internal/publish"
)

const (
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	pongTimeout  = 60 * time.Second
)

// Server exposes polling results to the presentation layer:
//
//	GET  /health    liveness
//	GET  /snapshot  latest cycle as JSON (?pair=ASSET-FIAT)
//	GET  /ws        websocket stream of cycles (?pair=ASSET-FIAT)
//	POST /pair      switch the polled pair
type Server struct {
	bc    *publish.Broadcaster
	pairs chan<- adapter.PairSpec
	log   *logger.Logger

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	latest   map[string][]byte // pair key -> encoded Result
	current  string            // key of the most recent cycle
	selected string            // key of the last requested pair, empty until a switch
}

// New creates a Server. pairs receives pair switches and may be nil, in
// which case POST /pair is rejected.
func New(bc *publish.Broadcaster, pairs chan<- adapter.PairSpec, log *logger.Logger) *Server {
	return &Server{
		bc:    bc,
		pairs: pairs,
		log:   log.With(logger.F("component", "server")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		latest: make(map[string][]byte),
	}
}

// Track records the latest result per pair from feed until ctx is
// cancelled or the feed closes.
func (s *Server) Track(ctx context.Context, feed <-chan poller.Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-feed:
			if !ok {
				return
			}
			s.store(res)
		}
	}
}

func (s *Server) store(res poller.Result) {
	body, err := json.Marshal(res)
	if err != nil {
		s.log.Error(err, logger.F("cycle_id", res.CycleID))
		return
	}
	key := res.Pair.Key()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected != "" && key != s.selected {
		s.log.Debug("ignoring result for deselected pair", logger.F("pair", key), logger.F("cycle_id", res.CycleID))
		return
	}
	s.latest[key] = body
	s.current = key
}

// selectPair makes key the only pair whose results are served. Results of
// every other pair are forgotten, so /snapshot answers 503 until the first
// cycle of key lands.
func (s *Server) selectPair(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = key
	s.current = key
	for k := range s.latest {
		if k != key {
			delete(s.latest, k)
		}
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("POST /pair", s.handlePair)
	return mux
}

// ListenAndServe serves Handler on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", logger.F("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	key := r.URL.Query().Get("pair")
	if key == "" {
		key = s.current
	}
	body, ok := s.latest[strings.ToUpper(key)]
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "no completed cycle yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

type pairRequest struct {
	Asset          string   `json:"asset"`
	Fiat           string   `json:"fiat"`
	PaymentMethods []string `json:"paymentMethods"`
	MerchantOnly   bool     `json:"merchantOnly"`
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	if s.pairs == nil {
		http.Error(w, "pair switching disabled", http.StatusNotImplemented)
		return
	}

	var req pairRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	pair := adapter.PairSpec{
		Asset:          strings.ToUpper(strings.TrimSpace(req.Asset)),
		Fiat:           strings.ToUpper(strings.TrimSpace(req.Fiat)),
		PaymentMethods: req.PaymentMethods,
		MerchantOnly:   req.MerchantOnly,
	}
	if pair.Asset == "" || pair.Fiat == "" {
		http.Error(w, "asset and fiat are required", http.StatusBadRequest)
		return
	}

	select {
	case s.pairs <- pair:
	case <-r.Context().Done():
		return
	case <-time.After(time.Second):
		http.Error(w, "poller busy", http.StatusServiceUnavailable)
		return
	}

	s.selectPair(pair.Key())
	s.log.Info("pair switch requested", logger.F("pair", pair.String()))
	w.WriteHeader(http.StatusAccepted)
}

// handleWS streams every result for the requested pair (all pairs when
// none is given) to the client until either side goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", logger.F("reason", err.Error()))
		return
	}
	defer conn.Close()

	feed, unsubscribe := s.bc.Subscribe(strings.ToUpper(r.URL.Query().Get("pair")), 4)
	defer unsubscribe()

	// The read loop only services control frames and detects disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case res, ok := <-feed:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(res); err != nil {
				s.log.Debug("websocket write failed", logger.F("reason", err.Error()))
				return
			}
		}
	}
}
