package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dnstapir/telemetry-dashboard/app/ingestor"
	"github.com/dnstapir/telemetry-dashboard/shared"
)

/* Anything that can hand out ingestor snapshots, normally *ingestor.Ingestor */
type SourceIF interface {
	Snapshot() ingestor.Snapshot
}

type Conf struct {
	Log    shared.LoggerIF
	Addr   string
	Source SourceIF
}

type server struct {
	log    shared.LoggerIF
	addr   string
	source SourceIF
	srv    *http.Server

	mu       sync.Mutex
	listener net.Listener
}

type snapshotResponse struct {
	ingestor.Snapshot
	Index []int `json:"index"`
}

type healthResponse struct {
	State ingestor.ConnectionState `json:"state"`
}

const cREAD_HEADER_TIMEOUT = 5 * time.Second

func Create(conf Conf) (*server, error) {
	newServer := new(server)

	if conf.Log == nil {
		return nil, errors.New("nil logger when creating api server")
	}
	newServer.log = conf.Log

	if conf.Source == nil {
		return nil, errors.New("no snapshot source")
	}
	newServer.source = conf.Source

	if conf.Addr == "" {
		return nil, errors.New("no listen address")
	}
	newServer.addr = conf.Addr

	newServer.srv = &http.Server{
		Addr:              conf.Addr,
		Handler:           newServer.Handler(),
		ReadHeaderTimeout: cREAD_HEADER_TIMEOUT,
	}

	return newServer, nil
}

func (s *server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/topics/{topic...}", s.handleTopic)
	mux.HandleFunc("GET /health", s.handleHealth)

	return corsMiddleware(mux)
}

/* Start binds the listen address and serves in the background */
func (s *server) Start() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	s.log.Info("HTTP api listening on '%s'", l.Addr())

	go func() {
		err := s.srv.Serve(l)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP api stopped: %s", err)
		}
	}()

	return nil
}

/* Addr is the bound address once started, useful with port 0 */
func (s *server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return s.addr
	}

	return s.listener.Addr().String()
}

func (s *server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.source.Snapshot()

	s.writeJSON(w, http.StatusOK, snapshotResponse{
		Snapshot: snap,
		Index:    snap.Index(),
	})
}

func (s *server) handleTopic(w http.ResponseWriter, r *http.Request) {
	topic := r.PathValue("topic")

	snap := s.source.Snapshot()
	ts, ok := snap.Topics[topic]
	if !ok {
		http.Error(w, "unknown topic", http.StatusNotFound)
		return
	}

	s.writeJSON(w, http.StatusOK, ts)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.source.Snapshot().State

	status := http.StatusOK
	if state != ingestor.CONNECTED {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, healthResponse{State: state})
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		s.log.Error("Error writing JSON response: %s", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
