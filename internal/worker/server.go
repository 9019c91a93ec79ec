// Package worker serves the job socket that distributed executors dial.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/autobiz/abp/backend/internal/executor"
	"github.com/autobiz/abp/backend/internal/middleware"
	"github.com/autobiz/abp/backend/internal/platform/workerauth"
	"github.com/autobiz/abp/backend/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 20 * time.Second
)

// Options configures a worker node.
type Options struct {
	Name   string
	CPUs   float64
	Secret []byte
}

// Server runs registered calls received over WebSocket. Each call acquires
// its profile's CPU weight from a semaphore sized to the node's capacity.
type Server struct {
	registry *executor.Registry
	name     string
	secret   []byte
	capacity int64
	sem      *semaphore.Weighted
	logger   *zap.Logger
	upgrader websocket.Upgrader

	inflight  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	started   time.Time
}

// New creates a worker server.
func New(registry *executor.Registry, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CPUs <= 0 {
		opts.CPUs = 1
	}
	name := opts.Name
	if name == "" {
		name, _ = os.Hostname()
	}
	capacity := int64(opts.CPUs * 1000)
	return &Server{
		registry: registry,
		name:     name,
		secret:   opts.Secret,
		capacity: capacity,
		sem:      semaphore.NewWeighted(capacity),
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		started: time.Now(),
	}
}

// Routes returns the worker's HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws/jobs", s.handleJobs)
	return r
}

// Health is the /healthz payload.
type Health struct {
	Name          string   `json:"name"`
	CapacityMilli int64    `json:"capacityMilliCpu"`
	InFlight      int64    `json:"inFlight"`
	Completed     int64    `json:"completed"`
	Failed        int64    `json:"failed"`
	Kinds         []string `json:"kinds"`
	UptimeSeconds int64    `json:"uptimeSeconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	kinds := s.registry.Kinds()
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		if !k.LocalOnly {
			names = append(names, k.Name)
		}
	}
	utils.RespondJSON(w, http.StatusOK, Health{
		Name:          s.name,
		CapacityMilli: s.capacity,
		InFlight:      s.inflight.Load(),
		Completed:     s.completed.Load(),
		Failed:        s.failed.Load(),
		Kinds:         names,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if len(s.secret) > 0 {
		node, err := workerauth.Verify(s.secret, workerauth.FromRequest(r))
		if err != nil {
			s.logger.Warn("rejected job socket", zap.String("remote", r.RemoteAddr), zap.Error(err))
			utils.RespondError(w, http.StatusUnauthorized, "invalid worker token")
			return
		}
		s.logger.Debug("job socket authenticated", zap.String("node", node))
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	sess := &session{server: s, conn: conn, running: make(map[string]context.CancelFunc)}
	sess.serve(ctx)
	cancel()
	sess.wg.Wait()
	conn.Close()
}

type session struct {
	server *Server
	conn   *websocket.Conn

	writeMu sync.Mutex
	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func (ss *session) serve(ctx context.Context) {
	logger := ss.server.logger

	ss.conn.SetReadDeadline(time.Now().Add(readTimeout))
	ss.conn.SetPongHandler(func(string) error {
		return ss.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	// coordinators ping us; answering keeps their read deadline alive
	ss.conn.SetPingHandler(func(data string) error {
		ss.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return ss.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
	})

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go ss.pingLoop(pingCtx)

	for {
		var req executor.Request
		if err := ss.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("job socket read failed", zap.Error(err))
			}
			ss.cancelAll()
			return
		}
		ss.conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch req.Type {
		case executor.MessageCancel:
			ss.cancel(req.ID)
		case "", executor.MessageRun:
			ss.start(ctx, req)
		default:
			ss.reply(executor.Response{ID: req.ID, Error: "unsupported message type " + req.Type, Worker: ss.server.name})
		}
	}
}

func (ss *session) start(ctx context.Context, req executor.Request) {
	s := ss.server
	kind, ok := s.registry.Lookup(req.Kind)
	if !ok || kind.LocalOnly {
		ss.reply(executor.Response{ID: req.ID, Unknown: true, Error: "unknown kind " + req.Kind, Worker: s.name})
		return
	}

	profile := kind.Profile
	if p, ok := executor.ProfileByName(req.Profile); ok {
		profile = p
	}
	weight := profile.MilliCPU()
	if weight > s.capacity {
		weight = s.capacity
	}

	callCtx, cancel := context.WithCancel(ctx)
	ss.mu.Lock()
	ss.running[req.ID] = cancel
	ss.mu.Unlock()

	ss.wg.Add(1)
	go func() {
		defer ss.wg.Done()
		defer ss.forget(req.ID)
		defer cancel()

		resp := s.run(callCtx, req, weight)
		ss.reply(resp)
	}()
}

func (s *Server) run(ctx context.Context, req executor.Request, weight int64) executor.Response {
	start := time.Now()
	resp := executor.Response{ID: req.ID, Worker: s.name}

	if err := s.sem.Acquire(ctx, weight); err != nil {
		resp.Error = err.Error()
		s.failed.Add(1)
		return resp
	}
	defer s.sem.Release(weight)

	s.inflight.Add(1)
	defer s.inflight.Add(-1)

	output, err := s.invoke(ctx, req)
	resp.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		if errors.Is(err, executor.ErrUnknownKind) {
			resp.Unknown = true
		}
		resp.Error = err.Error()
		s.failed.Add(1)
		s.logger.Info("call failed", zap.String("id", req.ID), zap.String("kind", req.Kind), zap.Error(err))
		return resp
	}
	resp.Output = output
	s.completed.Add(1)
	s.logger.Debug("call completed", zap.String("id", req.ID), zap.String("kind", req.Kind), zap.Int64("ms", resp.DurationMs))
	return resp
}

func (s *Server) invoke(ctx context.Context, req executor.Request) (out json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("call panicked", zap.String("kind", req.Kind), zap.Any("panic", r))
			err = errors.New("handler panicked")
		}
	}()
	return s.registry.Invoke(ctx, executor.Call{Kind: req.Kind, Payload: req.Payload})
}

func (ss *session) reply(resp executor.Response) {
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()
	ss.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ss.conn.WriteJSON(resp); err != nil {
		ss.server.logger.Debug("reply dropped", zap.String("id", resp.ID), zap.Error(err))
	}
}

func (ss *session) cancel(id string) {
	ss.mu.Lock()
	cancel, ok := ss.running[id]
	ss.mu.Unlock()
	if ok {
		cancel()
	}
}

func (ss *session) forget(id string) {
	ss.mu.Lock()
	delete(ss.running, id)
	ss.mu.Unlock()
}

func (ss *session) cancelAll() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for _, cancel := range ss.running {
		cancel()
	}
}

func (ss *session) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ss.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
