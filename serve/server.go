package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	poemlet "github.com/Paranoid-AF/poemlet"
	defaults "github.com/Paranoid-AF/poemlet/default"
	"github.com/Paranoid-AF/poemlet/generate"
)

// Poet writes a poem for a request.
type Poet interface {
	Generate(ctx context.Context, pc poemlet.PoemConfig) (*generate.Result, error)
	Close()
}

// errRateLimited is returned when the generation budget is exhausted.
var errRateLimited = errors.New("too many requests; try again shortly")

// Options tune the daemon. Zero values disable the cache and the rate limit.
type Options struct {
	CacheTTL          time.Duration
	RequestsPerMinute int
}

// OptionsFromConfig reads daemon options from the [server] section.
func OptionsFromConfig(cfg *poemlet.Config) Options {
	return Options{
		CacheTTL:          time.Duration(cfg.Server.CacheTTLMinutes) * time.Minute,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
	}
}

// sessionEntry tracks a cancellable in-flight request for a session.
type sessionEntry struct {
	requestID int
	cancel    context.CancelFunc
}

// Server listens on a Unix domain socket for poem requests.
type Server struct {
	listener net.Listener
	sockPath string
	// newPoet builds a fresh engine on "reload". Nil keeps the current engine.
	newPoet func(cfg *poemlet.Config) Poet

	// engineMu guards the engine and the cache and limiter derived from the
	// same config; "reload" replaces all three.
	engineMu sync.RWMutex
	engine   Poet
	cache    *generate.PoemCache
	limiter  *rate.Limiter

	mu       sync.Mutex
	sessions map[string]sessionEntry
}

// NewServer creates a new IPC server bound to the given socket path,
// backed by the engine described in the user's config.
func NewServer(sockPath string) (*Server, error) {
	cfg, err := poemlet.LoadConfig()
	if err != nil {
		slog.Warn("failed to load config, using defaults", "error", err)
		cfg = poemlet.DefaultConfig()
	}
	srv, err := NewServerWithPoet(sockPath, generate.NewEngineWithConfig(cfg), OptionsFromConfig(cfg))
	if err != nil {
		return nil, err
	}
	srv.newPoet = func(cfg *poemlet.Config) Poet { return generate.NewEngineWithConfig(cfg) }
	return srv, nil
}

// NewServerWithPoet creates a new IPC server with a custom Poet.
func NewServerWithPoet(sockPath string, poet Poet, opts Options) (*Server, error) {
	// Remove stale socket file if it exists
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, err
	}

	return &Server{
		listener: listener,
		sockPath: sockPath,
		engine:   poet,
		cache:    generate.NewPoemCache(opts.CacheTTL),
		limiter:  newLimiter(opts.RequestsPerMinute),
		sessions: make(map[string]sessionEntry),
	}, nil
}

// newLimiter returns nil when perMinute is not positive.
func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

// Serve accepts connections and handles requests.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close shuts down the server, the engine, and removes the socket file.
func (s *Server) Close() {
	s.engineMu.Lock()
	if s.engine != nil {
		s.engine.Close()
	}
	s.cache.Close()
	s.engineMu.Unlock()
	s.listener.Close()
	os.Remove(s.sockPath)
}

func (s *Server) current() (Poet, *generate.PoemCache, *rate.Limiter) {
	s.engineMu.RLock()
	defer s.engineMu.RUnlock()
	return s.engine, s.cache, s.limiter
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}

	raw := scanner.Bytes()
	slog.Debug("request", "data", string(raw))

	// Check if this is a config request (has "action" field)
	var cfgReq poemlet.ConfigRequest
	if err := json.Unmarshal(raw, &cfgReq); err == nil && cfgReq.Action != "" {
		s.writeJSON(conn, s.handleConfigRequest(&cfgReq))
		return
	}

	var req poemlet.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		slog.Warn("invalid request", "error", err)
		s.writeJSON(conn, &poemlet.Response{
			Lines: []string{},
			Error: &poemlet.Error{Code: "invalid_request", Message: "malformed JSON: " + err.Error()},
		})
		return
	}

	// Cancel any in-flight request for this session and create a new context.
	ctx, cancel := context.WithCancel(context.Background())
	sid := req.SessionID
	reqID := req.RequestID
	if sid != "" {
		s.mu.Lock()
		if prev, ok := s.sessions[sid]; ok {
			prev.cancel()
		}
		s.sessions[sid] = sessionEntry{requestID: reqID, cancel: cancel}
		s.mu.Unlock()
	}
	defer func() {
		cancel()
		if sid != "" {
			s.mu.Lock()
			if cur, ok := s.sessions[sid]; ok && cur.requestID == reqID {
				delete(s.sessions, sid)
			}
			s.mu.Unlock()
		}
	}()

	resp := s.compose(ctx, &req)

	// If cancelled, skip writing. The client has already moved on.
	if ctx.Err() != nil {
		return
	}

	resp.RequestID = req.RequestID
	s.writeJSON(conn, resp)
}

// compose runs one poem request through the cache, the limiter and the engine.
func (s *Server) compose(ctx context.Context, req *poemlet.Request) *poemlet.Response {
	pc := req.PoemConfig()
	if err := poemlet.ValidatePoemConfig(pc); err != nil {
		return errorResponse("invalid_request", err)
	}

	engine, cache, limiter := s.current()
	gen := func(ctx context.Context, pc poemlet.PoemConfig) (*generate.Result, error) {
		if limiter != nil && !limiter.Allow() {
			return nil, errRateLimited
		}
		return engine.Generate(ctx, pc)
	}

	res, cached, err := cache.GetOrGenerate(ctx, pc, gen)
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() == nil {
		// Joined another session's generation that was cancelled; run our own.
		res, cached, err = cache.GetOrGenerate(ctx, pc, gen)
	}
	if err != nil {
		slog.Debug("request failed", "error", err)
		return errorResponse(errorCode(err), err)
	}

	return &poemlet.Response{
		Poem:   res.Poem,
		Lines:  res.Lines(),
		Source: string(res.Source),
		Cached: cached,
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, generate.ErrInvalidConfig):
		return "invalid_request"
	case errors.Is(err, generate.ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, errRateLimited):
		return "rate_limited"
	default:
		return "generation_error"
	}
}

func errorResponse(code string, err error) *poemlet.Response {
	return &poemlet.Response{
		Lines: []string{},
		Error: &poemlet.Error{Code: code, Message: err.Error()},
	}
}

func (s *Server) handleConfigRequest(req *poemlet.ConfigRequest) *poemlet.ConfigResponse {
	var resp poemlet.ConfigResponse

	switch req.Action {
	case "get":
		cfg, err := poemlet.LoadConfig()
		if err != nil {
			resp.Error = &poemlet.Error{
				Code:    "config_error",
				Message: err.Error(),
			}
		} else {
			resp.Config = cfg
		}

	case "reload":
		cfg, err := poemlet.LoadConfig()
		if err != nil {
			resp.Error = &poemlet.Error{
				Code:    "config_error",
				Message: err.Error(),
			}
			break
		}
		// Building the engine is cheap; the model loads lazily on the next request.
		s.reloadEngine(cfg)
		resp.Config = cfg

	case "defaults":
		resp.Config = poemlet.DefaultConfig()

	case "default_prompt":
		resp.Prompt = defaults.DefaultPrompt

	case "validate":
		cfg, err := poemlet.LoadConfig()
		if err != nil {
			resp.Error = &poemlet.Error{
				Code:    "config_error",
				Message: err.Error(),
			}
		} else {
			resp.Warnings = poemlet.ValidateConfig(cfg)
		}

	default:
		resp.Error = &poemlet.Error{
			Code:    "unknown_action",
			Message: "unknown config action: " + req.Action,
		}
	}

	// Never send the API key back over the socket.
	if resp.Config != nil {
		resp.Config.Generation.APIKey = ""
	}
	return &resp
}

// reloadEngine swaps in an engine, cache and limiter built from cfg.
// Cached poems are dropped.
func (s *Server) reloadEngine(cfg *poemlet.Config) {
	opts := OptionsFromConfig(cfg)
	cache := generate.NewPoemCache(opts.CacheTTL)
	limiter := newLimiter(opts.RequestsPerMinute)

	var next Poet
	if s.newPoet != nil {
		next = s.newPoet(cfg)
	}

	s.engineMu.Lock()
	prev, prevCache := s.engine, s.cache
	if next != nil {
		s.engine = next
	}
	s.cache = cache
	s.limiter = limiter
	s.engineMu.Unlock()

	prevCache.Close()
	if next != nil && prev != nil && prev != next {
		prev.Close()
	}
	slog.Info("engine reloaded", "cache_ttl", opts.CacheTTL, "requests_per_minute", opts.RequestsPerMinute)
}

func (s *Server) writeJSON(conn net.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	slog.Debug("response", "data", string(data))

	conn.Write(append(data, '\n'))
}
