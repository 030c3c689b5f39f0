package api

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/mineguard/internal/broadcast"
	"github.com/loykin/mineguard/internal/history"
	"github.com/loykin/mineguard/internal/instance"
	"github.com/loykin/mineguard/internal/metrics"
	"github.com/loykin/mineguard/internal/server"
	"github.com/loykin/mineguard/internal/stream"
)

const (
	defaultStartWait = 3 * time.Minute
	defaultStopWait  = 30 * time.Second
	defaultHistory   = 50
	maxHistory       = 1000
)

// Router provides embeddable HTTP handlers for a fleet of servers.
// Endpoints:
//
//	GET  {basePath}/instances
//	GET  {basePath}/status           query: name=...
//	POST {basePath}/start            query: name=...&wait=3m (wait optional)
//	POST {basePath}/stop             query: name=...&wait=30s; kills on timeout
//	POST {basePath}/kill             query: name=...
//	POST {basePath}/command          query: name=...  body: {"command": "..."}
//	GET  {basePath}/console          query: name=...&source=stdout|stderr|event (SSE)
//	GET  {basePath}/history          query: name=...&limit=50
//	GET  {basePath}/metrics/process  query: name=...
//
// name may be a display name or a UUID.
type Router struct {
	fleet    *server.Fleet
	history  history.Reader
	sampler  *metrics.Sampler
	basePath string
}

// RouterOption configures optional endpoints.
type RouterOption func(*Router)

// WithHistory enables the history endpoint.
func WithHistory(r history.Reader) RouterOption { return func(rt *Router) { rt.history = r } }

// WithSampler enables the process metrics endpoint.
func WithSampler(s *metrics.Sampler) RouterOption { return func(rt *Router) { rt.sampler = s } }

// NewRouter constructs a Router; basePath "/mc" yields /mc/start and so on.
func NewRouter(fleet *server.Fleet, basePath string, opts ...RouterOption) *Router {
	r := &Router{fleet: fleet, basePath: sanitizeBase(basePath)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	r.Register(g.Group(r.basePath))
	return g
}

// Register adds the routes to an existing gin group.
func (r *Router) Register(group *gin.RouterGroup) {
	group.GET("/instances", r.handleList)
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/kill", r.handleKill)
	group.POST("/command", r.handleCommand)
	group.GET("/console", r.handleConsole)
	group.GET("/history", r.handleHistory)
	group.GET("/metrics/process", r.handleProcessMetrics)
}

// NewServer starts a standalone server on addr serving h, over HTTPS when tc
// is non-nil.
func NewServer(addr string, h http.Handler, tc *tls.Config) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		TLSConfig:         tc,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if tc != nil {
			// certificates come from tc.GetCertificate
			_ = srv.ListenAndServeTLS("", "")
			return
		}
		_ = srv.ListenAndServe()
	}()
	return srv
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type statusResp struct {
	Name    string `json:"name"`
	UUID    string `json:"uuid"`
	Status  string `json:"status"`
	PID     int    `json:"pid,omitempty"`
	Version string `json:"version"`
	Type    string `json:"type"`
	Dir     string `json:"dir"`
	EULA    bool   `json:"eula"`
}

type commandReq struct {
	Command string `json:"command"`
}

func describe(s *server.Server) statusResp {
	cfg := s.Config()
	return statusResp{
		Name:    s.Name(),
		UUID:    cfg.UUID.String(),
		Status:  s.Status().String(),
		PID:     s.Handle().PID(),
		Version: cfg.MCVersion,
		Type:    cfg.MCType.String(),
		Dir:     cfg.ServerDir,
		EULA:    s.EULAAccepted(),
	}
}

// lookup resolves the name query parameter, writing the error response itself.
func (r *Router) lookup(c *gin.Context) (*server.Server, bool) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return nil, false
	}
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..'"})
		return nil, false
	}
	s, ok := r.fleet.Get(name)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown instance " + name})
		return nil, false
	}
	return s, true
}

func waitParam(c *gin.Context, def time.Duration) time.Duration {
	if ws := c.Query("wait"); ws != "" {
		if d, err := time.ParseDuration(ws); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func (r *Router) handleList(c *gin.Context) {
	list := r.fleet.List()
	out := make([]statusResp, 0, len(list))
	for _, s := range list {
		out = append(out, describe(s))
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleStatus(c *gin.Context) {
	s, ok := r.lookup(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, describe(s))
}

func (r *Router) handleStart(c *gin.Context) {
	s, ok := r.lookup(c)
	if !ok {
		return
	}
	// detached from the request so a dropped client does not abort startup
	ctx, cancel := context.WithTimeout(context.Background(), waitParam(c, defaultStartWait))
	defer cancel()
	if err := s.Start(ctx); err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, describe(s))
}

func (r *Router) handleStop(c *gin.Context) {
	s, ok := r.lookup(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), waitParam(c, defaultStopWait))
	defer cancel()
	err := s.Stop(ctx)
	if err != nil && ctx.Err() != nil {
		err = s.Kill(context.Background())
	}
	if err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, describe(s))
}

func (r *Router) handleKill(c *gin.Context) {
	s, ok := r.lookup(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultStopWait)
	defer cancel()
	if err := s.Kill(ctx); err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, describe(s))
}

func (r *Router) handleCommand(c *gin.Context) {
	s, ok := r.lookup(c)
	if !ok {
		return
	}
	var req commandReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Command == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "command required"})
		return
	}
	if err := s.SendCommand(c.Request.Context(), req.Command); err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// handleConsole streams a channel as server-sent events until the client
// goes away. Lines are sent as "line" events, everything else as "event".
func (r *Router) handleConsole(c *gin.Context) {
	s, ok := r.lookup(c)
	if !ok {
		return
	}
	src, ok := stream.ParseSource(c.DefaultQuery("source", "stdout"))
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "source must be stdout, stderr or event"})
		return
	}
	rx, err := s.Subscribe(src)
	if err != nil {
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		ev, err := rx.Recv(ctx)
		if err != nil {
			if broadcast.IsLagged(err) {
				c.SSEvent("lagged", err.Error())
				return true
			}
			return false
		}
		if l, ok := ev.Payload.(instance.StdLine); ok {
			c.SSEvent("line", l.Line.Text)
			return true
		}
		c.SSEvent("event", ev.Payload.String())
		return true
	})
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.history == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history not configured"})
		return
	}
	name := c.Query("name")
	if name != "" && !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name"})
		return
	}
	if s, ok := r.fleet.Get(name); ok {
		name = s.Name()
	}
	limit := defaultHistory
	if ls := c.Query("limit"); ls != "" {
		n, err := strconv.Atoi(ls)
		if err != nil || n <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistory)
	}
	evs, err := r.history.Recent(c.Request.Context(), name, limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if evs == nil {
		evs = []history.Event{}
	}
	writeJSON(c, http.StatusOK, evs)
}

func (r *Router) handleProcessMetrics(c *gin.Context) {
	if r.sampler == nil || !r.sampler.Enabled() {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "process metrics not enabled"})
		return
	}
	s, ok := r.lookup(c)
	if !ok {
		return
	}
	samples := r.sampler.History(s.Name())
	if samples == nil {
		samples = []metrics.ProcessMetrics{}
	}
	writeJSON(c, http.StatusOK, samples)
}
