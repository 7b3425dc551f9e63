// Package api exposes a prepared session over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/offload/internal/logger"
	"github.com/samcharles93/offload/internal/session"
)

// Session is what the server needs from a prepared session.
type Session interface {
	Prepared() session.Prepared
	Benchmark(ctx context.Context, o session.BenchOptions) (*session.Report, error)
}

// BenchmarkRequest is the body of POST /v1/benchmark. Omitted fields use the
// server defaults.
type BenchmarkRequest struct {
	Iterations *int      `json:"iterations,omitempty"`
	Warmup     *int      `json:"warmup,omitempty"`
	Preview    *int      `json:"preview,omitempty"`
	Input      []float32 `json:"input,omitempty"`
}

// GraphResponse describes the prepared graph.
type GraphResponse struct {
	Model         string                  `json:"model"`
	OriginalNodes int                     `json:"original_nodes"`
	Plan          []int                   `json:"plan"`
	Inputs        []session.TensorSummary `json:"inputs"`
	Outputs       []session.TensorSummary `json:"outputs"`
}

// RunList is the body of GET /v1/runs.
type RunList struct {
	Runs []string `json:"runs"`
}

// MaxIterations bounds a single request so one caller cannot hold the
// session indefinitely.
const MaxIterations = 10000

// Server serializes every session call behind one mutex; the graph is never
// touched concurrently.
type Server struct {
	mu       sync.Mutex
	sess     Session
	store    *RunStore
	defaults session.BenchOptions
	log      logger.Logger
}

func NewServer(sess Session, store *RunStore, defaults session.BenchOptions, log logger.Logger) *Server {
	if store == nil {
		store = NewRunStore(0)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Server{sess: sess, store: store, defaults: defaults, log: log}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/graph", s.handleGraph)
	e.GET("/v1/offload", s.handleOffload)
	e.POST("/v1/benchmark", s.handleBenchmark)
	e.GET("/v1/runs", s.handleListRuns)
	e.GET("/v1/runs/:id", s.handleGetRun)
}

func (s *Server) prepared() session.Prepared {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.Prepared()
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGraph(c *echo.Context) error {
	p := s.prepared()
	return c.JSON(http.StatusOK, GraphResponse{
		Model:         p.Model,
		OriginalNodes: p.OriginalNodes,
		Plan:          p.Plan,
		Inputs:        p.Inputs,
		Outputs:       p.Outputs,
	})
}

func (s *Server) handleOffload(c *echo.Context) error {
	p := s.prepared()
	return c.JSON(http.StatusOK, map[string]any{
		"delegate": p.Delegate,
		"rewrite":  p.Rewrite,
		"classes":  p.Classes,
		"summary":  p.Summary,
		"warnings": p.Warnings,
	})
}

func (s *Server) handleBenchmark(c *echo.Context) error {
	req, err := decodeJSON[BenchmarkRequest](c.Request().Body)
	if err != nil {
		return writeRunError(c, newInvalidRequest("decode request: "+err.Error()))
	}
	opts, err := s.benchOptions(req)
	if err != nil {
		return writeRunError(c, err)
	}

	s.mu.Lock()
	rep, err := s.sess.Benchmark(c.Request().Context(), opts)
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("benchmark request failed", "error", err)
		return writeRunError(c, err)
	}
	s.store.Put(rep)
	return c.JSON(http.StatusOK, rep)
}

func (s *Server) benchOptions(req BenchmarkRequest) (session.BenchOptions, error) {
	o := s.defaults
	if req.Iterations != nil {
		if *req.Iterations <= 0 || *req.Iterations > MaxIterations {
			return o, newInvalidRequest("iterations must be between 1 and 10000")
		}
		o.Iterations = *req.Iterations
	}
	if req.Warmup != nil {
		o.Warmup = *req.Warmup
		if o.Warmup == 0 {
			o.Warmup = -1
		}
	}
	if req.Preview != nil {
		o.Preview = *req.Preview
	}
	if len(req.Input) > 0 {
		o.Input = req.Input
	}
	return o, nil
}

func (s *Server) handleListRuns(c *echo.Context) error {
	return c.JSON(http.StatusOK, RunList{Runs: s.store.IDs()})
}

func (s *Server) handleGetRun(c *echo.Context) error {
	id := c.Param("id")
	rep, ok := s.store.Get(id)
	if !ok {
		return writeError(c, http.StatusNotFound, "not_found_error", "run "+id+" not found")
	}
	return c.JSON(http.StatusOK, rep)
}

// decodeJSON treats an empty body as the zero value.
func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return out, err
	}
	return out, nil
}
