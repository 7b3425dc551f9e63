// Package session runs the offload pipeline: load a graph, allocate it,
// optionally hand it to an accelerator delegate, classify the resulting plan
// and benchmark it. Accelerator failures never abort a session; the graph
// always stays runnable on the CPU.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/offload/internal/bench"
	"github.com/samcharles93/offload/internal/delegate"
	"github.com/samcharles93/offload/internal/graph"
	"github.com/samcharles93/offload/internal/inputdata"
	"github.com/samcharles93/offload/internal/logger"
	"github.com/samcharles93/offload/internal/modelsrc"
	"github.com/samcharles93/offload/internal/offload"
	"github.com/samcharles93/offload/internal/rewrite"
)

const (
	DefaultIterations = 10
	DefaultWarmup     = 1
	// inputCheckCount is how many leading and trailing input values are
	// echoed back for verification.
	inputCheckCount = 10
)

// Options configures a session.
type Options struct {
	ModelPath string
	Source    modelsrc.Source

	// Mode is delegate.ModeAuto or delegate.ModeCPU.
	Mode           string
	Plugin         delegate.PluginSource
	DelegateConfig delegate.Config

	Classifier *offload.Classifier
	Logger     logger.Logger
	Clock      func() time.Time
}

// TensorSummary describes a graph input or output.
type TensorSummary struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Shape []int  `json:"shape"`
	Bytes int    `json:"bytes"`
}

// DelegateStatus records what happened on the accelerator path.
type DelegateStatus struct {
	Mode      string   `json:"mode"`
	Requested bool     `json:"requested"`
	Created   bool     `json:"created"`
	Applied   bool     `json:"applied"`
	Error     string   `json:"error,omitempty"`
	Messages  []string `json:"messages,omitempty"`
}

// Prepared is the state of a session after setup.
type Prepared struct {
	Model         string              `json:"model"`
	OriginalNodes int                 `json:"original_nodes"`
	Inputs        []TensorSummary     `json:"inputs"`
	Outputs       []TensorSummary     `json:"outputs"`
	Delegate      DelegateStatus      `json:"delegate"`
	Rewrite       rewrite.Result      `json:"rewrite"`
	Plan          []int               `json:"plan"`
	Classes       []offload.NodeClass `json:"classes"`
	Summary       offload.Summary     `json:"summary"`
	Warnings      []string            `json:"warnings,omitempty"`
}

// Session owns a prepared graph and everything the delegate holds. It is not
// safe for concurrent use.
type Session struct {
	opts     Options
	log      logger.Logger
	g        *graph.Graph
	prepared Prepared
	closers  []func() error
	closed   bool
}

// Open loads and prepares a graph. Fatal failures (load, allocation) are
// returned; accelerator failures are logged and recorded in Prepared.
func Open(ctx context.Context, opts Options) (_ *Session, err error) {
	if opts.Source == nil {
		opts.Source = modelsrc.FileSource{}
	}
	if opts.Classifier == nil {
		opts.Classifier = offload.NewClassifier()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logger.FromContext(ctx)
	}
	mode, err := delegate.Normalize(opts.Mode)
	if err != nil {
		return nil, err
	}
	opts.Mode = mode

	s := &Session{opts: opts, log: log}
	defer func() {
		if err != nil {
			if cerr := s.Close(); cerr != nil {
				s.log.Warn("release after failed setup", "error", cerr)
			}
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g, err := opts.Source.LoadGraph(opts.ModelPath)
	if err != nil {
		return nil, err
	}
	s.g = g
	s.log.Info("model loaded", "model", g.Name(), "nodes", g.OriginalNodeCount(), "tensors", g.TensorCount())

	if err := g.Allocate(); err != nil {
		return nil, fmt.Errorf("allocate tensors: %w", err)
	}

	s.prepared = Prepared{
		Model:         g.Name(),
		OriginalNodes: g.OriginalNodeCount(),
		Delegate:      DelegateStatus{Mode: mode},
	}

	d := s.createDelegate()
	res, err := rewrite.ApplyAndReallocate(g, d)
	s.prepared.Rewrite = res
	s.prepared.Delegate.Applied = res.Applied
	for _, w := range res.Warnings {
		s.warn(w)
	}
	switch {
	case err == nil:
		if d != nil {
			s.closers = append(s.closers, d.Close)
		}
	case errors.Is(err, graph.ErrAllocation):
		if d != nil {
			s.closers = append(s.closers, d.Close)
		}
		return nil, err
	case errors.Is(err, rewrite.ErrGraphModification):
		// Already logged through the rewrite warnings.
		s.prepared.Delegate.Error = err.Error()
		if cerr := d.Close(); cerr != nil {
			s.log.Warn("release delegate", "error", cerr)
		}
	default:
		if d != nil {
			s.closers = append(s.closers, d.Close)
		}
		return nil, err
	}

	if err := s.classify(); err != nil {
		return nil, err
	}
	s.prepared.Inputs, err = summarize(g.Inputs(), g.InputTensor)
	if err != nil {
		return nil, err
	}
	s.prepared.Outputs, err = summarize(g.Outputs(), g.OutputTensor)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// createDelegate asks the plugin source for a delegate. Every failure is
// recoverable and yields nil.
func (s *Session) createDelegate() graph.Delegate {
	st := &s.prepared.Delegate
	if s.opts.Mode == delegate.ModeCPU {
		s.log.Info("accelerator disabled, running on CPU")
		return nil
	}
	plugin := s.opts.Plugin
	if plugin == nil {
		s.log.Info("no delegate configured, running on CPU")
		return nil
	}
	if c, ok := plugin.(io.Closer); ok {
		s.closers = append(s.closers, func() error {
			s.log.Debug("releasing delegate library")
			return c.Close()
		})
	}
	st.Requested = true
	for _, w := range s.opts.DelegateConfig.Lint() {
		s.warn("delegate option: " + w)
	}

	d, err := plugin.TryCreateDelegate(s.opts.DelegateConfig)
	if err != nil {
		st.Error = err.Error()
		var pe *delegate.PluginError
		if errors.As(err, &pe) {
			st.Messages = slices.Clone(pe.Messages)
		}
		s.log.Warn("delegate unavailable, continuing on CPU", "error", err)
		return nil
	}
	if d == nil {
		s.log.Info("delegate source produced no delegate, running on CPU")
		return nil
	}
	st.Created = true
	s.log.Info("delegate created")
	return d
}

func (s *Session) classify() error {
	plan := s.g.ExecutionPlan()
	classes, err := s.opts.Classifier.Classify(s.g, plan)
	if err != nil {
		return err
	}
	sum := offload.Summarize(s.g.OriginalNodeCount(), plan, classes, s.prepared.Delegate.Applied)
	s.prepared.Plan = plan
	s.prepared.Classes = classes
	s.prepared.Summary = sum
	if sum.Mismatch != "" {
		s.warn(sum.Mismatch)
	}
	s.log.Info("offload summary",
		"plan_nodes", sum.PlanNodes,
		"delegate_nodes", sum.DelegateNodes,
		"cpu_nodes", sum.CPUNodes,
		"approx_delegated_ops", sum.ApproxDelegatedOps,
	)
	return nil
}

func (s *Session) warn(msg string) {
	s.prepared.Warnings = append(s.prepared.Warnings, msg)
	s.log.Warn(msg)
}

func summarize(idx []int, view func(int) (graph.TensorView, error)) ([]TensorSummary, error) {
	out := make([]TensorSummary, 0, len(idx))
	for i := range idx {
		v, err := view(i)
		if err != nil {
			return nil, err
		}
		out = append(out, TensorSummary{Index: v.Index, Name: v.Name, Type: v.Type.String(), Shape: v.Shape, Bytes: v.Bytes})
	}
	return out, nil
}

// Graph exposes the prepared graph.
func (s *Session) Graph() *graph.Graph { return s.g }

// Prepared returns a copy of the setup results.
func (s *Session) Prepared() Prepared {
	p := s.prepared
	p.Plan = slices.Clone(p.Plan)
	p.Classes = slices.Clone(p.Classes)
	p.Warnings = slices.Clone(p.Warnings)
	return p
}

// InputCheck echoes input values for verification.
type InputCheck struct {
	Elements int       `json:"elements"`
	First    []float32 `json:"first"`
	Last     []float32 `json:"last"`
	ReadBack []float32 `json:"read_back"`
	// Synthetic is set when no input was supplied.
	Synthetic bool `json:"synthetic,omitempty"`
}

// BenchOptions configures one benchmark run. Zero values select the
// defaults; a negative Warmup skips the warm-up.
type BenchOptions struct {
	Input      []float32
	Iterations int
	Warmup     int
	Preview    int
}

// Report is the result of a full run.
type Report struct {
	RunID     string         `json:"run_id"`
	StartedAt time.Time      `json:"started_at"`
	Prepared  Prepared       `json:"prepared"`
	Input     InputCheck     `json:"input"`
	Warmup    []bench.Output `json:"warmup"`
	Timing    bench.Timing   `json:"timing"`
	AvgMillis float64        `json:"avg_ms"`
	Outputs   []bench.Output `json:"outputs"`
	Warnings  []string       `json:"warnings,omitempty"`
}

// Benchmark loads the input, warms up and runs the timed loop. Every error
// is fatal for the run.
func (s *Session) Benchmark(ctx context.Context, o BenchOptions) (*Report, error) {
	if s.closed {
		return nil, errors.New("session is closed")
	}
	if o.Iterations <= 0 {
		o.Iterations = DefaultIterations
	}
	switch {
	case o.Warmup == 0:
		o.Warmup = DefaultWarmup
	case o.Warmup < 0:
		o.Warmup = 0
	}
	if o.Preview <= 0 {
		o.Preview = bench.DefaultPreview
	}

	rep := &Report{
		RunID:     uuid.NewString(),
		StartedAt: s.opts.Clock(),
		Prepared:  s.Prepared(),
	}
	rep.Warnings = slices.Clone(rep.Prepared.Warnings)
	log := s.log.With("run", rep.RunID)

	in, err := s.g.InputTensor(0)
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	data := o.Input
	if len(data) == 0 {
		n := in.NumElements()
		data = inputdata.Synthetic(n)
		rep.Input.Synthetic = true
		rep.Warnings = append(rep.Warnings, "no input supplied, using synthetic features")
		log.Warn("no input supplied, using synthetic features", "elements", n)
	}
	if err := bench.LoadInput(in, data); err != nil {
		return nil, err
	}
	rep.Input.Elements = len(data)
	rep.Input.First = slices.Clone(data[:min(inputCheckCount, len(data))])
	rep.Input.Last = slices.Clone(data[max(0, len(data)-inputCheckCount):])
	if back, err := in.Float32s(); err == nil {
		rep.Input.ReadBack = slices.Clone(back[:min(inputCheckCount, len(back))])
	}

	b := bench.New(s.g, bench.WithClock(s.opts.Clock))
	for i := range o.Warmup {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outs, err := b.RunOnce(o.Preview)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			rep.Warmup = outs
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timing, err := b.RunTimed(o.Iterations)
	if err != nil {
		return nil, err
	}
	rep.Timing = timing
	rep.AvgMillis = timing.AvgMillis()
	log.Info("benchmark complete",
		"iterations", timing.Iterations,
		"avg", timing.AvgLatency,
		"fps", timing.Throughput,
	)

	rep.Outputs, err = b.ReportOutputs(o.Preview)
	if err != nil {
		return nil, err
	}
	return rep, nil
}

// Close releases the delegate and then its library. It is safe to call more
// than once.
func (s *Session) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Run opens a session, benchmarks it once and releases it.
func Run(ctx context.Context, opts Options, bo BenchOptions) (rep *Report, err error) {
	s, err := Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()
	return s.Benchmark(ctx, bo)
}
