// Package tidlsim is a software stand-in for the TIDL delegate. It speaks the
// same option set, reads the node allow list that the TIDL import tool writes
// into the artifacts folder, and executes the subgraphs it claims with the
// reference kernels. It exists so the offload path can be exercised on hosts
// without the accelerator.
package tidlsim

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/samcharles93/offload/internal/delegate"
	"github.com/samcharles93/offload/internal/graph"
)

// AllowListFile lists the node ids compiled into the artifacts: the first
// line is the count, followed by one id per line.
const AllowListFile = "allowedNode.txt"

// OptRegistrationName overrides the custom name given to delegate nodes. An
// empty value leaves the name unset, as some vendor builds do.
const OptRegistrationName = "registration_name"

const defaultRegistrationName = "TIDL_SubgraphKernel"

type options struct {
	artifacts    string
	maxSubgraphs int
	debug        int
	mixed        bool
	regName      string
}

// Delegate claims the allow-listed nodes of a graph.
type Delegate struct {
	opts    options
	allowed []int
	report  func(string)
	closed  bool
	kernels int
}

// Create has the plugin factory signature. It returns nil after reporting
// the reason when the options are unusable.
func Create(keys, values []string, count int, report func(string)) graph.Delegate {
	if report == nil {
		report = func(string) {}
	}
	d, err := newDelegate(keys, values, count, report)
	if err != nil {
		report("tidlsim: " + err.Error())
		return nil
	}
	return d
}

func newDelegate(keys, values []string, count int, report func(string)) (*Delegate, error) {
	if count < 0 || count > len(keys) || count > len(values) {
		return nil, fmt.Errorf("option count %d does not match %d keys and %d values", count, len(keys), len(values))
	}
	opts := options{maxSubgraphs: 1, regName: defaultRegistrationName}
	var unknown []string
	for i := range count {
		k, v := keys[i], values[i]
		switch k {
		case delegate.OptArtifactsFolder:
			opts.artifacts = v
		case delegate.OptNumSubgraphs:
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("%s must be a positive integer, got %q", k, v)
			}
			opts.maxSubgraphs = n
		case delegate.OptDebugLevel:
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%s must be a non-negative integer, got %q", k, v)
			}
			opts.debug = n
		case delegate.OptAllowMixedPrecision:
			b, err := delegate.ParseFlag(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %v", k, err)
			}
			opts.mixed = b
		case OptRegistrationName:
			opts.regName = v
		default:
			unknown = append(unknown, k)
		}
	}
	if opts.artifacts == "" {
		return nil, fmt.Errorf("%s is required", delegate.OptArtifactsFolder)
	}
	st, err := os.Stat(opts.artifacts)
	if err != nil {
		return nil, fmt.Errorf("artifacts folder: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("artifacts folder %q is not a directory", opts.artifacts)
	}

	allowed, err := readAllowList(filepath.Join(opts.artifacts, AllowListFile))
	if err != nil {
		return nil, err
	}

	d := &Delegate{opts: opts, allowed: allowed, report: report}
	if opts.debug >= 2 {
		for _, k := range unknown {
			d.logf("ignoring unknown option %q", k)
		}
		if allowed == nil {
			d.logf("no %s in %s, claiming every supported node", AllowListFile, opts.artifacts)
		}
	}
	return d, nil
}

// readAllowList returns nil, nil when the file does not exist.
func readAllowList(path string) ([]int, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var nums []int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		n, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid line %q", AllowListFile, line)
		}
		nums = append(nums, n)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", AllowListFile, err)
	}
	if len(nums) == 0 {
		return []int{}, nil
	}
	if nums[0] != len(nums)-1 {
		return nil, fmt.Errorf("%s declares %d nodes but lists %d", AllowListFile, nums[0], len(nums)-1)
	}
	return nums[1:], nil
}

func (d *Delegate) logf(format string, args ...any) {
	d.report(fmt.Sprintf("tidlsim: "+format, args...))
}

// Prepare claims allow-listed nodes, limited to the first num_tidl_subgraphs
// contiguous runs of the plan.
func (d *Delegate) Prepare(ctx graph.DelegateContext) error {
	if d.closed {
		return errors.New("tidlsim: delegate is closed")
	}
	plan := ctx.ExecutionPlan()

	var runs [][]int
	var cur []int
	flush := func() {
		if len(cur) > 0 {
			runs = append(runs, cur)
			cur = nil
		}
	}
	for _, id := range plan {
		n, err := ctx.Node(id)
		if err != nil {
			return err
		}
		if d.claims(n) {
			cur = append(cur, id)
			continue
		}
		if d.opts.debug >= 3 {
			d.logf("node %d (%s) stays on the host", id, n.Registration.OpName())
		}
		flush()
	}
	flush()

	if len(runs) > d.opts.maxSubgraphs {
		if d.opts.debug >= 1 {
			d.logf("%d candidate subgraphs, offloading the first %d", len(runs), d.opts.maxSubgraphs)
		}
		runs = runs[:d.opts.maxSubgraphs]
	}
	var claim []int
	for _, r := range runs {
		claim = append(claim, r...)
	}
	if len(claim) == 0 {
		if d.opts.debug >= 1 {
			d.logf("no nodes offloaded")
		}
		return nil
	}

	err := ctx.ReplaceNodeSubsetsWithDelegateKernels(graph.DelegateRegistration{
		CustomName: d.opts.regName,
		Version:    1,
		Init: func(p graph.Partition) (graph.DelegateKernel, error) {
			d.kernels++
			return &subgraphKernel{part: p}, nil
		},
	}, claim)
	if err != nil {
		return err
	}
	if d.opts.debug >= 1 {
		d.logf("offloaded %d nodes in %d subgraphs", len(claim), len(runs))
	}
	return nil
}

func (d *Delegate) claims(n graph.Node) bool {
	if n.IsDelegate() || !graph.HasKernel(n.Registration.Code) {
		return false
	}
	if d.allowed == nil {
		return true
	}
	return slices.Contains(d.allowed, n.Index)
}

// Subgraphs is the number of delegate kernels created so far.
func (d *Delegate) Subgraphs() int { return d.kernels }

// Close is idempotent.
func (d *Delegate) Close() error {
	d.closed = true
	return nil
}

// subgraphKernel runs a partition on its own scratch memory, touching graph
// storage only for boundary tensors.
type subgraphKernel struct {
	part    graph.Partition
	scratch map[int]*graph.Tensor
}

func (k *subgraphKernel) Prepare(graph.KernelContext) error {
	boundary := make(map[int]bool, len(k.part.Inputs)+len(k.part.Outputs))
	for _, t := range k.part.Inputs {
		boundary[t] = true
	}
	for _, t := range k.part.Outputs {
		boundary[t] = true
	}
	k.scratch = make(map[int]*graph.Tensor)
	for idx, info := range k.part.Tensors {
		if boundary[idx] || info.Constant {
			continue
		}
		t, err := graph.NewTensor(info.Name, info.Type, info.Shape)
		if err != nil {
			return err
		}
		k.scratch[idx] = t
	}
	return nil
}

func (k *subgraphKernel) Invoke(ctx graph.KernelContext) error {
	if k.scratch == nil {
		return errors.New("subgraph kernel invoked before prepare")
	}
	var lookupErr error
	lookup := func(idx int) *graph.Tensor {
		if t, ok := k.scratch[idx]; ok {
			return t
		}
		t, err := ctx.Tensor(idx)
		if err != nil {
			lookupErr = err
			return nil
		}
		return t
	}
	for i := range k.part.Nodes {
		if err := graph.EvalNode(&k.part.Nodes[i], lookup); err != nil {
			if lookupErr != nil {
				return errors.Join(err, lookupErr)
			}
			return err
		}
	}
	return nil
}
