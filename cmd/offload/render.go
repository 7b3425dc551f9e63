package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/samcharles93/offload/internal/bench"
	"github.com/samcharles93/offload/internal/offload"
	"github.com/samcharles93/offload/internal/session"
)

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ", ")
}

func joinFloats(v []float32) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(float64(x), 'g', 6, 32)
	}
	return strings.Join(parts, " ")
}

func renderTensors(w io.Writer, kind string, ts []session.TensorSummary) {
	for i, t := range ts {
		fmt.Fprintf(w, "\n%s[%d]:\n", kind, i)
		fmt.Fprintf(w, "  Name: %s\n", t.Name)
		fmt.Fprintf(w, "  Type: %s\n", t.Type)
		fmt.Fprintf(w, "  Dimensions: %d\n", len(t.Shape))
		fmt.Fprintf(w, "  Shape: [%s]\n", joinInts(t.Shape))
		fmt.Fprintf(w, "  Size (bytes): %d\n", t.Bytes)
	}
}

func renderModel(w io.Writer, p session.Prepared) {
	fmt.Fprintln(w, "\n=== Model Information ===")
	fmt.Fprintf(w, "Model: %s\n", p.Model)
	fmt.Fprintf(w, "Number of inputs: %d\n", len(p.Inputs))
	fmt.Fprintf(w, "Number of outputs: %d\n", len(p.Outputs))
	renderTensors(w, "Input", p.Inputs)
	renderTensors(w, "Output", p.Outputs)
}

func renderDelegate(w io.Writer, p session.Prepared) {
	d := p.Delegate
	fmt.Fprintln(w, "\n=== Delegate ===")
	fmt.Fprintf(w, "Mode: %s\n", d.Mode)
	switch {
	case d.Applied:
		fmt.Fprintf(w, "Delegate applied (plan %d -> %d nodes)\n", p.Rewrite.PlanBefore, p.Rewrite.PlanAfter)
	case d.Error != "":
		fmt.Fprintf(w, "Delegate not applied: %s\n", d.Error)
		fmt.Fprintln(w, "Running on CPU")
	default:
		fmt.Fprintln(w, "No delegate, running on CPU")
	}
	for _, m := range d.Messages {
		fmt.Fprintf(w, "  plugin: %s\n", m)
	}
}

func renderPlan(w io.Writer, classes []offload.NodeClass) {
	fmt.Fprintln(w, "\n=== Execution Plan ===")
	fmt.Fprintf(w, "%-4s %-6s %-28s %-12s %s\n", "Pos", "Node", "Op", "Placement", "Detail")
	for _, c := range classes {
		detail := c.Strategy
		if c.Subsumed > 0 {
			if detail != "" {
				detail += ", "
			}
			detail += fmt.Sprintf("replaces %d nodes", c.Subsumed)
		}
		fmt.Fprintf(w, "%-4d %-6d %-28s %-12s %s\n", c.Position, c.NodeID, c.Op, c.Placement, detail)
	}
}

func renderSummary(w io.Writer, s offload.Summary) {
	fmt.Fprintln(w, "\n=== Offload Summary ===")
	fmt.Fprintf(w, "Original nodes: %d\n", s.OriginalNodes)
	fmt.Fprintf(w, "Execution plan nodes: %d\n", s.PlanNodes)
	fmt.Fprintf(w, "Delegate nodes: %d\n", s.DelegateNodes)
	fmt.Fprintf(w, "CPU nodes: %d\n", s.CPUNodes)
	fmt.Fprintf(w, "Delegated ops (approx.): %d (%.0f%%)\n", s.ApproxDelegatedOps, s.ApproxFraction*100)
	if s.Mismatch != "" {
		fmt.Fprintf(w, "Warning: %s\n", s.Mismatch)
	}
}

func renderInput(w io.Writer, in session.InputCheck) {
	fmt.Fprintln(w, "\n=== Input Data Verification ===")
	if in.Synthetic {
		fmt.Fprintln(w, "Input: synthetic")
	}
	fmt.Fprintf(w, "Input data size: %d\n", in.Elements)
	fmt.Fprintf(w, "First 10 values: %s\n", joinFloats(in.First))
	fmt.Fprintf(w, "Last 10 values: %s\n", joinFloats(in.Last))
	fmt.Fprintf(w, "First 10 values in tensor after copy: %s\n", joinFloats(in.ReadBack))
}

func formatValues(o bench.Output) string {
	parts := make([]string, len(o.Values))
	for i, v := range o.Values {
		if o.Type == "FLOAT32" || o.Type == "FLOAT16" {
			parts[i] = strconv.FormatFloat(v, 'g', 6, 64)
		} else {
			parts[i] = strconv.FormatInt(int64(v), 10)
		}
	}
	s := strings.Join(parts, ", ")
	if o.Truncated() {
		s += fmt.Sprintf(", ... (%d total elements)", o.Elements)
	}
	return "[" + s + "]"
}

func renderOutputs(w io.Writer, title string, outs []bench.Output) {
	fmt.Fprintf(w, "\n=== %s ===\n", title)
	for _, o := range outs {
		fmt.Fprintf(w, "\nOutput[%d] - %s:\n", o.Index, o.Name)
		if o.Values == nil {
			fmt.Fprintf(w, "  Values: (%s preview not supported)\n", o.Type)
			continue
		}
		fmt.Fprintf(w, "  Values: %s\n", formatValues(o))
		if o.Prediction != nil {
			fmt.Fprintf(w, "  Predicted class: %d (score: %g)\n", o.Prediction.Index, o.Prediction.Score)
		}
	}
}

func renderTiming(w io.Writer, t bench.Timing) {
	fmt.Fprintln(w, "\n=== Performance Metrics ===")
	fmt.Fprintf(w, "Total time for %d iterations: %.3f ms\n", t.Iterations, float64(t.Total)/float64(time.Millisecond))
	fmt.Fprintf(w, "Average inference time: %.3f ms\n", t.AvgMillis())
	fmt.Fprintf(w, "FPS: %.2f\n", t.Throughput)
}

func renderReport(w io.Writer, rep *session.Report) {
	renderModel(w, rep.Prepared)
	renderDelegate(w, rep.Prepared)
	renderSummary(w, rep.Prepared.Summary)
	renderInput(w, rep.Input)
	if len(rep.Warmup) > 0 {
		renderOutputs(w, "Output after first inference", rep.Warmup)
	}
	renderTiming(w, rep.Timing)
	renderOutputs(w, "Output Results", rep.Outputs)
	fmt.Fprintf(w, "\nRun: %s\n", rep.RunID)
}
