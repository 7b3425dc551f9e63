// Package modelsrc loads computation graphs from model manifests. The core
// only sees the Source interface; the manifest layout is a reference format
// for the runtime in internal/graph.
package modelsrc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/offload/internal/graph"
)

// ErrLoad wraps every failure to produce a graph from a model path.
var ErrLoad = errors.New("model load failed")

// Source produces a graph from a model path.
type Source interface {
	LoadGraph(path string) (*graph.Graph, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(path string) (*graph.Graph, error)

func (f SourceFunc) LoadGraph(path string) (*graph.Graph, error) { return f(path) }

// FileSource reads JSON (.json) or YAML (.yaml, .yml) manifests from disk.
type FileSource struct{}

func (FileSource) LoadGraph(path string) (*graph.Graph, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: model path is required", ErrLoad)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	m, err := ParseManifest(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoad, path, err)
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	g, err := Build(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoad, path, err)
	}
	return g, nil
}

// ParseManifest decodes a manifest. ext selects the decoder; unknown
// extensions are tried as JSON.
func ParseManifest(data []byte, ext string) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode yaml manifest: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode json manifest: %w", err)
		}
	}
	return &m, nil
}
