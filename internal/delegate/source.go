package delegate

import (
	"errors"

	"github.com/samcharles93/offload/internal/graph"
)

// PluginSource is the only thing the session knows about accelerators. A nil
// delegate with a nil error means "no accelerator requested".
type PluginSource interface {
	TryCreateDelegate(cfg Config) (graph.Delegate, error)
}

// NopSource never produces a delegate.
type NopSource struct{}

func (NopSource) TryCreateDelegate(Config) (graph.Delegate, error) { return nil, nil }

// LibrarySource loads a plugin from disk. It owns the library handle until
// Close, which must happen after the delegate it produced is released.
type LibrarySource struct {
	Path    string
	Loader  Loader
	OnError func(string)

	lib Library
}

func (s *LibrarySource) TryCreateDelegate(cfg Config) (graph.Delegate, error) {
	if s.lib == nil {
		lib, err := s.Loader.Load(s.Path)
		if err != nil {
			return nil, err
		}
		s.lib = lib
	}
	factory, err := s.Loader.ResolveFactory(s.lib)
	if err != nil {
		return nil, err
	}
	return s.Loader.CreateDelegate(factory, cfg, s.OnError)
}

// Close releases the library handle.
func (s *LibrarySource) Close() error {
	if s == nil || s.lib == nil {
		return nil
	}
	err := s.lib.Close()
	s.lib = nil
	return err
}

// FactorySource creates delegates from an in-process factory with the same
// validation and crash protection as a loaded plugin.
type FactorySource struct {
	Name    string
	Factory Factory
	OnError func(string)
}

func (s FactorySource) TryCreateDelegate(cfg Config) (graph.Delegate, error) {
	if s.Factory == nil {
		return nil, &PluginError{Kind: ErrSymbolResolution, Path: s.Name, Err: errors.New("no factory registered")}
	}
	return Loader{}.CreateDelegate(s.Factory, cfg, s.OnError)
}
