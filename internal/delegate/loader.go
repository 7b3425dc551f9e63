package delegate

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/samcharles93/offload/internal/graph"
)

// DefaultLibraryPath is where the TIDL delegate is installed on the target.
const DefaultLibraryPath = "/usr/lib/libtidl_tfl_delegate.so"

// FactorySymbol is the exported name every delegate plugin must provide.
const FactorySymbol = "TflitePluginCreateDelegate"

// Factory creates a delegate from parallel key and value arrays. report, when
// non-nil, receives plugin diagnostics. A nil return means creation failed.
type Factory func(keys, values []string, count int, report func(string)) graph.Delegate

// Library is an opened plugin.
type Library interface {
	Path() string
	Lookup(symbol string) (any, error)
	Close() error
}

// Loader opens plugin libraries and turns their factory into a delegate. The
// zero value uses the platform loader.
type Loader struct {
	// Open overrides how libraries are opened; tests substitute fakes.
	Open func(path string) (Library, error)
}

// Load opens the shared library at path.
func (l Loader) Load(path string) (Library, error) {
	if strings.TrimSpace(path) == "" {
		return nil, &PluginError{Kind: ErrPluginLoad, Err: errors.New("library path is empty")}
	}
	if _, err := os.Stat(path); err != nil {
		return nil, &PluginError{Kind: ErrPluginLoad, Path: path, Err: err}
	}
	open := l.Open
	if open == nil {
		open = openShared
	}
	lib, err := open(path)
	if err != nil {
		return nil, &PluginError{Kind: ErrPluginLoad, Path: path, Err: err}
	}
	return lib, nil
}

// ResolveFactory looks up FactorySymbol. Both an exported function and an
// exported variable of type Factory are accepted.
func (l Loader) ResolveFactory(lib Library) (Factory, error) {
	if lib == nil {
		return nil, &PluginError{Kind: ErrSymbolResolution, Err: errors.New("library is nil")}
	}
	sym, err := lib.Lookup(FactorySymbol)
	if err != nil {
		return nil, &PluginError{Kind: ErrSymbolResolution, Path: lib.Path(), Err: err}
	}

	var f Factory
	switch s := sym.(type) {
	case func([]string, []string, int, func(string)) graph.Delegate:
		f = s
	case Factory:
		f = s
	case *Factory:
		if s != nil {
			f = *s
		}
	case *func([]string, []string, int, func(string)) graph.Delegate:
		if s != nil {
			f = *s
		}
	default:
		return nil, &PluginError{
			Kind: ErrSymbolResolution,
			Path: lib.Path(),
			Err:  fmt.Errorf("symbol %s has unexpected type %T", FactorySymbol, sym),
		}
	}
	if f == nil {
		return nil, &PluginError{Kind: ErrSymbolResolution, Path: lib.Path(), Err: fmt.Errorf("symbol %s is nil", FactorySymbol)}
	}
	return f, nil
}

// CreateDelegate validates the artifacts folder, then calls the factory.
// Messages reported by the plugin are relayed to onError and attached to the
// returned error; a panicking plugin is reported as ErrDelegateCreation.
func (l Loader) CreateDelegate(factory Factory, cfg Config, onError func(string)) (graph.Delegate, error) {
	if factory == nil {
		return nil, &PluginError{Kind: ErrDelegateCreation, Err: errors.New("factory is nil")}
	}
	if err := cfg.ValidateArtifacts(); err != nil {
		return nil, err
	}

	var messages []string
	report := func(msg string) {
		messages = append(messages, msg)
		if onError != nil {
			safeRelay(onError, msg)
		}
	}

	keys, values := cfg.KeysValues()
	d, err := safeCreate(factory, keys, values, report)
	if err != nil {
		return nil, &PluginError{Kind: ErrDelegateCreation, Err: err, Messages: messages}
	}
	if isNil(d) {
		return nil, &PluginError{Kind: ErrDelegateCreation, Err: errors.New("factory returned nil"), Messages: messages}
	}
	return d, nil
}

func safeCreate(factory Factory, keys, values []string, report func(string)) (d graph.Delegate, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in delegate factory: %v", rec)
		}
	}()
	return factory(keys, values, len(keys), report), nil
}

func safeRelay(fn func(string), msg string) {
	defer func() { _ = recover() }()
	fn(msg)
}

func isNil(d graph.Delegate) bool {
	if d == nil {
		return true
	}
	v := reflect.ValueOf(d)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Interface, reflect.Slice, reflect.Chan:
		return v.IsNil()
	}
	return false
}
