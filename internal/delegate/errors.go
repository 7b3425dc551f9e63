package delegate

import (
	"errors"
	"strings"
)

// Every error in this package is recoverable: callers log it and continue on
// the CPU path.
var (
	ErrPluginLoad           = errors.New("delegate plugin load failed")
	ErrSymbolResolution     = errors.New("delegate factory symbol not found")
	ErrInvalidConfiguration = errors.New("invalid delegate configuration")
	ErrDelegateCreation     = errors.New("delegate creation failed")
)

// PluginError carries the failing library path and any messages the plugin
// reported through its error callback. It unwraps to both its Kind sentinel
// and the underlying cause.
type PluginError struct {
	Kind     error
	Path     string
	Err      error
	Messages []string
}

func (e *PluginError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	if e.Path != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Path)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	if len(e.Messages) > 0 {
		sb.WriteString(" (plugin reported: ")
		sb.WriteString(strings.Join(e.Messages, "; "))
		sb.WriteString(")")
	}
	return sb.String()
}

func (e *PluginError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
