//go:build cgo && (linux || darwin || freebsd)

package delegate

import "plugin"

// Supported reports whether this build can load plugins at runtime.
func Supported() bool { return true }

type sharedLibrary struct {
	path string
	p    *plugin.Plugin
}

func openShared(path string) (Library, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return &sharedLibrary{path: path, p: p}, nil
}

func (l *sharedLibrary) Path() string { return l.path }

func (l *sharedLibrary) Lookup(symbol string) (any, error) {
	return l.p.Lookup(symbol)
}

// Close drops the reference. The runtime keeps plugins mapped until exit.
func (l *sharedLibrary) Close() error {
	l.p = nil
	return nil
}
