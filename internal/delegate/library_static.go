//go:build !cgo || !(linux || darwin || freebsd)

package delegate

import "errors"

var errPluginsUnavailable = errors.New("runtime plugin loading is not available in this build")

// Supported reports whether this build can load plugins at runtime.
func Supported() bool { return false }

func openShared(string) (Library, error) {
	return nil, errPluginsUnavailable
}
