// Command tidlsim-delegate builds the simulated TIDL delegate as a Go plugin:
//
//	go build -buildmode=plugin -o libtidlsim_delegate.so ./cmd/tidlsim-delegate
//
// The plugin must be built with the same toolchain and module versions as the
// offload binary that loads it.
package main

import (
	"github.com/samcharles93/offload/internal/delegate/tidlsim"
	"github.com/samcharles93/offload/internal/graph"
)

// TflitePluginCreateDelegate is the factory symbol resolved by the loader.
func TflitePluginCreateDelegate(keys, values []string, count int, report func(string)) graph.Delegate {
	return tidlsim.Create(keys, values, count, report)
}

func main() {}
