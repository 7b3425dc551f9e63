package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/offload/internal/delegate"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
model: /models/kws.yaml
accel: cpu
iterations: 50
warmup: 0
delegate_options:
  num_tidl_subgraphs: 2
  debug_level: 0
  custom: "x"
log_level: debug
server_address: 0.0.0.0:9000
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/models/kws.yaml", cfg.Model)
	assert.Equal(t, "cpu", cfg.Accel)
	require.NotNil(t, cfg.Iterations)
	assert.EqualValues(t, 50, *cfg.Iterations)
	require.NotNil(t, cfg.Warmup, "an explicit zero is kept")
	assert.EqualValues(t, 0, *cfg.Warmup)
	assert.Nil(t, cfg.Preview)
	assert.Equal(t, []delegate.Option{
		{Key: "num_tidl_subgraphs", Value: "2"},
		{Key: "debug_level", Value: "0"},
		{Key: "custom", Value: "x"},
	}, cfg.DelegateOptions.Options())
	assert.Equal(t, "0.0.0.0:9000", cfg.ServerAddress)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err, "an explicit path must exist")

	_, err = loadConfig(writeConfig(t, "delegate_options: [a, b]\n"))
	require.Error(t, err)
}

func TestDelegateConfigLayering(t *testing.T) {
	var cfg Config
	cfg.DelegateOptions = delegate.NewConfig(
		delegate.Option{Key: "extra", Value: "1"},
		delegate.Option{Key: delegate.OptDebugLevel, Value: "0"},
		delegate.Option{Key: delegate.OptArtifactsFolder, Value: "/from/file"},
	)

	out, err := delegateConfig(cfg, defaultArtifacts, false, []string{"debug_level=3", "late = yes"})
	require.NoError(t, err)

	keys, values := out.KeysValues()
	assert.Equal(t, []string{
		delegate.OptArtifactsFolder,
		delegate.OptNumSubgraphs,
		delegate.OptDebugLevel,
		delegate.OptAllowMixedPrecision,
		"extra",
		"late",
	}, keys)
	assert.Equal(t, []string{"/from/file", "1", "3", "1", "1", "yes"}, values)

	out, err = delegateConfig(cfg, "/chosen", true, nil)
	require.NoError(t, err)
	dir, _ := out.Get(delegate.OptArtifactsFolder)
	assert.Equal(t, "/chosen", dir, "--artifacts beats delegate_options")

	_, err = delegateConfig(Config{}, defaultArtifacts, false, []string{"novalue"})
	require.ErrorIs(t, err, delegate.ErrInvalidConfiguration)
}

func TestApplyConfigRespectsFlags(t *testing.T) {
	iters := int64(7)
	cfg := Config{
		Model:      "/cfg/model.yaml",
		Accel:      "cpu",
		Artifacts:  "/cfg/artifacts",
		Iterations: &iters,
	}

	var ran bool
	cmd := &cli.Command{
		Name:  "offload",
		Flags: append(sessionFlags(), benchFlags()...),
		Action: func(ctx context.Context, c *cli.Command) error {
			ran = true
			applySessionConfig(c, cfg)
			applyBenchConfig(c, cfg)
			return nil
		},
	}
	require.NoError(t, cmd.Run(context.Background(), []string{"offload", "--model", "/flag/model.json"}))
	require.True(t, ran)

	assert.Equal(t, "/flag/model.json", modelPath, "flags win over the config file")
	assert.Equal(t, "cpu", accel)
	assert.Equal(t, "/cfg/artifacts", artifactsDir)
	assert.EqualValues(t, 7, iterations)
}
