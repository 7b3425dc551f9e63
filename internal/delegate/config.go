package delegate

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Option keys understood by the TIDL delegate. Other keys are passed through
// to the plugin untouched.
const (
	OptArtifactsFolder     = "artifacts_folder"
	OptNumSubgraphs        = "num_tidl_subgraphs"
	OptDebugLevel          = "debug_level"
	OptAllowMixedPrecision = "allow_mixed_precision"
)

// Option is one key/value pair handed to the plugin factory.
type Option struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Config is an ordered option map. Order is preserved all the way to the
// plugin factory's key and value arrays.
type Config struct {
	opts []Option
}

func NewConfig(opts ...Option) Config {
	var c Config
	for _, o := range opts {
		c.Set(o.Key, o.Value)
	}
	return c
}

// TIDLDefaults returns the option set used for the keyword-spotting model.
func TIDLDefaults(artifacts string) Config {
	return NewConfig(
		Option{OptArtifactsFolder, artifacts},
		Option{OptNumSubgraphs, "1"},
		Option{OptDebugLevel, "2"},
		Option{OptAllowMixedPrecision, "1"},
	)
}

// Set replaces the value of an existing key in place or appends a new one.
func (c *Config) Set(key, value string) {
	for i := range c.opts {
		if c.opts[i].Key == key {
			c.opts[i].Value = value
			return
		}
	}
	c.opts = append(c.opts, Option{Key: key, Value: value})
}

func (c Config) Get(key string) (string, bool) {
	for _, o := range c.opts {
		if o.Key == key {
			return o.Value, true
		}
	}
	return "", false
}

func (c Config) Len() int { return len(c.opts) }

// Options returns a copy of the options in order.
func (c Config) Options() []Option {
	return append([]Option(nil), c.opts...)
}

// KeysValues returns the parallel key and value arrays passed to the factory.
func (c Config) KeysValues() ([]string, []string) {
	keys := make([]string, len(c.opts))
	values := make([]string, len(c.opts))
	for i, o := range c.opts {
		keys[i] = o.Key
		values[i] = o.Value
	}
	return keys, values
}

// Merge applies other on top of c, keeping c's order for existing keys.
func (c Config) Merge(other Config) Config {
	out := NewConfig(c.opts...)
	for _, o := range other.opts {
		out.Set(o.Key, o.Value)
	}
	return out
}

// ParseOption parses "key=value".
func ParseOption(s string) (Option, error) {
	key, value, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return Option{}, fmt.Errorf("%w: option %q is not key=value", ErrInvalidConfiguration, s)
	}
	return Option{Key: key, Value: strings.TrimSpace(value)}, nil
}

// UnmarshalYAML decodes a mapping node, preserving document order. Scalar
// values of any YAML type are kept as their literal text.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("delegate options must be a mapping, got line %d", node.Line)
	}
	var out Config
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("delegate option %q must be a scalar (line %d)", k.Value, v.Line)
		}
		out.Set(k.Value, v.Value)
	}
	*c = out
	return nil
}

// MarshalYAML encodes the options as an ordered mapping.
func (c Config) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, o := range c.opts {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: o.Key},
			&yaml.Node{Kind: yaml.ScalarNode, Value: o.Value, Style: yaml.DoubleQuotedStyle},
		)
	}
	return node, nil
}

// ValidateArtifacts checks that artifacts_folder names an existing directory.
func (c Config) ValidateArtifacts() error {
	dir, ok := c.Get(OptArtifactsFolder)
	if !ok || strings.TrimSpace(dir) == "" {
		return fmt.Errorf("%w: %s is not set", ErrInvalidConfiguration, OptArtifactsFolder)
	}
	st, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %s %q: %v", ErrInvalidConfiguration, OptArtifactsFolder, dir, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("%w: %s %q is not a directory", ErrInvalidConfiguration, OptArtifactsFolder, dir)
	}
	return nil
}

// Lint reports malformed values of known options. The plugin decides what to
// do with them, so these are warnings only.
func (c Config) Lint() []string {
	var warnings []string
	if v, ok := c.Get(OptNumSubgraphs); ok {
		if n, err := strconv.Atoi(v); err != nil || n < 1 {
			warnings = append(warnings, fmt.Sprintf("%s=%q should be a positive integer", OptNumSubgraphs, v))
		}
	}
	if v, ok := c.Get(OptDebugLevel); ok {
		if n, err := strconv.Atoi(v); err != nil || n < 0 || n > 3 {
			warnings = append(warnings, fmt.Sprintf("%s=%q should be 0-3", OptDebugLevel, v))
		}
	}
	if v, ok := c.Get(OptAllowMixedPrecision); ok {
		if _, err := ParseFlag(v); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s=%q should be a boolean", OptAllowMixedPrecision, v))
		}
	}
	return warnings
}

// ParseFlag accepts the boolean spellings plugins commonly take.
func ParseFlag(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean: %q", v)
	}
}

// Accelerator modes.
const (
	ModeAuto = "auto"
	ModeCPU  = "cpu"
)

// Normalize validates an accelerator mode name.
func Normalize(name string) (string, error) {
	mode := strings.ToLower(strings.TrimSpace(name))
	if mode == "" {
		return ModeAuto, nil
	}
	switch mode {
	case ModeAuto, ModeCPU:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown accelerator mode %q (expected auto or cpu)", name)
	}
}
