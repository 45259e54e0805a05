package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/navi-mailroom/internal/core/routing"
)

// LoadRoutingConfig reads and compiles the routing rules. An empty path
// yields the built-in defaults.
func LoadRoutingConfig(path string) (routing.Config, error) {
	if path == "" {
		return routing.Config{}.Compile()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return routing.Config{}, fmt.Errorf("read routing config: %w", err)
	}
	return ParseRoutingConfig(data)
}

func ParseRoutingConfig(data []byte) (routing.Config, error) {
	var cfg routing.Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return routing.Config{}, fmt.Errorf("decode routing config: %w", err)
	}
	compiled, err := cfg.Compile()
	if err != nil {
		return routing.Config{}, fmt.Errorf("validate routing config: %w", err)
	}
	return compiled, nil
}
