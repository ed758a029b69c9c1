// Package config loads runtime configuration for the session client and the development
// gateway. Values come from struct-tag defaults, then the environment, then an optional
// YAML file, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Log selects the slog handler the binaries write to stderr.
type Log struct {
	Level  string `env:"XLM_LOG_LEVEL,default=info" yaml:"log_level"`
	Format string `env:"XLM_LOG_FORMAT,default=text" yaml:"log_format"` // text | json
}

// Logger builds the configured logger writing to w.
func (l Log) Logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return nil, fmt.Errorf("config: log level %q: %w", l.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(l.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("config: log format %q: want text or json", l.Format)
	}
}

// decodeEnv fills v from the environment. Having none of the variables set is not an error.
func decodeEnv(v any) error {
	if err := envdecode.Decode(v); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// loadYAML overlays the keys present in the file at path onto v.
func loadYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// splitList splits a comma separated list, trimming blanks and dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
