// Package configx holds the config layers shared by the client and the
// server: the environment (optionally seeded from a .env file) and a JSON or
// YAML config file.
package configx

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every variable name looked up by Env.
const EnvPrefix = "FINKEEPER_"

// LoadDotEnv copies variables from the given .env files (default ".env")
// into the process environment. Variables already set win, and a missing
// file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// Env reads prefixed variables. The first parse error is kept in Err and
// later lookups still run so every bad variable shows up in one pass.
type Env struct {
	lookup func(string) (string, bool)
	Err    error
}

func NewEnv() *Env {
	return &Env{lookup: os.LookupEnv}
}

// NewEnvFromMap is used by tests.
func NewEnvFromMap(m map[string]string) *Env {
	return &Env{lookup: func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}}
}

func (e *Env) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *Env) fail(name string, err error) {
	if e.Err == nil {
		e.Err = fmt.Errorf("env %s%s: %w", EnvPrefix, name, err)
	}
}

func (e *Env) String(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *Env) Int(name string, dst *int) {
	if v, ok := e.get(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = n
	}
}

func (e *Env) Bool(name string, dst *bool) {
	if v, ok := e.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = b
	}
}

// StringSlice splits a comma separated value and trims each element.
func (e *Env) StringSlice(name string, dst *[]string) {
	if v, ok := e.get(name); ok {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

// Duration accepts "3s" style strings or integer nanoseconds.
func (e *Env) Duration(name string, dst *time.Duration) {
	if v, ok := e.get(name); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = time.Duration(n)
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = d
	}
}

// ReadFile decodes the file at path into dst. Files ending in .yaml or .yml
// are YAML; everything else is JSON.
func ReadFile(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, dst)
	default:
		err = json.Unmarshal(data, dst)
	}
	if err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}
