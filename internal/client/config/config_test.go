package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/configx"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "http://127.0.0.1:8080", c.ServerURL)
	assert.Equal(t, ProbeHTTP, c.ProbeMode)
	assert.Equal(t, 3*time.Second, c.OnlineCheckInterval)
	assert.Equal(t, 10, c.ChunkSize)
	assert.Equal(t, time.Second, c.ChunkDelay)
	assert.Equal(t, 2*time.Minute, c.EpisodeTimeout)
	assert.Equal(t, 5, c.MaxAttempts)
	assert.False(t, c.EncryptLocal)
}

func TestDatabasePath(t *testing.T) {
	c := Config{DataDir: "/data", DatabaseFile: "x.db"}
	assert.Equal(t, filepath.Join("/data", "x.db"), c.DatabasePath())
	c.DatabaseFile = "/abs/y.db"
	assert.Equal(t, "/abs/y.db", c.DatabasePath())
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    func(c *Config)
		wantErr bool
	}{
		{name: "all flags", args: []string{"-a", "http://h:1", "-i", "10", "-p", "grpc", "-e", "-parallel", "-unknown", "x"},
			want: func(c *Config) {
				c.ServerURL = "http://h:1"
				c.OnlineCheckInterval = 10 * time.Second
				c.ProbeMode = ProbeGRPC
				c.EncryptLocal = true
				c.ParallelTypes = true
			}},
		{name: "incorrect check interval", args: []string{"-i", "abc"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := &Config{}
			got.LoadDefaults()
			err := parseFlags(got, tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			want := &Config{}
			want.LoadDefaults()
			tt.want(want)
			assert.Empty(t, cmp.Diff(want, got))
		})
	}
}

func TestParseFile_OnlyPresentFieldsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_url: http://yaml:9\nchunk_delay: 250ms\nparallel_types: true\n"), 0o600))

	cfg := &Config{}
	cfg.LoadDefaults()
	require.NoError(t, parseFile(cfg, path))

	assert.Equal(t, "http://yaml:9", cfg.ServerURL)
	assert.Equal(t, 250*time.Millisecond, cfg.ChunkDelay)
	assert.True(t, cfg.ParallelTypes)
	assert.Equal(t, 10, cfg.ChunkSize)
	assert.Equal(t, 3*time.Second, cfg.OnlineCheckInterval)
}

func TestLoad_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server_url":"http://file:1","max_attempts":7}`), 0o600))

	env := configx.NewEnvFromMap(map[string]string{
		"FINKEEPER_SERVER_URL":   "http://env:1",
		"FINKEEPER_CHUNK_SIZE":   "3",
		"FINKEEPER_MAX_ATTEMPTS": "2",
	})

	cfg, err := load([]string{"-c", path, "-a", "http://flag:1"}, env)
	require.NoError(t, err)
	assert.Equal(t, "http://flag:1", cfg.ServerURL)
	assert.Equal(t, 3, cfg.ChunkSize)
	assert.Equal(t, 7, cfg.MaxAttempts)
}

func TestLoad_Errors(t *testing.T) {
	_, err := load(nil, configx.NewEnvFromMap(map[string]string{"FINKEEPER_CHUNK_SIZE": "many"}))
	require.Error(t, err)

	_, err = load([]string{"-p", "carrier-pigeon"}, configx.NewEnvFromMap(nil))
	require.Error(t, err)

	_, err = load([]string{"-c", filepath.Join(t.TempDir(), "nope.json")}, configx.NewEnvFromMap(nil))
	require.Error(t, err)
}
