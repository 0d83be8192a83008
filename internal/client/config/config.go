package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/configx"
	"github.com/dmitrijs2005/finkeeper/internal/flagx"
)

const (
	ProbeHTTP = "http"
	ProbeGRPC = "grpc"
)

// Config holds runtime settings for the FinKeeper CLI.
type Config struct {
	ServerURL string
	GRPCAddr  string
	ProbeMode string

	OnlineCheckInterval time.Duration
	RequestTimeout      time.Duration

	DataDir      string
	DatabaseFile string
	AccessToken  string

	ChunkSize      int
	ChunkDelay     time.Duration
	EpisodeTimeout time.Duration
	MaxAttempts    int
	ParallelTypes  bool

	EncryptLocal bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.GRPCAddr = "127.0.0.1:50051"
	c.ProbeMode = ProbeHTTP
	c.OnlineCheckInterval = 3 * time.Second
	c.RequestTimeout = 30 * time.Second
	c.DataDir = defaultDataDir()
	c.DatabaseFile = "finkeeper.db"
	c.ChunkSize = 10
	c.ChunkDelay = time.Second
	c.EpisodeTimeout = 2 * time.Minute
	c.MaxAttempts = 5
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "finkeeper")
	}
	return ".finkeeper"
}

// DatabasePath joins DataDir and DatabaseFile unless the latter is absolute.
func (c *Config) DatabasePath() string {
	if filepath.IsAbs(c.DatabaseFile) {
		return c.DatabaseFile
	}
	return filepath.Join(c.DataDir, c.DatabaseFile)
}

func (c *Config) validate() error {
	if c.ProbeMode != ProbeHTTP && c.ProbeMode != ProbeGRPC {
		return fmt.Errorf("unknown probe mode %q", c.ProbeMode)
	}
	if c.ServerURL == "" {
		return fmt.Errorf("server url is required")
	}
	return nil
}

// LoadConfig applies defaults, then the environment, then the config file
// named by -c/-config, then flags. Later sources take precedence.
func LoadConfig() (*Config, error) {
	return load(os.Args[1:], configx.NewEnv())
}

func load(args []string, env *configx.Env) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if err := configx.LoadDotEnv(); err != nil {
		return nil, err
	}
	parseEnv(cfg, env)
	if env.Err != nil {
		return nil, env.Err
	}

	if path := flagx.ConfigFileFlag(args); path != "" {
		if err := parseFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseEnv(cfg *Config, env *configx.Env) {
	env.String("SERVER_URL", &cfg.ServerURL)
	env.String("GRPC_ADDR", &cfg.GRPCAddr)
	env.String("PROBE_MODE", &cfg.ProbeMode)
	env.Duration("ONLINE_CHECK_INTERVAL", &cfg.OnlineCheckInterval)
	env.Duration("REQUEST_TIMEOUT", &cfg.RequestTimeout)
	env.String("DATA_DIR", &cfg.DataDir)
	env.String("DATABASE_FILE", &cfg.DatabaseFile)
	env.String("ACCESS_TOKEN", &cfg.AccessToken)
	env.Int("CHUNK_SIZE", &cfg.ChunkSize)
	env.Duration("CHUNK_DELAY", &cfg.ChunkDelay)
	env.Duration("EPISODE_TIMEOUT", &cfg.EpisodeTimeout)
	env.Int("MAX_ATTEMPTS", &cfg.MaxAttempts)
	env.Bool("PARALLEL_TYPES", &cfg.ParallelTypes)
	env.Bool("ENCRYPT_LOCAL", &cfg.EncryptLocal)
}
