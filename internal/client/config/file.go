package config

import (
	"github.com/dmitrijs2005/finkeeper/internal/configx"
	"github.com/dmitrijs2005/finkeeper/internal/timex"
)

// FileConfig is a DTO used for JSON and YAML unmarshalling. Durations go
// through timex.Duration so files can say "3s" or give nanoseconds. Only
// fields present in the file override earlier layers.
type FileConfig struct {
	ServerURL           string          `json:"server_url" yaml:"server_url"`
	GRPCAddr            string          `json:"grpc_addr" yaml:"grpc_addr"`
	ProbeMode           string          `json:"probe_mode" yaml:"probe_mode"`
	OnlineCheckInterval *timex.Duration `json:"online_check_interval" yaml:"online_check_interval"`
	RequestTimeout      *timex.Duration `json:"request_timeout" yaml:"request_timeout"`
	DataDir             string          `json:"data_dir" yaml:"data_dir"`
	DatabaseFile        string          `json:"database_file" yaml:"database_file"`
	AccessToken         string          `json:"access_token" yaml:"access_token"`
	ChunkSize           *int            `json:"chunk_size" yaml:"chunk_size"`
	ChunkDelay          *timex.Duration `json:"chunk_delay" yaml:"chunk_delay"`
	EpisodeTimeout      *timex.Duration `json:"episode_timeout" yaml:"episode_timeout"`
	MaxAttempts         *int            `json:"max_attempts" yaml:"max_attempts"`
	ParallelTypes       *bool           `json:"parallel_types" yaml:"parallel_types"`
	EncryptLocal        *bool           `json:"encrypt_local" yaml:"encrypt_local"`
}

func parseFile(cfg *Config, path string) error {
	var fc FileConfig
	if err := configx.ReadFile(path, &fc); err != nil {
		return err
	}

	setString(&cfg.ServerURL, fc.ServerURL)
	setString(&cfg.GRPCAddr, fc.GRPCAddr)
	setString(&cfg.ProbeMode, fc.ProbeMode)
	setString(&cfg.DataDir, fc.DataDir)
	setString(&cfg.DatabaseFile, fc.DatabaseFile)
	setString(&cfg.AccessToken, fc.AccessToken)

	if fc.OnlineCheckInterval != nil {
		cfg.OnlineCheckInterval = fc.OnlineCheckInterval.Duration
	}
	if fc.RequestTimeout != nil {
		cfg.RequestTimeout = fc.RequestTimeout.Duration
	}
	if fc.ChunkSize != nil {
		cfg.ChunkSize = *fc.ChunkSize
	}
	if fc.ChunkDelay != nil {
		cfg.ChunkDelay = fc.ChunkDelay.Duration
	}
	if fc.EpisodeTimeout != nil {
		cfg.EpisodeTimeout = fc.EpisodeTimeout.Duration
	}
	if fc.MaxAttempts != nil {
		cfg.MaxAttempts = *fc.MaxAttempts
	}
	if fc.ParallelTypes != nil {
		cfg.ParallelTypes = *fc.ParallelTypes
	}
	if fc.EncryptLocal != nil {
		cfg.EncryptLocal = *fc.EncryptLocal
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
