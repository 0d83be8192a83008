package config

import (
	"github.com/dmitrijs2005/finkeeper/internal/configx"
	"github.com/dmitrijs2005/finkeeper/internal/timex"
)

// FileConfig is a DTO used for JSON and YAML unmarshalling. Only fields
// present in the file override earlier layers.
type FileConfig struct {
	EndpointAddrHTTP            string          `json:"endpoint_addr_http" yaml:"endpoint_addr_http"`
	EndpointAddrGRPC            string          `json:"endpoint_addr_grpc" yaml:"endpoint_addr_grpc"`
	DatabaseDSN                 string          `json:"database_dsn" yaml:"database_dsn"`
	SecretKey                   string          `json:"secret_key" yaml:"secret_key"`
	AccessTokenValidityDuration *timex.Duration `json:"access_token_validity_duration" yaml:"access_token_validity_duration"`
	AllowedOrigins              []string        `json:"allowed_origins" yaml:"allowed_origins"`
	RedisAddr                   string          `json:"redis_addr" yaml:"redis_addr"`
	LockTTL                     *timex.Duration `json:"lock_ttl" yaml:"lock_ttl"`
	BatchSize                   *int            `json:"batch_size" yaml:"batch_size"`
	BatchPause                  *timex.Duration `json:"batch_pause" yaml:"batch_pause"`
	S3RootUser                  string          `json:"s3_root_user" yaml:"s3_root_user"`
	S3RootPassword              string          `json:"s3_root_password" yaml:"s3_root_password"`
	S3Bucket                    string          `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region                    string          `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint              string          `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	LogLevel                    string          `json:"log_level" yaml:"log_level"`
}

func parseFile(cfg *Config, path string) error {
	var fc FileConfig
	if err := configx.ReadFile(path, &fc); err != nil {
		return err
	}

	for dst, v := range map[*string]string{
		&cfg.EndpointAddrHTTP: fc.EndpointAddrHTTP,
		&cfg.EndpointAddrGRPC: fc.EndpointAddrGRPC,
		&cfg.DatabaseDSN:      fc.DatabaseDSN,
		&cfg.SecretKey:        fc.SecretKey,
		&cfg.RedisAddr:        fc.RedisAddr,
		&cfg.S3RootUser:       fc.S3RootUser,
		&cfg.S3RootPassword:   fc.S3RootPassword,
		&cfg.S3Bucket:         fc.S3Bucket,
		&cfg.S3Region:         fc.S3Region,
		&cfg.S3BaseEndpoint:   fc.S3BaseEndpoint,
		&cfg.LogLevel:         fc.LogLevel,
	} {
		if v != "" {
			*dst = v
		}
	}

	if fc.AccessTokenValidityDuration != nil {
		cfg.AccessTokenValidityDuration = fc.AccessTokenValidityDuration.Duration
	}
	if len(fc.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = fc.AllowedOrigins
	}
	if fc.LockTTL != nil {
		cfg.LockTTL = fc.LockTTL.Duration
	}
	if fc.BatchSize != nil {
		cfg.BatchSize = *fc.BatchSize
	}
	if fc.BatchPause != nil {
		cfg.BatchPause = fc.BatchPause.Duration
	}
	return nil
}
