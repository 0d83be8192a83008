// Package config loads runtime configuration for the FinKeeper CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Environment variables prefixed FINKEEPER_, seeded from ./.env if present.
//  3. Optional JSON or YAML file selected via -c or -config.
//  4. Command-line flags (see parseFlags).
//
// # File schema
//
//	{
//	  "server_url": "http://127.0.0.1:8080",
//	  "probe_mode": "http",
//	  "online_check_interval": "3s",
//	  "chunk_size": 10,
//	  "chunk_delay": "1s",
//	  "encrypt_local": false
//	}
package config
