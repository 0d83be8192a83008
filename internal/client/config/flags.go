package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/flagx"
)

var knownFlags = []string{"-a", "-g", "-p", "-i", "-d", "-t", "-e", "-parallel"}

// parseFlags populates selected Config fields from command-line flags.
//
//	-a string   base URL of the server HTTP API
//	-g string   address of the server gRPC health endpoint
//	-p string   probe mode: http or grpc
//	-i int      online check interval in seconds
//	-d string   local data directory
//	-t string   bearer access token
//	-e          encrypt the local store with a passphrase
//	-parallel   sync record types concurrently
//
// args are filtered through flagx.FilterArgs so other layers' flags pass.
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, knownFlags)

	fs := flag.NewFlagSet("finkeeper", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "base URL of the server")
	fs.StringVar(&cfg.GRPCAddr, "g", cfg.GRPCAddr, "server gRPC health address")
	fs.StringVar(&cfg.ProbeMode, "p", cfg.ProbeMode, "connectivity probe: http or grpc")
	interval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "local data directory")
	fs.StringVar(&cfg.AccessToken, "t", cfg.AccessToken, "access token")
	fs.BoolVar(&cfg.EncryptLocal, "e", cfg.EncryptLocal, "encrypt local data")
	fs.BoolVar(&cfg.ParallelTypes, "parallel", cfg.ParallelTypes, "sync record types concurrently")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.OnlineCheckInterval = time.Duration(*interval) * time.Second
	return nil
}
