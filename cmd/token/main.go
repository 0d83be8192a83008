// Command token issues a development access token for a user id, signed
// with the server's secret key.
//
//	token -user alice [-ttl 24h] [server flags...]
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/dmitrijs2005/finkeeper/internal/flagx"
	"github.com/dmitrijs2005/finkeeper/internal/server/auth"
	"github.com/dmitrijs2005/finkeeper/internal/server/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	fs := flag.NewFlagSet("finkeeper-token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	user := fs.String("user", "", "user id to put into the token")
	ttl := fs.Duration("ttl", cfg.AccessTokenValidityDuration, "token lifetime")
	if err := fs.Parse(flagx.FilterArgs(os.Args[1:], []string{"-user", "-ttl"})); err != nil {
		log.Fatalf("flags: %v", err)
	}
	if *user == "" {
		log.Fatal("-user is required")
	}

	tok, err := auth.GenerateToken(*user, []byte(cfg.SecretKey), *ttl)
	if err != nil {
		log.Fatalf("token: %v", err)
	}
	fmt.Println(tok)
}
