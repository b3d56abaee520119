// Command token signs a bearer token with auth.jwt_secret. Tokens signed here
// carry no session, so they are accepted until they expire and are the way
// to obtain a first admin token.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/temcen/recengine/internal/app"
	"github.com/temcen/recengine/internal/config"
	"github.com/temcen/recengine/internal/services"
)

func main() {
	flags := pflag.NewFlagSet("token", pflag.ExitOnError)
	configFile := flags.String("config", "", "path to a YAML config file")
	subject := flags.String("subject", "", "token subject, the user id for raters")
	role := flags.String("role", services.RoleAdmin, "token role: rater or admin")
	flags.Duration("ttl", 0, "token lifetime, overrides auth.token_ttl")
	_ = flags.Parse(os.Args[1:])

	if flags.Changed("ttl") {
		if err := viper.BindPFlag("auth.token_ttl", flags.Lookup("ttl")); err != nil {
			fmt.Fprintf(os.Stderr, "failed to bind flag ttl: %v\n", err)
			os.Exit(2)
		}
	}
	if *configFile != "" {
		viper.SetConfigFile(*configFile)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := app.SetupLogger(cfg.Logging)

	resp, err := services.NewAuthService(cfg, logger, nil).GenerateToken(*subject, *role)
	if err != nil {
		logger.WithError(err).Fatal("Failed to sign token")
	}

	fmt.Println(resp.Token)
	logger.WithField("expires_at", resp.ExpiresAt).Debug("Token signed")
}
