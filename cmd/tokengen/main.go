// Command tokengen issues a bearer token for a user id. It is meant for local
// development against a server using the same signing secret.
//
//	ION_AUTH_JWT_SECRET=... go run ./cmd/tokengen -user 3f0c...
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ion606/workout-api/internal/config"
	"github.com/ion606/workout-api/internal/service/auth"
)

func main() {
	if err := run(os.Args[1:], os.Getenv(config.EnvPrefix+"_AUTH_JWT_SECRET"), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "tokengen:", err)
		os.Exit(1)
	}
}

func run(args []string, envSecret string, out io.Writer) error {
	fs := flag.NewFlagSet("tokengen", flag.ContinueOnError)
	user := fs.String("user", "", "user id to issue the token for (random when empty)")
	secret := fs.String("secret", envSecret, "signing secret, defaults to "+config.EnvPrefix+"_AUTH_JWT_SECRET")
	lifetime := fs.Duration("lifetime", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	userID := uuid.New()
	if *user != "" {
		parsed, err := uuid.Parse(*user)
		if err != nil {
			return fmt.Errorf("invalid user id: %w", err)
		}
		userID = parsed
	}

	minutes := int(lifetime.Minutes())
	if minutes <= 0 {
		return fmt.Errorf("lifetime must be at least one minute")
	}

	svc, err := auth.NewJWTService(config.AuthConfig{JWTSecret: *secret, TokenLifetimeMinutes: minutes})
	if err != nil {
		return err
	}
	token, err := svc.GenerateToken(context.Background(), userID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "user_id: %s\ntoken:   %s\n", userID, token)
	return nil
}
