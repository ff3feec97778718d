// Command devtoken prints a signed access token for local testing.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Rrens/lean-coffee/internal/config"
	"github.com/Rrens/lean-coffee/internal/security"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	userFlag := flag.String("user", "", "user id (random when empty)")
	name := flag.String("name", "dev", "display name claim")
	ttl := flag.Duration("ttl", 0, "token lifetime (config default when zero)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	userID := uuid.New()
	if *userFlag != "" {
		userID, err = uuid.Parse(*userFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid user id: %v\n", err)
			os.Exit(2)
		}
	}

	lifetime := cfg.Auth.AccessTokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}
	if lifetime <= 0 {
		lifetime = time.Hour
	}

	token, err := security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, lifetime).GenerateAccessToken(userID, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign token: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "user_id=%s\n", userID)
	fmt.Println(token)
}
