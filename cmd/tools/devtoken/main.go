// Command devtoken mints a bearer token for local testing of operator routes.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/noah-isme/backend-groupbuy/internal/auth"
	"github.com/noah-isme/backend-groupbuy/internal/config"
)

func main() {
	subject := flag.String("sub", "operator", "token subject (contributor or operator id)")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	token, err := verifier.SignAccessToken(*subject, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}
