// Package main generates operator bearer tokens for local development.
// Tokens are signed with the dev secret and will NOT work against a
// production deployment.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"verigate/internal/operatortoken"
)

const devTokenSecret = "dev-token-secret-change-in-production"

func main() {
	operatorID := flag.String("operator", "op-demo", "operator ID to embed in the token")
	location := flag.String("location", "main-gate", "scanning point location")
	ttl := flag.Duration("ttl", 8*time.Hour, "token lifetime")
	secret := flag.String("secret", devTokenSecret, "HMAC signing secret")
	issuer := flag.String("issuer", "verigate", "token issuer")
	flag.Parse()

	svc := operatortoken.NewService([]byte(*secret), *issuer)
	token, err := svc.Issue(*operatorID, *location, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "token generation failed: %v\n", err)
		os.Exit(1)
	}

	out := map[string]string{
		"token":      token,
		"operator":   *operatorID,
		"location":   *location,
		"expires_in": ttl.String(),
		"usage":      fmt.Sprintf("curl -H 'Authorization: Bearer %s' http://localhost:8080/dashboard", token),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
		os.Exit(1)
	}
}
