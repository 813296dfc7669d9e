// Command second-api serves weather forecasts behind JWKS bearer
// authentication. It is called by first-api with the original caller's
// token and verifies that token independently.
//
// Run with:
//
//	SECOND_API_JWKS_URL=https://idp.example.com/.well-known/jwks.json \
//	SECOND_API_HTTP_ADDR=:8081 \
//	go run ./cmd/second-api
package main

import (
	"os"

	"github.com/StricklySoft/bearer-relay/internal/cli"
)

var version = "dev"

func main() {
	os.Exit(cli.Execute(cli.Service{
		Name:      "second-api",
		EnvPrefix: "SECOND_API",
		Short:     "Forecast service reached through first-api",
		Version:   version,
	}))
}
