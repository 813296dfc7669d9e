// Command first-api serves weather forecasts behind JWKS bearer
// authentication and relays the second service's forecast with the
// caller's credentials.
//
// Run with:
//
//	FIRST_API_JWKS_URL=https://idp.example.com/.well-known/jwks.json \
//	FIRST_API_DOWNSTREAM_BASE_URL=http://localhost:8081 \
//	go run ./cmd/first-api
//
// Every setting can also come from a YAML/JSON file (--config) or a
// dotenv file (--env-file); environment variables win.
package main

import (
	"os"

	"github.com/StricklySoft/bearer-relay/internal/cli"
)

var version = "dev"

func main() {
	os.Exit(cli.Execute(cli.Service{
		Name:       "first-api",
		EnvPrefix:  "FIRST_API",
		Short:      "Forecast service that calls second-api on the caller's behalf",
		Version:    version,
		Downstream: true,
	}))
}
