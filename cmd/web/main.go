// Command web serves the litcal sign-in routes: it runs the OIDC login
// against the configured provider, sets the session cookies the request gate
// checks, and answers refresh, logout and session queries. Configuration is
// read from the environment.
package main

import (
	"log"

	"github.com/aussiebroadwan/litcal/internal/web/app"
)

func main() {
	application, err := app.New(app.LoadConfig())
	if err != nil {
		log.Fatalf("litcal web: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("litcal web: %v", err)
	}
}
