// Package main is the entry point for devtoken, which mints access tokens
// for running the web front end without an identity provider.
package main

import (
	"os"

	"github.com/aussiebroadwan/litcal/cmd/devtoken/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
