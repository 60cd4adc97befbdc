// Package main is the entry point for the finrag service.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/finrag/cmd/finrag/app"
)

func main() {
	app.NewApp().Run()
}
