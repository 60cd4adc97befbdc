// Package app defines the contract between command options and the
// application bootstrap in pkg/infra/app.
package app

import "github.com/kart-io/finrag/pkg/app/cliflag"

// CliOptions is implemented by the top-level options of a command.
type CliOptions interface {
	// Flags returns the option flags grouped by section.
	Flags() cliflag.NamedFlagSets
	// Complete fills derived and environment-provided values.
	Complete() error
	// Validate returns an aggregate of all validation errors.
	Validate() error
}

// PrintableOptions is an optional interface for options that can print themselves.
type PrintableOptions interface {
	String() string
}
