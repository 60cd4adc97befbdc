// Package middleware provides HTTP middleware configuration options.
package middleware

import (
	"github.com/spf13/pflag"

	"github.com/kart-io/finrag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options groups the options of the middlewares installed on the HTTP server.
// Recovery and request id are always on; CORS can be disabled.
type Options struct {
	Recovery  *RecoveryOptions  `json:"recovery" mapstructure:"recovery"`
	RequestID *RequestIDOptions `json:"request-id" mapstructure:"request-id"`
	Logger    *LoggerOptions    `json:"logger" mapstructure:"logger"`
	CORS      *CORSOptions      `json:"cors" mapstructure:"cors"`
}

// NewOptions creates middleware options with defaults.
func NewOptions() *Options {
	return &Options{
		Recovery:  NewRecoveryOptions(),
		RequestID: NewRequestIDOptions(),
		Logger:    NewLoggerOptions(),
		CORS:      NewCORSOptions(),
	}
}

// AddFlags adds flags of every middleware under the "middleware." prefix.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := append(prefixes, "middleware")
	o.Recovery.AddFlags(fs, p...)
	o.RequestID.AddFlags(fs, p...)
	o.Logger.AddFlags(fs, p...)
	o.CORS.AddFlags(fs, p...)
}

// Validate validates all middleware options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	errs = append(errs, o.RequestID.Validate()...)
	errs = append(errs, o.CORS.Validate()...)
	return errs
}

// Complete completes all middleware options.
func (o *Options) Complete() error {
	return o.CORS.Complete()
}
