// Package pool provides worker pool configuration options.
package pool

import (
	"fmt"
	"runtime"

	"github.com/spf13/pflag"

	"github.com/kart-io/finrag/pkg/infra/pool"
	"github.com/kart-io/finrag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options contains capacities of the process-wide worker pools.
type Options struct {
	// DefaultCapacity bounds the general purpose pool.
	DefaultCapacity int `json:"default-capacity" mapstructure:"default-capacity"`
	// ExtractCapacity bounds concurrent PDF extraction. 0 means GOMAXPROCS.
	ExtractCapacity int `json:"extract-capacity" mapstructure:"extract-capacity"`
	// HealthCheckCapacity bounds concurrent backend health checks.
	HealthCheckCapacity int `json:"health-check-capacity" mapstructure:"health-check-capacity"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		DefaultCapacity:     pool.DefaultPoolConfig().Capacity,
		HealthCheckCapacity: pool.HealthCheckPoolConfig().Capacity,
	}
}

// AddFlags adds flags for pool options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.IntVar(&o.DefaultCapacity, p+"pool.default-capacity", o.DefaultCapacity, "Capacity of the default worker pool.")
	fs.IntVar(&o.ExtractCapacity, p+"pool.extract-capacity", o.ExtractCapacity, "Concurrent PDF extractions (0 uses GOMAXPROCS).")
	fs.IntVar(&o.HealthCheckCapacity, p+"pool.health-check-capacity", o.HealthCheckCapacity, "Capacity of the health check pool.")
}

// Validate validates the pool options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.DefaultCapacity <= 0 {
		errs = append(errs, fmt.Errorf("pool.default-capacity must be positive"))
	}
	if o.ExtractCapacity < 0 {
		errs = append(errs, fmt.Errorf("pool.extract-capacity must not be negative"))
	}
	if o.HealthCheckCapacity <= 0 {
		errs = append(errs, fmt.Errorf("pool.health-check-capacity must be positive"))
	}
	return errs
}

// Complete resolves the extract capacity.
func (o *Options) Complete() error {
	if o.ExtractCapacity == 0 {
		o.ExtractCapacity = runtime.GOMAXPROCS(0)
	}
	return nil
}

// ToGlobalConfig builds the pool manager configuration.
func (o *Options) ToGlobalConfig() *pool.GlobalConfig {
	cfg := pool.DefaultGlobalConfig()
	cfg.DefaultPool.Capacity = o.DefaultCapacity
	cfg.ExtractPool.Capacity = o.ExtractCapacity
	cfg.HealthCheckPool.Capacity = o.HealthCheckCapacity
	return cfg
}
