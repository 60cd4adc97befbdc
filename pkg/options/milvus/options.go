// Package milvus provides options for Milvus client configuration.
package milvus

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/finrag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// EnvPassword is read when no password is configured.
const EnvPassword = "MILVUS_PASSWORD"

// Options contains Milvus client configuration. It is only used when
// rag.backend is milvus.
type Options struct {
	// Address is the Milvus server address (host:port).
	Address string `json:"address" mapstructure:"address"`

	// Database is the database name to use.
	Database string `json:"database" mapstructure:"database"`

	Username string `json:"username" mapstructure:"username"`
	Password string `json:"-" mapstructure:"password"`

	// Timeout bounds connection establishment.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// NList is the IVF_FLAT cluster count used when creating the index.
	NList int `json:"nlist" mapstructure:"nlist"`

	// NProbe is the number of clusters searched per query.
	NProbe int `json:"nprobe" mapstructure:"nprobe"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Address:  "localhost:19530",
		Database: "default",
		Timeout:  30 * time.Second,
		NList:    128,
		NProbe:   16,
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.StringVar(&o.Address, p+"milvus.address", o.Address, "Milvus server address (host:port).")
	fs.StringVar(&o.Database, p+"milvus.database", o.Database, "Milvus database name.")
	fs.StringVar(&o.Username, p+"milvus.username", o.Username, "Milvus username for authentication.")
	fs.StringVar(&o.Password, p+"milvus.password", o.Password, "Milvus password (prefer the MILVUS_PASSWORD env var).")
	fs.DurationVar(&o.Timeout, p+"milvus.timeout", o.Timeout, "Connection timeout.")
	fs.IntVar(&o.NList, p+"milvus.nlist", o.NList, "IVF_FLAT nlist used when creating the collection index.")
	fs.IntVar(&o.NProbe, p+"milvus.nprobe", o.NProbe, "Clusters searched per query.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Address == "" {
		errs = append(errs, fmt.Errorf("milvus.address is required"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("milvus.timeout must be positive"))
	}
	if o.NList <= 0 || o.NProbe <= 0 {
		errs = append(errs, fmt.Errorf("milvus.nlist and milvus.nprobe must be positive"))
	}
	return errs
}

// Complete reads the password from MILVUS_PASSWORD when unset.
func (o *Options) Complete() error {
	if o.Password == "" {
		o.Password = os.Getenv(EnvPassword)
	}
	return nil
}
