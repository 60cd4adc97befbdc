package tracing

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOptions(t *testing.T) {
	o := NewOptions()
	assert.False(t, o.Enabled)
	assert.Equal(t, "finrag", o.ServiceName)
	assert.Equal(t, ExporterOTLPGRPC, o.ExporterType)
	assert.Equal(t, SamplerParentBased, o.SamplerType)
	assert.Empty(t, o.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		errs   int
	}{
		{"disabled ignores everything", func(o *Options) { o.ExporterType = "bad"; o.SamplerRatio = 7 }, 0},
		{"enabled defaults", func(o *Options) { o.Enabled = true }, 0},
		{"stdout needs no endpoint", func(o *Options) {
			o.Enabled = true
			o.ExporterType = ExporterStdout
			o.Endpoint = ""
		}, 0},
		{"otlp needs endpoint", func(o *Options) { o.Enabled = true; o.Endpoint = "" }, 1},
		{"unknown exporter", func(o *Options) { o.Enabled = true; o.ExporterType = "kafka" }, 1},
		{"unknown sampler", func(o *Options) { o.Enabled = true; o.SamplerType = "sometimes" }, 1},
		{"ratio out of range", func(o *Options) { o.Enabled = true; o.SamplerRatio = 1.5 }, 1},
		{"missing service name and queue", func(o *Options) {
			o.Enabled = true
			o.ServiceName = ""
			o.MaxQueueSize = 0
		}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOptions()
			tt.mutate(o)
			assert.Len(t, o.Validate(), tt.errs)
		})
	}
}

func TestAddFlags(t *testing.T) {
	o := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"--tracing.enabled",
		"--tracing.exporter-type=otlp_http",
		"--tracing.endpoint=collector:4318",
		"--tracing.sampler-ratio=0.25",
		"--tracing.headers=x-api-key=secret",
	}))
	assert.True(t, o.Enabled)
	assert.Equal(t, ExporterOTLPHTTP, o.ExporterType)
	assert.Equal(t, "collector:4318", o.Endpoint)
	assert.InDelta(t, 0.25, o.SamplerRatio, 1e-9)
	assert.Equal(t, map[string]string{"x-api-key": "secret"}, o.Headers)
}
