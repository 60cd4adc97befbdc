package options

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragopts "github.com/kart-io/finrag/pkg/options/rag"
)

func TestServerOptions_Defaults(t *testing.T) {
	t.Setenv("DATA_PATH", "")
	t.Setenv("VECTOR_DB_PATH", "")

	o := NewServerOptions()
	require.NoError(t, o.Complete())
	require.NoError(t, o.Validate())

	assert.Equal(t, ":8000", o.HTTPOptions.Addr)
	assert.Equal(t, "./knowledge_base", o.RAGOptions.DataPath)
	assert.Equal(t, "./chroma_db", o.RAGOptions.IndexPath)
	assert.Equal(t, ragopts.BackendSQLite, o.RAGOptions.Backend)
	assert.Positive(t, o.PoolOptions.ExtractCapacity)
}

func TestServerOptions_LegacyEnv(t *testing.T) {
	t.Setenv("DATA_PATH", "/srv/reports")
	t.Setenv("VECTOR_DB_PATH", "/srv/index")

	o := NewServerOptions()
	require.NoError(t, o.Complete())

	assert.Equal(t, "/srv/reports", o.RAGOptions.DataPath)
	assert.Equal(t, "/srv/index", o.RAGOptions.IndexPath)
}

func TestServerOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *ServerOptions)
		wantErr string
	}{
		{
			name:    "write timeout shorter than ask timeout",
			mutate:  func(o *ServerOptions) { o.HTTPOptions.WriteTimeout = 10 * time.Second },
			wantErr: "http.write-timeout",
		},
		{
			name:    "overlap not below chunk size",
			mutate:  func(o *ServerOptions) { o.RAGOptions.ChunkOverlap = o.RAGOptions.ChunkSize },
			wantErr: "rag.chunk-overlap",
		},
		{
			name: "milvus validated only for milvus backend",
			mutate: func(o *ServerOptions) {
				o.RAGOptions.Backend = ragopts.BackendMilvus
				o.MilvusOptions.Address = ""
			},
			wantErr: "milvus.address",
		},
		{
			name: "tracing exporter checked when enabled",
			mutate: func(o *ServerOptions) {
				o.TracingOptions.Enabled = true
				o.TracingOptions.ExporterType = "zipkin"
			},
			wantErr: "tracing.exporter-type",
		},
		{
			name:    "negative build timeout",
			mutate:  func(o *ServerOptions) { o.RAGOptions.BuildTimeout = -time.Second },
			wantErr: "rag.build-timeout",
		},
		{
			name:    "unknown backend",
			mutate:  func(o *ServerOptions) { o.RAGOptions.Backend = "chroma" },
			wantErr: "rag.backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewServerOptions()
			require.NoError(t, o.Complete())
			tt.mutate(o)
			assert.ErrorContains(t, o.Validate(), tt.wantErr)
		})
	}

	o := NewServerOptions()
	require.NoError(t, o.Complete())
	o.MilvusOptions.Address = ""
	assert.NoError(t, o.Validate())
}

func TestServerOptions_Flags(t *testing.T) {
	o := NewServerOptions()
	fss := o.Flags()

	for _, name := range []string{"http", "log", "middleware", "rag", "embedding", "chat", "redis", "milvus", "pool", "tracing"} {
		assert.NotNil(t, fss.FlagSets[name], name)
	}
	assert.NotNil(t, fss.FlagSet("rag").Lookup("rag.data-path"))
	assert.NotNil(t, fss.FlagSet("rag").Lookup("rag.build-timeout"))
	assert.NotNil(t, fss.FlagSet("embedding").Lookup("embedding.model"))
	assert.NotNil(t, fss.FlagSet("middleware").Lookup("middleware.cors.enabled"))
	assert.NotNil(t, fss.FlagSet("tracing").Lookup("tracing.exporter-type"))
}
