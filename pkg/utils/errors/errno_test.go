package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestMakeCode(t *testing.T) {
	tests := []struct {
		name     string
		service  int
		category int
		sequence int
		want     int
	}{
		{"common internal", ServiceCommon, CategoryInternal, 0, 7000},
		{"rag config", ServiceRAG, CategoryConfig, 1, 2012001},
		{"rag network", ServiceRAG, CategoryNetwork, 2, 2010002},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := MakeCode(tt.service, tt.category, tt.sequence)
			assert.Equal(t, tt.want, code)

			s, c, q := ParseCode(code)
			assert.Equal(t, tt.service, s)
			assert.Equal(t, tt.category, c)
			assert.Equal(t, tt.sequence, q)
		})
	}
}

func TestErrno_WithCauseKeepsIdentity(t *testing.T) {
	cause := stderrors.New("unexpected EOF")
	err := ErrIndexCorrupt.WithCause(cause)

	assert.True(t, stderrors.Is(err, ErrIndexCorrupt))
	assert.True(t, stderrors.Is(err, cause))
	assert.False(t, stderrors.Is(err, ErrEmbeddingService))
	assert.Equal(t, "Vector index is corrupt: unexpected EOF", err.Error())

	// 原始错误不被修改
	assert.Nil(t, ErrIndexCorrupt.Unwrap())
}

func TestErrno_MatchThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("initialize: %w", ErrDocumentLoad.WithMessage("no pdf files in ./docs"))

	require.True(t, stderrors.Is(err, ErrDocumentLoad))
	assert.Equal(t, ErrDocumentLoad.Code, GetCode(err))
	assert.True(t, IsCode(err, ErrDocumentLoad.Code))
	assert.Equal(t, ErrDocumentLoad.Code, FromError(err).Code)
}

func TestFromError_Plain(t *testing.T) {
	assert.Nil(t, FromError(nil))

	e := FromError(stderrors.New("boom"))
	assert.Equal(t, ErrInternal.Code, e.Code)
	assert.Equal(t, -1, GetCode(stderrors.New("boom")))
}

func TestErrno_StatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, ErrGenerationService.HTTPStatus())
	assert.Equal(t, codes.Unavailable, ErrEmbeddingService.GRPCStatus())
	assert.Equal(t, http.StatusBadRequest, ErrRAGInvalidRequest.HTTPStatus())

	e := &Errno{Code: 1}
	assert.Equal(t, http.StatusInternalServerError, e.HTTPStatus())
	assert.Equal(t, codes.Internal, e.GRPCStatus())

	assert.True(t, IsClientError(ErrRAGInvalidRequest.Code))
	assert.True(t, IsServerError(ErrInvalidConfiguration.Code))
}

func TestErrno_Message(t *testing.T) {
	assert.Equal(t, "向量索引已损坏", ErrIndexCorrupt.Message("zh-CN"))
	assert.Equal(t, "Vector index is corrupt", ErrIndexCorrupt.Message("en"))
}

func TestRegister_DuplicatePanics(t *testing.T) {
	assert.Panics(t, func() {
		Register(New(ErrIndexCorrupt.Code, http.StatusInternalServerError, codes.Internal, "dup", "重复"))
	})

	e, ok := Lookup(ErrIndexCorrupt.Code)
	require.True(t, ok)
	assert.Same(t, ErrIndexCorrupt, e)
}

func TestErrno_Format(t *testing.T) {
	err := ErrGenerationService.WithCause(stderrors.New("status code 503"))
	assert.Equal(t, "Generation service error: status code 503", fmt.Sprintf("%v", err))
	assert.Contains(t, fmt.Sprintf("%+v", err), "caused by: status code 503")
}
