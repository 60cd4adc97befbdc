package response

import (
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/finrag/pkg/utils/errors"
	"github.com/kart-io/finrag/pkg/utils/json"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSuccessAndErr(t *testing.T) {
	r := Success(map[string]string{"status": "healthy"})
	assert.True(t, r.IsSuccess())
	assert.Equal(t, http.StatusOK, r.HTTPStatus())

	r = Err(errors.ErrGenerationService.WithCause(stderrors.New("quota exceeded")))
	assert.False(t, r.IsSuccess())
	assert.Equal(t, errors.ErrGenerationService.Code, r.Code)
	assert.Equal(t, "Generation service error: quota exceeded", r.Message)
	assert.Equal(t, http.StatusServiceUnavailable, r.HTTPStatus())

	assert.True(t, Err(nil).IsSuccess())
}

func TestHTTPStatus_Lookup(t *testing.T) {
	r := &Response{Code: errors.ErrRAGInvalidRequest.Code}
	assert.Equal(t, http.StatusBadRequest, r.HTTPStatus())

	r = &Response{Code: 9999999}
	assert.Equal(t, http.StatusInternalServerError, r.HTTPStatus())
}

func TestFailWithStatus(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set(ContextKeyRequestID, "01HX")

	FailWithStatus(c, http.StatusInternalServerError, errors.ErrIndexCorrupt.WithCause(stderrors.New("bad header")))

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, errors.ErrIndexCorrupt.Code, body.Code)
	assert.Equal(t, "Vector index is corrupt: bad header", body.Message)
	assert.Equal(t, "01HX", body.RequestID)
	assert.NotZero(t, body.Timestamp)
}

func TestOK(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	OK(c, gin.H{"chunks": 12})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"chunks":12}`, mustData(t, w.Body.Bytes()))
}

func mustData(t *testing.T, body []byte) string {
	t.Helper()
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &raw))
	data, err := json.Marshal(raw["data"])
	require.NoError(t, err)
	return string(data)
}
