package common

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopherheir.com/pkg/xerr"
)

func init() { gin.SetMode(gin.TestMode) }

func run(t *testing.T, h gin.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	r := gin.New()
	r.GET("/x", h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestSuccess(t *testing.T) {
	w, resp := run(t, func(c *gin.Context) { Success(c, gin.H{"ok": true}) })
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xerr.OK, resp.Code)
	assert.Equal(t, map[string]interface{}{"ok": true}, resp.Data)
}

func TestFailErr_CodeError(t *testing.T) {
	err := xerr.New(xerr.TimelockNotElapsed, "one month has not passed since the last withdrawal")
	w, resp := run(t, func(c *gin.Context) { FailErr(c, err) })
	assert.Equal(t, http.StatusLocked, w.Code)
	assert.Equal(t, xerr.TimelockNotElapsed, resp.Code)
	assert.Equal(t, "one month has not passed since the last withdrawal", resp.Message)
	assert.Nil(t, resp.Data)
}

func TestFailErr_HidesInternalDetail(t *testing.T) {
	w, resp := run(t, func(c *gin.Context) { FailErr(c, errors.New("dial tcp 10.0.0.1:3306: refused")) })
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, xerr.ServerCommonError, resp.Code)
	assert.Equal(t, "internal error", resp.Message)
}
