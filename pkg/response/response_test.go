package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "sudooom.im.messaging/internal/errors"
)

func TestErrorFromAppError_Status(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		err    error
		status int
		code   int
	}{
		{appErrors.ErrUnauthorized, http.StatusUnauthorized, appErrors.CodeUnauthorized},
		{appErrors.ErrForbidden, http.StatusForbidden, appErrors.CodeForbidden},
		{appErrors.ErrConversationNotFound, http.StatusNotFound, appErrors.CodeConversationNotFound},
		{appErrors.ErrMessageNotFound.Wrap(errors.New("x")), http.StatusNotFound, appErrors.CodeMessageNotFound},
		{appErrors.ErrTransientStore, http.StatusServiceUnavailable, appErrors.CodeTransientStore},
		{errors.New("boom"), http.StatusOK, appErrors.CodeServerError},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		ErrorFromAppError(c, tt.err)

		assert.Equal(t, tt.status, w.Code)
		var resp Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, tt.code, resp.Code)
		assert.NotContains(t, resp.Message, "boom")
	}
}

func TestSuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Success(c, gin.H{"total": 3})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"code":0,"message":"success","data":{"total":3}}`, w.Body.String())
}
