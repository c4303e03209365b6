package errors

import (
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetAppError_UnwrapsChain(t *testing.T) {
	base := CallNotFoundError()
	wrapped := fmt.Errorf("lookup call abc: %w", base)

	got := GetAppError(wrapped)
	assert.Equal(t, ErrCodeCallNotFound, got.Code)
	assert.Equal(t, http.StatusNotFound, got.StatusCode)
	assert.True(t, IsAppError(wrapped))
	assert.True(t, IsCode(wrapped, ErrCodeCallNotFound))
	assert.False(t, IsCode(wrapped, ErrCodeDatabase))
}

func TestGetAppError_PlainError(t *testing.T) {
	got := GetAppError(io.EOF)
	assert.Equal(t, ErrCodeInternal, got.Code)
	assert.Equal(t, http.StatusInternalServerError, got.StatusCode)
}

func TestUpstreamError(t *testing.T) {
	err := UpstreamError("openai", io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, http.StatusBadGateway, err.StatusCode)
	assert.Contains(t, err.Error(), "openai request failed")
}
