package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeAndMessage(t *testing.T) {
	err := New(CodeNotFound, "资源不存在")

	assert.Equal(t, CodeNotFound, Code(err))
	assert.Equal(t, "资源不存在", Message(err))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeUpstreamFailure, "调用失败", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeUpstreamFailure, Code(err))
	// Error() 带底层原因，Message() 不带
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, "调用失败", Message(err))
}

func TestCodeOfWrappedError(t *testing.T) {
	inner := New(CodeConflict, "冲突")
	outer := fmt.Errorf("outer: %w", inner)

	assert.Equal(t, CodeConflict, Code(outer))
	assert.Equal(t, "冲突", Message(outer))
}

func TestPlainErrorDefaults(t *testing.T) {
	err := errors.New("something broke")

	assert.Equal(t, CodeInternal, Code(err))
	assert.Equal(t, "服务器内部错误", Message(err))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[string]int{
		CodeValidation:      http.StatusBadRequest,
		CodeUnauthorized:    http.StatusUnauthorized,
		CodeForbidden:       http.StatusForbidden,
		CodeNotFound:        http.StatusNotFound,
		CodeConflict:        http.StatusConflict,
		CodeUpstreamEmpty:   http.StatusBadGateway,
		CodeUpstreamFailure: http.StatusBadGateway,
		CodePersistence:     http.StatusInternalServerError,
		CodeInternal:        http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(New(code, "x")), code)
	}
}

func TestIsMatchesByCode(t *testing.T) {
	assert.ErrorIs(t, New(CodeConflict, "a"), New(CodeConflict, "b"))
	assert.NotErrorIs(t, New(CodeConflict, "a"), New(CodeNotFound, "b"))
}
