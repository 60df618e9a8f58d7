package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSONRPCCodes(t *testing.T) {
	assert.Equal(t, -32600, KindInvalidRequest.JSONRPCCode())
	assert.Equal(t, -32601, KindNotFound.JSONRPCCode())
	assert.Equal(t, -32602, KindInvalidParams.JSONRPCCode())
	assert.Equal(t, -32603, KindInternal.JSONRPCCode())
	assert.Equal(t, -32603, KindUpstream.JSONRPCCode())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, 400, KindInvalidParams.HTTPStatus())
	assert.Equal(t, 404, KindNotFound.HTTPStatus())
	assert.Equal(t, 504, KindTimeout.HTTPStatus())
	assert.Equal(t, 502, KindUpstream.HTTPStatus())
	assert.Equal(t, 500, KindInternal.HTTPStatus())
}

func TestAsWrapsUnknownError(t *testing.T) {
	e := As(errors.New("boom"))
	assert.Equal(t, KindInternal, e.Kind)
}

func TestAsPassesThroughTypedError(t *testing.T) {
	original := NotFound("missing")
	assert.Same(t, original, As(original))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(0, true))
	assert.True(t, Retryable(429, false))
	assert.True(t, Retryable(408, false))
	assert.True(t, Retryable(503, false))
	assert.False(t, Retryable(400, false))
	assert.False(t, Retryable(404, false))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := Wrap(KindUpstream, "failed", cause)
	assert.Same(t, cause, errors.Unwrap(wrapped))
}
