package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without underlying error",
			err:  New(CodeNotFound, "agent not found"),
			want: "[NOT_FOUND] agent not found",
		},
		{
			name: "with underlying error",
			err:  Wrap(CodeInternal, "store write failed", errors.New("disk full")),
			want: "[INTERNAL] store write failed: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	underlying := errors.New("boom")
	err := Wrap(CodeInternal, "wrapped", underlying)
	assert.Equal(t, underlying, err.Unwrap())
	assert.True(t, errors.Is(err, underlying))
}

func TestError_WithDetails(t *testing.T) {
	err := Validation("stake", "must be positive")
	require.Len(t, err.Details, 2)
	assert.Equal(t, "stake", err.Details["field"])
	assert.Equal(t, "must be positive", err.Details["reason"])
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:   http.StatusBadRequest,
		CodePrecondition: http.StatusBadRequest,
		CodeNotFound:     http.StatusNotFound,
		CodeConflict:     http.StatusConflict,
		CodeInvariant:    http.StatusInternalServerError,
		CodeInsufficient: http.StatusPaymentRequired,
		CodeTimeout:      http.StatusGatewayTimeout,
		CodeBackpressure: http.StatusTooManyRequests,
		CodeInternal:     http.StatusInternalServerError,
	}
	for code, status := range cases {
		err := New(code, "x")
		assert.Equal(t, status, err.HTTPStatus, "code %s", code)
		assert.Equal(t, status, HTTPStatus(err))
	}
}

func TestAsAndIs(t *testing.T) {
	err := Insufficient(2500, 1000)
	appErr, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, CodeInsufficient, appErr.Code)
	assert.True(t, Is(err, CodeInsufficient))
	assert.False(t, Is(err, CodeConflict))

	_, ok = As(errors.New("plain"))
	assert.False(t, ok)
}

func TestHTTPStatusDefaultsWithoutAppError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain")))
}
