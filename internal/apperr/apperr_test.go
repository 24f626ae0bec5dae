package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesKind(t *testing.T) {
	err := fmt.Errorf("join: %w", Unauthorized("not a participant"))

	require.True(t, errors.Is(err, ErrUnauthorized))
	require.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, ErrUnauthorized, KindOf(err))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Internal("store message", cause)

	require.ErrorIs(t, err, ErrInternal)
	require.ErrorIs(t, err, cause)
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		Unauthenticated("x"):           http.StatusUnauthorized,
		Unauthorized("x"):              http.StatusForbidden,
		InvalidArgument("x"):           http.StatusBadRequest,
		NotFound("x"):                  http.StatusNotFound,
		New(ErrConflict, "x"):          http.StatusConflict,
		Internal("x", assert.AnError):  http.StatusInternalServerError,
		errors.New("unclassified"):     http.StatusInternalServerError,
		fmt.Errorf("w: %w", ErrNotFound): http.StatusNotFound,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
}

func TestPublicHidesInternalCause(t *testing.T) {
	msg, details := Public(Internal("failed to store message", errors.New("pq: deadlock detected")))
	assert.Equal(t, "failed to store message", msg)
	assert.Nil(t, details)

	msg, details = Public(WithDetails(ErrInvalidArgument, "invalid payload", map[string]string{"content": "required"}))
	assert.Equal(t, "invalid payload", msg)
	assert.Equal(t, map[string]string{"content": "required"}, details)

	msg, _ = Public(errors.New("boom"))
	assert.Equal(t, "internal error", msg)
}
