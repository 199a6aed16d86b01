package errutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConstructorsCarryCodeAndCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Internal("failed to append ledger entry", cause)

	var be BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, StatusInternal, be.Status())
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "disk full")
}

func TestWrappedErrorsStillMatch(t *testing.T) {
	inner := Conflict("redemption request already decided", nil)
	wrapped := fmt.Errorf("decide: %w", inner)

	var be BaseError
	require.True(t, errors.As(wrapped, &be))
	require.Equal(t, StatusConflict, be.Status())
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[CoreStatus]int{
		StatusBadRequest:       http.StatusBadRequest,
		StatusValidationFailed: http.StatusBadRequest,
		StatusUnauthorized:     http.StatusUnauthorized,
		StatusForbidden:        http.StatusForbidden,
		StatusNotFound:         http.StatusNotFound,
		StatusConflict:         http.StatusConflict,
		StatusInternal:         http.StatusInternalServerError,
		StatusUnknown:          http.StatusInternalServerError,
		CoreStatus("???"):      http.StatusInternalServerError,
	}

	for status, want := range cases {
		require.Equal(t, want, status.HTTPStatus(), string(status))
	}
}

func TestJSONShape(t *testing.T) {
	err := ValidationFailed("points must be greater than zero", nil, WithDetails(Detail{
		Field:   "points",
		Message: "must be positive",
	}))

	var be BaseError
	require.True(t, errors.As(err, &be))

	body, ok := be.JSON().(map[string]interface{})
	require.True(t, ok)
	inner, ok := body["error"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, StatusValidationFailed, inner["code"])
}
