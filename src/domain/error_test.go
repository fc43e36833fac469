package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKindEnvelope(t *testing.T) {
	tests := []struct {
		kind   ErrorKind
		status int
		detail string
	}{
		{ErrorKindAuth, http.StatusUnauthorized, "Unauthorized"},
		{ErrorKindAccount, http.StatusUnauthorized, "There was an error trying to retrieve that account, ensure you have entered the correct credentials and try again later"},
		{ErrorKindDB, http.StatusInternalServerError, "There was an error retrieving your data, ensure the info you entered is correct and try again"},
		{ErrorKindEmail, http.StatusInternalServerError, "There was an error with your email, ensure you have entered the correct email and try again"},
		{ErrorKindGeneric, http.StatusInternalServerError, "Internal Server Error"},
		{ErrorKindToken, http.StatusInternalServerError, "There was an error trying to retrieve that token, try again later"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			env := tt.kind.Envelope()
			assert.Equal(t, tt.status, env.Status)
			assert.Equal(t, "error", env.Type)
			assert.Equal(t, tt.detail, env.Detail)
		})
	}

	assert.Equal(t, ErrorKindGeneric.Envelope(), ErrorKind("bogus").Envelope())
}

func TestDomainError(t *testing.T) {
	cause := fmt.Errorf("%w: connection refused", ErrStore)
	err := NewError(ErrorKindDB, cause, WithMsg("failed to remove challenge"))

	var domainErr DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, ErrorKindDB, domainErr.Kind())
	assert.Equal(t, http.StatusInternalServerError, domainErr.HTTPStatus())
	assert.True(t, errors.Is(err, ErrStore))
	assert.Contains(t, err.Error(), "failed to remove challenge")

	var zero DomainError
	assert.Equal(t, ErrorKindGeneric, zero.Kind())
	assert.Equal(t, "generic", zero.Error())
}

func TestGatewayErrorUnwrap(t *testing.T) {
	err := &GatewayError{Method: http.MethodPost, URL: "http://accounts/v1/account", Status: http.StatusConflict, Body: []byte(`{"code":"NotUnique"}`)}
	assert.True(t, errors.Is(err, ErrGateway))
	assert.Contains(t, err.Error(), "status 409")

	transport := &GatewayError{Method: http.MethodGet, URL: "http://accounts/v1/settings/x", Err: errors.New("dial tcp: refused")}
	assert.True(t, errors.Is(transport, ErrGateway))
	assert.Contains(t, transport.Error(), "dial tcp")
}

func TestTokenNotFoundIsAuth(t *testing.T) {
	assert.True(t, errors.Is(ErrTokenNotFound, ErrAuth))
	assert.True(t, errors.Is(ErrRateLimited, ErrAuth))
}
