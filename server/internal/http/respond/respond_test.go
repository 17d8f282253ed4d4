package respond

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devilmonastery/gatehouse/internal/domain/services"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind error
		want int
	}{
		{services.ErrValidation, http.StatusBadRequest},
		{services.ErrUnauthorized, http.StatusUnauthorized},
		{services.ErrForbidden, http.StatusForbidden},
		{services.ErrNotFound, http.StatusNotFound},
		{services.ErrConflict, http.StatusConflict},
		{services.ErrUnavailable, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		err := &services.Error{Kind: tt.kind, Message: "msg"}
		assert.Equal(t, tt.want, StatusFor(err), tt.kind.Error())
	}
}

func TestError_HidesCause(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	Error(w, r, &services.Error{
		Kind:    services.ErrUnavailable,
		Message: "service temporarily unavailable",
		Cause:   errors.New("dial tcp 10.0.0.5:5432: connection refused"),
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body ErrorBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "service temporarily unavailable", body.Error)
}

func TestDecode(t *testing.T) {
	var v struct {
		Email string `json:"email"`
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@example.com"}`))
	assert.True(t, Decode(w, r, &v))
	assert.Equal(t, "a@example.com", v.Email)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":`))
	assert.False(t, Decode(w, r, &v))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"username":"x"}`))
	assert.False(t, Decode(w, r, &v), "unknown fields are rejected")
}

func TestDecodeOptional(t *testing.T) {
	var v struct {
		Token string `json:"refresh_token"`
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	assert.True(t, DecodeOptional(w, r, &v))
	assert.Empty(t, v.Token)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	assert.True(t, DecodeOptional(w, r, &v))

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/", nil)
	assert.False(t, Decode(w, r, &v))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseForm(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/?token=abc", strings.NewReader("List-Unsubscribe=One-Click"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	require.True(t, IsForm(r))

	w := httptest.NewRecorder()
	require.True(t, ParseForm(w, r))
	assert.Equal(t, "abc", r.FormValue("token"))
	assert.Equal(t, "One-Click", r.PostFormValue("List-Unsubscribe"))

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	r.Header.Set("Content-Type", "application/json")
	assert.False(t, IsForm(r))

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("--x\r\n"))
	r.Header.Set("Content-Type", "multipart/form-data")
	w = httptest.NewRecorder()
	assert.False(t, ParseForm(w, r), "multipart without a boundary")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
