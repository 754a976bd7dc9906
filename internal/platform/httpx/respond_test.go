package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("wrap: %w", ErrNotFound): http.StatusNotFound,
		ErrConflict:                         http.StatusConflict,
		ErrValidation:                       http.StatusBadRequest,
		ErrUnavailable:                      http.StatusServiceUnavailable,
		errors.New("boom"):                  http.StatusInternalServerError,
	}
	for err, status := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, err)
		require.Equal(t, status, rec.Code, err.Error())
		require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	}
}

func TestRespondErrorListsValidationFields(t *testing.T) {
	type body struct {
		Page int `validate:"gte=1"`
	}
	err := validator.New().Struct(body{})
	rec := httptest.NewRecorder()
	RespondError(rec, err)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Contains(t, problem.Errors, "body.Page")
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","extra":1}`))
	err := DecodeJSON(httptest.NewRecorder(), req, &target)
	require.ErrorIs(t, err, ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"}`))
	require.NoError(t, DecodeJSON(httptest.NewRecorder(), req, &target))
	require.Equal(t, "a", target.Name)
}

func TestReadBodyBounded(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", MaxBodyBytes+1)))
	_, err := ReadBody(httptest.NewRecorder(), req)
	require.ErrorIs(t, err, ErrValidation)
}
