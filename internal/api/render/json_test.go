package render

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type generateRequest struct {
	Prompt string `json:"prompt" validate:"required,max=20"`
	Limit  int    `json:"limit,omitempty" validate:"gte=0"`
}

func decode(body string) (generateRequest, error) {
	var req generateRequest
	err := DecodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), &req)
	return req, err
}

func TestDecodeJSON(t *testing.T) {
	req, err := decode(`{"prompt":"hello"}`)
	require.NoError(t, err)
	assert.Equal(t, "hello", req.Prompt)

	_, err = decode(``)
	assert.EqualError(t, err, "request body is empty")

	_, err = decode(`{"prompt":"hi","extra":true}`)
	assert.ErrorContains(t, err, "unknown field")

	_, err = decode(`{"prompt":"a"}{"prompt":"b"}`)
	assert.Error(t, err)
}

func TestDecodeJSON_FieldErrors(t *testing.T) {
	_, err := decode(`{"limit":-1}`)
	var fields FieldErrors
	require.True(t, errors.As(err, &fields))
	assert.Equal(t, "required", fields["prompt"])
	assert.Equal(t, "gte=0", fields["limit"])
}

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusCreated, map[string]string{"id": "doc-1"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"id":"doc-1"}`, rec.Body.String())
}
