package security

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["name"],
  "properties": {"name": {"type": "string", "minLength": 1, "maxLength": 8}}
}`

func TestSchemaValidatorRestoresBody(t *testing.T) {
	v, err := NewSchemaValidator(testSchema)
	require.NoError(t, err)

	var seen string
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		seen = string(b)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ada"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"name":"ada"}`, seen)
}

func TestSchemaValidatorRejectsBeforeHandler(t *testing.T) {
	v, err := NewSchemaValidator(testSchema)
	require.NoError(t, err)

	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))

	cases := []struct {
		body string
		code string
	}{
		{`{"name":""}`, "validation_error"},
		{`{"name":"far-too-long"}`, "validation_error"},
		{`{"name":"ada","x":1}`, "validation_error"},
		{`{}`, "validation_error"},
		{`{broken`, "invalid_json"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.body)

		var resp ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp), tc.body)
		assert.Equal(t, tc.code, resp.Error, tc.body)
	}
}

func TestSchemaValidatorNamesFailingField(t *testing.T) {
	v, err := NewSchemaValidator(testSchema)
	require.NoError(t, err)
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":""}`)))

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "name", resp.Details["field"])
}
