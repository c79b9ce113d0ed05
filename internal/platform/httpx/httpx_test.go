package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError_Envelope(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("insufficient_stock", "not enough stock\nfor line 1", http.StatusConflict).
		WithDetails(map[string]any{"stage": "allocatingStock", "status": 999}))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "insufficient_stock", body["error"])
	assert.Equal(t, "not enough stock for line 1", body["message"])
	assert.EqualValues(t, http.StatusConflict, body["status"])
	assert.Equal(t, "req-42", body["requestId"])
	assert.Equal(t, "allocatingStock", body["stage"])
}

func TestError_ImplementsError(t *testing.T) {
	err := NewError("order_not_found", "order not found", 0)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.EqualError(t, err, "order_not_found: order not found")
}

type payload struct {
	Name string `json:"name"`
}

func TestDecodeJSON(t *testing.T) {
	newReq := func(body, contentType string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		return req
	}

	var ok payload
	require.NoError(t, DecodeJSON(newReq(`{"name":"ciment"} `, "application/json"), &ok, 0, false))
	assert.Equal(t, "ciment", ok.Name)

	tests := []struct {
		name         string
		body         string
		contentType  string
		max          int64
		allowUnknown bool
	}{
		{name: "empty", body: "  "},
		{name: "unknown field", body: `{"name":"x","extra":1}`},
		{name: "trailing document", body: `{"name":"x"}{"name":"y"}`},
		{name: "too large", body: `{"name":"abcdefghij"}`, max: 8},
		{name: "wrong content type", body: `{"name":"x"}`, contentType: "text/plain"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var dst payload
			err := DecodeJSON(newReq(tc.body, tc.contentType), &dst, tc.max, tc.allowUnknown)
			assert.Error(t, err)
		})
	}

	var lenient payload
	assert.NoError(t, DecodeJSON(newReq(`{"name":"x","extra":1}`, ""), &lenient, 0, true))
}
