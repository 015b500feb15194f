package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/geocoder89/taskora/internal/http/handlers"
	"github.com/geocoder89/taskora/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

// Make sure Gin does not spam the console during the test
func init() {
	gin.SetMode(gin.TestMode)
	if err := handlers.RegisterValidators(); err != nil {
		panic(err)
	}
}

type errorResponse = middlewares.ErrorBody

type envelope struct {
	StatusCode int             `json:"statusCode"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
	Success    bool            `json:"success"`
}

func newRouter() *gin.Engine {
	r := gin.New()
	r.Use(middlewares.RequestID(), middlewares.ErrorHandler("test", nil))
	return r
}

func doJSON(r http.Handler, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, data any) envelope {
	t.Helper()

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to unmarshal envelope: %v body=%s", err, w.Body.String())
	}
	if data != nil {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("failed to unmarshal data: %v body=%s", err, w.Body.String())
		}
	}
	return env
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()

	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal error response: %v body=%s", err, w.Body.String())
	}
	return resp
}

// fieldErrors re-decodes the loosely typed details as FieldErrors.
func fieldErrors(t *testing.T, resp errorResponse) []handlers.FieldError {
	t.Helper()

	raw, err := json.Marshal(resp.Errors)
	if err != nil {
		t.Fatalf("marshal details: %v", err)
	}
	var out []handlers.FieldError
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal details: %v", err)
	}
	return out
}

func doJSONWithHeader(r http.Handler, method, path, key, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set(key, value)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
