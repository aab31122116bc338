package diag

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/configcat/configcat-experiment-hook/log"
	"github.com/stretchr/testify/assert"
)

func TestLogRequests(t *testing.T) {
	var out, errOut bytes.Buffer
	l := log.NewLogger(&errOut, &out, log.Debug)
	handler := logRequests(l, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("degraded"))
	}))
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	o := out.String()
	assert.Contains(t, o, "[debug]")
	assert.Contains(t, o, "GET /status")
	assert.Contains(t, o, "[status: 503]")
	assert.Contains(t, o, "[response: 8B]")
}

func TestLogRequests_AboveDebug(t *testing.T) {
	var out, errOut bytes.Buffer
	l := log.NewLogger(&errOut, &out, log.Info)
	handler := logRequests(l, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, out.String())
}
