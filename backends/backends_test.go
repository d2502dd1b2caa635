package backends

// Tests for the stager and agent clients. Each test stands up a TLS test
// server in place of the external service and points a client at it.

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

// creates an Agent wired to the given test server, plus the host to call it
// with
func testAgent(t *testing.T, server *httptest.Server) (*Agent, string) {
	serverUrl, err := url.Parse(server.URL)
	assert.Nil(t, err)
	port, err := strconv.Atoi(serverUrl.Port())
	assert.Nil(t, err)
	return &Agent{
		Port:   port,
		Client: *server.Client(),
	}, serverUrl.Hostname()
}

// tests that the stager client sends a well-formed staging request
func TestStagerStage(t *testing.T) {
	assert := assert.New(t)
	var received url.Values
	server := httptest.NewTLSServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			r.ParseForm()
			received = r.PostForm
			w.WriteHeader(http.StatusOK)
		}))
	defer server.Close()

	stager := Stager{
		Uri:    server.URL + "/stage",
		Client: *server.Client(),
	}
	err := stager.Stage(context.Background(), "xfer-1", "prod-1",
		"https://core.example.org/doneStaging", "")
	assert.Nil(err)
	assert.Equal("xfer-1", received.Get("transfer_id"))
	assert.Equal("prod-1", received.Get("product_id"))
	assert.Equal("https://core.example.org/doneStaging", received.Get("callback"))
	assert.False(received.Has("authcode"))
}

// tests that a configured authcode travels with the staging request
func TestStagerStageSendsAuthcode(t *testing.T) {
	assert := assert.New(t)
	var received url.Values
	server := httptest.NewTLSServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			r.ParseForm()
			received = r.PostForm
			w.WriteHeader(http.StatusAccepted)
		}))
	defer server.Close()

	stager := Stager{
		Uri:    server.URL + "/stage",
		Client: *server.Client(),
	}
	err := stager.Stage(context.Background(), "xfer-1", "prod-1",
		"https://core.example.org/doneStaging", "opaque-token")
	assert.Nil(err)
	assert.Equal("opaque-token", received.Get("authcode"))
}

// tests that a non-2xx stager response surfaces as a StagerError
func TestStagerStageRejected(t *testing.T) {
	assert := assert.New(t)
	server := httptest.NewTLSServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
	defer server.Close()

	stager := Stager{
		Uri:    server.URL + "/stage",
		Client: *server.Client(),
	}
	err := stager.Stage(context.Background(), "xfer-1", "prod-1",
		"https://core.example.org/doneStaging", "")
	assert.NotNil(err)
	var stagerErr StagerError
	assert.True(errors.As(err, &stagerErr))
	assert.Equal(http.StatusServiceUnavailable, stagerErr.StatusCode)
}

// tests that the agent client sends a well-formed prepare request
func TestAgentPrepare(t *testing.T) {
	assert := assert.New(t)
	var received url.Values
	var path string
	server := httptest.NewTLSServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			r.ParseForm()
			received = r.PostForm
			path = r.URL.Path
			w.WriteHeader(http.StatusOK)
		}))
	defer server.Close()

	agent, host := testAgent(t, server)
	err := agent.Prepare(context.Background(), host, "xfer-1", "/staged/xfer-1",
		"checksum", "https://core.example.org/donePrepare")
	assert.Nil(err)
	assert.Equal("/prepare", path)
	assert.Equal("xfer-1", received.Get("transfer_id"))
	assert.Equal("/staged/xfer-1", received.Get("dir"))
	assert.Equal("checksum", received.Get("prepare"))
	assert.Equal("https://core.example.org/donePrepare", received.Get("callback"))
}

// tests that the agent client parses a file listing
func TestAgentListFiles(t *testing.T) {
	assert := assert.New(t)
	server := httptest.NewTLSServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			r.ParseForm()
			assert.Equal("/files", r.URL.Path)
			assert.Equal("/staged/xfer-1", r.PostForm.Get("dir"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"success": true, "files": ["reads.fastq", "sub/meta.json"]}`))
		}))
	defer server.Close()

	agent, host := testAgent(t, server)
	files, err := agent.ListFiles(context.Background(), host, "/staged/xfer-1")
	assert.Nil(err)
	assert.Equal([]string{"reads.fastq", "sub/meta.json"}, files)
}

// tests that an empty listing comes back as an empty slice, not an error
func TestAgentListFilesEmpty(t *testing.T) {
	assert := assert.New(t)
	server := httptest.NewTLSServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"success": true, "files": []}`))
		}))
	defer server.Close()

	agent, host := testAgent(t, server)
	files, err := agent.ListFiles(context.Background(), host, "/staged/xfer-1")
	assert.Nil(err)
	assert.NotNil(files)
	assert.Equal(0, len(files))
}

// tests that an unsuccessful listing surfaces as a FileListError
func TestAgentListFilesFailure(t *testing.T) {
	assert := assert.New(t)
	server := httptest.NewTLSServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"success": false}`))
		}))
	defer server.Close()

	agent, host := testAgent(t, server)
	_, err := agent.ListFiles(context.Background(), host, "/staged/xfer-1")
	assert.NotNil(err)
	var listErr FileListError
	assert.True(errors.As(err, &listErr))
	assert.Equal("/staged/xfer-1", listErr.Dir)
}

// tests that a non-2xx agent response surfaces as an AgentError
func TestAgentRejected(t *testing.T) {
	assert := assert.New(t)
	server := httptest.NewTLSServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
	defer server.Close()

	agent, host := testAgent(t, server)
	err := agent.Prepare(context.Background(), host, "xfer-1", "/staged/xfer-1",
		"checksum", "https://core.example.org/donePrepare")
	assert.NotNil(err)
	var agentErr AgentError
	assert.True(errors.As(err, &agentErr))
	assert.Equal(http.StatusInternalServerError, agentErr.StatusCode)
}
