package fts

// Tests for the FTS client against a TLS test server standing in for the
// FTS REST API.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

// tests that a job submission posts the job JSON and returns the job id
func TestSubmit(t *testing.T) {
	assert := assert.New(t)
	var received Job
	server := httptest.NewTLSServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(http.MethodPost, r.Method)
			assert.Equal("/jobs", r.URL.Path)
			err := json.NewDecoder(r.Body).Decode(&received)
			assert.Nil(err)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"job_id": "d0a2ee53"}`))
		}))
	defer server.Close()

	client := Client{Server: server.URL, Client: *server.Client()}
	job := Job{
		Files: []FileTransfer{
			{
				Sources:      []string{"gsiftp://h1.example.org/stage/P001/reads.fastq"},
				Destinations: []string{"gsiftp://dst.example.org/inbox/reads.fastq"},
			},
		},
	}
	jobId, err := client.Submit(context.Background(), job)
	assert.Nil(err)
	assert.Equal("d0a2ee53", jobId)
	assert.Equal(job, received)
}

// tests that an empty job is still submitted and the server decides its fate
func TestSubmitEmptyJob(t *testing.T) {
	assert := assert.New(t)
	var received Job
	server := httptest.NewTLSServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&received)
			w.Write([]byte(`{"job_id": "empty-1"}`))
		}))
	defer server.Close()

	client := Client{Server: server.URL, Client: *server.Client()}
	jobId, err := client.Submit(context.Background(), Job{Files: []FileTransfer{}})
	assert.Nil(err)
	assert.Equal("empty-1", jobId)
	assert.Equal(0, len(received.Files))
}

// tests that a rejected submission surfaces as a SubmitError
func TestSubmitRejected(t *testing.T) {
	assert := assert.New(t)
	server := httptest.NewTLSServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message": "no valid files"}`))
		}))
	defer server.Close()

	client := Client{Server: server.URL, Client: *server.Client()}
	_, err := client.Submit(context.Background(), Job{})
	assert.NotNil(err)
	var submitErr SubmitError
	assert.True(errors.As(err, &submitErr))
	assert.Equal(http.StatusBadRequest, submitErr.StatusCode)
}

// tests that a job status query parses the state and keeps the raw payload
func TestJobStatus(t *testing.T) {
	assert := assert.New(t)
	payload := `{"job_state": "ACTIVE", "files": [{"file_state": "ACTIVE"}]}`
	server := httptest.NewTLSServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal("/jobs/d0a2ee53", r.URL.Path)
			assert.Equal("1", r.URL.Query().Get("files"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(payload))
		}))
	defer server.Close()

	client := Client{Server: server.URL, Client: *server.Client()}
	status, err := client.JobStatus(context.Background(), "d0a2ee53")
	assert.Nil(err)
	assert.Equal("ACTIVE", status.State)
	assert.False(status.Finished())
	assert.False(status.Failed())
	assert.Equal(payload, string(status.Raw))
}

// tests the terminal state predicates
func TestTerminalStates(t *testing.T) {
	assert := assert.New(t)
	assert.True(JobStatus{State: "FINISHED"}.Finished())
	assert.True(JobStatus{State: "FAILED"}.Failed())
	for _, state := range []string{"SUBMITTED", "READY", "ACTIVE", "STAGING", "FINISHEDDIRTY"} {
		status := JobStatus{State: state}
		assert.False(status.Finished())
		assert.False(status.Failed())
	}
}

// tests that a failed status query surfaces as a StatusError
func TestJobStatusRejected(t *testing.T) {
	assert := assert.New(t)
	server := httptest.NewTLSServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
	defer server.Close()

	client := Client{Server: server.URL, Client: *server.Client()}
	_, err := client.JobStatus(context.Background(), "no-such-job")
	assert.NotNil(err)
	var statusErr StatusError
	assert.True(errors.As(err, &statusErr))
	assert.Equal("no-such-job", statusErr.JobId)
}
