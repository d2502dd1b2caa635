// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package fts provides a client for an FTS bulk-transfer service, which moves
// batches of files between GridFTP endpoints. FTS offers no callbacks, so
// submitted jobs are tracked by polling their status.
package fts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/datagrid/gts/auth"
	"github.com/datagrid/gts/config"
)

const requestTimeout = 60 * time.Second

// FTS job states that are terminal for the pipeline; every other state is
// treated as "still running"
const (
	JobFinished = "FINISHED"
	JobFailed   = "FAILED"
)

// a single file movement within a job
type FileTransfer struct {
	Sources      []string `json:"sources"`
	Destinations []string `json:"destinations"`
}

// a batch of file movements submitted and tracked as a unit
type Job struct {
	Files []FileTransfer `json:"files"`
}

// the observed status of a submitted job, with the raw FTS payload preserved
// for the transfer record
type JobStatus struct {
	State string
	Raw   json.RawMessage
}

func (s JobStatus) Finished() bool {
	return s.State == JobFinished
}

func (s JobStatus) Failed() bool {
	return s.State == JobFailed
}

// This type is a client for the FTS REST API
// (https://fts3-docs.web.cern.ch/fts3-docs/).
type Client struct {
	// FTS server base URL (obtained from config)
	Server string
	// HTTP client with the service's client certificate
	Client http.Client
}

// creates an FTS client using the fts section of the configuration
func NewClient() (*Client, error) {
	client, err := auth.SecureHttpClient(config.Fts.Cert, config.Fts.Key, requestTimeout)
	if err != nil {
		return nil, err
	}
	return &Client{
		Server: config.Fts.Server,
		Client: client,
	}, nil
}

// submits a job to FTS, returning the FTS job id
func (c *Client) Submit(ctx context.Context, job Job) (string, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	resp, err := c.post(ctx, "jobs", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", SubmitError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	type SubmitResponse struct {
		JobId string `json:"job_id"`
	}
	var submitResp SubmitResponse
	err = json.Unmarshal(body, &submitResp)
	if err != nil {
		return "", err
	}
	if submitResp.JobId == "" {
		return "", SubmitError{StatusCode: resp.StatusCode, Message: "no job_id in response"}
	}
	return submitResp.JobId, nil
}

// fetches the status of the job with the given id, including per-file detail
func (c *Client) JobStatus(ctx context.Context, jobId string) (JobStatus, error) {
	var status JobStatus
	values := url.Values{}
	values.Set("files", "1")
	resp, err := c.get(ctx, fmt.Sprintf("jobs/%s", jobId), values)
	if err != nil {
		return status, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return status, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return status, StatusError{JobId: jobId, StatusCode: resp.StatusCode}
	}
	type StatusResponse struct {
		JobState string `json:"job_state"`
	}
	var statusResp StatusResponse
	err = json.Unmarshal(body, &statusResp)
	if err != nil {
		return status, err
	}
	status.State = statusResp.JobState
	status.Raw = json.RawMessage(body)
	return status, nil
}

// performs a GET request on the given resource, returning the resulting
// response and error
func (c *Client) get(ctx context.Context, resource string, values url.Values) (*http.Response, error) {
	u, err := url.ParseRequestURI(c.Server)
	if err != nil {
		return nil, err
	}
	u.Path = "/" + resource
	u.RawQuery = values.Encode()
	res := fmt.Sprintf("%v", u)
	slog.Debug(fmt.Sprintf("GET: %s", res))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, res, http.NoBody)
	if err != nil {
		return nil, err
	}
	return c.Client.Do(req)
}

// performs a POST request on the given resource, returning the resulting
// response and error
func (c *Client) post(ctx context.Context, resource string, body io.Reader) (*http.Response, error) {
	u, err := url.ParseRequestURI(c.Server)
	if err != nil {
		return nil, err
	}
	u.Path = "/" + resource
	res := fmt.Sprintf("%v", u)
	slog.Debug(fmt.Sprintf("POST: %s", res))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, res, body)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Content-Type", "application/json")
	return c.Client.Do(req)
}
