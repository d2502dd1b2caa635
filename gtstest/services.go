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

package gtstest

import (
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strconv"
	"sync"
)

// This file provides loopback stand-ins for the three external services the
// pipeline talks to. Each records what it was asked to do and responds
// success immediately; tests drive the asynchronous parts (callbacks, job
// state changes) themselves.

// The TLS certificate of an httptest server in PEM form, suitable for a
// ca_file configuration entry.
func ServerCertPem(server *httptest.Server) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: server.Certificate().Raw,
	})
}

// a staging request as the fake stager received it
type StageRequest struct {
	TransferId string
	ProductId  string
	Callback   string
	Authcode   string
}

// This type is a stand-in staging service. It records every submission and
// accepts it without doing any work; the test is responsible for reporting
// staging completion through the recorded callback or directly through the
// coordinator.
type FakeStager struct {
	Server *httptest.Server

	mutex    sync.Mutex
	requests []StageRequest
	failing  bool
}

func NewFakeStager() *FakeStager {
	stager := new(FakeStager)
	stager.Server = httptest.NewServer(http.HandlerFunc(stager.handleStage))
	return stager
}

// the URL of the fake's submission endpoint, suitable for the staging.uri
// configuration parameter
func (f *FakeStager) Url() string {
	return f.Server.URL + "/stage"
}

// the staging requests received so far, in order
func (f *FakeStager) Requests() []StageRequest {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return slices.Clone(f.requests)
}

// makes the fake respond with HTTP 500 to subsequent submissions
func (f *FakeStager) FailRequests() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.failing = true
}

// makes the fake accept submissions again
func (f *FakeStager) RestoreRequests() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.failing = false
}

func (f *FakeStager) Close() {
	f.Server.Close()
}

func (f *FakeStager) handleStage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mutex.Lock()
	f.requests = append(f.requests, StageRequest{
		TransferId: r.FormValue("transfer_id"),
		ProductId:  r.FormValue("product_id"),
		Callback:   r.FormValue("callback"),
		Authcode:   r.FormValue("authcode"),
	})
	failing := f.failing
	f.mutex.Unlock()
	w.Header().Set("Content-Type", "application/json")
	if failing {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintln(w, `{"success": false, "msg": "the stager is broken"}`)
		return
	}
	fmt.Fprintln(w, `{"success": true}`)
}

// a preprocessing request as the fake agent received it
type PrepareRequest struct {
	TransferId string
	Dir        string
	Prepare    string
	Callback   string
}

// This type is a stand-in transfer-host agent serving /prepare and /files.
// The agent client connects over TLS only, so the fake runs on a TLS test
// server; point the client at it with Host/Port and trust it with Client.
type FakeAgent struct {
	Server *httptest.Server

	mutex    sync.Mutex
	files    []string
	requests []PrepareRequest
	failing  bool
}

// creates a fake agent whose /files endpoint lists the given files
func NewFakeAgent(files []string) *FakeAgent {
	agent := &FakeAgent{files: slices.Clone(files)}
	mux := http.NewServeMux()
	mux.HandleFunc("/prepare", agent.handlePrepare)
	mux.HandleFunc("/files", agent.handleFiles)
	agent.Server = httptest.NewTLSServer(mux)
	return agent
}

// the host on which the fake agent listens (a loopback address)
func (f *FakeAgent) Host() string {
	host, _, _ := net.SplitHostPort(f.hostPort())
	return host
}

// the port on which the fake agent listens, suitable for the
// prepare.agent_port configuration parameter
func (f *FakeAgent) Port() int {
	_, portStr, _ := net.SplitHostPort(f.hostPort())
	port, _ := strconv.Atoi(portStr)
	return port
}

// an HTTP client that trusts the fake agent's TLS certificate
func (f *FakeAgent) Client() *http.Client {
	return f.Server.Client()
}

// the preprocessing requests received so far, in order
func (f *FakeAgent) Requests() []PrepareRequest {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return slices.Clone(f.requests)
}

// replaces the file listing served by /files
func (f *FakeAgent) SetFiles(files []string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.files = slices.Clone(files)
}

// makes the fake respond with HTTP 500 to subsequent requests
func (f *FakeAgent) FailRequests() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.failing = true
}

// makes the fake serve requests again
func (f *FakeAgent) RestoreRequests() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.failing = false
}

func (f *FakeAgent) Close() {
	f.Server.Close()
}

func (f *FakeAgent) hostPort() string {
	u, _ := url.Parse(f.Server.URL)
	return u.Host
}

func (f *FakeAgent) handlePrepare(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mutex.Lock()
	f.requests = append(f.requests, PrepareRequest{
		TransferId: r.FormValue("transfer_id"),
		Dir:        r.FormValue("dir"),
		Prepare:    r.FormValue("prepare"),
		Callback:   r.FormValue("callback"),
	})
	failing := f.failing
	f.mutex.Unlock()
	w.Header().Set("Content-Type", "application/json")
	if failing {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintln(w, `{"success": false, "msg": "the agent is broken"}`)
		return
	}
	fmt.Fprintln(w, `{"success": true}`)
}

func (f *FakeAgent) handleFiles(w http.ResponseWriter, r *http.Request) {
	f.mutex.Lock()
	files := slices.Clone(f.files)
	failing := f.failing
	f.mutex.Unlock()
	if failing {
		http.Error(w, "the agent is broken", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"files":   files,
	})
}

// a job submission as the fake FTS server received it
type SubmittedJob struct {
	Id string
	// the raw submission payload
	Body json.RawMessage
}

// This type is a stand-in FTS server. Submitted jobs start in the SUBMITTED
// state and stay there until a test moves them along with SetJobState.
type FakeFts struct {
	Server *httptest.Server

	mutex  sync.Mutex
	nextId int
	states map[string]string
	jobs   []SubmittedJob
}

func NewFakeFts() *FakeFts {
	fake := &FakeFts{states: make(map[string]string)}
	fake.Server = httptest.NewServer(http.HandlerFunc(fake.handle))
	return fake
}

// the fake's base URL, suitable for the fts.server configuration parameter
func (f *FakeFts) Url() string {
	return f.Server.URL
}

// the job submissions received so far, in order
func (f *FakeFts) Jobs() []SubmittedJob {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return slices.Clone(f.jobs)
}

// Moves the job with the given id into the given state (e.g. ACTIVE,
// FINISHED, FAILED).
func (f *FakeFts) SetJobState(jobId, state string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.states[jobId] = state
}

func (f *FakeFts) Close() {
	f.Server.Close()
}

func (f *FakeFts) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/jobs":
		f.handleSubmit(w, r)
	case r.Method == http.MethodGet && len(r.URL.Path) > len("/jobs/"):
		f.handleStatus(w, r.URL.Path[len("/jobs/"):])
	default:
		http.NotFound(w, r)
	}
}

func (f *FakeFts) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mutex.Lock()
	f.nextId++
	jobId := fmt.Sprintf("fts-job-%d", f.nextId)
	f.states[jobId] = "SUBMITTED"
	f.jobs = append(f.jobs, SubmittedJob{Id: jobId, Body: body})
	f.mutex.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"job_id": jobId})
}

func (f *FakeFts) handleStatus(w http.ResponseWriter, jobId string) {
	f.mutex.Lock()
	state, found := f.states[jobId]
	f.mutex.Unlock()
	if !found {
		http.Error(w, "no such job", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"job_id":    jobId,
		"job_state": state,
	})
}
