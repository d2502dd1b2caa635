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

package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/datagrid/gts/auth"
	"github.com/datagrid/gts/config"
)

// This type is a client for the transfer-host agent, a small service that
// runs on every staging host at a fixed port. The agent runs prepare
// activities on staged directories and lists their files.
type Agent struct {
	// port the agent listens on (obtained from config)
	Port int
	// HTTP client with the service's client certificate
	Client http.Client
}

// creates an agent client using the prepare section of the configuration
func NewAgent() (*Agent, error) {
	client, err := auth.SecureHttpClient(config.Prepare.Cert, config.Prepare.Key, requestTimeout)
	if err != nil {
		return nil, err
	}
	return &Agent{
		Port:   config.Prepare.AgentPort,
		Client: client,
	}, nil
}

// asks the agent on the given host to run the named prepare activity on the
// staged directory dir, reporting completion to callbackUrl
func (a *Agent) Prepare(ctx context.Context, host, transferId, dir, activity, callbackUrl string) error {
	data := url.Values{}
	data.Set("transfer_id", transferId)
	data.Set("dir", dir)
	data.Set("prepare", activity)
	data.Set("callback", callbackUrl)
	resp, err := postForm(ctx, &a.Client, a.resource(host, "prepare"), data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return AgentError{Host: host, StatusCode: resp.StatusCode}
	}
	return nil
}

// lists the files staged under dir on the given host (paths are relative to
// dir, and an empty listing is not an error)
func (a *Agent) ListFiles(ctx context.Context, host, dir string) ([]string, error) {
	data := url.Values{}
	data.Set("dir", dir)
	resp, err := postForm(ctx, &a.Client, a.resource(host, "files"), data)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, AgentError{Host: host, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	type FileListResponse struct {
		Success bool     `json:"success"`
		Files   []string `json:"files"`
	}
	var listing FileListResponse
	err = json.Unmarshal(body, &listing)
	if err != nil {
		return nil, err
	}
	if !listing.Success {
		return nil, FileListError{Host: host, Dir: dir}
	}
	if listing.Files == nil {
		listing.Files = []string{}
	}
	return listing.Files, nil
}

// constructs the URL for the named agent resource on the given host
func (a *Agent) resource(host, resource string) string {
	return fmt.Sprintf("https://%s:%d/%s", host, a.Port, resource)
}
