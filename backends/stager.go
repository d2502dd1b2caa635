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

// Package backends provides HTTP clients for the external services that
// perform the actual data handling: the staging service and the transfer-host
// agent. Both are called over mutually authenticated TLS with form-encoded
// requests, and both report long-running work back through callbacks rather
// than in their responses.
package backends

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/datagrid/gts/auth"
	"github.com/datagrid/gts/config"
)

// requests to the stager and agent return immediately (the work itself is
// reported via callback), so a short timeout suffices
const requestTimeout = 60 * time.Second

// This type is a client for the staging service, which copies a product's
// files from archival storage onto a transfer host.
type Stager struct {
	// staging service URI (obtained from config)
	Uri string
	// HTTP client with the service's client certificate
	Client http.Client
}

// creates a stager client using the staging section of the configuration
func NewStager() (*Stager, error) {
	client, err := auth.SecureHttpClient(config.Staging.Cert, config.Staging.Key, requestTimeout)
	if err != nil {
		return nil, err
	}
	return &Stager{
		Uri:    config.Staging.Uri,
		Client: client,
	}, nil
}

// asks the stager to stage the files for the given product, reporting
// completion to callbackUrl (authcode may be empty when callback tokens are
// disabled)
func (s *Stager) Stage(ctx context.Context, transferId, productId, callbackUrl, authcode string) error {
	data := url.Values{}
	data.Set("transfer_id", transferId)
	data.Set("product_id", productId)
	data.Set("callback", callbackUrl)
	if authcode != "" {
		data.Set("authcode", authcode)
	}
	resp, err := postForm(ctx, &s.Client, s.Uri, data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return StagerError{StatusCode: resp.StatusCode}
	}
	return nil
}

// performs a form-encoded POST on the given URL, returning the resulting
// response and error
func postForm(ctx context.Context, client *http.Client, postUrl string,
	data url.Values) (*http.Response, error) {
	slog.Debug(fmt.Sprintf("POST: %s", postUrl))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postUrl,
		strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	return client.Do(req)
}
