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

package auth

import (
	"github.com/datagrid/gts/config"
)

// This type gates the service's operations by distinguished name: an
// allow-list of submitters, plus the single DN each of the stager and the
// transfer-host agent presents on its completion callback. The lists are
// fixed at construction.
type Authorizer struct {
	allowedDns map[string]bool
	stagerDn   string
	agentDn    string
}

// Creates an Authorizer from the service configuration.
func NewAuthorizer() *Authorizer {
	authorizer := &Authorizer{
		allowedDns: make(map[string]bool),
		stagerDn:   config.Staging.Dn,
		agentDn:    config.Prepare.Dn,
	}
	for _, dn := range config.Auth.AllowedDns {
		authorizer.allowedDns[dn] = true
	}
	return authorizer
}

// Checks that the given DN may submit transfers and read their status,
// returning an UnauthorizedError if not.
func (a *Authorizer) AuthorizeSubmitter(dn string) error {
	if dn == "" || !a.allowedDns[dn] {
		return UnauthorizedError{Dn: dn}
	}
	return nil
}

// Checks that the given DN belongs to the configured stager.
func (a *Authorizer) AuthorizeStager(dn string) error {
	if dn == "" || dn != a.stagerDn {
		return UnauthorizedError{Dn: dn}
	}
	return nil
}

// Checks that the given DN belongs to the configured transfer-host agent.
func (a *Authorizer) AuthorizeAgent(dn string) error {
	if dn == "" || dn != a.agentDn {
		return UnauthorizedError{Dn: dn}
	}
	return nil
}
