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
	"fmt"
)

// indicates that a TLS peer presented no certificate
type NoCertificateError struct{}

func (e NoCertificateError) Error() string {
	return "No client certificate was presented"
}

// indicates that a presented certificate chain could not be verified
type UntrustedCertificateError struct {
	Reason string
}

func (e UntrustedCertificateError) Error() string {
	return fmt.Sprintf("Client certificate not trusted: %s", e.Reason)
}

// indicates that a DN is not authorized for the attempted operation
type UnauthorizedError struct {
	Dn string
}

func (e UnauthorizedError) Error() string {
	if e.Dn == "" {
		return "No DN was presented for an operation requiring authorization"
	}
	return fmt.Sprintf("The DN '%s' is not authorized for this operation", e.Dn)
}

// This error type is returned when an outbound HTTPS request is redirected to
// an insecure (HTTP) endpoint.
type DowngradedRedirectError struct {
	Endpoint string
}

func (e DowngradedRedirectError) Error() string {
	return fmt.Sprintf("Redirected to insecure endpoint %s", e.Endpoint)
}
