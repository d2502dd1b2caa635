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

// This package establishes the identity of TLS peers. Every client of the
// service presents an X.509 certificate, possibly a proxy certificate whose
// effective identity is its issuer. Identities are distinguished names (DNs)
// rendered in the OpenSSL oneline form /K=V/K=V/...
package auth

import (
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strings"
)

// the id-pe-proxyCertInfo extension marks a proxy certificate (RFC 3820)
var proxyCertInfoOid = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 14}

// short names for the attribute types that appear in grid DNs; anything
// else is rendered as its dotted OID
var attributeNames = map[string]string{
	"2.5.4.3":                    "CN",
	"2.5.4.5":                    "serialNumber",
	"2.5.4.6":                    "C",
	"2.5.4.7":                    "L",
	"2.5.4.8":                    "ST",
	"2.5.4.10":                   "O",
	"2.5.4.11":                   "OU",
	"0.9.2342.19200300.100.1.25": "DC",
	"1.2.840.113549.1.9.1":       "emailAddress",
}

// Renders an X.509 name as a DN in the form /K=V/K=V/..., with components in
// certificate order.
func FormatDN(name pkix.Name) string {
	var builder strings.Builder
	for _, attribute := range name.Names {
		key, found := attributeNames[attribute.Type.String()]
		if !found {
			key = attribute.Type.String()
		}
		fmt.Fprintf(&builder, "/%s=%v", key, attribute.Value)
	}
	return builder.String()
}

// Returns true if the given certificate is a proxy certificate, i.e. carries
// the proxyCertInfo extension.
func IsProxy(cert *x509.Certificate) bool {
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(proxyCertInfoOid) {
			return true
		}
	}
	return false
}

// Extracts the effective DN from the peer of a TLS connection. For a proxy
// certificate the DN is the certificate's issuer (one level up the proxy
// chain); otherwise it is the subject.
func PeerDN(state *tls.ConnectionState) (string, error) {
	if state == nil || len(state.PeerCertificates) == 0 {
		return "", NoCertificateError{}
	}
	leaf := state.PeerCertificates[0]
	if IsProxy(leaf) {
		return FormatDN(leaf.Issuer), nil
	}
	return FormatDN(leaf.Subject), nil
}
