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
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/datagrid/gts/config"
)

// This helper assembles the pool of CA certificates trusted for peer
// verification: the configured bundle if one is given, the system pool
// otherwise.
func trustedRoots() (*x509.CertPool, error) {
	if config.Service.CaFile == "" {
		return x509.SystemCertPool()
	}
	pemBytes, err := os.ReadFile(config.Service.CaFile)
	if err != nil {
		return nil, fmt.Errorf("Couldn't read CA bundle %s: %s",
			config.Service.CaFile, err.Error())
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, fmt.Errorf("No CA certificates found in %s",
			config.Service.CaFile)
	}
	return pool, nil
}

// Builds the TLS configuration for the service listener. Peers must present a
// certificate; verification accepts ordinary certificates chaining to the
// trusted roots and one-level proxy certificates whose issuing end-entity
// certificate chains to the roots.
func ServerTLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(config.Service.Cert, config.Service.Key)
	if err != nil {
		return nil, fmt.Errorf("Couldn't load service cert/key: %s", err.Error())
	}
	roots, err := trustedRoots()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		// RequireAnyClientCert defers all chain checks to VerifyPeerCertificate,
		// which knows about proxy certificates
		ClientAuth:            tls.RequireAnyClientCert,
		VerifyPeerCertificate: peerVerifier(roots),
	}, nil
}

// This helper produces the peer verification callback for ServerTLSConfig.
func peerVerifier(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return NoCertificateError{}
		}
		certs := make([]*x509.Certificate, len(rawCerts))
		for i, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return UntrustedCertificateError{Reason: err.Error()}
			}
			certs[i] = cert
		}
		return VerifyPeer(certs, roots)
	}
}

// Verifies a presented certificate chain (leaf first) against the given
// roots, accepting one-level proxy certificates. Exposed for tests.
func VerifyPeer(certs []*x509.Certificate, roots *x509.CertPool) error {
	leaf := certs[0]

	// the proxyCertInfo extension is critical but handled here, so keep the
	// standard library from rejecting it as unrecognized
	leaf.UnhandledCriticalExtensions = slices.DeleteFunc(
		leaf.UnhandledCriticalExtensions,
		proxyCertInfoOid.Equal)

	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}
	options := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}

	_, err := leaf.Verify(options)
	if err == nil {
		return nil
	}
	if !IsProxy(leaf) {
		return UntrustedCertificateError{Reason: err.Error()}
	}

	// A proxy certificate can't pass standard verification: its issuer is an
	// end-entity certificate, not a CA. Accept it if the issuing certificate
	// was presented, itself chains to the roots, and actually signed the
	// leaf. Deeper chains (a proxy of a proxy) are rejected.
	if len(certs) < 2 {
		return UntrustedCertificateError{
			Reason: "proxy certificate presented without its issuer"}
	}
	issuer := certs[1]
	if IsProxy(issuer) {
		return UntrustedCertificateError{
			Reason: "proxy certificates may only be issued by end-entity certificates"}
	}
	if _, err := issuer.Verify(options); err != nil {
		return UntrustedCertificateError{
			Reason: fmt.Sprintf("proxy issuer not trusted: %s", err.Error())}
	}
	if err := issuer.CheckSignature(leaf.SignatureAlgorithm,
		leaf.RawTBSCertificate, leaf.Signature); err != nil {
		return UntrustedCertificateError{
			Reason: fmt.Sprintf("proxy certificate signature invalid: %s", err.Error())}
	}
	now := time.Now()
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		return UntrustedCertificateError{Reason: "proxy certificate expired"}
	}
	return nil
}

// Builds a TLS configuration for outbound connections, presenting the given
// client certificate and key (paths may be empty for an anonymous client)
// and trusting the configured roots.
func ClientTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if certFile != "" || keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("Couldn't load client cert/key: %s", err.Error())
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	if config.Service.CaFile != "" {
		roots, err := trustedRoots()
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = roots
	}
	return tlsConfig, nil
}
