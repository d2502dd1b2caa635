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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"
)

// the id-pe-proxyCertInfo extension marking proxy certificates (RFC 3820)
var proxyCertInfoOid = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 14}

// the id-ppl-inheritAll proxy policy language
var inheritAllOid = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 21, 1}

var commonNameOid = asn1.ObjectIdentifier{2, 5, 4, 3}

// the ASN.1 shape of the proxyCertInfo extension value
type proxyPolicy struct {
	PolicyLanguage asn1.ObjectIdentifier
	Policy         []byte `asn1:"optional"`
}

type proxyCertInfo struct {
	PathLenConstraint int `asn1:"optional"`
	ProxyPolicy       proxyPolicy
}

// This type is a throwaway certificate authority issuing the certificates
// tests present as TLS peers.
type CertAuthority struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

// An identity issued for a test: a certificate, its key, and the effective
// DN the service derives from it. For a proxy certificate the DN is the
// issuing identity's.
type Identity struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
	// the effective DN in /K=V form
	DN string

	issuers []*x509.Certificate
}

func NewCertAuthority() (*CertAuthority, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Country:      []string{"XX"},
			Organization: []string{"Datagrid"},
			CommonName:   "Datagrid Test CA",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &CertAuthority{Cert: cert, Key: key}, nil
}

// a pool containing just this CA, for verifying certificates it issued
func (ca *CertAuthority) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(ca.Cert)
	return pool
}

// the CA certificate in PEM form, suitable for a ca_file configuration entry
func (ca *CertAuthority) CertPem() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.Cert.Raw})
}

// Issues an end-entity certificate with the given common name, usable as a
// TLS client or a loopback server. Its DN is /C=XX/O=Datagrid/CN=<name>.
func (ca *CertAuthority) Issue(commonName string) (Identity, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Identity{}, err
	}
	serial, err := randomSerial()
	if err != nil {
		return Identity{}, err
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Country:      []string{"XX"},
			Organization: []string{"Datagrid"},
			CommonName:   commonName,
		},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().Add(24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		DNSNames:    []string{"localhost"},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.Cert, &key.PublicKey, ca.Key)
	if err != nil {
		return Identity{}, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		Cert: cert,
		Key:  key,
		DN:   fmt.Sprintf("/C=XX/O=Datagrid/CN=%s", commonName),
	}, nil
}

// Issues a proxy certificate for this identity: its subject is this
// identity's subject plus one CN component, it is signed by this identity's
// key, and it carries the critical proxyCertInfo extension. Its effective DN
// is this identity's DN.
func (id Identity) IssueProxy() (Identity, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Identity{}, err
	}
	serial, err := randomSerial()
	if err != nil {
		return Identity{}, err
	}
	subject := id.Cert.Subject.ToRDNSequence()
	subject = append(subject, pkix.RelativeDistinguishedNameSET{
		{Type: commonNameOid, Value: serial.String()},
	})
	rawSubject, err := asn1.Marshal(subject)
	if err != nil {
		return Identity{}, err
	}
	info, err := asn1.Marshal(proxyCertInfo{
		ProxyPolicy: proxyPolicy{PolicyLanguage: inheritAllOid},
	})
	if err != nil {
		return Identity{}, err
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		RawSubject:   rawSubject,
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(12 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtraExtensions: []pkix.Extension{{
			Id:       proxyCertInfoOid,
			Critical: true,
			Value:    info,
		}},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, id.Cert, &key.PublicKey, id.Key)
	if err != nil {
		return Identity{}, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		Cert:    cert,
		Key:     key,
		DN:      id.DN,
		issuers: append([]*x509.Certificate{id.Cert}, id.issuers...),
	}, nil
}

// The certificate chain a TLS peer presenting this identity sends, leaf
// first.
func (id Identity) Chain() []*x509.Certificate {
	return append([]*x509.Certificate{id.Cert}, id.issuers...)
}

// the identity's certificate in PEM form
func (id Identity) CertPem() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: id.Cert.Raw})
}

// the identity's private key in PEM form
func (id Identity) KeyPem() ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(id.Key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

// picks a random certificate serial number
func randomSerial() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
}
