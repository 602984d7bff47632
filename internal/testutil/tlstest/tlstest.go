// Package tlstest issues throwaway mutual TLS material for loopback tests.
package tlstest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Bundle is the file set for one mutual TLS pair on loopback. Every file
// lives under a test temp dir.
type Bundle struct {
	CAFile     string
	ServerCert string
	ServerKey  string
	ClientCert string
	ClientKey  string
}

// leaf describes one certificate to sign with the bundle's CA.
type leaf struct {
	file  string
	usage x509.ExtKeyUsage
	dns   []string
	ips   []net.IP
}

// NewBundle creates a CA, a server certificate valid for localhost and
// 127.0.0.1, and a client certificate, all signed with ECDSA P-256.
func NewBundle(t testing.TB) Bundle {
	t.Helper()
	dir := t.TempDir()

	caKey := newKey(t)
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "postal-test-ca"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("self-sign ca: %v", err)
	}
	ca, err := x509.ParseCertificate(caDER)
	if err != nil {
		t.Fatalf("parse ca: %v", err)
	}

	b := Bundle{CAFile: filepath.Join(dir, "ca.pem")}
	store(t, b.CAFile, "CERTIFICATE", caDER)

	leaves := []leaf{
		{file: "server", usage: x509.ExtKeyUsageServerAuth, dns: []string{"localhost"}, ips: []net.IP{net.IPv4(127, 0, 0, 1)}},
		{file: "client", usage: x509.ExtKeyUsageClientAuth},
	}
	paths := make([][2]string, len(leaves))
	for i, l := range leaves {
		key := newKey(t)
		tmpl := &x509.Certificate{
			SerialNumber: big.NewInt(int64(i + 2)),
			Subject:      pkix.Name{CommonName: "postal-test-" + l.file},
			NotBefore:    caTmpl.NotBefore,
			NotAfter:     caTmpl.NotAfter,
			KeyUsage:     x509.KeyUsageDigitalSignature,
			ExtKeyUsage:  []x509.ExtKeyUsage{l.usage},
			DNSNames:     l.dns,
			IPAddresses:  l.ips,
		}
		der, err := x509.CreateCertificate(rand.Reader, tmpl, ca, &key.PublicKey, caKey)
		if err != nil {
			t.Fatalf("sign %s cert: %v", l.file, err)
		}
		keyDER, err := x509.MarshalECPrivateKey(key)
		if err != nil {
			t.Fatalf("marshal %s key: %v", l.file, err)
		}
		paths[i] = [2]string{filepath.Join(dir, l.file+".pem"), filepath.Join(dir, l.file+"-key.pem")}
		store(t, paths[i][0], "CERTIFICATE", der)
		store(t, paths[i][1], "EC PRIVATE KEY", keyDER)
	}
	b.ServerCert, b.ServerKey = paths[0][0], paths[0][1]
	b.ClientCert, b.ClientKey = paths[1][0], paths[1][1]
	return b
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func store(t testing.TB, path, blockType string, der []byte) {
	t.Helper()
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), 0o600); err != nil {
		t.Fatalf("store %s: %v", filepath.Base(path), err)
	}
}
