package main

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func readCert(t *testing.T, path string) *x509.Certificate {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		t.Fatalf("%s: not a certificate PEM", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return cert
}

func TestRun_GeneratesCAAndServer(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	var out bytes.Buffer
	if err := run([]string{"-out", dir, "-hosts", "localhost, 127.0.0.1"}, &out); err != nil {
		t.Fatalf("run error: %v", err)
	}

	for _, f := range []string{"ca.crt", "ca.key", "server.crt", "server.key"} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Errorf("%s not written: %v", f, err)
		}
	}

	ca := readCert(t, filepath.Join(dir, "ca.crt"))
	srv := readCert(t, filepath.Join(dir, "server.crt"))
	if !ca.IsCA {
		t.Error("ca.crt must be a CA")
	}
	if err := srv.CheckSignatureFrom(ca); err != nil {
		t.Errorf("server certificate not signed by CA: %v", err)
	}
	if !reflect.DeepEqual(srv.DNSNames, []string{"localhost"}) {
		t.Errorf("DNSNames = %v", srv.DNSNames)
	}
	if !strings.Contains(out.String(), "CA written") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestRun_ReusesExistingCA(t *testing.T) {
	dir := t.TempDir()
	if err := run([]string{"-out", dir}, &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
	first := readCert(t, filepath.Join(dir, "ca.crt"))

	var out bytes.Buffer
	if err := run([]string{"-out", dir, "-hosts", "api.internal"}, &out); err != nil {
		t.Fatal(err)
	}
	second := readCert(t, filepath.Join(dir, "ca.crt"))
	if !first.Equal(second) {
		t.Error("CA must be reused")
	}
	srv := readCert(t, filepath.Join(dir, "server.crt"))
	if err := srv.CheckSignatureFrom(first); err != nil {
		t.Errorf("reissued server certificate not signed by the original CA: %v", err)
	}
	if !strings.Contains(out.String(), "reusing CA") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestRun_Errors(t *testing.T) {
	if err := run([]string{"-out", t.TempDir(), "-hosts", " , "}, &bytes.Buffer{}); err == nil {
		t.Error("expected an error without hosts")
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ca.crt"), []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ca.key"), []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := run([]string{"-out", dir}, &bytes.Buffer{}); err == nil {
		t.Error("expected an error for a corrupt CA")
	}
}

func TestSplitHosts(t *testing.T) {
	got := splitHosts(" a ,b,,c ")
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("splitHosts = %v", got)
	}
}
