// Package main generates a development Certificate Authority (CA) and a
// server certificate signed by it, writing them under the output directory.
//
// Usage:
//
//	certgen [-out certs] [-hosts localhost,127.0.0.1]
//
// An existing ca.crt/ca.key pair in the output directory is reused, so
// reissuing the server certificate does not invalidate pinned clients.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/atinyakov/glucosync/internal/certgen"
)

const (
	caValidity     = 10 * 365 * 24 * time.Hour
	serverValidity = 365 * 24 * time.Hour
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "certgen:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("certgen", flag.ContinueOnError)
	dir := fs.String("out", "certs", "output directory")
	hosts := fs.String("hosts", "localhost,127.0.0.1", "comma separated DNS names and IPs of the server")
	if err := fs.Parse(args); err != nil {
		return err
	}

	caCertPath := filepath.Join(*dir, "ca.crt")
	caKeyPath := filepath.Join(*dir, "ca.key")

	caCert, caKey, err := certgen.LoadCACredentials(caCertPath, caKeyPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		ca, err := certgen.GenerateCA("GlucoSync Dev CA", caValidity)
		if err != nil {
			return err
		}
		if err := certgen.WritePEM(caCertPath, caKeyPath, ca); err != nil {
			return err
		}
		caCert, caKey = ca.Cert, ca.Key
		fmt.Fprintf(out, "CA written to %s\n", caCertPath)
	case err != nil:
		return fmt.Errorf("load existing CA: %w", err)
	default:
		fmt.Fprintf(out, "reusing CA %s\n", caCertPath)
	}

	srv, err := certgen.GenerateServerCertificate(splitHosts(*hosts), caCert, caKey, serverValidity)
	if err != nil {
		return err
	}
	if err := certgen.WritePEM(filepath.Join(*dir, "server.crt"), filepath.Join(*dir, "server.key"), srv); err != nil {
		return err
	}
	fmt.Fprintf(out, "server certificate for %s written to %s\n", strings.Join(append(srv.Cert.DNSNames, ipStrings(srv)...), ", "), *dir)
	return nil
}

func splitHosts(s string) []string {
	var hosts []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

func ipStrings(b *certgen.Bundle) []string {
	out := make([]string, len(b.Cert.IPAddresses))
	for i, ip := range b.Cert.IPAddresses {
		out[i] = ip.String()
	}
	return out
}
