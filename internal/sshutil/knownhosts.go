package sshutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	xssh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// LoadKnownHostsCallback returns a strict host key callback backed by the
// given file, creating an empty one on first use. Unknown artifact hosts are
// rejected; there is no trust-on-first-use fallback.
func LoadKnownHostsCallback(path string) (xssh.HostKeyCallback, error) {
	if err := touchKnownHosts(path); err != nil {
		return nil, err
	}
	return knownhosts.New(path)
}

// AppendKnownHost records the artifact host's public key so later dials
// verify against it. authorizedKey is a single authorized_keys line.
func AppendKnownHost(path, host, authorizedKey string) error {
	pubKey, _, _, _, err := xssh.ParseAuthorizedKey([]byte(strings.TrimSpace(authorizedKey)))
	if err != nil {
		return fmt.Errorf("parse host key for %s: %w", host, err)
	}
	if err := touchKnownHosts(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open known_hosts: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, knownhosts.Line([]string{host}, pubKey)); err != nil {
		return fmt.Errorf("append known_hosts entry: %w", err)
	}
	return nil
}

func touchKnownHosts(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("known_hosts dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("known_hosts file: %w", err)
	}
	return f.Close()
}
