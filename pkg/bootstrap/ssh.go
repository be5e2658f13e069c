package bootstrap

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"
)

const (
	defaultSSHPort = 2222
	defaultSSHUser = "git"
	localSSHURL    = "ssh://git@localhost:2222"

	identityName = "id_gitea"
	configName   = "config"
)

// SSHPaths locates the client key and SSH config inside one directory.
type SSHPaths struct {
	Dir string
}

func (p SSHPaths) Config() string    { return filepath.Join(p.Dir, configName) }
func (p SSHPaths) Identity() string  { return filepath.Join(p.Dir, identityName) }
func (p SSHPaths) PublicKey() string { return filepath.Join(p.Dir, identityName+".pub") }

func (p SSHPaths) SSHCommand() string {
	return fmt.Sprintf("ssh -F %s -i %s", p.Config(), p.Identity())
}

// HostAlias maps the host named in the public remote URL onto the private
// SSH endpoint that actually serves it.
type HostAlias struct {
	Alias        string
	HostName     string
	Port         int
	User         string
	IdentityFile string
}

// Render returns the ssh_config(5) stanza for the alias.
func (h HostAlias) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Host %s\n", h.Alias)
	fmt.Fprintf(&b, "   User %s\n", h.User)
	fmt.Fprintf(&b, "   Port %d\n", h.Port)
	fmt.Fprintf(&b, "   IdentityFile %s\n", h.IdentityFile)
	fmt.Fprintf(&b, "   HostName %s\n", h.HostName)
	b.WriteString("   StrictHostKeyChecking no\n")
	return b.String()
}

// NewHostAlias builds the alias for a course remote URL and the private SSH
// URL from server settings. Port and user default to 2222 and "git".
func NewHostAlias(publicURL, privateURL, identityFile string) (HostAlias, error) {
	pub, err := parseSSHURL(publicURL)
	if err != nil {
		return HostAlias{}, fmt.Errorf("parse remote URL: %w", err)
	}
	priv, err := parseSSHURL(privateURL)
	if err != nil {
		return HostAlias{}, fmt.Errorf("parse private SSH URL: %w", err)
	}
	h := HostAlias{
		Alias:        pub.Hostname(),
		HostName:     priv.Hostname(),
		Port:         defaultSSHPort,
		User:         defaultSSHUser,
		IdentityFile: identityFile,
	}
	if p := priv.Port(); p != "" {
		if h.Port, err = strconv.Atoi(p); err != nil {
			return HostAlias{}, fmt.Errorf("private SSH port %q: %w", p, err)
		}
	}
	if priv.User != nil && priv.User.Username() != "" {
		h.User = priv.User.Username()
	}
	if h.Alias == "" || h.HostName == "" {
		return HostAlias{}, fmt.Errorf("remote URL %q or private SSH URL %q has no host", publicURL, privateURL)
	}
	return h, nil
}

// parseSSHURL accepts URLs with a scheme as well as scp-like
// "user@host:path" remotes. A bare "host:2222" keeps 2222 as the port.
func parseSSHURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") {
		return url.Parse(raw)
	}
	authority, _, _ := strings.Cut(raw, "/")
	if host, rest, ok := strings.Cut(authority, ":"); ok {
		if _, err := strconv.Atoi(rest); err != nil {
			authority = host
		}
	}
	return url.Parse("ssh://" + authority)
}

// KeyGenFunc creates a private key at identity and its public half at
// identity+".pub".
type KeyGenFunc func(ctx context.Context, identity string) error

// SSHKeygen runs ssh-keygen without a passphrase.
func SSHKeygen(ctx context.Context, identity string) error {
	cmd := exec.CommandContext(ctx, "ssh-keygen", "-q", "-t", "rsa", "-b", "4096", "-f", identity, "-N", "")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ssh-keygen: %w: %s", err, strings.TrimSpace(out.String()))
	}
	return nil
}

// readPublicKey loads and validates an authorized_keys formatted key.
func readPublicKey(path string) (ssh.PublicKey, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	key, _, _, _, err := ssh.ParseAuthorizedKey(raw)
	if err != nil {
		return nil, "", fmt.Errorf("parse %s: %w", path, err)
	}
	return key, strings.TrimSpace(string(raw)), nil
}
