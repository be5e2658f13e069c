// Package bootstrap prepares a workstation for a course: the clone
// directory, the SSH client identity registered with the grader, the local
// git identity and credentials, and the clone itself.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/classrepo"
	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/course"
	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/git"
)

// SSHKeyName is the name the client key is registered under.
const SSHKeyName = "jlp-client"

// API is the part of the grader API bootstrap needs.
type API interface {
	Course(ctx context.Context) (course.Course, error)
	Self(ctx context.Context) (course.User, error)
	Settings(ctx context.Context) (course.Settings, error)
	SetSSHKey(ctx context.Context, name, publicKey string) error
}

// Bootstrapper sets up the clone of the course returned by API.
type Bootstrapper struct {
	API      API
	ReposDir string

	UserName         string
	Password         string // used for http(s) remotes
	CredentialHelper string // used for http(s) remotes
	Local            bool   // reach the git host on localhost:2222
	SSHDirName       string // default ".ssh", relative to the repository root

	KeyGen KeyGenFunc // default SSHKeygen
	Log    *zerolog.Logger
}

func (b *Bootstrapper) logger() *zerolog.Logger {
	if b.Log != nil {
		return b.Log
	}
	return &log.Logger
}

// Run performs every step and returns the repository root. Each step is
// idempotent, so Run is safe on every start.
func (b *Bootstrapper) Run(ctx context.Context) (string, error) {
	if err := git.CheckVersion(ctx); err != nil {
		return "", err
	}
	c, err := b.API.Course(ctx)
	if err != nil {
		return "", fmt.Errorf("load course: %w", err)
	}
	root, err := filepath.Abs(classrepo.RepoRoot(b.ReposDir, c))
	if err != nil {
		return "", err
	}
	l := b.logger().With().Str("root", root).Logger()

	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create repository root: %w", err)
	}

	paths := b.sshPaths(root)
	if err := b.EnsureSSH(ctx, c, paths); err != nil {
		return "", err
	}

	g := git.Open(root)
	if err := ensureRepository(ctx, g, root); err != nil {
		return "", err
	}
	if err := b.ConfigureGit(ctx, g, c, paths); err != nil {
		return "", err
	}
	cloned, err := ensureClone(ctx, g, c.MasterRemoteURL)
	if err != nil {
		return "", err
	}
	if cloned {
		l.Info().Str("remote", c.MasterRemoteURL).Msg("cloned class repository")
	}
	l.Info().Msg("bootstrap complete")
	return root, nil
}

func (b *Bootstrapper) sshPaths(root string) SSHPaths {
	name := b.SSHDirName
	if name == "" {
		name = ".ssh"
	}
	return SSHPaths{Dir: filepath.Join(root, name)}
}

// EnsureSSH creates the client key when missing, (re)writes the SSH config
// aliasing the course host to the private endpoint, and registers the
// public key with the grader.
func (b *Bootstrapper) EnsureSSH(ctx context.Context, c course.Course, paths SSHPaths) error {
	private := localSSHURL
	if !b.Local {
		s, err := b.API.Settings(ctx)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		private = s.GiteaSSHURL
	}
	alias, err := NewHostAlias(c.MasterRemoteURL, private, paths.Identity())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(paths.Dir, 0o700); err != nil {
		return fmt.Errorf("create ssh dir: %w", err)
	}
	if _, err := os.Stat(paths.Identity()); errors.Is(err, os.ErrNotExist) {
		keygen := b.KeyGen
		if keygen == nil {
			keygen = SSHKeygen
		}
		if err := keygen(ctx, paths.Identity()); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	if err := os.WriteFile(paths.Config(), []byte(alias.Render()), 0o600); err != nil {
		return fmt.Errorf("write ssh config: %w", err)
	}

	key, authorized, err := readPublicKey(paths.PublicKey())
	if err != nil {
		return err
	}
	if err := b.API.SetSSHKey(ctx, SSHKeyName, authorized); err != nil {
		return fmt.Errorf("register ssh key: %w", err)
	}
	b.logger().Info().
		Str("host", alias.Alias).
		Str("key_type", key.Type()).
		Str("fingerprint", ssh.FingerprintSHA256(key)).
		Msg("ssh key registered")
	return nil
}

// ConfigureGit sets the local commit identity and how git authenticates to
// the course remote: a credential helper plus an approved credential for
// http(s) remotes, the generated SSH config otherwise.
func (b *Bootstrapper) ConfigureGit(ctx context.Context, g *git.Repo, c course.Course, paths SSHPaths) error {
	me, err := b.API.Self(ctx)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	for _, key := range []string{"credential.helper", "core.sshCommand"} {
		if err := g.UnsetConfig(ctx, key); err != nil {
			return err
		}
	}
	for _, section := range []string{"user", "author", "committer"} {
		if err := g.SetConfig(ctx, section+".name", b.UserName); err != nil {
			return err
		}
		if err := g.SetConfig(ctx, section+".email", me.Email); err != nil {
			return err
		}
	}

	u, err := url.Parse(c.MasterRemoteURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return g.SetConfig(ctx, "core.sshCommand", paths.SSHCommand())
	}

	// An empty helper resets any inherited helper list.
	if err := g.SetConfig(ctx, "credential.helper", ""); err != nil {
		return err
	}
	if b.CredentialHelper != "" {
		if err := g.AddConfig(ctx, "credential.helper", b.CredentialHelper); err != nil {
			return err
		}
	}
	return g.ApproveCredential(ctx, fmt.Sprintf("protocol=%s\nhost=%s\nusername=%s\npassword=%s",
		u.Scheme, u.Host, b.UserName, b.Password))
}

// ensureRepository initializes root unless it already is a working tree.
func ensureRepository(ctx context.Context, g *git.Repo, root string) error {
	top, err := g.Root(ctx)
	if err == nil {
		if same, _ := sameDir(top, root); same {
			return nil
		}
	} else if !errors.Is(err, git.ErrNotARepository) {
		return err
	}
	if err := g.Init(ctx, classrepo.MainBranch); err != nil {
		return fmt.Errorf("init %s: %w", root, err)
	}
	return nil
}

// ensureClone adds the origin remote when missing and, while main does not
// exist yet, fetches it and checks out main tracking the remote. An origin
// that points elsewhere is left alone. It reports whether main was created.
func ensureClone(ctx context.Context, g *git.Repo, remote string) (bool, error) {
	if _, err := g.RemoteURL(ctx, classrepo.OriginRemote); errors.Is(err, git.ErrRemoteNotFound) {
		if err := g.AddRemote(ctx, classrepo.OriginRemote, remote); err != nil {
			return false, err
		}
	} else if err != nil {
		return false, err
	}
	ok, err := g.BranchExists(ctx, classrepo.MainBranch)
	if err != nil || ok {
		return false, err
	}
	if err := g.Fetch(ctx, classrepo.OriginRemote); err != nil {
		return false, fmt.Errorf("fetch %s: %w", classrepo.OriginRemote, err)
	}
	if err := g.CheckoutTracking(ctx, classrepo.MainBranch, classrepo.TrackingBranch); err != nil {
		return false, err
	}
	return true, nil
}

func sameDir(a, b string) (bool, error) {
	ai, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	return os.SameFile(ai, bi), nil
}
