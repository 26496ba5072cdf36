// Package sandbox confines filesystem access to an administrator-provided
// allow-list of directories. Every path a tool touches is canonicalized
// (absolute, cleaned, symlinks resolved) before it is compared against the
// roots, so "..", symlinks and relative paths cannot escape.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/flemzord/toolgate/internal/security"
)

// RootConfig is one administrator-configured allowed directory.
type RootConfig struct {
	Label string `yaml:"label"`
	Path  string `yaml:"path"`
}

// Root is a bound allowed directory. Path is the value as configured,
// Canonical is the resolved form used for containment checks.
type Root struct {
	Label     string
	Path      string
	Canonical string
}

// Path is a canonical absolute path proven to lie inside one of the
// sandbox roots. It can only be obtained from Sandbox.Validate.
type Path struct {
	abs   string
	root  string
	label string
}

// String returns the canonical absolute path.
func (p Path) String() string { return p.abs }

// Root returns the canonical root that contains the path.
func (p Path) Root() string { return p.root }

// Label returns the label of the containing root.
func (p Path) Label() string { return p.label }

// IsZero reports whether p was never validated.
func (p Path) IsZero() bool { return p.abs == "" }

// Sandbox validates candidate paths against a fixed set of roots.
// It is immutable after New and safe for concurrent use.
type Sandbox struct {
	roots  []Root
	getwd  func() (string, error)
	onDeny func(candidate string, err error)
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithWorkingDir overrides the directory relative candidates are joined to.
func WithWorkingDir(dir string) Option {
	return func(s *Sandbox) {
		s.getwd = func() (string, error) { return dir, nil }
	}
}

// WithDenyHook registers a callback invoked for every rejected path.
// The hook must not block.
func WithDenyHook(fn func(candidate string, err error)) Option {
	return func(s *Sandbox) { s.onDeny = fn }
}

// New binds the configured roots. Every root must be an absolute path to an
// existing directory; failure to bind any root is fatal to the caller.
func New(cfgs []RootConfig, opts ...Option) (*Sandbox, error) {
	if len(cfgs) == 0 {
		return nil, ErrNoRoots
	}

	s := &Sandbox{getwd: os.Getwd}
	for _, opt := range opts {
		opt(s)
	}

	s.roots = make([]Root, 0, len(cfgs))
	for _, c := range cfgs {
		if c.Path == "" {
			return nil, fmt.Errorf("%w: %q has an empty path", ErrInvalidRoot, c.Label)
		}
		if !filepath.IsAbs(c.Path) {
			return nil, fmt.Errorf("%w: %s is not absolute", ErrInvalidRoot, c.Path)
		}
		canonical, err := filepath.EvalSymlinks(filepath.Clean(c.Path))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRoot, c.Path, err)
		}
		info, err := os.Stat(canonical)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRoot, c.Path, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidRoot, c.Path)
		}
		s.roots = append(s.roots, Root{Label: c.Label, Path: c.Path, Canonical: canonical})
	}
	return s, nil
}

// Roots returns a copy of the bound roots in configuration order.
func (s *Sandbox) Roots() []Root {
	out := make([]Root, len(s.roots))
	copy(out, s.roots)
	return out
}

// Validate canonicalizes candidate and checks that it lies inside an
// allowed root. When mustExist is false the final path components may be
// missing; the deepest existing ancestor is canonicalized and the rest is
// re-appended, so a not-yet-created file still cannot escape through a
// symlinked parent.
func (s *Sandbox) Validate(candidate string, mustExist bool) (Path, error) {
	p, err := s.validate(candidate, mustExist)
	if err != nil && s.onDeny != nil && errors.Is(err, ErrOutsideSandbox) {
		s.onDeny(candidate, err)
	}
	return p, err
}

func (s *Sandbox) validate(candidate string, mustExist bool) (Path, error) {
	if candidate == "" {
		return Path{}, fmt.Errorf("%w: empty path", ErrOutsideSandbox)
	}

	abs := candidate
	if !filepath.IsAbs(abs) {
		wd, err := s.getwd()
		if err != nil {
			return Path{}, fmt.Errorf("resolving working directory: %w", err)
		}
		abs = filepath.Join(wd, abs)
	}
	abs = filepath.Clean(abs)

	canonical, exists, err := canonicalize(abs)
	if err != nil {
		return Path{}, err
	}

	root, ok := s.containing(canonical)
	if !ok {
		if _, lexical := s.containing(abs); lexical {
			return Path{}, fmt.Errorf("%w: %s resolves through a symlink to %s", ErrOutsideSandbox, candidate, canonical)
		}
		return Path{}, fmt.Errorf("%w: %s", ErrOutsideSandbox, candidate)
	}
	if err := security.ValidatePath(canonical); err != nil {
		return Path{}, fmt.Errorf("%w: %w", ErrOutsideSandbox, err)
	}
	if mustExist && !exists {
		return Path{}, fmt.Errorf("%w: %s", ErrNotFound, candidate)
	}

	return Path{abs: canonical, root: root.Canonical, label: root.Label}, nil
}

// containing returns the first root whose canonical path is a path-component
// prefix of p.
func (s *Sandbox) containing(p string) (Root, bool) {
	for _, r := range s.roots {
		if within(r.Canonical, p) {
			return r, true
		}
	}
	return Root{}, false
}

// within reports whether p equals root or is a descendant of it.
// "/data/root2" is not within "/data/root".
func within(root, p string) bool {
	if p == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}

// maxLinkHops bounds symlink chains followed by canonicalize.
const maxLinkHops = 40

// canonicalize resolves symlinks on the deepest existing ancestor of abs
// and re-appends the missing tail. Dangling symlinks are followed to their
// target so a write through them is checked against the real destination.
// exists reports whether abs itself exists.
func canonicalize(abs string) (string, bool, error) {
	return resolve(abs, 0)
}

func resolve(abs string, hops int) (string, bool, error) {
	if hops > maxLinkHops {
		return "", false, fmt.Errorf("%w: %s: too many levels of symbolic links", ErrUnresolvable, abs)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, true, nil
	}
	switch {
	case errors.Is(err, syscall.ENOTDIR):
		// A file used as a directory component: the path cannot exist.
		return "", false, fmt.Errorf("%w: %s: a parent is not a directory", ErrNotFound, abs)
	case !errors.Is(err, fs.ErrNotExist):
		return "", false, fmt.Errorf("%w: %s: %w", ErrUnresolvable, abs, err)
	}

	if info, lerr := os.Lstat(abs); lerr == nil && info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(abs)
		if err != nil {
			return "", false, fmt.Errorf("%w: reading link %s: %w", ErrUnresolvable, abs, err)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(abs), target)
		}
		dest, _, err := resolve(filepath.Clean(target), hops+1)
		return dest, false, err
	}

	parent := filepath.Dir(abs)
	if parent == abs {
		return abs, false, nil
	}
	dir, _, err := resolve(parent, hops)
	if err != nil {
		return "", false, err
	}
	return filepath.Join(dir, filepath.Base(abs)), false, nil
}
