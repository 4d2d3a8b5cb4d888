package watcher

import (
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules drives event classification: which basenames are build/dependency
// manifests (fast tier), which directories hold installed dependencies (bulk
// tier), and which entries are ignored entirely.
type Rules struct {
	// Manifests are file basenames that gate bulk operations (dependency
	// installs, builds) and therefore get the fastest notification tier.
	Manifests []string `yaml:"manifests"`

	// DependencyDirs are directory names whose contents change in bulk;
	// events inside them collapse to a single directory-changed
	// notification.
	DependencyDirs []string `yaml:"dependencyDirs"`

	// Excludes are basenames or glob patterns (matched against the
	// basename) dropped from every tier: VCS metadata, editor metadata,
	// swap and temp files.
	Excludes []string `yaml:"excludes"`
}

// DefaultRules covers the common JavaScript, Go, Python, and Rust project
// shapes.
func DefaultRules() Rules {
	return Rules{
		Manifests: []string{
			"package.json", "package-lock.json", "yarn.lock", "pnpm-lock.yaml",
			"bun.lockb", "tsconfig.json", "vite.config.js", "vite.config.ts",
			"webpack.config.js", "go.mod", "go.sum", "requirements.txt",
			"pyproject.toml", "poetry.lock", "Cargo.toml", "Cargo.lock",
			"Makefile", "Dockerfile",
		},
		DependencyDirs: []string{
			"node_modules", "vendor", ".venv", "venv", "target", "__pycache__",
		},
		Excludes: []string{
			".git", ".hg", ".svn", ".idea", ".vscode", ".DS_Store",
			"*.swp", "*.swo", "*~", "*.tmp", "4913", ".#*",
		},
	}
}

// LoadRules reads a YAML rules file. Missing fields fall back to the
// defaults, so an override file can adjust a single list.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("failed to read watch rules: %w", err)
	}

	rules := DefaultRules()
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("failed to parse watch rules: %w", err)
	}
	return rules, nil
}

// IsExcluded reports whether any segment of the slash-separated relative
// path matches an exclude pattern.
func (r Rules) IsExcluded(relPath string) bool {
	for _, seg := range strings.Split(relPath, "/") {
		for _, pat := range r.Excludes {
			if ok, _ := path.Match(pat, seg); ok {
				return true
			}
		}
	}
	return false
}

// IsManifest reports whether the path's basename is a build/dependency
// manifest.
func (r Rules) IsManifest(relPath string) bool {
	base := path.Base(relPath)
	for _, m := range r.Manifests {
		if base == m {
			return true
		}
	}
	return false
}

// DependencyRoot returns the path prefix up to and including the first
// dependency-directory segment, and whether the path lies inside one.
// Events under node_modules/foo/bar collapse to node_modules.
func (r Rules) DependencyRoot(relPath string) (string, bool) {
	segs := strings.Split(relPath, "/")
	for i, seg := range segs {
		for _, d := range r.DependencyDirs {
			if seg == d {
				return strings.Join(segs[:i+1], "/"), true
			}
		}
	}
	return "", false
}
