// Package storage confines file access to a workspace root and enumerates
// the files beneath it.
package storage

// DefaultExcludes are applied by Enumerate on top of caller excludes.
// Hidden files and directories are skipped independently of these.
var DefaultExcludes = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/.hg/**",
	"**/.svn/**",
	"**/dist/**",
	"**/build/**",
	"**/.*/**",
}

// Provider is the interface for workspace file operations. Every path
// argument is relative to the workspace root; results use forward slashes.
type Provider interface {
	// Root returns the absolute workspace root.
	Root() string
	// Resolve maps a root-relative path to an absolute one, rejecting
	// paths that escape the root.
	Resolve(path string) (string, error)
	// Rel converts an absolute path under the root to forward-slash form.
	Rel(abs string) (string, error)
	// Enumerate lists files under dir matching include and not exclude.
	Enumerate(dir string, include, exclude []string) ([]string, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write replaces the whole file at path, keeping its permissions.
	Write(path string, content []byte) error
}
