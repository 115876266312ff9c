package distribute

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"
)

// ErrNotFound is returned when the file to distribute does not exist.
var ErrNotFound = errors.New("distribute: source not found")

// SharedStore copies finished photos into a web-served directory, one
// sub-directory per capture second, keeping the original filename.
type SharedStore struct {
	root    string
	baseURL string
	now     func() time.Time
}

// NewSharedStore creates a store rooted at root. baseURL is the public
// origin the booth is reachable at (e.g. http://192.168.1.20:8080).
func NewSharedStore(root, baseURL string) *SharedStore {
	return &SharedStore{root: root, baseURL: baseURL, now: time.Now}
}

// Root returns the shared directory.
func (s *SharedStore) Root() string { return s.root }

// Store copies src to <root>/<YYYYMMDD_HHMMSS>/<name> and returns the copy's path.
func (s *SharedStore) Store(src string) (string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, src)
	}
	dir := filepath.Join(s.root, s.now().Format("20060102_150405"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create shared dir: %w", err)
	}
	dst := filepath.Join(dir, filepath.Base(src))
	if err := copyFile(src, dst, info); err != nil {
		return "", err
	}
	return dst, nil
}

// Link returns the public download URL of a file under the store root.
func (s *SharedStore) Link(p string) (string, error) {
	rel, err := filepath.Rel(s.root, p)
	if err != nil {
		return "", fmt.Errorf("link %s: %w", p, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || len(rel) >= 3 && rel[:3] == "../" {
		return "", fmt.Errorf("link %s: outside shared root", p)
	}
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("link: bad base url: %w", err)
	}
	u.Path = path.Join("/", u.Path, "shared", rel)
	return u.String(), nil
}

// copyFile copies content, mode and modification time.
func copyFile(src, dst string, info os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
