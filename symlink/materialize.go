package symlink

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mountlink/mountlink/downloader"
	"github.com/mountlink/mountlink/logging"
)

// Materializer publishes symbolic links from a fixed destination path to a
// discovered source, without copying bytes.
type Materializer struct {
	dest string
}

// NewMaterializer creates a materializer for the given destination path.
func NewMaterializer(dest string) *Materializer {
	return &Materializer{dest: dest}
}

// Materialize links the destination to src. The source kind is re-checked
// here rather than trusted from the poller, since the mount can still be
// settling between discovery and linking.
//
// Files get a single verified symlink. Directories are mirrored file by
// file: every regular file under src gets one symlink at the corresponding
// relative position under the destination. Per-file linking survives
// partially populated directories at the cost of one syscall per file. Any
// single failure aborts the remainder — partial success is never reported
// as success.
func (m *Materializer) Materialize(src string) error {
	l := logging.Sub("materializer")

	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", downloader.ErrSourceMissing, src)
		}
		return fmt.Errorf("stat source: %w", err)
	}

	if !info.IsDir() {
		if err := m.linkFile(src, m.dest); err != nil {
			return err
		}
		l.Info("file linked", "src", src, "dest", m.dest)
		return nil
	}

	linked := 0
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", path, err)
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("rel %s: %w", path, err)
		}
		if err := m.linkFile(path, filepath.Join(m.dest, rel)); err != nil {
			return err
		}
		linked++
		return nil
	})
	if err != nil {
		return err
	}

	l.Info("directory linked", "src", src, "dest", m.dest, "files", linked)
	return nil
}

// linkFile creates one symlink at dest pointing to src and verifies that the
// link resolves to an existing file.
func (m *Materializer) linkFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", downloader.ErrLinkCreate, filepath.Dir(dest), err)
	}
	if err := os.Symlink(src, dest); err != nil {
		return fmt.Errorf("%w: %s -> %s: %v", downloader.ErrLinkCreate, dest, src, err)
	}
	// os.Stat follows the link: failure means it points at nothing.
	if _, err := os.Stat(dest); err != nil {
		return fmt.Errorf("%w: %s -> %s: %v", downloader.ErrLinkVerify, dest, src, err)
	}
	return nil
}
