package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
)

// FileArea is the on-disk upload area: one directory per session under Root.
type FileArea struct {
	Root string
}

// validID rejects ids that could escape Root.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..")
}

func (f FileArea) Dir(sessionID string) string {
	return filepath.Join(f.Root, sessionID)
}

// Save writes one upload into the session's directory and returns its path.
func (f FileArea) Save(sessionID, name string, data []byte) (string, error) {
	if !validID(sessionID) {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." {
		name = "upload"
	}
	dir := f.Dir(sessionID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return p, nil
}

// Sessions lists the session directories present under Root.
func (f FileArea) Sessions() ([]string, error) {
	names, err := godirwalk.ReadDirnames(f.Root, nil)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list file area: %w", err)
	}
	out := names[:0]
	for _, n := range names {
		if !validID(n) || strings.HasPrefix(n, ".") {
			continue
		}
		if st, err := os.Stat(filepath.Join(f.Root, n)); err == nil && st.IsDir() {
			out = append(out, n)
		}
	}
	return out, nil
}

// Shred overwrites every regular file in the session's directory with
// random bytes before removing the directory. A missing directory is not an
// error.
func (f FileArea) Shred(sessionID string) (int, error) {
	if !validID(sessionID) {
		return 0, nil
	}
	dir := f.Dir(sessionID)
	if _, err := os.Lstat(dir); errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}

	files := 0
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if !de.IsRegular() {
				return nil
			}
			if err := overwrite(path); err != nil {
				return err
			}
			files++
			return nil
		},
	})
	if err != nil {
		return files, fmt.Errorf("shred %s: %w", sessionID, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return files, fmt.Errorf("remove session dir: %w", err)
	}
	return files, nil
}

func overwrite(path string) error {
	fh, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	st, err := fh.Stat()
	if err != nil {
		_ = fh.Close()
		return err
	}
	if _, err := io.CopyN(fh, rand.Reader, st.Size()); err != nil {
		_ = fh.Close()
		return err
	}
	if err := fh.Sync(); err != nil {
		_ = fh.Close()
		return err
	}
	return fh.Close()
}
