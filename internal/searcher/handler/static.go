package handler

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/logger"
)

// staticFiles serves regular files below root. Requests that resolve outside
// root, including through symlinks, are answered with 404.
type staticFiles struct {
	root string
}

func newStaticFiles(homeDir string) (*staticFiles, error) {
	abs, err := filepath.Abs(homeDir)
	if err != nil {
		return nil, fmt.Errorf("resolving home directory %s: %w", homeDir, err)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolving home directory %s: %w", homeDir, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("home directory %s: %w", homeDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("home directory %s is not a directory", homeDir)
	}
	return &staticFiles{root: root}, nil
}

// resolve maps a URL path to a file inside root. Directories resolve to their
// index.html.
func (s *staticFiles) resolve(urlPath string) (string, os.FileInfo, error) {
	if strings.Contains(urlPath, "\x00") {
		return "", nil, fs.ErrNotExist
	}
	clean := path.Clean("/" + urlPath)
	full := filepath.Join(s.root, filepath.FromSlash(clean))

	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		return "", nil, err
	}
	if !s.contains(resolved) {
		return "", nil, fs.ErrPermission
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", nil, err
	}
	if info.IsDir() {
		return s.resolve(path.Join(clean, "index.html"))
	}
	if !info.Mode().IsRegular() {
		return "", nil, fs.ErrNotExist
	}
	return resolved, info, nil
}

func (s *staticFiles) contains(p string) bool {
	rel, err := filepath.Rel(s.root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Static serves files from the home directory.
func (h *Handler) Static(w http.ResponseWriter, r *http.Request) {
	file, info, err := h.static.resolve(r.URL.Path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			logger.FromContext(r.Context()).Warn("static path escapes home directory", "path", r.URL.Path)
		}
		staticError(w, fmt.Errorf("%w: %s", apperrors.ErrNotFound, r.URL.Path))
		return
	}
	f, err := os.Open(file)
	if err != nil {
		staticError(w, fmt.Errorf("%w: %v", apperrors.ErrNotFound, err))
		return
	}
	defer f.Close()
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// staticError answers with the status for err and a generic body, so that
// missing and forbidden paths look the same to clients.
func staticError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	http.Error(w, http.StatusText(status), status)
}
