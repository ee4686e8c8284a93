// Package docs renders the operator documentation (AsciiDoc files in the
// configured docs directory) to HTML for the dashboard.
package docs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytesparadise/libasciidoc"
	"github.com/bytesparadise/libasciidoc/pkg/configuration"
)

// ErrNotFound is returned for names that are not an .adoc file in the docs
// directory.
var ErrNotFound = errors.New("document not found")

type cached struct {
	html    string
	modTime time.Time
}

type Service struct {
	docsDir string
	cache   map[string]cached
	mu      sync.RWMutex
}

func NewService(docsDir string) *Service {
	return &Service{
		docsDir: docsDir,
		cache:   make(map[string]cached),
	}
}

// GetDoc returns the rendered HTML body of the named document. Renders are
// cached until the file changes on disk.
func (s *Service) GetDoc(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name != filepath.Base(name) || !strings.HasSuffix(name, ".adoc") {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	path := filepath.Join(s.docsDir, name)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return "", fmt.Errorf("failed to stat doc file: %w", err)
	}

	s.mu.RLock()
	entry, ok := s.cache[name]
	s.mu.RUnlock()
	if ok && entry.modTime.Equal(info.ModTime()) {
		return entry.html, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read doc file: %w", err)
	}

	output := bytes.NewBuffer(nil)
	config := configuration.NewConfiguration(
		configuration.WithHeaderFooter(false), // embedded in the dashboard layout
		configuration.WithAttribute("toc", "left"),
	)
	if _, err := libasciidoc.Convert(bytes.NewReader(data), output, config); err != nil {
		return "", fmt.Errorf("failed to convert asciidoc: %w", err)
	}

	html := output.String()
	s.mu.Lock()
	s.cache[name] = cached{html: html, modTime: info.ModTime()}
	s.mu.Unlock()
	return html, nil
}

// ListDocs returns the .adoc file names in the docs directory, sorted. A
// missing directory yields an empty list.
func (s *Service) ListDocs() ([]string, error) {
	entries, err := os.ReadDir(s.docsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var docs []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".adoc") {
			docs = append(docs, entry.Name())
		}
	}
	sort.Strings(docs)
	return docs, nil
}
