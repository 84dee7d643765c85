// Package artifactfs stores rendered snapshot artifacts on a local
// filesystem served from a public base URL.
package artifactfs

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
	"github.com/zeebo/blake3"
)

// digestPrefixLen is the number of hex characters of the BLAKE3 digest
// appended to artifact URLs.
const digestPrefixLen = 16

// Store writes artifacts under a root directory.
type Store struct {
	root    string
	baseURL string
}

// New creates the root directory if needed. An empty baseURL produces
// file:// URLs.
func New(root, baseURL string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("artifact root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL != "" {
		if _, err := url.Parse(baseURL); err != nil {
			return nil, fmt.Errorf("parse artifact base url: %w", err)
		}
	}
	return &Store{root: abs, baseURL: baseURL}, nil
}

// Digest returns the hex BLAKE3-256 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put writes data to name atomically and returns its URL. The URL carries a
// digest query parameter so rewritten artifacts get fresh URLs. The file
// server derives the content type from the extension.
func (s *Store) Put(ctx context.Context, name, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s == nil {
		return "", fmt.Errorf("artifact store is not configured")
	}
	rel, err := cleanName(name)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(s.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir for %s: %w", rel, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact for %s: %w", rel, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write artifact %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close artifact %s: %w", rel, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("publish artifact %s: %w", rel, err)
	}
	digest := Digest(data)[:digestPrefixLen]
	return s.url(rel) + "?b3=" + digest, nil
}

func (s *Store) url(rel string) string {
	if s.baseURL != "" {
		return s.baseURL + "/" + rel
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(s.root, filepath.FromSlash(rel)))}).String()
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("artifact path is required")
	}
	if strings.HasPrefix(name, "/") || strings.Contains(name, `\`) {
		return "", fmt.Errorf("artifact path %q must be relative", name)
	}
	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("artifact path %q escapes the artifact root", name)
	}
	return cleaned, nil
}

var _ storage.ArtifactStore = (*Store)(nil)
