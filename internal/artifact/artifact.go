// Package artifact stores job document artifacts.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var (
	// ErrNotFound means no artifact exists for the job and file name.
	ErrNotFound = errors.New("artifact not found")
	// ErrInvalidName means a job id or file name is not a safe path segment.
	ErrInvalidName = errors.New("invalid artifact name")
)

// namePattern restricts job ids and file names to one safe path segment.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// Store reads and writes artifacts.
type Store interface {
	Get(ctx context.Context, jobID, fileName string) ([]byte, error)
	Save(ctx context.Context, jobID, fileName string, data []byte) (string, error)
}

// FS stores artifacts under root/{jobID}/{fileName}.
type FS struct {
	root string
}

// NewFS creates the root directory if needed.
func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, fmt.Errorf("artifact root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &FS{root: abs}, nil
}

func (s *FS) path(jobID, fileName string) (string, error) {
	for _, seg := range []string{jobID, fileName} {
		if !namePattern.MatchString(seg) || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, seg)
		}
	}
	return filepath.Join(s.root, jobID, fileName), nil
}

// Get reads an artifact.
func (s *FS) Get(ctx context.Context, jobID, fileName string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(jobID, fileName)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, jobID, fileName)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// Save writes an artifact atomically and returns its file:// locator.
func (s *FS) Save(ctx context.Context, jobID, fileName string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := s.path(jobID, fileName)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename artifact: %w", err)
	}
	return "file://" + filepath.ToSlash(p), nil
}
