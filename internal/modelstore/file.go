package modelstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"equipguard/internal/model"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// fileStore keeps each artifact set in its own generation directory and
// publishes it by replacing the CURRENT file with a rename. Readers that
// resolved a generation keep reading from it.
type fileStore struct {
	dir string

	mu         sync.Mutex
	generation string
}

func NewFile(dir string) (Store, error) {
	if dir == "" {
		dir = "models"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	return &fileStore{dir: dir}, nil
}

func checkName(name string) error {
	if !validName.MatchString(name) || name == currentKey {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}

func (s *fileStore) current() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != "" {
		return s.generation, nil
	}
	p := filepath.Join(s.dir, currentKey)
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", model.ErrArtifactNotFound, p)
	}
	if err != nil {
		return "", err
	}
	s.generation = strings.TrimSpace(string(data))
	return s.generation, nil
}

// Save publishes a new generation holding name plus every other artifact of
// the live one.
func (s *fileStore) Save(ctx context.Context, name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	merged := map[string][]byte{}
	gen, err := s.current()
	switch {
	case errors.Is(err, model.ErrArtifactNotFound):
	case err != nil:
		return err
	default:
		entries, err := os.ReadDir(filepath.Join(s.dir, gen))
		if err != nil {
			return fmt.Errorf("read generation %s: %w", gen, err)
		}
		for _, e := range entries {
			other, ok := strings.CutSuffix(e.Name(), ".json")
			if !ok || e.IsDir() {
				continue
			}
			b, err := os.ReadFile(filepath.Join(s.dir, gen, e.Name()))
			if err != nil {
				return err
			}
			merged[other] = b
		}
	}
	merged[name] = data
	return s.SaveAll(ctx, merged)
}

func (s *fileStore) SaveAll(ctx context.Context, artifacts map[string][]byte) error {
	for name := range artifacts {
		if err := checkName(name); err != nil {
			return err
		}
	}
	gen := newGeneration()
	genDir := filepath.Join(s.dir, gen)
	if err := os.Mkdir(genDir, 0o755); err != nil {
		return fmt.Errorf("create generation: %w", err)
	}
	abandon := func(err error) error {
		_ = os.RemoveAll(genDir)
		return err
	}
	for name, data := range artifacts {
		if err := ctx.Err(); err != nil {
			return abandon(err)
		}
		if err := writeSynced(filepath.Join(genDir, name+".json"), data); err != nil {
			return abandon(err)
		}
	}

	prev, _ := s.current()
	tmp, err := os.CreateTemp(s.dir, "."+currentKey+".*.tmp")
	if err != nil {
		return abandon(err)
	}
	if _, err := tmp.WriteString(gen); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return abandon(err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return abandon(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return abandon(err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, currentKey)); err != nil {
		_ = os.Remove(tmp.Name())
		return abandon(fmt.Errorf("publish generation %s: %w", gen, err))
	}

	s.mu.Lock()
	s.generation = gen
	s.mu.Unlock()
	s.prune(gen, prev)
	return nil
}

// prune drops generations older than the one just replaced.
func (s *fileStore) prune(keep ...string) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || !isGeneration(e.Name()) {
			continue
		}
		kept := false
		for _, k := range keep {
			if e.Name() == k {
				kept = true
			}
		}
		if !kept {
			_ = os.RemoveAll(filepath.Join(s.dir, e.Name()))
		}
	}
}

func (s *fileStore) Load(_ context.Context, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	gen, err := s.current()
	if err != nil {
		return nil, err
	}
	p := filepath.Join(s.dir, gen, name+".json")
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", model.ErrArtifactNotFound, p)
	}
	return data, err
}

func (s *fileStore) Close() error { return nil }

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

var generationPattern = regexp.MustCompile(`^\d{8}T\d{6}Z-[0-9a-f]{8}$`)

func newGeneration() string {
	return nowUTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
}

func isGeneration(name string) bool {
	return generationPattern.MatchString(name)
}
