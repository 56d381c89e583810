package persist

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/vyuha/server/internal/world"
)

// WriteSnapshot writes s as zstd-compressed JSON.
func WriteSnapshot(w io.Writer, s *world.State) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("snapshot encoder: %w", err)
	}
	if err := json.NewEncoder(zw).Encode(s); err != nil {
		zw.Close()
		return fmt.Errorf("snapshot encode: %w", err)
	}
	return zw.Close()
}

// ReadSnapshot reads a document written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (*world.State, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("snapshot decoder: %w", err)
	}
	defer zr.Close()
	var s world.State
	if err := json.NewDecoder(zr).Decode(&s); err != nil {
		return nil, fmt.Errorf("snapshot decode: %w", err)
	}
	s.Normalize()
	return &s, nil
}

// SnapshotArchive keeps the newest Keep snapshots in Dir.
type SnapshotArchive struct {
	Dir  string
	Keep int
}

// Save writes s to a new file and prunes old ones. It returns the path.
func (a *SnapshotArchive) Save(s *world.State, now time.Time) (string, error) {
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return "", fmt.Errorf("snapshot dir: %w", err)
	}
	name := filepath.Join(a.Dir, fmt.Sprintf("world-%s-v%d.json.zst", now.UTC().Format("20060102T150405"), s.Version))
	tmp := name + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("snapshot create: %w", err)
	}
	if err := WriteSnapshot(f, s); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("snapshot close: %w", err)
	}
	if err := os.Rename(tmp, name); err != nil {
		return "", fmt.Errorf("snapshot rename: %w", err)
	}
	return name, a.prune()
}

// Latest returns the newest snapshot path, or "" when there is none.
func (a *SnapshotArchive) Latest() (string, error) {
	files, err := a.list()
	if err != nil || len(files) == 0 {
		return "", err
	}
	return files[len(files)-1], nil
}

// Load reads the snapshot at path.
func (a *SnapshotArchive) Load(path string) (*world.State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot open: %w", err)
	}
	defer f.Close()
	return ReadSnapshot(f)
}

func (a *SnapshotArchive) list() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(a.Dir, "world-*.json.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (a *SnapshotArchive) prune() error {
	if a.Keep <= 0 {
		return nil
	}
	files, err := a.list()
	if err != nil {
		return err
	}
	for len(files) > a.Keep {
		if err := os.Remove(files[0]); err != nil {
			return fmt.Errorf("snapshot prune: %w", err)
		}
		files = files[1:]
	}
	return nil
}
