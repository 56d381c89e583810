package persist

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/vyuha/server/internal/world"
)

// Journal keeps every activity log entry, beyond the ring kept in the
// world document.
type Journal interface {
	Append(ctx context.Context, entries []world.LogEntry) error
	Recent(ctx context.Context, limit int) ([]world.LogEntry, error)
}

// JournalRepo writes entries to the activity_log table.
type JournalRepo struct {
	db *DB
}

func NewJournalRepo(db *DB) *JournalRepo {
	return &JournalRepo{db: db}
}

// Append writes a batch of entries in a single transaction.
func (r *JournalRepo) Append(ctx context.Context, entries []world.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO activity_log (logged_at, agent_id, log_type, message) VALUES ($1, $2, $3, $4)`,
			e.Timestamp, e.AgentID, string(e.Type), e.Message,
		); err != nil {
			return fmt.Errorf("journal insert: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// Recent returns up to limit newest entries, oldest first.
func (r *JournalRepo) Recent(ctx context.Context, limit int) ([]world.LogEntry, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT logged_at, agent_id, log_type, message FROM activity_log ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var out []world.LogEntry
	for rows.Next() {
		var e world.LogEntry
		var typ string
		if err := rows.Scan(&e.Timestamp, &e.AgentID, &typ, &e.Message); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		e.Type = world.LogType(typ)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal rows: %w", err)
	}
	reverse(out)
	return out, nil
}

// FileJournal appends zstd-compressed JSON lines to one file per UTC day.
// Every Append writes one complete zstd frame, so a file is a valid
// stream of concatenated frames even after a crash between appends.
type FileJournal struct {
	dir string
	mu  sync.Mutex
	enc *zstd.Encoder
}

func NewFileJournal(dir string) (*FileJournal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal dir: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("journal encoder: %w", err)
	}
	return &FileJournal{dir: dir, enc: enc}, nil
}

func (j *FileJournal) fileFor(t time.Time) string {
	return filepath.Join(j.dir, "activity-"+t.UTC().Format("20060102")+".jsonl.zst")
}

func (j *FileJournal) Append(_ context.Context, entries []world.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("journal encode: %w", err)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	frame := j.enc.EncodeAll([]byte(buf.String()), nil)

	f, err := os.OpenFile(j.fileFor(entries[0].Timestamp), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal open: %w", err)
	}
	if _, err := f.Write(frame); err != nil {
		f.Close()
		return fmt.Errorf("journal write: %w", err)
	}
	return f.Close()
}

// Recent reads the newest files until limit entries are collected.
func (j *FileJournal) Recent(_ context.Context, limit int) ([]world.LogEntry, error) {
	files, err := filepath.Glob(filepath.Join(j.dir, "activity-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	var out []world.LogEntry
	for _, name := range files {
		entries, err := readJournalFile(name)
		if err != nil {
			return nil, err
		}
		out = append(entries, out...)
		if len(out) >= limit {
			break
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (j *FileJournal) Close() error {
	return j.enc.Close()
}

func readJournalFile(name string) ([]world.LogEntry, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("journal decoder: %w", err)
	}
	defer dec.Close()

	var out []world.LogEntry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e world.LogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("journal %s: %w", filepath.Base(name), err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("journal %s: %w", filepath.Base(name), err)
	}
	return out, nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
