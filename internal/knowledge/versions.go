package knowledge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsloop/internal/fsutil"
	"github.com/fyrsmithlabs/opsloop/internal/sanitize"
)

const (
	versionPrefix = "kb_"
	versionExt    = ".json"
	// versionStamp sorts lexically in chronological order.
	versionStamp = "20060102T150405.000000000Z"

	ReasonPreEnrichment = "pre-enrichment backup"
	ReasonPreRollback   = "pre-rollback backup"
)

// ErrInvalidSnapshot is returned when a version file cannot be decoded.
var ErrInvalidSnapshot = errors.New("invalid knowledge base snapshot")

// Base is the on-disk knowledge base.
type Base struct {
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	Chunks    []Chunk    `json:"chunks"`
}

// Snapshot is an immutable copy of the chunk list.
type Snapshot struct {
	Version    string    `json:"version"`
	Timestamp  time.Time `json:"timestamp"`
	Reason     string    `json:"reason"`
	ChunkCount int       `json:"chunkCount"`
	Chunks     []Chunk   `json:"chunks"`
}

// VersionInfo describes one snapshot file without its chunks.
type VersionInfo struct {
	File       string    `json:"file"`
	Path       string    `json:"path"`
	Timestamp  time.Time `json:"timestamp"`
	Reason     string    `json:"reason"`
	ChunkCount int       `json:"chunkCount"`
}

// loadBase reads path. A missing file is an empty base. Both the object
// form and a bare chunk array are accepted.
func loadBase(path string) (*Base, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Base{Chunks: []Chunk{}}, nil
		}
		return nil, fmt.Errorf("reading knowledge base: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return &Base{Chunks: []Chunk{}}, nil
	}
	var base Base
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &base.Chunks); err != nil {
			return nil, fmt.Errorf("decoding knowledge base %s: %w", path, err)
		}
	} else if err := json.Unmarshal(trimmed, &base); err != nil {
		return nil, fmt.Errorf("decoding knowledge base %s: %w", path, err)
	}
	if base.Chunks == nil {
		base.Chunks = []Chunk{}
	}
	return &base, nil
}

func readSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSnapshot, filepath.Base(path), err)
	}
	if snap.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: %s: missing timestamp", ErrInvalidSnapshot, filepath.Base(path))
	}
	if snap.Chunks == nil {
		snap.Chunks = []Chunk{}
	}
	return &snap, nil
}

// writeSnapshot stores chunks as a new version and returns its path.
func (inj *Injector) writeSnapshot(chunks []Chunk, reason string) (string, error) {
	now := inj.now().UTC()
	stamp := now.Format(versionStamp)
	name := versionPrefix + stamp + versionExt
	if last, ok := inj.lastCounter(stamp); ok {
		name = versionPrefix + stamp + "_" + strconv.Itoa(last+1) + versionExt
	}
	path := filepath.Join(inj.versionsDir(), name)

	snap := Snapshot{
		Version:    strings.TrimSuffix(name, versionExt),
		Timestamp:  now,
		Reason:     reason,
		ChunkCount: len(chunks),
		Chunks:     chunks,
	}
	if err := fsutil.WriteJSONAtomic(path, snap); err != nil {
		return "", fmt.Errorf("writing snapshot: %w", err)
	}
	SnapshotsCreated.WithLabelValues(reason).Inc()
	inj.logger.Info("knowledge base snapshot created",
		zap.String("file", name),
		zap.String("reason", reason),
		zap.Int("chunks", len(chunks)))

	inj.pruneVersions()
	return path, nil
}

// versionFiles returns snapshot file names, oldest first.
func (inj *Injector) versionFiles() ([]string, error) {
	entries, err := os.ReadDir(inj.versionsDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, versionPrefix) || !strings.HasSuffix(name, versionExt) {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return versionLess(names[i], names[j]) })
	return names, nil
}

// lastCounter returns the highest collision counter among snapshots
// sharing stamp. A new snapshot sorts after every existing one of its
// instant, including after retention removed the first of them.
func (inj *Injector) lastCounter(stamp string) (int, bool) {
	names, err := inj.versionFiles()
	if err != nil {
		return 0, fileExists(filepath.Join(inj.versionsDir(), versionPrefix+stamp+versionExt))
	}
	last, found := 0, false
	for _, name := range names {
		s, n := versionKey(name)
		if s == stamp && (!found || n > last) {
			last, found = n, true
		}
	}
	return last, found
}

// versionLess orders snapshot names by timestamp, then by collision
// counter, so kb_<ts>_10 follows kb_<ts>_2.
func versionLess(a, b string) bool {
	sa, na := versionKey(a)
	sb, nb := versionKey(b)
	if sa != sb {
		return sa < sb
	}
	return na < nb
}

// versionKey splits a snapshot name into its stamp and collision counter.
// The first snapshot of an instant has counter 0.
func versionKey(name string) (string, int) {
	base := strings.TrimSuffix(strings.TrimPrefix(name, versionPrefix), versionExt)
	stamp, suffix, ok := strings.Cut(base, "_")
	if !ok {
		return base, 0
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return base, 0
	}
	return stamp, n
}

// pruneVersions deletes all but the newest MaxVersions snapshots.
// Failures are logged; retention is retried on the next snapshot.
func (inj *Injector) pruneVersions() {
	names, err := inj.versionFiles()
	if err != nil {
		inj.logger.Warn("listing versions for retention failed", zap.Error(err))
		return
	}
	extra := len(names) - inj.cfg.MaxVersions
	for i := 0; i < extra; i++ {
		if err := os.Remove(filepath.Join(inj.versionsDir(), names[i])); err != nil {
			inj.logger.Warn("removing old snapshot failed", zap.String("file", names[i]), zap.Error(err))
		}
	}
}

// resolveVersion maps a snapshot name or path to a file inside the
// versions directory.
func (inj *Injector) resolveVersion(versionFile string) (string, error) {
	name := versionFile
	if filepath.Clean(filepath.Dir(versionFile)) == filepath.Clean(inj.versionsDir()) {
		name = filepath.Base(versionFile)
	}
	if !strings.HasSuffix(name, versionExt) {
		name += versionExt
	}
	return sanitize.JoinWithin(inj.versionsDir(), name)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
