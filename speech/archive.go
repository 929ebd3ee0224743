package speech

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/tts-tender/telemetry"
)

// stampLayout is RFC 3339 with milliseconds and colons replaced by hyphens so
// the stamp is safe in filenames on every platform.
const stampLayout = "2006-01-02T15-04-05.000Z"

// Artifact is one synthesized audio file in the archive.
type Artifact struct {
	Name      string
	CreatedAt time.Time
}

// Archive is a flat directory of `<attribution>_<timestamp>.mp3` files bounded
// at Keep entries. Writes evict the oldest artifacts first. All mutations are
// serialized behind the mutex so concurrent redemptions cannot interleave
// their eviction scans.
type Archive struct {
	Dir  string
	Keep int

	mu sync.Mutex
}

// fileName builds the artifact name for an attribution and creation time.
func fileName(attribution string, ts time.Time) string {
	return fmt.Sprintf("%s_%s.mp3", attribution, ts.UTC().Format(stampLayout))
}

// artifactTime extracts the creation time embedded in an artifact name.
// Names with a missing or unparseable stamp yield the zero time, which sorts
// as oldest so malformed files are evicted first.
func artifactTime(name string) time.Time {
	base := strings.TrimSuffix(filepath.Base(name), ".mp3")
	i := strings.LastIndex(base, "_")
	if i < 0 {
		return time.Time{}
	}
	t, err := time.Parse(stampLayout, base[i+1:])
	if err != nil {
		return time.Time{}
	}
	return t
}

// List returns the archived artifacts, newest first.
func (a *Archive) List() ([]Artifact, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listLocked()
}

func (a *Archive) listLocked() ([]Artifact, error) {
	entries, err := os.ReadDir(a.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read archive dir: %w", err)
	}
	out := make([]Artifact, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".mp3") {
			continue
		}
		out = append(out, Artifact{Name: e.Name(), CreatedAt: artifactTime(e.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Put evicts the oldest artifacts when the archive is at capacity, then writes
// the new audio bytes under `<attribution>_<timestamp>.mp3` and returns the
// written filename. After Put returns the archive never holds more than Keep
// artifacts.
func (a *Archive) Put(attribution string, ts time.Time, audio []byte) (string, error) {
	if a.Keep <= 0 {
		return "", fmt.Errorf("archive capacity must be positive, got %d", a.Keep)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	existing, err := a.listLocked()
	if err != nil {
		return "", err
	}
	// Make room so the write below lands at or under capacity.
	if len(existing) >= a.Keep {
		for _, victim := range existing[a.Keep-1:] {
			path := filepath.Join(a.Dir, victim.Name)
			if err := os.Remove(path); err != nil {
				return "", fmt.Errorf("evict %s: %w", victim.Name, err)
			}
			slog.Debug("evicted archived artifact", slog.String("file", victim.Name))
		}
		existing = existing[:a.Keep-1]
	}

	name := fileName(attribution, ts)
	if err := os.WriteFile(filepath.Join(a.Dir, name), audio, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	telemetry.SetArchiveSize(len(existing) + 1)
	return name, nil
}
