package speech

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileNameUsesHyphenatedTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 15, 18, 30, 45, 0, time.UTC)
	name := fileName("bob", ts)
	if name != "bob_2024-03-15T18-30-45.000Z.mp3" {
		t.Errorf("fileName = %q", name)
	}
	if strings.ContainsRune(name, ':') {
		t.Errorf("filename contains a colon: %q", name)
	}
}

func TestArtifactTimeRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 15, 18, 30, 45, 0, time.UTC)
	got := artifactTime(fileName("user_with_underscores", ts))
	if !got.Equal(ts) {
		t.Errorf("artifactTime = %v, want %v", got, ts)
	}
}

func TestArtifactTimeMalformedSortsAsOldest(t *testing.T) {
	for _, name := range []string{"noseparator.mp3", "bob_notadate.mp3", "bob_.mp3"} {
		if got := artifactTime(name); !got.IsZero() {
			t.Errorf("artifactTime(%q) = %v, want zero time", name, got)
		}
	}
}

func writeArtifact(t *testing.T, dir, author string, ts time.Time) string {
	t.Helper()
	name := fileName(author, ts)
	if err := os.WriteFile(filepath.Join(dir, name), []byte("mp3"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return name
}

func TestArchivePutBoundsCount(t *testing.T) {
	dir := t.TempDir()
	a := &Archive{Dir: dir, Keep: 5}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		if _, err := a.Put("viewer", base.Add(time.Duration(i)*time.Minute), []byte("audio")); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	got, err := a.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("archive holds %d artifacts, want 5", len(got))
	}
	// The survivors must be the 5 most recent.
	for i, art := range got {
		want := base.Add(time.Duration(11-i) * time.Minute)
		if !art.CreatedAt.Equal(want) {
			t.Errorf("artifact %d created at %v, want %v", i, art.CreatedAt, want)
		}
	}
}

func TestArchivePutEvictsOldestBeyondCapacity(t *testing.T) {
	dir := t.TempDir()
	a := &Archive{Dir: dir, Keep: 30}
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	// Pre-seed 31 artifacts, simulating an archive that outgrew its bound.
	oldest := writeArtifact(t, dir, "old", base.Add(-time.Hour))
	secondOldest := writeArtifact(t, dir, "older", base.Add(-30*time.Minute))
	for i := 0; i < 29; i++ {
		writeArtifact(t, dir, "viewer", base.Add(time.Duration(i)*time.Minute))
	}

	name, err := a.Put("fresh", base.Add(time.Hour), []byte("audio"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := a.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 30 {
		t.Fatalf("archive holds %d artifacts after Put, want 30", len(got))
	}
	for _, gone := range []string{oldest, secondOldest} {
		if _, err := os.Stat(filepath.Join(dir, gone)); !os.IsNotExist(err) {
			t.Errorf("expected %s to be evicted", gone)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
		t.Errorf("new artifact %s missing: %v", name, err)
	}
}

func TestArchivePutEvictsMalformedNamesFirst(t *testing.T) {
	dir := t.TempDir()
	a := &Archive{Dir: dir, Keep: 3}
	if err := os.WriteFile(filepath.Join(dir, "garbage.mp3"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	writeArtifact(t, dir, "a", base)
	writeArtifact(t, dir, "b", base.Add(time.Minute))

	if _, err := a.Put("c", base.Add(2*time.Minute), []byte("audio")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "garbage.mp3")); !os.IsNotExist(err) {
		t.Errorf("expected malformed artifact to be evicted first")
	}
}

func TestArchiveIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	a := &Archive{Dir: dir, Keep: 5}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := a.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("List picked up non-mp3 files: %v", got)
	}
}

func TestArchiveListMissingDir(t *testing.T) {
	a := &Archive{Dir: filepath.Join(t.TempDir(), "absent"), Keep: 5}
	got, err := a.List()
	if err != nil {
		t.Fatalf("List on missing dir: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty list, got %v", got)
	}
}
