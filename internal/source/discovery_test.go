package source

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestListFiles_AbsentRoot(t *testing.T) {
	files, err := ListFiles(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("absent root should not error: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("files = %d, want 0", len(files))
	}
}

func TestListFiles_RecursiveAndFiltered(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "-home-js-projects-demo")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{
		filepath.Join(root, "a.jsonl"),
		filepath.Join(sub, "b.jsonl"),
		filepath.Join(sub, "notes.txt"),
	} {
		if err := os.WriteFile(name, []byte("{}\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	files, err := ListFiles(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %d, want 2 (non-jsonl filtered)", len(files))
	}
	for _, f := range files {
		if f.Size == 0 || f.ModTime.IsZero() {
			t.Errorf("file %s missing size or mtime", f.Path)
		}
	}
}

func TestDiff(t *testing.T) {
	watermark := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	before := watermark.Add(-time.Hour)
	after := watermark.Add(time.Hour)

	files := []FileInfo{
		{Path: "/logs/old.jsonl", ModTime: before},
		{Path: "/logs/known.jsonl", ModTime: after},
		{Path: "/logs/fresh.jsonl", ModTime: after},
	}
	known := map[string]struct{}{
		"/logs/old.jsonl":   {},
		"/logs/known.jsonl": {},
	}

	t.Run("zero watermark marks everything new", func(t *testing.T) {
		d := Diff(files, time.Time{}, known)
		if len(d.New) != 3 || len(d.Updated) != 0 {
			t.Fatalf("new/updated = %d/%d, want 3/0", len(d.New), len(d.Updated))
		}
	})

	t.Run("watermark splits new from updated", func(t *testing.T) {
		d := Diff(files, watermark, known)
		if len(d.New) != 1 || d.New[0].Path != "/logs/fresh.jsonl" {
			t.Fatalf("New = %v, want only fresh.jsonl", d.New)
		}
		if len(d.Updated) != 1 || d.Updated[0].Path != "/logs/known.jsonl" {
			t.Fatalf("Updated = %v, want only known.jsonl", d.Updated)
		}
		if !d.New[0].IsNew || !d.Updated[0].IsUpdated {
			t.Error("classification flags not set")
		}
		if len(d.All) != 3 {
			t.Errorf("All = %d, want 3", len(d.All))
		}
		if got := d.Changed(); len(got) != 2 {
			t.Errorf("Changed = %d, want 2", len(got))
		}
	})

	t.Run("mtime at watermark is unchanged", func(t *testing.T) {
		d := Diff([]FileInfo{{Path: "/logs/known.jsonl", ModTime: watermark}}, watermark, known)
		if len(d.Changed()) != 0 {
			t.Fatalf("Changed = %v, want none", d.Changed())
		}
	})
}

func TestSessionIDFromPath(t *testing.T) {
	got := SessionIDFromPath("/logs/-home-js-projects-demo/abc-123.jsonl")
	if got != "abc-123" {
		t.Errorf("SessionIDFromPath = %q, want abc-123", got)
	}
}

func TestProjectFromPath(t *testing.T) {
	tests := []struct {
		dir  string
		want string
	}{
		{"-home-js-projects-gitlore", "gitlore"},
		{"-home-js-projects-my-cool-project", "my-cool-project"},
		{"-Users-js-code-api", "api"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		path := filepath.Join("/logs", tt.dir, "s.jsonl")
		if got := ProjectFromPath(path); got != tt.want {
			t.Errorf("ProjectFromPath(%q) = %q, want %q", tt.dir, got, tt.want)
		}
	}
}
