package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_DistinctWorkspaces(t *testing.T) {
	root := t.TempDir()

	a, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(root)
	if err != nil {
		t.Fatal(err)
	}

	if a.Path() == b.Path() {
		t.Fatalf("two runs share workspace %s", a.Path())
	}
	for _, w := range []*Workspace{a, b} {
		if !strings.HasPrefix(filepath.Base(w.Path()), "tmp_") {
			t.Errorf("workspace %s lacks tmp_ prefix", w.Path())
		}
		if len(w.ID()) != 32 {
			t.Errorf("id %q should be 32 hex chars", w.ID())
		}
		if fi, err := os.Stat(w.VideoDir()); err != nil || !fi.IsDir() {
			t.Errorf("video dir missing: %v", err)
		}
	}
}

func TestLayout(t *testing.T) {
	w, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	p := w.Path()

	tests := map[string]string{
		w.Speech("mp3"):  filepath.Join(p, "speech.mp3"),
		w.Speech(".wav"): filepath.Join(p, "speech.wav"),
		w.Subtitles():    filepath.Join(p, "speech.srt"),
		w.Portrait():     filepath.Join(p, "processed_face.png"),
		w.Final():        filepath.Join(p, "video", "final.mp4"),
		w.PartialFinal(): filepath.Join(p, "video", "final.partial.mp4"),
	}
	for got, want := range tests {
		if got != want {
			t.Errorf("path = %s, want %s", got, want)
		}
	}
}

func TestRemove(t *testing.T) {
	w, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	os.WriteFile(w.Portrait(), []byte("x"), 0644)
	if err := w.Remove(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(w.Path()); !os.IsNotExist(err) {
		t.Errorf("workspace still exists: %v", err)
	}
}

func TestOpen(t *testing.T) {
	w, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	o, err := Open(w.Path())
	if err != nil {
		t.Fatal(err)
	}
	if o.ID() != w.ID() || o.Final() != w.Final() {
		t.Errorf("Open mismatch: %s vs %s", o.Path(), w.Path())
	}
	if _, err := Open(filepath.Join(w.Path(), "missing")); err == nil {
		t.Error("expected error for missing dir")
	}
}

func TestIsReserved(t *testing.T) {
	if !IsReserved("final.mp4") || !IsReserved("final.partial.mp4") {
		t.Error("mux outputs must be reserved")
	}
	if IsReserved("2024_01_01_result.mp4") {
		t.Error("engine output must not be reserved")
	}
}
