package store

import (
	"os"
	"path/filepath"
	"testing"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSaveLoadRoundtrip(t *testing.T) {
	st, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	in := []record{{Name: "a", Count: 1}, {Name: "b", Count: 2}}
	if err := st.Save("records", 1, in); err != nil {
		t.Fatalf("save: %v", err)
	}

	var out []record
	found, err := st.Load("records", 1, &out)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !found {
		t.Fatal("saved state not found")
	}
	if len(out) != 2 || out[0].Name != "a" || out[1].Count != 2 {
		t.Errorf("roundtrip = %+v", out)
	}
}

func TestLoadMissingFile(t *testing.T) {
	st, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	var out []record
	found, err := st.Load("nothing", 1, &out)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found {
		t.Error("missing file must report found=false")
	}
}

func TestLoadVersionMismatch(t *testing.T) {
	st, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Save("records", 1, []record{{Name: "a"}}); err != nil {
		t.Fatal(err)
	}
	var out []record
	found, err := st.Load("records", 2, &out)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found {
		t.Error("version mismatch must report found=false")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	st, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "records.json"), []byte("{truncated"), 0o644); err != nil {
		t.Fatal(err)
	}
	var out []record
	if _, err := st.Load("records", 1, &out); err == nil {
		t.Error("corrupt file must error")
	}
}

func TestSaveOverwrites(t *testing.T) {
	st, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Save("k", 1, record{Name: "old"}); err != nil {
		t.Fatal(err)
	}
	if err := st.Save("k", 1, record{Name: "new"}); err != nil {
		t.Fatal(err)
	}
	var out record
	if _, err := st.Load("k", 1, &out); err != nil {
		t.Fatal(err)
	}
	if out.Name != "new" {
		t.Errorf("got %q, want latest write", out.Name)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	st, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Save("k", 1, record{Name: "x"}); err != nil {
		t.Fatal(err)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}
