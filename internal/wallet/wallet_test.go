package wallet

import (
	"path/filepath"
	"testing"
)

func TestSaveLoad_RoundTripsAddress(t *testing.T) {
	w := Create()
	dir := t.TempDir()
	path := filepath.Join(dir, "id.json")

	if err := w.Save(path, false); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded.Address().Equals(w.Address()) {
		t.Errorf("loaded address %s != saved address %s", loaded.Address(), w.Address())
	}
}

func TestSave_RefusesOverwriteByDefault(t *testing.T) {
	w := Create()
	dir := t.TempDir()
	path := filepath.Join(dir, "id.json")

	if err := w.Save(path, false); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if err := w.Save(path, false); err == nil {
		t.Fatal("expected error on second Save without overwrite")
	}
	if err := w.Save(path, true); err != nil {
		t.Errorf("Save with overwrite=true should succeed: %v", err)
	}
}

func TestLoad_MissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error loading missing wallet file")
	}
}
