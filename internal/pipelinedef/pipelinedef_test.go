// Copyright 2026 The seccask Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinedef

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseStripsCommentsAndTrailingCommas(t *testing.T) {
	data := []byte(`{
		// a training pipeline
		"name": "demo",
		"version": "1.0",
		"components": [
			{"name": "fetch", "id": "c1", "working_directory": "/tmp/c1", "command": ["python", "fetch.py"],},
			{"name": "train", "id": "c2", "working_directory": "/tmp/c2", "command": ["python", "train.py"]},
		],
	}`)

	manifest, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if manifest.Name != "demo" {
		t.Fatalf("Name = %q, want demo", manifest.Name)
	}
	if len(manifest.Components) != 2 {
		t.Fatalf("len(Components) = %d, want 2", len(manifest.Components))
	}
	if got := manifest.Names(); got[0] != "fetch" || got[1] != "train" {
		t.Fatalf("Names() = %v", got)
	}
	if got := manifest.IDs(); got[0] != "c1" || got[1] != "c2" {
		t.Fatalf("IDs() = %v", got)
	}
}

func TestParseRejectsEmptyComponents(t *testing.T) {
	if _, err := Parse([]byte(`{"name": "demo", "components": []}`)); err == nil {
		t.Fatal("Parse: want error for a manifest with no components")
	}
}

func TestParseRejectsMissingID(t *testing.T) {
	data := []byte(`{"name": "demo", "components": [{"name": "fetch"}]}`)
	if _, err := Parse(data); err == nil {
		t.Fatal("Parse: want error for a component missing its id")
	}
}

func TestReadFileFollowsExpDirectoryConvention(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "exp"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	content := `{"name": "demo", "components": [{"name": "fetch", "id": "c1", "command": ["python", "fetch.py"]}]}`
	if err := os.WriteFile(filepath.Join(dir, "exp", "demo.jsonc"), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	manifest, err := ReadFile(dir, "demo")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if manifest.Name != "demo" {
		t.Fatalf("Name = %q, want demo", manifest.Name)
	}
}

func TestReadFileMissingReturnsError(t *testing.T) {
	if _, err := ReadFile(t.TempDir(), "missing"); err == nil {
		t.Fatal("ReadFile: want error for a missing manifest file")
	}
}
