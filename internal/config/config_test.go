// Copyright 2026 The seccask Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".conf"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".conf", "config.ini"), []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return dir
}

func TestLoadParsesAllSections(t *testing.T) {
	dir := writeConfig(t, `
[env]
num_threads = 4

[coordinator]
host = 127.0.0.1
worker_manager_port = 50200

[ratls]
enable_ratls = true
mrenclave = 00112233445566778899aabbccddeeff00112233445566778899aabbccddee
mrsigner = ffeeddccbbaa99887766554433221100ffeeddccbbaa99887766554433221100

[storage]
storage_engine = ledgebase

[storage_ledgebase]
base_path = $HOME/seccask
storage_path = /var/seccask/data
`)
	t.Setenv("APP_HOME", dir)
	t.Setenv("HOME", "/home/tester")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Env.NumThreads != 4 {
		t.Errorf("NumThreads = %d, want 4", cfg.Env.NumThreads)
	}
	if cfg.Coordinator.Host != "127.0.0.1" || cfg.Coordinator.WorkerManagerPort != 50200 {
		t.Errorf("Coordinator = %+v", cfg.Coordinator)
	}
	if !cfg.RATLS.EnableRATLS {
		t.Errorf("EnableRATLS = false, want true")
	}
	if cfg.Storage.StorageEngine != "ledgebase" {
		t.Errorf("StorageEngine = %q", cfg.Storage.StorageEngine)
	}
	if cfg.StorageLedgebase.BasePath != "/home/tester/seccask" {
		t.Errorf("BasePath = %q, want expansion of $HOME", cfg.StorageLedgebase.BasePath)
	}
}

func TestLoadDefaultsNumThreads(t *testing.T) {
	dir := writeConfig(t, "[coordinator]\nhost = 127.0.0.1\n")
	t.Setenv("APP_HOME", dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env.NumThreads != defaultNumThreads {
		t.Errorf("NumThreads = %d, want default %d", cfg.Env.NumThreads, defaultNumThreads)
	}
}

func TestLoadRequiresAppHome(t *testing.T) {
	t.Setenv("APP_HOME", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load: want error when APP_HOME unset")
	}
}

func TestLoadRejectsKeyOutsideSection(t *testing.T) {
	dir := writeConfig(t, "host = 127.0.0.1\n")
	t.Setenv("APP_HOME", dir)

	if _, err := Load(); err == nil {
		t.Fatal("Load: want error for key outside any section")
	}
}
