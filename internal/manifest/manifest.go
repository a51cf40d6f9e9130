// Copyright 2026 The seccask Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest captures and parses the JSON environment snapshot
// a Worker reports in response_manifest. The core treats the manifest
// as an opaque string (spec §6's "Manifest: capture_current_env
// (appendix) → json_string" interface); this package is the default
// implementation a runnable binary needs behind that interface,
// grounded on worker.cc's capture_current_env call shape. The
// original's Python capture body is itself external/interface-only,
// so the fields below are a Go-native minimal snapshot rather than a
// translation of anything in original_source/.
package manifest

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"

	"github.com/seccask/seccask/internal/contentseal"
)

// Environment is a Worker's reported environment snapshot. Name,
// Version, PackagesHash, and Packages exist for the scheduler's
// compatibility policy (internal/scheduler's default three-level
// check); the core itself never inspects these fields.
type Environment struct {
	WorkerID         string            `json:"worker_id"`
	OS               string            `json:"os"`
	Arch             string            `json:"arch"`
	GoVersion        string            `json:"go_version"`
	Name             string            `json:"name"`
	Version          string            `json:"version"`
	PackagesHash     string            `json:"packages_hash"`
	Packages         map[string]string `json:"packages,omitempty"`
	EnvVarNames      []string          `json:"env_var_names,omitempty"`
	EncryptionDigest string            `json:"encryption_digest,omitempty"`
}

// CaptureOptions customizes what Capture records. Name, Version, and
// Packages describe the worker's currently-loaded component
// environment (set after executing a component); EncryptionKey, if
// non-nil, is hashed (never included verbatim) to let the scheduler
// observe whether encryption is active without learning the key.
type CaptureOptions struct {
	Name          string
	Version       string
	Packages      map[string]string
	EncryptionKey []byte
	EnvVarNames   []string
}

// Capture builds the JSON manifest string a Worker sends back in
// response_manifest, stamping workerID into the snapshot the way
// worker.cc's appendix={"worker_id": id} does.
func Capture(workerID string, opts CaptureOptions) (string, error) {
	env := Environment{
		WorkerID:    workerID,
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		GoVersion:   runtime.Version(),
		Name:        opts.Name,
		Version:     opts.Version,
		Packages:    opts.Packages,
		EnvVarNames: opts.EnvVarNames,
	}
	if len(opts.Packages) > 0 {
		env.PackagesHash = hashPackages(opts.Packages)
	}
	if opts.EncryptionKey != nil {
		digest := contentseal.HashBufferBytes(opts.EncryptionKey)
		env.EncryptionDigest = hex.EncodeToString(digest[:])
	}

	encoded, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("manifest: marshaling: %w", err)
	}
	return string(encoded), nil
}

// Parse decodes a manifest JSON string received in response_manifest.
func Parse(jsonString string) (Environment, error) {
	var env Environment
	if err := json.Unmarshal([]byte(jsonString), &env); err != nil {
		return Environment{}, fmt.Errorf("manifest: parsing: %w", err)
	}
	return env, nil
}

// hashPackages produces a stable hash over a package-name → version
// map so two workers with identically-versioned package sets compare
// equal regardless of map iteration order.
func hashPackages(packages map[string]string) string {
	names := make([]string, 0, len(packages))
	for name := range packages {
		names = append(names, name)
	}
	sort.Strings(names)

	var buffer []byte
	for _, name := range names {
		buffer = append(buffer, name...)
		buffer = append(buffer, '=')
		buffer = append(buffer, packages[name]...)
		buffer = append(buffer, ';')
	}
	digest := contentseal.HashBufferBytes(buffer)
	return hex.EncodeToString(digest[:])
}
