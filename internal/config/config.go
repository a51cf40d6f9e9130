// Copyright 2026 The seccask Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the INI file at $APP_HOME/.conf/config.ini (spec
// §6). The example pack's teacher uses a YAML config tailored to its own
// Matrix-based deployment; this spec's config format is INI, so this
// package is a from-scratch stdlib reader (see DESIGN.md for why no
// third-party INI library from the example pack was a better fit) that
// keeps the teacher's variable-substitution idiom from
// lib/pipeline/variables.go, adapted from braced "${NAME}" references to
// this spec's bare "$NAME" form.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/seccask/seccask/lib/seccaskerr"
)

// Config is the parsed form of config.ini, holding exactly the keys
// spec §6 names.
type Config struct {
	Env             EnvSection
	Coordinator     CoordinatorSection
	RATLS           RATLSSection
	Storage         StorageSection
	StorageLedgebase StorageLedgebaseSection
}

type EnvSection struct {
	NumThreads int
}

type CoordinatorSection struct {
	Host               string
	WorkerManagerPort  int
}

type RATLSSection struct {
	EnableRATLS bool
	MREnclave   string // hex-encoded, 64 characters
	MRSigner    string // hex-encoded, 64 characters
}

type StorageSection struct {
	StorageEngine string
}

type StorageLedgebaseSection struct {
	BasePath    string
	StoragePath string
}

// defaultNumThreads matches the original [env] num_threads default.
const defaultNumThreads = 2

// Load reads and parses the config file at $APP_HOME/.conf/config.ini.
// Returns a KindConfig error (spec §7) if APP_HOME is unset or the file
// cannot be read or parsed.
func Load() (*Config, error) {
	appHome := os.Getenv("APP_HOME")
	if appHome == "" {
		return nil, seccaskerr.New(seccaskerr.KindConfig, fmt.Errorf("config: APP_HOME is not set"))
	}

	path := filepath.Join(appHome, ".conf", "config.ini")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, seccaskerr.New(seccaskerr.KindConfig, fmt.Errorf("config: reading %s: %w", path, err))
	}

	sections, err := parseINI(string(data))
	if err != nil {
		return nil, seccaskerr.New(seccaskerr.KindConfig, fmt.Errorf("config: parsing %s: %w", path, err))
	}

	cfg := &Config{
		Env:         EnvSection{NumThreads: defaultNumThreads},
		Coordinator: CoordinatorSection{},
	}

	if err := cfg.apply(sections); err != nil {
		return nil, seccaskerr.New(seccaskerr.KindConfig, err)
	}

	return cfg, nil
}

func (c *Config) apply(sections map[string]map[string]string) error {
	if env := sections["env"]; env != nil {
		if v, ok := env["num_threads"]; ok {
			n, err := strconv.Atoi(expand(v))
			if err != nil {
				return fmt.Errorf("env.num_threads: %w", err)
			}
			c.Env.NumThreads = n
		}
	}

	if coord := sections["coordinator"]; coord != nil {
		c.Coordinator.Host = expand(coord["host"])
		if v, ok := coord["worker_manager_port"]; ok {
			n, err := strconv.Atoi(expand(v))
			if err != nil {
				return fmt.Errorf("coordinator.worker_manager_port: %w", err)
			}
			c.Coordinator.WorkerManagerPort = n
		}
	}

	if ratls := sections["ratls"]; ratls != nil {
		if v, ok := ratls["enable_ratls"]; ok {
			b, err := strconv.ParseBool(expand(v))
			if err != nil {
				return fmt.Errorf("ratls.enable_ratls: %w", err)
			}
			c.RATLS.EnableRATLS = b
		}
		c.RATLS.MREnclave = expand(ratls["mrenclave"])
		c.RATLS.MRSigner = expand(ratls["mrsigner"])
	}

	if storage := sections["storage"]; storage != nil {
		c.Storage.StorageEngine = expand(storage["storage_engine"])
	}

	if ledgebase := sections["storage_ledgebase"]; ledgebase != nil {
		c.StorageLedgebase.BasePath = expand(ledgebase["base_path"])
		c.StorageLedgebase.StoragePath = expand(ledgebase["storage_path"])
	}

	return nil
}

// parseINI parses a minimal INI dialect: "[section]" headers, "key =
// value" or "key: value" lines, "#" and ";" full-line comments, and
// blank lines. Keys outside any section are rejected — every key in
// spec §6 belongs to a named section.
func parseINI(data string) (map[string]map[string]string, error) {
	sections := make(map[string]map[string]string)
	var current string

	scanner := bufio.NewScanner(strings.NewReader(data))
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			current = strings.TrimSpace(line[1 : len(line)-1])
			if _, ok := sections[current]; !ok {
				sections[current] = make(map[string]string)
			}
			continue
		}

		key, value, ok := splitKeyValue(line)
		if !ok {
			return nil, fmt.Errorf("line %d: not a section header or key=value pair: %q", lineNumber, line)
		}
		if current == "" {
			return nil, fmt.Errorf("line %d: key %q outside any section", lineNumber, key)
		}
		sections[current][key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return sections, nil
}

func splitKeyValue(line string) (key, value string, ok bool) {
	if idx := strings.IndexAny(line, "=:"); idx >= 0 {
		return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
	}
	return "", "", false
}

// expand replaces bare $HOME, $USER, and $SCWD references in value with
// their environment values, at read time (spec §6). Unlike the
// teacher's lib/pipeline/variables.go, which matches the braced
// "${NAME}" form for Matrix pipeline step templating, config.ini values
// use the bare "$NAME" form with no braces.
func expand(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(name string) string {
		switch name {
		case "HOME":
			return os.Getenv("HOME")
		case "USER":
			return os.Getenv("USER")
		case "SCWD":
			return os.Getenv("SCWD")
		default:
			return "$" + name
		}
	})
}
