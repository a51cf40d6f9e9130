// Copyright 2026 The seccask Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"archive/tar"
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/seccask/seccask/internal/contentseal"
)

// sealedBlobSuffix names the at-rest encrypted replacement for a
// component's working directory, written by sealWorkingDirectory and
// consumed by restoreWorkingDirectory on the next execute that reuses
// the same directory with the same component id and content key.
const sealedBlobSuffix = ".sealed"

// sealWorkingDirectory archives the component's working directory,
// compresses it, seals it under the current content key, and replaces
// the plaintext tree with the sealed blob plus a small metadata
// sidecar recording the compression tag and uncompressed size that
// DecompressChunk needs. A no-op if no content key is active.
func (w *Worker) sealWorkingDirectory(componentID, workingDirectory string) error {
	key := w.keys.Key()
	if key == nil {
		return nil
	}

	archived, err := archiveDirectory(workingDirectory)
	if err != nil {
		return fmt.Errorf("archiving working directory: %w", err)
	}

	compressed, tag, err := contentseal.CompressAuto(archived)
	if err != nil {
		return fmt.Errorf("compressing working directory: %w", err)
	}

	identity := contentseal.HashBufferBytes([]byte(componentID))
	sealed, err := contentseal.Seal(compressed, key, identity)
	if err != nil {
		return fmt.Errorf("sealing working directory: %w", err)
	}

	reference, err := contentseal.ObscureReference(key, identity)
	if err != nil {
		return fmt.Errorf("obscuring reference: %w", err)
	}

	if err := clearDirectory(workingDirectory); err != nil {
		return fmt.Errorf("clearing working directory: %w", err)
	}

	blobPath, metaPath := sealedBlobPaths(workingDirectory, reference)
	if err := os.WriteFile(blobPath, sealed, 0o600); err != nil {
		return fmt.Errorf("writing sealed blob: %w", err)
	}
	meta := fmt.Sprintf("%d %d\n", tag, len(archived))
	if err := os.WriteFile(metaPath, []byte(meta), 0o600); err != nil {
		return fmt.Errorf("writing sealed metadata: %w", err)
	}

	w.logger.Debug("sealed working directory",
		"component_id", componentID,
		"reference", hex.EncodeToString(reference[:]),
		"compression", tag,
	)
	return nil
}

// restoreWorkingDirectory unseals and re-extracts any sealed blob left
// in the working directory by a previous sealWorkingDirectory call
// under the same content key. The blob is also bound to the component
// id it was sealed for; unsealing it under another id fails. A no-op if
// no content key is active or no sealed blob is present — the common
// case of a fresh directory.
func (w *Worker) restoreWorkingDirectory(componentID, workingDirectory string) error {
	key := w.keys.Key()
	if key == nil {
		return nil
	}

	entries, err := os.ReadDir(workingDirectory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading working directory: %w", err)
	}

	identity := contentseal.HashBufferBytes([]byte(componentID))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), sealedBlobSuffix) {
			continue
		}

		blobPath := filepath.Join(workingDirectory, entry.Name())
		metaPath := blobPath + ".meta"

		meta, err := os.ReadFile(metaPath)
		if err != nil {
			return fmt.Errorf("reading sealed metadata: %w", err)
		}
		var tagValue int
		var uncompressedSize int
		if _, err := fmt.Sscanf(string(meta), "%d %d", &tagValue, &uncompressedSize); err != nil {
			return fmt.Errorf("parsing sealed metadata %q: %w", metaPath, err)
		}

		sealed, err := os.ReadFile(blobPath)
		if err != nil {
			return fmt.Errorf("reading sealed blob: %w", err)
		}

		compressed, err := contentseal.Unseal(sealed, key, identity)
		if err != nil {
			return fmt.Errorf("unsealing working directory: %w", err)
		}

		archived, err := contentseal.DecompressChunk(compressed, contentseal.CompressionTag(tagValue), uncompressedSize)
		if err != nil {
			return fmt.Errorf("decompressing working directory: %w", err)
		}

		if err := os.Remove(blobPath); err != nil {
			return fmt.Errorf("removing sealed blob: %w", err)
		}
		if err := os.Remove(metaPath); err != nil {
			return fmt.Errorf("removing sealed metadata: %w", err)
		}

		if err := extractArchive(workingDirectory, archived); err != nil {
			return fmt.Errorf("extracting working directory: %w", err)
		}
	}
	return nil
}

func sealedBlobPaths(dir string, reference contentseal.Hash) (blobPath, metaPath string) {
	name := hex.EncodeToString(reference[:]) + sealedBlobSuffix
	blobPath = filepath.Join(dir, name)
	return blobPath, blobPath + ".meta"
}

// clearDirectory removes every entry directly inside dir, leaving dir
// itself in place. Used to replace a component's plaintext working
// directory contents with its sealed blob.
func clearDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// archiveDirectory tars up dir's contents (relative paths, regular
// files and subdirectories only) into an in-memory buffer suitable for
// CompressAuto/Seal.
func archiveDirectory(dir string) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = rel
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// extractArchive reverses archiveDirectory, writing entries back under
// dir.
func extractArchive(dir string, data []byte) error {
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(dir, header.Name)
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fs.FileMode(header.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fs.FileMode(header.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
}
