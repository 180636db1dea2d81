// Package extract safely unpacks a package archive into an isolated staging
// area, computing a streaming content hash for every payload file as it is
// written. Any entry that is absolute or would resolve outside the staging
// root aborts the whole extraction; partial writes stay inside the discarded
// staging directory and are never exposed at a stable path.
package extract

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/lapp-project/lapp/internal/errdefs"
	"github.com/lapp-project/lapp/internal/manifest"
	"github.com/lapp-project/lapp/internal/progress"
	"github.com/lapp-project/lapp/internal/utils/logger"
)

// Zip-bomb guards: per-file and total extracted size caps. Variables so
// tests can lower them without gigabyte fixtures.
var (
	maxFileSize  = int64(1) << 30 // 1 GiB
	maxTotalSize = int64(5) << 30 // 5 GiB
)

// Package pairs a validated manifest with its staging area and the
// extractor-computed hash table. It is ephemeral and owned by the current
// operation only.
type Package struct {
	Manifest *manifest.Manifest
	Staging  *StagingArea
	// Hashes maps payload-relative paths to "sha256:<hex>" digests,
	// excluding manifest.json.
	Hashes map[string]string
}

// Extractor unpacks package archives. The zero value is usable; Emitter is
// optional and only feeds observers.
type Extractor struct {
	Emitter *progress.Emitter
}

// Extract unpacks the archive at archivePath into a new staging area under
// tempRoot and parses and validates the contained manifest. On any error the
// staging area has already been destroyed. On success the caller owns the
// returned Package and must Close its staging area.
func (x *Extractor) Extract(ctx context.Context, archivePath, tempRoot string) (pkg *Package, err error) {
	log := logger.Logger()

	if _, statErr := os.Stat(archivePath); statErr != nil {
		return nil, errdefs.Wrap(errdefs.IoError, statErr, "package file not found").WithPath(archivePath)
	}

	total, err := x.countEntries(archivePath)
	if err != nil {
		return nil, err
	}

	staging, err := NewStagingArea(tempRoot)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			staging.Close()
		}
	}()

	hashes, err := x.unpack(ctx, archivePath, staging.Root(), total)
	if err != nil {
		return nil, err
	}

	m, err := manifest.ParseFile(staging.ManifestPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errdefs.New(errdefs.CorruptedArchive, "manifest.json not found in package")
		}
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	if info, statErr := os.Stat(staging.PayloadDir()); statErr != nil || !info.IsDir() {
		return nil, errdefs.New(errdefs.CorruptedArchive, "payload directory not found in package")
	}

	log.Debugf("extracted package %s (%d files) into %s", m.Name, len(hashes), staging.Root())
	return &Package{Manifest: m, Staging: staging, Hashes: hashes}, nil
}

// ReadManifest parses the manifest out of an archive without a full
// extraction. Used by the validate command.
func (x *Extractor) ReadManifest(archivePath string) (*manifest.Manifest, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.IoError, err, "failed to open package").WithPath(archivePath)
	}
	defer f.Close()

	tr, closer, err := newTarReader(f)
	if err != nil {
		return nil, err
	}
	defer closer()

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errdefs.Wrap(errdefs.CorruptedArchive, err, "failed to read archive entry")
		}
		if filepath.Clean(hdr.Name) != "manifest.json" {
			continue
		}
		data, err := io.ReadAll(io.LimitReader(tr, maxFileSize))
		if err != nil {
			return nil, errdefs.Wrap(errdefs.CorruptedArchive, err, "failed to read manifest entry")
		}
		m, err := manifest.Parse(data)
		if err != nil {
			return nil, err
		}
		if err := m.Validate(); err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, errdefs.New(errdefs.CorruptedArchive, "manifest.json not found in package")
}

// countEntries walks the archive headers once so extraction progress can
// report files processed vs files total.
func (x *Extractor) countEntries(archivePath string) (int, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return 0, errdefs.Wrap(errdefs.IoError, err, "failed to open package").WithPath(archivePath)
	}
	defer f.Close()

	tr, closer, err := newTarReader(f)
	if err != nil {
		return 0, err
	}
	defer closer()

	count := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errdefs.Wrap(errdefs.CorruptedArchive, err, "failed to read archive entries")
		}
		if hdr.Typeflag == tar.TypeReg {
			count++
		}
	}
	return count, nil
}

func (x *Extractor) unpack(ctx context.Context, archivePath, root string, total int) (map[string]string, error) {
	log := logger.Logger()

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.IoError, err, "failed to open package").WithPath(archivePath)
	}
	defer f.Close()

	tr, closer, err := newTarReader(f)
	if err != nil {
		return nil, err
	}
	defer closer()

	hashes := make(map[string]string)
	var extracted int64
	processed := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, errdefs.Wrap(errdefs.IoError, err, "extraction canceled")
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errdefs.Wrap(errdefs.CorruptedArchive, err, "failed to read archive entry")
		}

		rel, err := SafeEntryPath(hdr.Name)
		if err != nil {
			return nil, err
		}
		dst := filepath.Join(root, rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return nil, errdefs.Wrap(errdefs.IoError, err, "failed to create directory").WithPath(dst)
			}
		case tar.TypeReg:
			if hdr.Size > maxFileSize {
				return nil, errdefs.New(errdefs.ValidationError,
					"archive entry exceeds the per-file size limit").WithPath(rel)
			}
			extracted += hdr.Size
			if extracted > maxTotalSize {
				return nil, errdefs.New(errdefs.ValidationError,
					"archive exceeds the total extracted size limit")
			}

			digest, err := writeEntry(tr, dst, hdr)
			if err != nil {
				return nil, err
			}
			if rel != "manifest.json" {
				hashes[rel] = digest
			}

			processed++
			x.Emitter.Progress(progress.PhaseExtracting, processed, total, rel)
		default:
			// Symlinks, devices, and the rest have no place in a package.
			log.Warnf("skipping unsupported archive entry type %d: %s", hdr.Typeflag, rel)
		}
	}

	return hashes, nil
}

// writeEntry streams one regular file to disk, hashing the bytes as they are
// written so no second read is needed.
func writeEntry(r io.Reader, dst string, hdr *tar.Header) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", errdefs.Wrap(errdefs.IoError, err, "failed to create parent directory").WithPath(dst)
	}

	mode := os.FileMode(hdr.Mode & 0o777)
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return "", errdefs.Wrap(errdefs.IoError, err, "failed to create staged file").WithPath(dst)
	}

	h := sha256.New()
	if _, err := io.Copy(out, io.TeeReader(io.LimitReader(r, maxFileSize), h)); err != nil {
		out.Close()
		return "", errdefs.Wrap(errdefs.CorruptedArchive, err, "failed to extract file").WithPath(dst)
	}
	if err := out.Close(); err != nil {
		return "", errdefs.Wrap(errdefs.IoError, err, "failed to flush staged file").WithPath(dst)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// SafeEntryPath validates an archive entry path. Absolute paths and paths
// that would resolve outside the staging root are rejected with
// PathTraversalAttempt. The returned path is clean and relative.
func SafeEntryPath(name string) (string, error) {
	if name == "" {
		return "", errdefs.New(errdefs.CorruptedArchive, "archive entry has an empty path")
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", errdefs.New(errdefs.PathTraversalAttempt, "archive entry path is absolute").WithPath(name)
	}

	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) ||
		manifest.HasParentSegment(clean) {
		return "", errdefs.New(errdefs.PathTraversalAttempt,
			"archive entry path resolves outside the staging root").WithPath(name)
	}
	return clean, nil
}

// newTarReader sniffs the compression format by magic bytes (gzip, zstd, xz)
// and returns a tar reader plus a cleanup func.
func newTarReader(f *os.File) (*tar.Reader, func(), error) {
	br := bufio.NewReader(f)
	magic, err := br.Peek(6)
	if err != nil {
		return nil, nil, errdefs.Wrap(errdefs.CorruptedArchive, err, "package is too short to be an archive")
	}

	switch {
	case bytes.HasPrefix(magic, []byte{0x1f, 0x8b}):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, errdefs.Wrap(errdefs.CorruptedArchive, err, "failed to open gzip stream")
		}
		return tar.NewReader(gz), func() { gz.Close() }, nil
	case bytes.HasPrefix(magic, []byte{0x28, 0xb5, 0x2f, 0xfd}):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, errdefs.Wrap(errdefs.CorruptedArchive, err, "failed to open zstd stream")
		}
		return tar.NewReader(zr), func() { zr.Close() }, nil
	case bytes.HasPrefix(magic, []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}):
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, nil, errdefs.Wrap(errdefs.CorruptedArchive, err, "failed to open xz stream")
		}
		return tar.NewReader(xr), func() {}, nil
	}
	return nil, nil, errdefs.New(errdefs.CorruptedArchive,
		"unrecognized package compression (magic %s)", fmt.Sprintf("%x", magic[:4]))
}
