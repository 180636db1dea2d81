// Package verify checks a staged package before anything outside the
// staging area is touched: first the OpenPGP signature over the canonical
// manifest form, then every per-file hash against the staged content.
// Verification is fail-closed: an unsigned manifest blocks installation
// unless the caller explicitly opts out.
package verify

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/lapp-project/lapp/internal/errdefs"
	"github.com/lapp-project/lapp/internal/extract"
	"github.com/lapp-project/lapp/internal/utils/logger"
)

// Verifier validates package integrity. When KeyringDir is set, armored
// public keys found there replace the key embedded in the manifest; this is
// how a host pins trusted publishers.
type Verifier struct {
	KeyringDir string
	// RequireSignature rejects unsigned manifests. Default for all
	// installs; local developer builds may opt out.
	RequireSignature bool
}

// VerifyPackage runs the signature check followed by the hash check.
func (v *Verifier) VerifyPackage(pkg *extract.Package) error {
	if err := v.verifySignature(pkg); err != nil {
		return err
	}
	return v.verifyHashes(pkg)
}

func (v *Verifier) verifySignature(pkg *extract.Package) error {
	log := logger.Logger()
	m := pkg.Manifest

	if m.Signature == "" {
		if v.RequireSignature {
			return errdefs.New(errdefs.InvalidSignature,
				"manifest is unsigned and signature verification is mandatory")
		}
		log.Warnf("package %s is unsigned; continuing because verification was waived", m.Name)
		return nil
	}

	keyring, err := v.loadKeyring(m.SigningKey)
	if err != nil {
		return err
	}

	canonical, err := m.CanonicalBytes()
	if err != nil {
		return err
	}

	_, err = openpgp.CheckArmoredDetachedSignature(
		keyring, bytes.NewReader(canonical), strings.NewReader(m.Signature), nil)
	if err != nil {
		return errdefs.Wrap(errdefs.InvalidSignature, err,
			"signature does not match the canonical manifest")
	}

	log.Debugf("signature verified for package %s", m.Name)
	return nil
}

// loadKeyring returns the trusted keyring: armored keys from KeyringDir when
// configured, otherwise the key material embedded in the manifest.
func (v *Verifier) loadKeyring(embedded string) (openpgp.EntityList, error) {
	if v.KeyringDir != "" {
		keyring, err := readKeyringDir(v.KeyringDir)
		if err != nil {
			return nil, err
		}
		if len(keyring) > 0 {
			return keyring, nil
		}
	}

	if embedded == "" {
		return nil, errdefs.New(errdefs.InvalidSignature,
			"manifest is signed but carries no signing key and no trusted keyring is configured")
	}
	keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(embedded))
	if err != nil {
		return nil, errdefs.Wrap(errdefs.InvalidSignature, err, "failed to read embedded signing key")
	}
	return keyring, nil
}

func readKeyringDir(dir string) (openpgp.EntityList, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errdefs.Wrap(errdefs.IoError, err, "failed to read keyring directory").WithPath(dir)
	}

	var keyring openpgp.EntityList
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		f, err := os.Open(path)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.IoError, err, "failed to open keyring file").WithPath(path)
		}
		keys, err := openpgp.ReadArmoredKeyRing(f)
		f.Close()
		if err != nil {
			logger.Logger().Warnf("skipping unreadable keyring file %s: %v", path, err)
			continue
		}
		keyring = append(keyring, keys...)
	}
	return keyring, nil
}

// verifyHashes compares the manifest's file_hashes against the digests the
// extractor computed while writing the staged files. Any mismatch, missing
// file, or untracked extra file is a HashMismatch.
func (v *Verifier) verifyHashes(pkg *extract.Package) error {
	m := pkg.Manifest

	declared := make([]string, 0, len(m.FileHashes))
	for rel := range m.FileHashes {
		declared = append(declared, rel)
	}
	sort.Strings(declared)

	for _, rel := range declared {
		want := m.FileHashes[rel]
		got, ok := pkg.Hashes[rel]
		if !ok {
			return errdefs.New(errdefs.HashMismatch,
				"file listed in file_hashes is missing from the package").
				WithPath(rel).WithDetail(want, "missing")
		}
		if got != want {
			return errdefs.New(errdefs.HashMismatch, "staged file content does not match its declared hash").
				WithPath(rel).WithDetail(want, got)
		}
	}

	staged := make([]string, 0, len(pkg.Hashes))
	for rel := range pkg.Hashes {
		staged = append(staged, rel)
	}
	sort.Strings(staged)

	for _, rel := range staged {
		if _, ok := m.FileHashes[rel]; !ok {
			return errdefs.New(errdefs.HashMismatch,
				"package contains a file not tracked in file_hashes").
				WithPath(rel).WithDetail("untracked", pkg.Hashes[rel])
		}
	}

	return nil
}
