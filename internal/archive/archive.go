// Package archive implements the .ssp container: deterministic create and
// safe extract of a ZIP with a fixed internal layout. Extraction defends
// against zip-slip entries and decompression bombs before any bytes reach
// a filesystem sink.
package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/skillport-dev/skillport/internal/manifest"
	"github.com/skillport-dev/skillport/internal/skerr"
	"github.com/skillport-dev/skillport/internal/sspcrypto"
)

// MaxUncompressedBytes caps the cumulative uncompressed payload size.
const MaxUncompressedBytes = 500 << 20 // 500 MiB

// Fixed archive entry names.
const (
	ManifestEntry    = "manifest.json"
	ChecksumsEntry   = "checksums.json"
	AuthorSigEntry   = "signatures/author.sig"
	PlatformSigEntry = "signatures/platform.sig"
	SkillMDEntry     = "SKILL.md"
	PayloadPrefix    = "payload/"
)

// Extracted is the result of a successful Extract.
type Extracted struct {
	Manifest    *manifest.Manifest
	ManifestRaw []byte // exact bytes read from the archive; the signature's domain
	Files       map[string][]byte
	AuthorSig   string
	PlatformSig string
	Checksums   map[string]string
	SkillMD     string
}

// LogicalFiles maps archive-internal paths back to the caller's view:
// SKILL.md at the root, payload entries with the payload/ prefix stripped.
func (e *Extracted) LogicalFiles() map[string][]byte {
	out := make(map[string][]byte, len(e.Files))
	for path, data := range e.Files {
		out[strings.TrimPrefix(path, PayloadPrefix)] = data
	}
	return out
}

// internalLayout maps the caller's logical file map into archive-internal
// paths: SKILL.md stays at the root, everything else goes under payload/.
func internalLayout(files map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(files))
	for path, data := range files {
		if path == SkillMDEntry {
			out[SkillMDEntry] = data
			continue
		}
		out[PayloadPrefix+path] = data
	}
	return out
}

// Create builds a signed .ssp archive. The manifest's hashes are
// recomputed from the actual file bytes, the manifest is serialized in
// canonical form, and the signature covers exactly those bytes. The
// manifest value is mutated (hashes, defaults, created_at).
func Create(m *manifest.Manifest, files map[string][]byte, privPEM []byte) ([]byte, error) {
	for _, ep := range m.Entrypoints {
		if _, ok := files[ep]; !ok {
			return nil, skerr.New(skerr.CodeManifestInvalid, "entrypoint %q not present in files", ep)
		}
	}

	internal := internalLayout(files)
	manifest.ApplyDefaults(m)
	m.Hashes = sspcrypto.ComputeChecksums(internal)
	if m.CreatedAt == "" {
		m.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	manifestBytes, err := manifest.CanonicalBytes(m)
	if err != nil {
		return nil, err
	}
	sig, err := sspcrypto.Sign(manifestBytes, privPEM)
	if err != nil {
		return nil, err
	}
	checksumBytes, err := json.MarshalIndent(m.Hashes, "", "  ")
	if err != nil {
		return nil, skerr.Wrap(skerr.CodeInternal, err, "serialize checksums")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	write := func(name string, data []byte) error {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return skerr.Wrap(skerr.CodeInternal, err, "create archive entry %s", name)
		}
		if _, err := w.Write(data); err != nil {
			return skerr.Wrap(skerr.CodeInternal, err, "write archive entry %s", name)
		}
		return nil
	}

	// Fixed logical order keeps archives byte-comparable across runs.
	if err := write(ManifestEntry, manifestBytes); err != nil {
		return nil, err
	}
	if err := write(AuthorSigEntry, []byte(sig)); err != nil {
		return nil, err
	}
	if err := write(ChecksumsEntry, checksumBytes); err != nil {
		return nil, err
	}
	if data, ok := internal[SkillMDEntry]; ok {
		if err := write(SkillMDEntry, data); err != nil {
			return nil, err
		}
	}
	payloadPaths := make([]string, 0, len(internal))
	for path := range internal {
		if path != SkillMDEntry {
			payloadPaths = append(payloadPaths, path)
		}
	}
	sort.Strings(payloadPaths)
	for _, path := range payloadPaths {
		if err := write(path, internal[path]); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, skerr.Wrap(skerr.CodeInternal, err, "finalize archive")
	}
	return buf.Bytes(), nil
}

// Extract opens an .ssp archive fully in memory. The manifest bytes
// returned are the stored bytes, never a re-serialization.
func Extract(data []byte) (*Extracted, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, skerr.Wrap(skerr.CodeMalformedArchive, err, "open archive")
	}

	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		// Zip-slip defense: archive paths are logical forward-slash paths;
		// traversal segments, absolute paths, and backslashes are rejected
		// before any sink-side join.
		if err := checkEntryPath(f.Name); err != nil {
			return nil, err
		}
		entries[f.Name] = f
	}

	mf, ok := entries[ManifestEntry]
	if !ok {
		return nil, skerr.New(skerr.CodeMalformedArchive, "archive has no %s", ManifestEntry)
	}
	manifestRaw, err := readEntry(mf, nil)
	if err != nil {
		return nil, err
	}
	m, violations, err := manifest.Validate(manifestRaw)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		return nil, manifest.InvalidError(violations)
	}

	out := &Extracted{
		Manifest:    m,
		ManifestRaw: manifestRaw,
		Files:       map[string][]byte{},
		Checksums:   map[string]string{},
	}

	if f, ok := entries[AuthorSigEntry]; ok {
		blob, err := readEntry(f, nil)
		if err != nil {
			return nil, err
		}
		out.AuthorSig = strings.TrimSpace(string(blob))
	}
	if f, ok := entries[PlatformSigEntry]; ok {
		blob, err := readEntry(f, nil)
		if err != nil {
			return nil, err
		}
		out.PlatformSig = strings.TrimSpace(string(blob))
	}
	if f, ok := entries[ChecksumsEntry]; ok {
		blob, err := readEntry(f, nil)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(blob, &out.Checksums); err != nil {
			return nil, skerr.Wrap(skerr.CodeMalformedArchive, err, "parse %s", ChecksumsEntry)
		}
	}

	var total int64
	budget := &total
	for name, f := range entries {
		if isMetadataEntry(name) {
			continue
		}
		blob, err := readEntry(f, budget)
		if err != nil {
			return nil, err
		}
		out.Files[name] = blob
	}
	if data, ok := out.Files[SkillMDEntry]; ok {
		out.SkillMD = string(data)
	}
	return out, nil
}

func isMetadataEntry(name string) bool {
	return name == ManifestEntry || name == ChecksumsEntry || strings.HasPrefix(name, "signatures/")
}

func checkEntryPath(name string) error {
	if strings.Contains(name, "\\") {
		return skerr.New(skerr.CodeZipSlip, "entry %q contains a backslash", name)
	}
	if strings.HasPrefix(name, "/") {
		return skerr.New(skerr.CodeZipSlip, "entry %q is absolute", name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return skerr.New(skerr.CodeZipSlip, "entry %q contains a traversal segment", name)
		}
	}
	return nil
}

// readEntry decompresses one entry. When budget is non-nil the running
// total is charged per byte actually produced, so a lying size header
// cannot dodge the bomb cap.
func readEntry(f *zip.File, budget *int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, skerr.Wrap(skerr.CodeMalformedArchive, err, "open entry %s", f.Name)
	}
	defer rc.Close()

	limit := int64(MaxUncompressedBytes) + 1
	if budget != nil {
		limit = MaxUncompressedBytes - *budget + 1
	}
	blob, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return nil, skerr.Wrap(skerr.CodeMalformedArchive, err, "read entry %s", f.Name)
	}
	if budget != nil {
		*budget += int64(len(blob))
		if *budget > MaxUncompressedBytes {
			return nil, skerr.New(skerr.CodeDecompressionBomb,
				"cumulative uncompressed size exceeds %d bytes", int64(MaxUncompressedBytes))
		}
	} else if int64(len(blob)) > MaxUncompressedBytes {
		return nil, skerr.New(skerr.CodeDecompressionBomb,
			"entry %s exceeds %d bytes", f.Name, int64(MaxUncompressedBytes))
	}
	return blob, nil
}
