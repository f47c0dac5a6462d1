package archive

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/skillport-dev/skillport/internal/manifest"
	"github.com/skillport-dev/skillport/internal/skerr"
	"github.com/skillport-dev/skillport/internal/sspcrypto"
)

func demoManifest() *manifest.Manifest {
	return &manifest.Manifest{
		SSPVersion: manifest.SSPVersion,
		ID:         "alice/demo",
		Name:       "Demo",
		Version:    "1.0.0",
		Author: manifest.Author{
			Name:         "Alice",
			SigningKeyID: "0123456789abcdef",
		},
		OSCompat:    []string{"linux", "macos", "windows"},
		Entrypoints: []string{"SKILL.md"},
		Permissions: manifest.Permissions{
			Network: manifest.NetworkPermission{Mode: "none"},
		},
	}
}

func createDemo(t *testing.T) ([]byte, []byte, []byte) {
	t.Helper()
	pubPEM, privPEM, _, err := sspcrypto.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	files := map[string][]byte{
		"SKILL.md":       []byte("# Demo"),
		"scripts/run.sh": []byte("echo demo"),
	}
	data, err := Create(demoManifest(), files, privPEM)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return data, pubPEM, privPEM
}

func TestCreateExtractRoundTrip(t *testing.T) {
	data, pubPEM, _ := createDemo(t)

	ex, err := Extract(data)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ex.Manifest.ID != "alice/demo" || ex.Manifest.Version != "1.0.0" {
		t.Fatalf("manifest did not round-trip: %+v", ex.Manifest)
	}
	if ex.Manifest.Platform != manifest.PlatformOpenClaw {
		t.Fatalf("defaults not applied on round-trip: platform=%q", ex.Manifest.Platform)
	}
	if ex.AuthorSig == "" {
		t.Fatal("author signature absent")
	}
	if ex.SkillMD != "# Demo" {
		t.Fatalf("SKILL.md = %q", ex.SkillMD)
	}
	logical := ex.LogicalFiles()
	if string(logical["SKILL.md"]) != "# Demo" || string(logical["scripts/run.sh"]) != "echo demo" {
		t.Fatalf("file map did not round-trip: %v", keys(logical))
	}
	if ok, mismatches := sspcrypto.VerifyChecksums(ex.Files, ex.Manifest.Hashes); !ok {
		t.Fatalf("checksums invalid: %v", mismatches)
	}
	if !sspcrypto.Verify(ex.ManifestRaw, ex.AuthorSig, pubPEM) {
		t.Fatal("signature does not verify over the stored manifest bytes")
	}
	if len(ex.Checksums) != 2 {
		t.Fatalf("checksums.json entries = %d, want 2", len(ex.Checksums))
	}
}

func TestCreateDeterministicOrder(t *testing.T) {
	data, _, _ := createDemo(t)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	want := []string{"manifest.json", "signatures/author.sig", "checksums.json", "SKILL.md", "payload/scripts/run.sh"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("entry order = %v, want %v", names, want)
	}
}

func TestCreateMissingEntrypoint(t *testing.T) {
	_, privPEM, _, err := sspcrypto.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	_, err = Create(demoManifest(), map[string][]byte{"other.md": []byte("x")}, privPEM)
	if !skerr.Is(err, skerr.CodeManifestInvalid) {
		t.Fatalf("expected ManifestInvalid, got %v", err)
	}
}

// rewriteEntry rebuilds the archive with one entry's bytes replaced.
func rewriteEntry(t *testing.T, data []byte, name string, replace []byte) []byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range zr.File {
		w, err := zw.Create(f.Name)
		if err != nil {
			t.Fatal(err)
		}
		if f.Name == name {
			if _, err := w.Write(replace); err != nil {
				t.Fatal(err)
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.Copy(w, rc); err != nil {
			t.Fatal(err)
		}
		rc.Close()
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestTamperedPayloadFailsChecksums(t *testing.T) {
	data, _, _ := createDemo(t)
	tampered := rewriteEntry(t, data, "payload/scripts/run.sh", []byte("echo evil"))
	ex, err := Extract(tampered)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	ok, mismatches := sspcrypto.VerifyChecksums(ex.Files, ex.Manifest.Hashes)
	if ok {
		t.Fatal("tampered payload passed checksum verification")
	}
	if len(mismatches) != 1 || mismatches[0] != "payload/scripts/run.sh" {
		t.Fatalf("mismatches = %v", mismatches)
	}
}

func TestTamperedManifestFailsSignature(t *testing.T) {
	data, pubPEM, _ := createDemo(t)
	ex, err := Extract(data)
	if err != nil {
		t.Fatal(err)
	}
	// Flip a byte inside the stored manifest while keeping it valid JSON.
	raw := bytes.Replace(ex.ManifestRaw, []byte(`"Demo"`), []byte(`"Demp"`), 1)
	if bytes.Equal(raw, ex.ManifestRaw) {
		t.Fatal("test setup: manifest bytes unchanged")
	}
	tampered := rewriteEntry(t, data, "manifest.json", raw)
	ex2, err := Extract(tampered)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if sspcrypto.Verify(ex2.ManifestRaw, ex2.AuthorSig, pubPEM) {
		t.Fatal("tampered manifest still verifies")
	}
}

func craftZip(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestZipSlipRejected(t *testing.T) {
	base, _, _ := createDemo(t)
	for _, evil := range []string{
		`payload\..\..\etc\passwd`,
		"../escape.txt",
		"/absolute.txt",
		"payload/../../outside.txt",
	} {
		t.Run(evil, func(t *testing.T) {
			tampered := addEntry(t, base, evil, []byte("boom"))
			_, err := Extract(tampered)
			if !skerr.Is(err, skerr.CodeZipSlip) {
				t.Fatalf("expected ZipSlip for %q, got %v", evil, err)
			}
		})
	}
}

func addEntry(t *testing.T, data []byte, name string, content []byte) []byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range zr.File {
		w, err := zw.Create(f.Name)
		if err != nil {
			t.Fatal(err)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.Copy(w, rc); err != nil {
			t.Fatal(err)
		}
		rc.Close()
	}
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestMissingManifest(t *testing.T) {
	data := craftZip(t, map[string][]byte{"SKILL.md": []byte("# x")})
	_, err := Extract(data)
	if !skerr.Is(err, skerr.CodeMalformedArchive) {
		t.Fatalf("expected MalformedArchive, got %v", err)
	}
}

func TestNotAZip(t *testing.T) {
	_, err := Extract([]byte("definitely not a zip"))
	if !skerr.Is(err, skerr.CodeMalformedArchive) {
		t.Fatalf("expected MalformedArchive, got %v", err)
	}
}

func TestInvalidManifestInArchive(t *testing.T) {
	base, _, _ := createDemo(t)
	tampered := rewriteEntry(t, base, "manifest.json", []byte(`{"ssp_version":"9.9"}`))
	_, err := Extract(tampered)
	if !skerr.Is(err, skerr.CodeManifestInvalid) {
		t.Fatalf("expected ManifestInvalid, got %v", err)
	}
}

func TestDecompressionBomb(t *testing.T) {
	if testing.Short() {
		t.Skip("bomb test allocates the full extraction budget")
	}
	base, _, _ := createDemo(t)

	zr, err := zip.NewReader(bytes.NewReader(base), int64(len(base)))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range zr.File {
		w, err := zw.Create(f.Name)
		if err != nil {
			t.Fatal(err)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.Copy(w, rc); err != nil {
			t.Fatal(err)
		}
		rc.Close()
	}
	// A deflated run of zeros just past the cumulative cap.
	w, err := zw.Create("payload/zeros.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.CopyN(w, zeroReader{}, MaxUncompressedBytes+2); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	_, err = Extract(buf.Bytes())
	if !skerr.Is(err, skerr.CodeDecompressionBomb) {
		t.Fatalf("expected DecompressionBomb, got %v", err)
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
