// Package sspcrypto implements the signing primitives for the .ssp trust
// chain: ed25519 detached signatures over the exact manifest bytes, and
// SHA-256 checksums over payload file bytes. The tuple (signature,
// manifest hashes, file content) is the whole chain of trust; nothing in
// this package ever re-serializes what it signs.
package sspcrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/skillport-dev/skillport/internal/skerr"
)

const keyIDLength = 16

// GenerateKeypair creates a new ed25519 keypair. The public key is PEM
// SPKI, the private key PEM PKCS#8. The key id is the first 16 hex chars
// of SHA-256 over the public PEM bytes.
func GenerateKeypair() (pubPEM, privPEM []byte, keyID string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, "", skerr.Wrap(skerr.CodeInternal, err, "generate ed25519 key")
	}
	spki, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, nil, "", skerr.Wrap(skerr.CodeInternal, err, "marshal public key")
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, "", skerr.Wrap(skerr.CodeInternal, err, "marshal private key")
	}
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: spki})
	privPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})
	return pubPEM, privPEM, KeyID(pubPEM), nil
}

// KeyID derives the key id for a PEM-encoded public key.
func KeyID(pubPEM []byte) string {
	sum := sha256.Sum256(pubPEM)
	return hex.EncodeToString(sum[:])[:keyIDLength]
}

// Sign produces a base64 ed25519 signature over exactly the bytes given.
func Sign(manifestBytes, privPEM []byte) (string, error) {
	priv, err := parsePrivateKey(privPEM)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(priv, manifestBytes)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a base64 signature against the exact bytes given. It
// reports false, never an error, on malformed keys or signatures.
func Verify(manifestBytes []byte, sigB64 string, pubPEM []byte) bool {
	pub, err := ParsePublicKey(pubPEM)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, manifestBytes, sig)
}

// SHA256Hex returns the lowercase hex SHA-256 of b.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ComputeChecksums hashes every file in the map.
func ComputeChecksums(files map[string][]byte) map[string]string {
	out := make(map[string]string, len(files))
	for path, data := range files {
		out[path] = SHA256Hex(data)
	}
	return out
}

// VerifyChecksums compares files against expected hashes. A path is a
// mismatch both when present with different bytes and when absent.
func VerifyChecksums(files map[string][]byte, expected map[string]string) (bool, []string) {
	var mismatches []string
	for path, want := range expected {
		data, ok := files[path]
		if !ok || SHA256Hex(data) != want {
			mismatches = append(mismatches, path)
		}
	}
	sort.Strings(mismatches)
	return len(mismatches) == 0, mismatches
}

// ParsePublicKey decodes a PEM SPKI ed25519 public key.
func ParsePublicKey(pubPEM []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(pubPEM)
	if block == nil {
		return nil, skerr.New(skerr.CodeKeyMissing, "no PEM block in public key")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, skerr.Wrap(skerr.CodeKeyMissing, err, "parse public key")
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, skerr.New(skerr.CodeKeyMissing, "public key is not ed25519")
	}
	return pub, nil
}

func parsePrivateKey(privPEM []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, skerr.New(skerr.CodeKeyMissing, "no PEM block in private key")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, skerr.Wrap(skerr.CodeKeyMissing, err, "parse private key")
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, skerr.New(skerr.CodeKeyMissing, "private key is not ed25519")
	}
	return priv, nil
}

// SaveKeypair writes the keypair under dir as default.pub/default.key.
// Private key material is owner-only.
func SaveKeypair(dir string, pubPEM, privPEM []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "default.pub"), pubPEM, 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "default.key"), privPEM, 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	return nil
}
