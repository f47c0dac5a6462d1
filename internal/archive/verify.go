package archive

import (
	"github.com/skillport-dev/skillport/internal/sspcrypto"
)

// VerifyResult summarizes the integrity checks for an archive.
type VerifyResult struct {
	ID                 string   `json:"id"`
	Version            string   `json:"version"`
	SigningKeyID       string   `json:"signingKeyId"`
	ChecksumsValid     bool     `json:"checksumsValid"`
	Mismatches         []string `json:"mismatches,omitempty"`
	AuthorSigPresent   bool     `json:"authorSigPresent"`
	PlatformSigPresent bool     `json:"platformSigPresent"`
	SignatureChecked   bool     `json:"signatureChecked"`
	SignatureValid     bool     `json:"signatureValid"`
}

// VerifyArchive extracts and checks an archive. When pubPEM is non-nil the
// author signature is verified against it; otherwise only presence is
// reported. Verification always runs over the stored manifest bytes.
func VerifyArchive(data []byte, pubPEM []byte) (*Extracted, *VerifyResult, error) {
	ex, err := Extract(data)
	if err != nil {
		return nil, nil, err
	}
	res := &VerifyResult{
		ID:                 ex.Manifest.ID,
		Version:            ex.Manifest.Version,
		SigningKeyID:       ex.Manifest.Author.SigningKeyID,
		AuthorSigPresent:   ex.AuthorSig != "",
		PlatformSigPresent: ex.PlatformSig != "",
	}
	res.ChecksumsValid, res.Mismatches = sspcrypto.VerifyChecksums(ex.Files, ex.Manifest.Hashes)
	if pubPEM != nil && ex.AuthorSig != "" {
		res.SignatureChecked = true
		res.SignatureValid = sspcrypto.Verify(ex.ManifestRaw, ex.AuthorSig, pubPEM)
	}
	return ex, res, nil
}
