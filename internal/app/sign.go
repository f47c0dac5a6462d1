package app

import (
	"os"

	"github.com/skillport-dev/skillport/internal/config"
	"github.com/skillport-dev/skillport/internal/provenance"
	"github.com/skillport-dev/skillport/internal/skerr"
	"github.com/skillport-dev/skillport/internal/sspcrypto"
)

type SignResult struct {
	Signature string `json:"signature"`
	KeyID     string `json:"keyId"`
	File      string `json:"file"`
}

// SignFile produces a detached base64 signature over the exact bytes of a
// file using the default signing key. Signing never reformats its input;
// a manifest signed here verifies against the same bytes read back.
func (s *Service) SignFile(path string) (*SignResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, skerr.Wrap(skerr.CodeFileNotFound, err, "read input")
	}
	privPEM, err := os.ReadFile(config.PrivateKeyPath(s.Home))
	if err != nil {
		return nil, skerr.Wrap(skerr.CodeKeyMissing, err, "no signing key").
			WithHints("run `skillport keys generate` first")
	}
	pubPEM, err := os.ReadFile(config.PublicKeyPath(s.Home))
	if err != nil {
		return nil, skerr.Wrap(skerr.CodeKeyMissing, err, "no public key")
	}
	sig, err := sspcrypto.Sign(data, privPEM)
	if err != nil {
		return nil, err
	}
	keyID := sspcrypto.KeyID(pubPEM)
	_ = s.Prov.Append(provenance.Entry{Action: "sign", Extra: map[string]any{"file": path, "key_id": keyID}})
	return &SignResult{Signature: sig, KeyID: keyID, File: path}, nil
}
