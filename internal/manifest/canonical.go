package manifest

import (
	"encoding/json"

	"github.com/skillport-dev/skillport/internal/skerr"
)

// CanonicalBytes serializes a manifest into the exact bytes that get
// signed and stored in the archive: two-space indent, \n newlines, keys in
// schema order (struct field order), map keys sorted. These bytes are the
// signature's domain; they must never be recomputed on the verify path --
// verification always runs over the bytes read back from the archive.
func CanonicalBytes(m *Manifest) ([]byte, error) {
	blob, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, skerr.Wrap(skerr.CodeInternal, err, "serialize manifest")
	}
	return append(blob, '\n'), nil
}
