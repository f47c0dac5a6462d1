package manifest

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func validDoc() map[string]any {
	return map[string]any{
		"ssp_version": "1.0",
		"id":          "alice/demo",
		"name":        "Demo",
		"version":     "1.0.0",
		"author": map[string]any{
			"name":           "Alice",
			"signing_key_id": "0123456789abcdef",
		},
		"os_compat":   []string{"linux", "macos"},
		"entrypoints": []string{"SKILL.md"},
		"permissions": map[string]any{
			"network":    map[string]any{"mode": "none"},
			"filesystem": map[string]any{"read_paths": []string{}, "write_paths": []string{}},
			"exec":       map[string]any{"allowed_commands": []string{}, "shell": false},
		},
	}
}

func marshal(t *testing.T, doc map[string]any) []byte {
	t.Helper()
	blob, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	return blob
}

func TestValidateAppliesDefaults(t *testing.T) {
	m, violations, err := Validate(marshal(t, validDoc()))
	if err != nil {
		t.Fatal(err)
	}
	if len(violations) != 0 {
		t.Fatalf("unexpected violations: %v", violations)
	}
	if m.Platform != PlatformOpenClaw {
		t.Fatalf("platform default = %q, want openclaw", m.Platform)
	}
	if m.DeclaredRisk != RiskMedium {
		t.Fatalf("declared_risk default = %q, want medium", m.DeclaredRisk)
	}
	if m.Inputs == nil || m.Outputs == nil || m.Hashes == nil {
		t.Fatal("slices and maps must be non-nil after defaults")
	}
}

func TestValidateViolations(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(doc map[string]any)
		field  string
	}{
		{"bad ssp_version", func(d map[string]any) { d["ssp_version"] = "2.0" }, "ssp_version"},
		{"bad id", func(d map[string]any) { d["id"] = "Alice/Demo" }, "id"},
		{"missing slash in id", func(d map[string]any) { d["id"] = "alicedemo" }, "id"},
		{"loose version", func(d map[string]any) { d["version"] = "1.0" }, "version"},
		{"short key id", func(d map[string]any) {
			d["author"] = map[string]any{"name": "Alice", "signing_key_id": "abc"}
		}, "signing_key_id"},
		{"empty os_compat", func(d map[string]any) { d["os_compat"] = []string{} }, "os_compat"},
		{"unknown os", func(d map[string]any) { d["os_compat"] = []string{"plan9"} }, "os_compat"},
		{"empty entrypoints", func(d map[string]any) { d["entrypoints"] = []string{} }, "entrypoints"},
		{"bad platform", func(d map[string]any) { d["platform"] = "emacs" }, "platform"},
		{"bad risk", func(d map[string]any) { d["declared_risk"] = "extreme" }, "declared_risk"},
		{"allowlist without domains", func(d map[string]any) {
			d["permissions"].(map[string]any)["network"] = map[string]any{"mode": "allowlist"}
		}, "network"},
		{"bad integration level", func(d map[string]any) {
			d["permissions"].(map[string]any)["integrations"] = map[string]any{"slack": "admin"}
		}, "integrations"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := validDoc()
			tc.mutate(doc)
			m, violations, err := Validate(marshal(t, doc))
			if err != nil {
				t.Fatal(err)
			}
			if m != nil {
				t.Fatal("invalid document produced a manifest")
			}
			if len(violations) == 0 {
				t.Fatal("expected violations")
			}
			found := false
			for _, v := range violations {
				if strings.Contains(v.Field, tc.field) {
					found = true
				}
			}
			if !found {
				t.Fatalf("no violation names %q: %v", tc.field, violations)
			}
		})
	}
}

func TestValidateNotJSON(t *testing.T) {
	m, violations, err := Validate([]byte("not json"))
	if err != nil {
		t.Fatal(err)
	}
	if m != nil || len(violations) == 0 {
		t.Fatalf("expected document-level violation, got m=%v violations=%v", m, violations)
	}
}

func TestCanonicalBytesStable(t *testing.T) {
	m, _, err := Validate(marshal(t, validDoc()))
	if err != nil {
		t.Fatal(err)
	}
	a, err := CanonicalBytes(m)
	if err != nil {
		t.Fatal(err)
	}
	b, err := CanonicalBytes(m)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("canonical serialization is not stable")
	}
	if !bytes.Contains(a, []byte("\n  \"id\": \"alice/demo\"")) {
		t.Fatalf("expected two-space indent, got:\n%s", a)
	}
	// Round-trip through the validator preserves the document.
	m2, violations, err := Validate(a)
	if err != nil || len(violations) != 0 {
		t.Fatalf("canonical bytes did not re-validate: %v %v", err, violations)
	}
	c, err := CanonicalBytes(m2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, c) {
		t.Fatal("canonical bytes changed across a validate round-trip")
	}
}

func TestCompatibleWith(t *testing.T) {
	cases := []struct {
		rng     string
		version string
		want    bool
	}{
		{"", "0.4.0", true},
		{">=1.2.0", "1.3.0", true},
		{">=1.2.0", "1.1.9", false},
		{">=1.0.0 <2.0.0", "1.5.0", true},
		{">=1.0.0 <2.0.0", "2.0.0", false},
		{"^1.2.3", "1.9.0", true},
		{"^1.2.3", "2.0.0", false},
		{"^1.2.3", "1.2.2", false},
		{"~1.2.3", "1.2.9", true},
		{"~1.2.3", "1.3.0", false},
		{"1.2.3", "1.2.3", true},
		{"1.2.3", "1.2.4", false},
	}
	for _, tc := range cases {
		m := &Manifest{OpenClawCompat: tc.rng}
		got, err := m.CompatibleWith(tc.version)
		if err != nil {
			t.Fatalf("%q vs %q: %v", tc.rng, tc.version, err)
		}
		if got != tc.want {
			t.Errorf("CompatibleWith(%q, %q) = %v, want %v", tc.rng, tc.version, got, tc.want)
		}
	}
}

func TestRangeSyntaxRejected(t *testing.T) {
	doc := validDoc()
	doc["openclaw_compat"] = ">=not.a.version"
	_, violations, err := Validate(marshal(t, doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(violations) == 0 {
		t.Fatal("expected openclaw_compat violation")
	}
}
