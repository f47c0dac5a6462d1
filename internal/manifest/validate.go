package manifest

import (
	"embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/skillport-dev/skillport/internal/skerr"
)

//go:embed data/manifest.schema.json
var schemaFS embed.FS

var (
	idPattern      = regexp.MustCompile(`^[a-z0-9_-]+/[a-z0-9_-]+$`)
	versionPattern = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+$`)
	keyIDPattern   = regexp.MustCompile(`^[0-9a-f]{16}$`)
)

var validOS = map[string]bool{"macos": true, "linux": true, "windows": true}

var integrationLevels = map[string]bool{
	IntegrationNone:  true,
	IntegrationRead:  true,
	IntegrationWrite: true,
	IntegrationSend:  true,
}

// Validate parses and validates a manifest document. It returns either a
// typed manifest with defaults applied, or the list of violations. The
// error return is reserved for non-validation failures (schema load).
func Validate(doc []byte) (*Manifest, []Violation, error) {
	structural, err := validateSchema(doc)
	if err != nil {
		return nil, nil, err
	}
	if len(structural) > 0 {
		return nil, structural, nil
	}

	var m Manifest
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, []Violation{{Field: "(document)", Message: err.Error()}}, nil
	}

	violations := semanticChecks(&m)
	if len(violations) > 0 {
		return nil, violations, nil
	}
	ApplyDefaults(&m)
	return &m, nil, nil
}

func validateSchema(doc []byte) ([]Violation, error) {
	schemaBytes, err := schemaFS.ReadFile("data/manifest.schema.json")
	if err != nil {
		return nil, skerr.Wrap(skerr.CodeInternal, err, "load embedded manifest schema")
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaBytes),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		// Not JSON at all: report as a single document-level violation.
		return []Violation{{Field: "(document)", Message: err.Error()}}, nil
	}
	if result.Valid() {
		return nil, nil
	}
	violations := make([]Violation, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		violations = append(violations, Violation{Field: re.Field(), Message: re.Description()})
	}
	return violations, nil
}

// semanticChecks covers the invariants the JSON schema cannot express.
func semanticChecks(m *Manifest) []Violation {
	var vs []Violation
	add := func(field, format string, args ...any) {
		vs = append(vs, Violation{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if m.SSPVersion != SSPVersion {
		add("ssp_version", "must be %q", SSPVersion)
	}
	if !idPattern.MatchString(m.ID) {
		add("id", "must match author-slug/skill-slug")
	}
	if !versionPattern.MatchString(m.Version) {
		add("version", "must be strict x.y.z")
	}
	if !keyIDPattern.MatchString(m.Author.SigningKeyID) {
		add("author.signing_key_id", "must be 16 lowercase hex characters")
	}
	if len(m.OSCompat) == 0 {
		add("os_compat", "must list at least one OS")
	}
	seen := map[string]bool{}
	for _, osName := range m.OSCompat {
		if !validOS[osName] {
			add("os_compat", "unknown OS %q", osName)
		}
		if seen[osName] {
			add("os_compat", "duplicate OS %q", osName)
		}
		seen[osName] = true
	}
	if len(m.Entrypoints) == 0 {
		add("entrypoints", "must name at least one file")
	}
	for i, ep := range m.Entrypoints {
		if strings.TrimSpace(ep) == "" {
			add(fmt.Sprintf("entrypoints[%d]", i), "must not be empty")
		}
	}
	switch m.Permissions.Network.Mode {
	case "none":
		if len(m.Permissions.Network.Domains) > 0 {
			add("permissions.network", "mode none must not carry domains")
		}
	case "allowlist":
		if len(m.Permissions.Network.Domains) == 0 {
			add("permissions.network", "allowlist requires at least one domain")
		}
	default:
		add("permissions.network.mode", "must be none or allowlist")
	}
	for name, level := range m.Permissions.Integrations {
		if !integrationLevels[level] {
			add("permissions.integrations."+name, "level must be none, read, write, or send")
		}
	}
	if m.Platform != "" && m.Platform != PlatformOpenClaw && m.Platform != PlatformClaudeCode && m.Platform != PlatformUniversal {
		add("platform", "must be openclaw, claude-code, or universal")
	}
	if m.DeclaredRisk != "" && m.DeclaredRisk != RiskLow && m.DeclaredRisk != RiskMedium && m.DeclaredRisk != RiskHigh {
		add("declared_risk", "must be low, medium, or high")
	}
	if m.OpenClawCompat != "" {
		if err := checkRangeSyntax(m.OpenClawCompat); err != nil {
			add("openclaw_compat", "%v", err)
		}
	}
	for i, fl := range m.DangerFlags {
		switch fl.Severity {
		case "low", "medium", "high", "critical":
		default:
			add(fmt.Sprintf("danger_flags[%d].severity", i), "must be low, medium, high, or critical")
		}
	}
	return vs
}

// ApplyDefaults fills the optional fields a valid manifest may omit. The
// create path runs this before canonical serialization, so the signed
// bytes always describe the defaulted form.
func ApplyDefaults(m *Manifest) {
	if m.Platform == "" {
		m.Platform = PlatformOpenClaw
	}
	if m.DeclaredRisk == "" {
		m.DeclaredRisk = RiskMedium
	}
	if m.Inputs == nil {
		m.Inputs = []string{}
	}
	if m.Outputs == nil {
		m.Outputs = []string{}
	}
	if m.Hashes == nil {
		m.Hashes = map[string]string{}
	}
	if m.Permissions.Filesystem.ReadPaths == nil {
		m.Permissions.Filesystem.ReadPaths = []string{}
	}
	if m.Permissions.Filesystem.WritePaths == nil {
		m.Permissions.Filesystem.WritePaths = []string{}
	}
	if m.Permissions.Exec.AllowedCommands == nil {
		m.Permissions.Exec.AllowedCommands = []string{}
	}
}

// InvalidError folds violations into a ManifestInvalid error for callers
// that want a single error value.
func InvalidError(violations []Violation) error {
	parts := make([]string, len(violations))
	for i, v := range violations {
		parts[i] = v.String()
	}
	return skerr.New(skerr.CodeManifestInvalid, "%s", strings.Join(parts, "; "))
}
