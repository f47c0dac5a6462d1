// Package manifest defines the .ssp manifest document: the declarative
// contract between a skill and its runtime. Validation is total: a JSON
// document either becomes a fully-typed Manifest with defaults applied or
// a list of field-level violations.
package manifest

// SSPVersion is the only manifest format version this tree understands.
const SSPVersion = "1.0"

// Platform targets.
const (
	PlatformOpenClaw   = "openclaw"
	PlatformClaudeCode = "claude-code"
	PlatformUniversal  = "universal"
)

// Declared risk levels.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Integration access levels.
const (
	IntegrationNone  = "none"
	IntegrationRead  = "read"
	IntegrationWrite = "write"
	IntegrationSend  = "send"
)

// Manifest is the validated form of manifest.json. Field order here is the
// canonical serialization order; CanonicalBytes depends on it.
type Manifest struct {
	SSPVersion     string            `json:"ssp_version"`
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	Version        string            `json:"version"`
	Author         Author            `json:"author"`
	OpenClawCompat string            `json:"openclaw_compat,omitempty"`
	OSCompat       []string          `json:"os_compat"`
	Platform       string            `json:"platform"`
	DeclaredRisk   string            `json:"declared_risk"`
	Entrypoints    []string          `json:"entrypoints"`
	Permissions    Permissions       `json:"permissions"`
	Dependencies   Dependencies      `json:"dependencies"`
	DangerFlags    []DangerFlag      `json:"danger_flags,omitempty"`
	Inputs         []string          `json:"inputs"`
	Outputs        []string          `json:"outputs"`
	Scope          Scope             `json:"scope"`
	Hashes         map[string]string `json:"hashes"`
	CreatedAt      string            `json:"created_at,omitempty"`
}

type Author struct {
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	SigningKeyID string `json:"signing_key_id"`
}

// Permissions is always fully specified in a valid manifest.
type Permissions struct {
	Network      NetworkPermission    `json:"network"`
	Filesystem   FilesystemPermission `json:"filesystem"`
	Exec         ExecPermission       `json:"exec"`
	Integrations map[string]string    `json:"integrations,omitempty"`
}

// NetworkPermission is a variant: mode "none" carries no domains, mode
// "allowlist" carries the permitted domains.
type NetworkPermission struct {
	Mode    string   `json:"mode"`
	Domains []string `json:"domains,omitempty"`
}

type FilesystemPermission struct {
	ReadPaths  []string `json:"read_paths"`
	WritePaths []string `json:"write_paths"`
}

type ExecPermission struct {
	AllowedCommands []string `json:"allowed_commands"`
	Shell           bool     `json:"shell"`
}

// Dependencies lists host requirements probed before install.
type Dependencies struct {
	Binaries []BinaryDep `json:"binaries,omitempty"`
	EnvVars  []EnvVarDep `json:"env_vars,omitempty"`
}

type BinaryDep struct {
	Name     string `json:"name"`
	Optional bool   `json:"optional,omitempty"`
}

type EnvVarDep struct {
	Name     string `json:"name"`
	Optional bool   `json:"optional,omitempty"`
}

// DangerFlag is an author-declared hazard. Critical flags gate consent.
type DangerFlag struct {
	ID          string `json:"id"`
	Severity    string `json:"severity"`
	Description string `json:"description,omitempty"`
}

type Scope struct {
	Files     bool `json:"files"`
	Network   bool `json:"network"`
	Processes bool `json:"processes"`
	EnvVars   bool `json:"env_vars"`
}

// Violation identifies one failed invariant in a manifest document.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v Violation) String() string { return v.Field + ": " + v.Message }
