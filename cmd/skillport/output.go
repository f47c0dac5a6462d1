package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/skillport-dev/skillport/internal/app"
	"github.com/skillport-dev/skillport/internal/archive"
	"github.com/skillport-dev/skillport/internal/installer"
	"github.com/skillport-dev/skillport/internal/registry"
	"github.com/skillport-dev/skillport/internal/scanner"
	"github.com/skillport-dev/skillport/internal/skerr"
)

const schemaVersion = 1

type envelope struct {
	SchemaVersion int            `json:"schema_version"`
	OK            bool           `json:"ok"`
	Data          any            `json:"data,omitempty"`
	Error         *envelopeError `json:"error,omitempty"`
}

type envelopeError struct {
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	Retryable bool     `json:"retryable"`
	Hints     []string `json:"hints"`
}

// print emits either the JSON envelope on stdout or the human line.
func print(jsonMode bool, data any, human string) error {
	if jsonMode {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(envelope{SchemaVersion: schemaVersion, OK: true, Data: data})
	}
	if human != "" {
		fmt.Println(human)
	}
	return nil
}

// printErrorEnvelope writes the failure envelope to stdout in JSON mode.
func printErrorEnvelope(err error) {
	ee := &envelopeError{Code: string(skerr.CodeInternal), Message: err.Error(), Hints: []string{}}
	var se *skerr.Error
	if errors.As(err, &se) {
		ee.Code = string(se.Code)
		ee.Message = se.Message
		ee.Retryable = se.Retryable
		if se.Hints != nil {
			ee.Hints = se.Hints
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(envelope{SchemaVersion: schemaVersion, OK: false, Error: ee})
}

// progress writes human-readable status to stderr, but only outside JSON
// mode: stdout must carry exactly one envelope when --json is set.
func progress(jsonMode bool, format string, args ...any) {
	if jsonMode {
		return
	}
	color.New(color.Faint).Fprintf(os.Stderr, format+"\n", args...)
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func formatScanReport(r scanner.Report) string {
	var b strings.Builder
	status := color.GreenString("passed")
	if !r.Passed {
		status = color.RedString("failed")
	}
	fmt.Fprintf(&b, "scan %s: risk score %d, %d issue(s) in %d file(s)\n",
		status, r.RiskScore, r.Summary.Total, len(r.ScannedFiles))
	for _, issue := range r.Issues {
		fmt.Fprintf(&b, "  %-8s %-7s %s:%d  %s\n",
			strings.ToUpper(issue.Severity), issue.RuleID, issue.File, issue.Line, issue.Snippet)
		if issue.Remediation != "" {
			fmt.Fprintf(&b, "           %s\n", issue.Remediation)
		}
	}
	if len(r.SkippedFiles) > 0 {
		fmt.Fprintf(&b, "  skipped: %s\n", strings.Join(r.SkippedFiles, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatVerifyResult(v *archive.VerifyResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (key %s)\n", v.ID, v.Version, v.SigningKeyID)
	fmt.Fprintf(&b, "  checksums: %s\n", okBad(v.ChecksumsValid))
	fmt.Fprintf(&b, "  author signature: %s\n", presentAbsent(v.AuthorSigPresent))
	if v.SignatureChecked {
		fmt.Fprintf(&b, "  signature verification: %s\n", okBad(v.SignatureValid))
	}
	fmt.Fprintf(&b, "  platform signature: %s", presentAbsent(v.PlatformSigPresent))
	return b.String()
}

func formatInstallResult(r *installer.Result) string {
	if r.AlreadyInstalled {
		return fmt.Sprintf("%s %s is already installed at %s", r.SkillID, r.Version, r.InstallPath)
	}
	verb := "installed"
	if r.DryRun {
		verb = "would install"
	}
	line := fmt.Sprintf("%s %s %s to %s (risk score %d, permissions %s)",
		verb, r.SkillID, r.Version, r.InstallPath, r.RiskScore, r.Permissions.Overall)
	for _, w := range r.Warnings {
		line += "\n  " + color.YellowString("warning: ") + w
	}
	return line
}

func formatPlan(p *app.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s -> %s\n", p.SkillID, p.Version, p.InstallPath)
	fmt.Fprintf(&b, "  risk score: %d\n", p.RiskScore)
	fmt.Fprintf(&b, "  permissions: %s\n", p.Permissions.Overall)
	fmt.Fprintf(&b, "  environment ready: %v\n", p.Environment.Ready)
	if p.Policy.Allowed {
		fmt.Fprintf(&b, "  policy: allowed")
	} else {
		fmt.Fprintf(&b, "  policy: denied (%s)", p.Policy.Reason)
		for _, h := range p.Policy.Hints {
			fmt.Fprintf(&b, "\n    hint: %s", h)
		}
	}
	return b.String()
}

func formatInspection(in *app.Inspection) string {
	var b strings.Builder
	m := in.Manifest
	fmt.Fprintf(&b, "%s %s -- %s\n", m.ID, m.Version, m.Name)
	if m.Description != "" {
		fmt.Fprintf(&b, "  %s\n", m.Description)
	}
	fmt.Fprintf(&b, "  platform: %s, declared risk: %s, os: %s\n", m.Platform, m.DeclaredRisk, strings.Join(m.OSCompat, ", "))
	fmt.Fprintf(&b, "  permissions: %s (network %s, fs %s, exec %s, integrations %s)\n",
		in.Permissions.Overall, in.Permissions.Network, in.Permissions.Filesystem,
		in.Permissions.Exec, in.Permissions.Integrations)
	fmt.Fprintf(&b, "  scan: risk score %d, %d issue(s)\n", in.Scan.RiskScore, in.Scan.Summary.Total)
	fmt.Fprintf(&b, "  checksums: %s, author signature: %s",
		okBad(in.Verify.ChecksumsValid), presentAbsent(in.Verify.AuthorSigPresent))
	return b.String()
}

func formatInstalled(skills []registry.Record) string {
	if len(skills) == 0 {
		return "no skills installed"
	}
	var b strings.Builder
	for _, rec := range skills {
		fmt.Fprintf(&b, "%s %s  %s\n", rec.ID, rec.Version, rec.InstallPath)
	}
	return strings.TrimRight(b.String(), "\n")
}

func okBad(ok bool) string {
	if ok {
		return color.GreenString("ok")
	}
	return color.RedString("FAILED")
}

func presentAbsent(present bool) string {
	if present {
		return "present"
	}
	return "absent"
}
