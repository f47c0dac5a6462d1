// Package installer orchestrates the install pipeline: verification,
// scan, policy gate, environment probe, consent, file materialization,
// registry update, and provenance. Every state must complete before the
// next; security failures are fatal and never retried.
package installer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/skillport-dev/skillport/internal/archive"
	"github.com/skillport-dev/skillport/internal/config"
	"github.com/skillport-dev/skillport/internal/envprobe"
	"github.com/skillport-dev/skillport/internal/fsutil"
	"github.com/skillport-dev/skillport/internal/manifest"
	"github.com/skillport-dev/skillport/internal/market"
	"github.com/skillport-dev/skillport/internal/permissions"
	"github.com/skillport-dev/skillport/internal/policy"
	"github.com/skillport-dev/skillport/internal/provenance"
	"github.com/skillport-dev/skillport/internal/registry"
	"github.com/skillport-dev/skillport/internal/scanner"
	"github.com/skillport-dev/skillport/internal/skerr"
	"github.com/skillport-dev/skillport/internal/sspcrypto"
)

// sspIDPattern decides whether a non-file install ref can be resolved
// through the marketplace.
var sspIDPattern = regexp.MustCompile(`^[a-z0-9_-]+/[a-z0-9_-]+$`)

type Service struct {
	Home    string
	Env     config.Env
	Policy  policy.Policy
	Scanner *scanner.Engine
	Market  *market.Client
	Audit   *provenance.AuditLog
	Prov    *provenance.Log
}

// Options control one install invocation.
type Options struct {
	Force          bool // reinstall over the same (id, version)
	AcceptRisk     bool // explicit acceptance of elevated risk
	NonInteractive bool // json mode or no tty
}

// Result reports what the pipeline did (or, for dry runs, would do).
type Result struct {
	SkillID          string                 `json:"skillId"`
	Version          string                 `json:"version"`
	InstallPath      string                 `json:"installPath,omitempty"`
	AlreadyInstalled bool                   `json:"alreadyInstalled,omitempty"`
	DryRun           bool                   `json:"dryRun,omitempty"`
	HasPlatformSig   bool                   `json:"hasPlatformSig"`
	RiskScore        int                    `json:"riskScore"`
	Scan             scanner.Report         `json:"scan"`
	Permissions      permissions.Assessment `json:"permissions"`
	Environment      envprobe.Report        `json:"environment"`
	Warnings         []string               `json:"warnings,omitempty"`
}

// verified is the pipeline state after the security gates.
type verified struct {
	ex    *archive.Extracted
	scan  scanner.Report
	perms permissions.Assessment
	env   envprobe.Report
	warns []string
}

// Install runs the full pipeline for a local .ssp path or marketplace ref.
func (s *Service) Install(ctx context.Context, ref string, opts Options) (*Result, error) {
	data, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.InstallArchive(ctx, data, opts)
}

// DryRun runs every gate through consent and reports without writing.
func (s *Service) DryRun(ctx context.Context, ref string, opts Options) (*Result, error) {
	data, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	v, err := s.verify(data, opts)
	if err != nil {
		return nil, err
	}
	res := v.result()
	res.DryRun = true
	res.InstallPath = s.installPath(v.ex.Manifest)
	return res, nil
}

// InstallArchive runs the pipeline over archive bytes already in hand.
func (s *Service) InstallArchive(_ context.Context, data []byte, opts Options) (*Result, error) {
	_ = s.Audit.Record(provenance.AuditEvent{Operation: "install", Phase: "start", Status: "ok"})

	v, err := s.verify(data, opts)
	if err != nil {
		s.logFailure("install", err)
		return nil, err
	}
	man := v.ex.Manifest

	// IdempotencyChecked
	regPath := config.RegistryPath(s.Home)
	reg, err := registry.Load(regPath)
	if err != nil {
		return nil, err
	}
	if rec, ok := registry.Find(reg, man.ID); ok && rec.Version == man.Version && !opts.Force {
		res := v.result()
		res.AlreadyInstalled = true
		res.InstallPath = rec.InstallPath
		_ = s.Audit.Record(provenance.AuditEvent{Operation: "install", Phase: "commit", Status: "ok", SkillID: man.ID, Message: "already installed"})
		return res, nil
	}

	// Materialized
	installPath := s.installPath(man)
	if err := s.materialize(v.ex, installPath); err != nil {
		s.logFailure("install", err)
		return nil, err
	}

	// Registered
	registry.Upsert(&reg, registry.Record{
		ID:          man.ID,
		Version:     man.Version,
		InstalledAt: time.Now().UTC(),
		InstallPath: installPath,
		AuthorKeyID: man.Author.SigningKeyID,
	})
	if err := registry.Save(regPath, reg); err != nil {
		_ = os.RemoveAll(installPath)
		return nil, err
	}

	// Logged
	provenance.CountInstall()
	_ = s.Prov.Append(provenance.Entry{
		Action:  "install",
		SkillID: man.ID,
		Version: man.Version,
		Extra: map[string]any{
			"risk_score":       v.scan.RiskScore,
			"scan_passed":      v.scan.Passed,
			"author_key_id":    man.Author.SigningKeyID,
			"platform_sig":     v.ex.PlatformSig != "",
			"install_path":     installPath,
			"permission_level": v.perms.Overall.String(),
		},
	})
	_ = s.Audit.Record(provenance.AuditEvent{Operation: "install", Phase: "commit", Status: "ok", SkillID: man.ID,
		Fields: map[string]string{"version": man.Version, "path": installPath}})
	s.writeTrace(man, v)

	res := v.result()
	res.InstallPath = installPath
	return res, nil
}

// load resolves archive bytes from a local path or the marketplace.
func (s *Service) load(ctx context.Context, ref string) ([]byte, error) {
	if _, err := os.Stat(ref); err == nil {
		data, err := os.ReadFile(ref)
		if err != nil {
			return nil, skerr.Wrap(skerr.CodeInputInvalid, err, "read archive %s", ref)
		}
		return data, nil
	}
	if !sspIDPattern.MatchString(ref) {
		return nil, skerr.New(skerr.CodeFileNotFound, "archive %s does not exist", ref)
	}
	if s.Market == nil {
		return nil, skerr.New(skerr.CodeFileNotFound, "%s is neither a file nor a resolvable marketplace ref", ref)
	}
	downloadURL, err := s.Market.DownloadURL(ctx, ref, "")
	if err != nil {
		return nil, err
	}
	if u, err := url.Parse(downloadURL); err == nil {
		if !s.Policy.IsHostAllowed(u.Hostname()) {
			return nil, skerr.New(skerr.CodePolicyRejected, "host %s is not in allowed_hosts", u.Hostname()).
				WithHints("add the host to policy.allowed_hosts in .skillportrc")
		}
	}
	return s.Market.Download(ctx, downloadURL)
}

// verify runs ExtractVerified through ConsentGiven.
func (s *Service) verify(data []byte, opts Options) (*verified, error) {
	// ExtractVerified
	ex, err := archive.Extract(data)
	if err != nil {
		return nil, err
	}
	man := ex.Manifest

	// ChecksumsOK
	if ok, mismatches := sspcrypto.VerifyChecksums(ex.Files, man.Hashes); !ok {
		return nil, skerr.New(skerr.CodeChecksumMismatch, "checksum mismatch: %s", strings.Join(mismatches, ", "))
	}

	// SignatureOK: presence is mandatory; verification runs when a
	// locally trusted key for the manifest's signing_key_id exists.
	// Without one the signature is accepted on presence alone, matching
	// the documented trust model.
	if ex.AuthorSig == "" {
		return nil, skerr.New(skerr.CodeSignatureMissing, "archive has no author signature")
	}
	if pub, err := os.ReadFile(config.TrustedKeyPath(s.Home, man.Author.SigningKeyID)); err == nil {
		if !sspcrypto.Verify(ex.ManifestRaw, ex.AuthorSig, pub) {
			return nil, skerr.New(skerr.CodeSignatureInvalid, "author signature does not verify against trusted key %s", man.Author.SigningKeyID)
		}
	}

	// Scanned
	report := s.Scanner.Scan(ex.LogicalFiles())
	if !report.Passed && !opts.Force {
		return nil, skerr.New(skerr.CodeScanFailed,
			"security scan failed with risk score %d (%d high, %d critical)",
			report.RiskScore, report.Summary.BySeverity["high"], report.Summary.BySeverity["critical"])
	}

	// PolicyCleared
	decision := s.Policy.Check("install", policy.Context{
		NonInteractive:      opts.NonInteractive,
		RiskScore:           report.RiskScore,
		HasPlatformSig:      ex.PlatformSig != "",
		SessionInstallCount: provenance.InstallCount(),
	})
	if !decision.Allowed {
		return nil, skerr.New(skerr.CodePolicyRejected, "%s", decision.Reason).WithHints(decision.Hints...)
	}

	// EnvOK
	envReport := envprobe.CheckEnvironment(man)
	var warns []string
	for _, c := range envReport.Checks {
		switch c.Status {
		case envprobe.StatusWarn:
			warns = append(warns, fmt.Sprintf("%s %s: %s", c.Kind, c.Name, c.Message))
		case envprobe.StatusMissing:
			if c.Kind == "os" {
				return nil, skerr.New(skerr.CodeOsIncompatible, "host OS %s not in os_compat %v", envReport.OS, man.OSCompat)
			}
			return nil, skerr.New(skerr.CodeDependencyMissing, "required %s %s is missing", c.Kind, c.Name)
		}
	}

	// ConsentGiven
	perms := permissions.Assess(man.Permissions)
	if opts.NonInteractive && elevatedRisk(man) && !opts.AcceptRisk {
		return nil, skerr.New(skerr.CodeConsentRequired,
			"skill requires explicit risk acceptance (shell access or critical danger flag)").
			WithHints("pass --accept-risk to consent non-interactively")
	}

	return &verified{ex: ex, scan: report, perms: perms, env: envReport, warns: warns}, nil
}

func elevatedRisk(m *manifest.Manifest) bool {
	if m.Permissions.Exec.Shell {
		return true
	}
	for _, fl := range m.DangerFlags {
		if fl.Severity == "critical" {
			return true
		}
	}
	return false
}

func (v *verified) result() *Result {
	return &Result{
		SkillID:        v.ex.Manifest.ID,
		Version:        v.ex.Manifest.Version,
		HasPlatformSig: v.ex.PlatformSig != "",
		RiskScore:      v.scan.RiskScore,
		Scan:           v.scan,
		Permissions:    v.perms,
		Environment:    v.env,
		Warnings:       v.warns,
	}
}

func (s *Service) installPath(m *manifest.Manifest) string {
	return filepath.Join(config.InstallRoot(s.Home, s.Env, m.Platform), safeEntryName(m.ID))
}

// materialize writes the skill tree: stage, back up any previous install,
// then rename into place. Archive paths were validated during extraction;
// SafeJoin is the sink-side guard.
func (s *Service) materialize(ex *archive.Extracted, finalDir string) error {
	parent := filepath.Dir(finalDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return skerr.Wrap(skerr.CodeInternal, err, "create install root")
	}
	stage := filepath.Join(parent, fmt.Sprintf(".stage-%s-%d", filepath.Base(finalDir), time.Now().UnixNano()))
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return skerr.Wrap(skerr.CodeInternal, err, "create staging dir")
	}
	defer os.RemoveAll(stage)

	// The stored manifest bytes go to disk unmodified; rewriting them
	// would invalidate the signature for any later re-verification.
	if err := os.WriteFile(filepath.Join(stage, "manifest.json"), ex.ManifestRaw, 0o644); err != nil {
		return skerr.Wrap(skerr.CodeInternal, err, "write manifest")
	}
	if ex.SkillMD != "" {
		if err := os.WriteFile(filepath.Join(stage, "SKILL.md"), []byte(ex.SkillMD), 0o644); err != nil {
			return skerr.Wrap(skerr.CodeInternal, err, "write SKILL.md")
		}
	}

	paths := make([]string, 0, len(ex.Files))
	for path := range ex.Files {
		if path != archive.SkillMDEntry {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	for _, path := range paths {
		rel := strings.TrimPrefix(path, archive.PayloadPrefix)
		dst, err := fsutil.SafeJoin(stage, rel)
		if err != nil {
			return skerr.Wrap(skerr.CodeZipSlip, err, "payload path %s", path)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return skerr.Wrap(skerr.CodeInternal, err, "create payload dir")
		}
		if err := os.WriteFile(dst, ex.Files[path], 0o644); err != nil {
			return skerr.Wrap(skerr.CodeInternal, err, "write payload %s", rel)
		}
	}

	var backup string
	if _, err := os.Stat(finalDir); err == nil {
		backup = finalDir + fmt.Sprintf(".bak-%d", time.Now().UnixNano())
		if err := os.Rename(finalDir, backup); err != nil {
			return skerr.Wrap(skerr.CodeInternal, err, "back up previous install")
		}
	}
	if err := os.Rename(stage, finalDir); err != nil {
		if backup != "" {
			_ = os.Rename(backup, finalDir)
		}
		return skerr.Wrap(skerr.CodeInternal, err, "commit install")
	}
	if backup != "" {
		_ = os.RemoveAll(backup)
	}
	return nil
}

// Uninstall removes an installed skill and its registry record.
func (s *Service) Uninstall(_ context.Context, id string) error {
	regPath := config.RegistryPath(s.Home)
	reg, err := registry.Load(regPath)
	if err != nil {
		return err
	}
	rec, ok := registry.Find(reg, id)
	if !ok {
		return skerr.New(skerr.CodeNotFound, "skill %s is not installed", id)
	}
	if rec.InstallPath != "" {
		if err := os.RemoveAll(rec.InstallPath); err != nil {
			return skerr.Wrap(skerr.CodeInternal, err, "remove %s", rec.InstallPath)
		}
	}
	registry.Remove(&reg, id)
	if err := registry.Save(regPath, reg); err != nil {
		return err
	}
	_ = s.Prov.Append(provenance.Entry{Action: "uninstall", SkillID: id, Version: rec.Version})
	_ = s.Audit.Record(provenance.AuditEvent{Operation: "uninstall", Phase: "commit", Status: "ok", SkillID: id})
	return nil
}

func (s *Service) logFailure(op string, err error) {
	_ = s.Audit.Record(provenance.AuditEvent{
		Operation: op,
		Phase:     "verify",
		Status:    "error",
		Code:      string(skerr.CodeOf(err)),
		Message:   err.Error(),
	})
}

// writeTrace drops the optional per-execution trace file.
func (s *Service) writeTrace(m *manifest.Manifest, v *verified) {
	dir := config.TracesDir(s.Home)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	name := fmt.Sprintf("%d_%s_%s.json", time.Now().Unix(), safeEntryName(m.ID), m.Version)
	blob, err := json.MarshalIndent(v.result(), "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(dir, name), blob, 0o644)
}

func safeEntryName(v string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "@", "_", " ", "-")
	out := r.Replace(v)
	if out == "" {
		return "unknown"
	}
	return out
}
