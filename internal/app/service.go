// Package app wires the core subsystems into one service the CLI calls.
// The service owns path resolution, config, policy, and the shared
// loggers; commands stay thin.
package app

import (
	"context"
	"os"
	"path/filepath"

	"github.com/skillport-dev/skillport/internal/archive"
	"github.com/skillport-dev/skillport/internal/config"
	"github.com/skillport-dev/skillport/internal/convert"
	"github.com/skillport-dev/skillport/internal/envprobe"
	"github.com/skillport-dev/skillport/internal/installer"
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

type Options struct {
	Home        string // override for tests; default from env
	ProjectRoot string
}

type Service struct {
	Home        string
	ProjectRoot string
	Env         config.Env
	Config      config.Config
	Policy      policy.Policy

	Scanner   *scanner.Engine
	Market    *market.Client
	Installer *installer.Service
	Audit     *provenance.AuditLog
	Prov      *provenance.Log
}

func New(opts Options) (*Service, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}
	home := opts.Home
	if home == "" {
		home = config.HomeDir(env)
	}
	if err := config.EnsureLayout(home); err != nil {
		return nil, skerr.Wrap(skerr.CodeInternal, err, "create state layout")
	}
	cfg, err := config.Ensure(home, config.ConfigPath(home))
	if err != nil {
		return nil, err
	}
	cfg = config.Resolve(cfg, env)

	projectRoot := opts.ProjectRoot
	if projectRoot == "" {
		projectRoot, _ = os.Getwd()
	}

	svc := &Service{
		Home:        home,
		ProjectRoot: projectRoot,
		Env:         env,
		Config:      cfg,
		Policy:      policy.Load(projectRoot, home),
		Scanner:     scanner.New(),
		Market:      market.New(cfg.MarketplaceURL, cfg.AuthToken),
		Audit:       provenance.NewAudit(config.AuditPath(home)),
		Prov:        provenance.NewLog(config.ProvenancePath(home)),
	}
	svc.Installer = &installer.Service{
		Home:    home,
		Env:     env,
		Policy:  svc.Policy,
		Scanner: svc.Scanner,
		Market:  svc.Market,
		Audit:   svc.Audit,
		Prov:    svc.Prov,
	}
	return svc, nil
}

// --- keys ---

type KeyInfo struct {
	KeyID     string `json:"keyId"`
	PublicPEM string `json:"publicPem"`
	Path      string `json:"path"`
}

// KeysGenerate creates the default signing keypair. It refuses to
// overwrite an existing key unless force is set.
func (s *Service) KeysGenerate(force bool) (*KeyInfo, error) {
	privPath := config.PrivateKeyPath(s.Home)
	if _, err := os.Stat(privPath); err == nil && !force {
		return nil, skerr.New(skerr.CodeInputInvalid, "signing key already exists at %s", privPath).
			WithHints("pass --force to replace it; existing signatures stay valid")
	}
	pubPEM, privPEM, keyID, err := sspcrypto.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	if err := sspcrypto.SaveKeypair(config.KeysDir(s.Home), pubPEM, privPEM); err != nil {
		return nil, skerr.Wrap(skerr.CodeInternal, err, "save keypair")
	}
	s.Config.DefaultKeyID = keyID
	if err := config.Save(s.Home, config.ConfigPath(s.Home), s.Config); err != nil {
		return nil, err
	}
	_ = s.Prov.Append(provenance.Entry{Action: "keys_generate", Extra: map[string]any{"key_id": keyID}})
	return &KeyInfo{KeyID: keyID, PublicPEM: string(pubPEM), Path: config.PublicKeyPath(s.Home)}, nil
}

// KeysShow returns the default public key.
func (s *Service) KeysShow() (*KeyInfo, error) {
	pubPEM, err := os.ReadFile(config.PublicKeyPath(s.Home))
	if err != nil {
		return nil, skerr.Wrap(skerr.CodeKeyMissing, err, "no default key").
			WithHints("run `skillport keys generate` first")
	}
	return &KeyInfo{
		KeyID:     sspcrypto.KeyID(pubPEM),
		PublicPEM: string(pubPEM),
		Path:      config.PublicKeyPath(s.Home),
	}, nil
}

// KeysTrust registers a PEM public key as a trusted author key; installs
// verify signatures whose signing_key_id names a trusted key.
func (s *Service) KeysTrust(pemPath string) (*KeyInfo, error) {
	pubPEM, err := os.ReadFile(pemPath)
	if err != nil {
		return nil, skerr.Wrap(skerr.CodeFileNotFound, err, "read public key")
	}
	if _, err := sspcrypto.ParsePublicKey(pubPEM); err != nil {
		return nil, err
	}
	keyID := sspcrypto.KeyID(pubPEM)
	dst := config.TrustedKeyPath(s.Home, keyID)
	if err := os.WriteFile(dst, pubPEM, 0o644); err != nil {
		return nil, skerr.Wrap(skerr.CodeInternal, err, "store trusted key")
	}
	_ = s.Prov.Append(provenance.Entry{Action: "keys_trust", Extra: map[string]any{"key_id": keyID}})
	return &KeyInfo{KeyID: keyID, PublicPEM: string(pubPEM), Path: dst}, nil
}

// KeysRegister uploads the default public key to the marketplace.
func (s *Service) KeysRegister(ctx context.Context, label string) (*KeyInfo, error) {
	info, err := s.KeysShow()
	if err != nil {
		return nil, err
	}
	if err := s.Market.RegisterKey(ctx, []byte(info.PublicPEM), label); err != nil {
		return nil, err
	}
	_ = s.Prov.Append(provenance.Entry{Action: "keys_register", Extra: map[string]any{"key_id": info.KeyID, "label": label}})
	return info, nil
}

// --- scan ---

// ScanPath scans a skill directory or an .ssp archive.
func (s *Service) ScanPath(path string) (scanner.Report, error) {
	info, err := os.Stat(path)
	if err != nil {
		return scanner.Report{}, skerr.Wrap(skerr.CodeFileNotFound, err, "scan target")
	}
	var files map[string][]byte
	if info.IsDir() {
		res, err := convert.Dir(path, "", "")
		if err != nil {
			return scanner.Report{}, err
		}
		files = res.Files
	} else {
		if info.Size() > market.MaxDownloadBytes {
			return scanner.Report{}, skerr.New(skerr.CodeInputInvalid, "archive exceeds %d bytes", int64(market.MaxDownloadBytes))
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return scanner.Report{}, skerr.Wrap(skerr.CodeInputInvalid, err, "read archive")
		}
		ex, err := archive.Extract(data)
		if err != nil {
			return scanner.Report{}, err
		}
		files = ex.LogicalFiles()
	}
	report := s.Scanner.Scan(files)
	_ = s.Prov.Append(provenance.Entry{Action: "scan", Extra: map[string]any{
		"target": path, "risk_score": report.RiskScore, "passed": report.Passed,
	}})
	return report, nil
}

// --- export / publish ---

type ExportResult struct {
	Output    string `json:"output"`
	SkillID   string `json:"skillId"`
	Version   string `json:"version"`
	KeyID     string `json:"keyId"`
	RiskScore int    `json:"riskScore"`
}

// Export converts a skill directory, scans it, signs it with the default
// key, and writes the .ssp archive. A failed scan blocks export.
func (s *Service) Export(dir, out string, authorName string) (*ExportResult, error) {
	privPEM, err := os.ReadFile(config.PrivateKeyPath(s.Home))
	if err != nil {
		return nil, skerr.Wrap(skerr.CodeKeyMissing, err, "no signing key").
			WithHints("run `skillport keys generate` first")
	}
	pubPEM, err := os.ReadFile(config.PublicKeyPath(s.Home))
	if err != nil {
		return nil, skerr.Wrap(skerr.CodeKeyMissing, err, "no public key")
	}
	keyID := sspcrypto.KeyID(pubPEM)

	res, err := convert.Dir(dir, authorName, keyID)
	if err != nil {
		return nil, err
	}
	report := s.Scanner.Scan(res.Files)
	if !report.Passed {
		return nil, skerr.New(skerr.CodeScanFailed,
			"security scan failed with risk score %d; fix the findings before exporting", report.RiskScore)
	}

	doc, err := manifest.CanonicalBytes(res.Manifest)
	if err != nil {
		return nil, err
	}
	if _, violations, err := manifest.Validate(doc); err != nil {
		return nil, err
	} else if len(violations) > 0 {
		return nil, manifest.InvalidError(violations)
	}

	data, err := archive.Create(res.Manifest, res.Files, privPEM)
	if err != nil {
		return nil, err
	}
	if out == "" {
		out = convert.Slug(res.Manifest.Name) + "-" + res.Manifest.Version + ".ssp"
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return nil, skerr.Wrap(skerr.CodeInternal, err, "write archive")
	}
	_ = s.Prov.Append(provenance.Entry{Action: "export", SkillID: res.Manifest.ID, Version: res.Manifest.Version,
		Extra: map[string]any{"output": out, "risk_score": report.RiskScore}})
	_ = s.Audit.Record(provenance.AuditEvent{Operation: "export", Phase: "commit", Status: "ok", SkillID: res.Manifest.ID})
	return &ExportResult{
		Output:    out,
		SkillID:   res.Manifest.ID,
		Version:   res.Manifest.Version,
		KeyID:     keyID,
		RiskScore: report.RiskScore,
	}, nil
}

// Publish verifies and uploads a signed archive to the marketplace.
func (s *Service) Publish(ctx context.Context, sspPath string) (*archive.VerifyResult, error) {
	data, err := os.ReadFile(sspPath)
	if err != nil {
		return nil, skerr.Wrap(skerr.CodeFileNotFound, err, "read archive")
	}
	ex, vr, err := archive.VerifyArchive(data, nil)
	if err != nil {
		return nil, err
	}
	if !vr.AuthorSigPresent {
		return nil, skerr.New(skerr.CodeSignatureMissing, "archive has no author signature")
	}
	if !vr.ChecksumsValid {
		return nil, skerr.New(skerr.CodeChecksumMismatch, "archive checksums do not match")
	}
	report := s.Scanner.Scan(ex.LogicalFiles())
	if !report.Passed {
		return nil, skerr.New(skerr.CodeScanFailed, "security scan failed with risk score %d", report.RiskScore)
	}
	if err := s.Market.Upload(ctx, ex.Manifest.ID, data); err != nil {
		return nil, err
	}
	_ = s.Prov.Append(provenance.Entry{Action: "publish", SkillID: ex.Manifest.ID, Version: ex.Manifest.Version})
	_ = s.Audit.Record(provenance.AuditEvent{Operation: "publish", Phase: "commit", Status: "ok", SkillID: ex.Manifest.ID})
	return vr, nil
}

// --- verify / inspect / plan ---

// Verify checks an archive's integrity, optionally against a PEM key.
func (s *Service) Verify(sspPath, pubKeyPath string) (*archive.VerifyResult, error) {
	data, err := os.ReadFile(sspPath)
	if err != nil {
		return nil, skerr.Wrap(skerr.CodeFileNotFound, err, "read archive")
	}
	var pubPEM []byte
	if pubKeyPath != "" {
		pubPEM, err = os.ReadFile(pubKeyPath)
		if err != nil {
			return nil, skerr.Wrap(skerr.CodeFileNotFound, err, "read public key")
		}
	} else if trusted, err := os.ReadFile(s.trustedKeyFor(data)); err == nil {
		pubPEM = trusted
	}
	_, vr, err := archive.VerifyArchive(data, pubPEM)
	if err != nil {
		return nil, err
	}
	_ = s.Prov.Append(provenance.Entry{Action: "verify", SkillID: vr.ID, Version: vr.Version,
		Extra: map[string]any{"checksums_valid": vr.ChecksumsValid, "signature_checked": vr.SignatureChecked}})
	return vr, nil
}

func (s *Service) trustedKeyFor(data []byte) string {
	ex, err := archive.Extract(data)
	if err != nil {
		return ""
	}
	return config.TrustedKeyPath(s.Home, ex.Manifest.Author.SigningKeyID)
}

// Inspection is the full picture of an archive, without installing it.
type Inspection struct {
	Manifest    *manifest.Manifest     `json:"manifest"`
	Verify      *archive.VerifyResult  `json:"verify"`
	Scan        scanner.Report         `json:"scan"`
	Permissions permissions.Assessment `json:"permissions"`
	SkillMD     string                 `json:"skillMd,omitempty"`
}

// Inspect extracts, verifies, scans, and assesses an archive.
func (s *Service) Inspect(sspPath string) (*Inspection, error) {
	data, err := os.ReadFile(sspPath)
	if err != nil {
		return nil, skerr.Wrap(skerr.CodeFileNotFound, err, "read archive")
	}
	ex, vr, err := archive.VerifyArchive(data, nil)
	if err != nil {
		return nil, err
	}
	return &Inspection{
		Manifest:    ex.Manifest,
		Verify:      vr,
		Scan:        s.Scanner.Scan(ex.LogicalFiles()),
		Permissions: permissions.Assess(ex.Manifest.Permissions),
		SkillMD:     ex.SkillMD,
	}, nil
}

// Plan previews what an install would decide: environment, permissions,
// and the policy verdict, with no writes.
type Plan struct {
	SkillID     string                 `json:"skillId"`
	Version     string                 `json:"version"`
	RiskScore   int                    `json:"riskScore"`
	Permissions permissions.Assessment `json:"permissions"`
	Environment envprobe.Report        `json:"environment"`
	Policy      policy.Decision        `json:"policy"`
	InstallPath string                 `json:"installPath"`
}

func (s *Service) PlanInstall(ctx context.Context, ref string, nonInteractive bool) (*Plan, error) {
	// The dry run itself stays interactive-shaped so the plan can report a
	// would-be policy denial instead of failing on it.
	res, err := s.Installer.DryRun(ctx, ref, installer.Options{AcceptRisk: true, Force: true})
	if err != nil {
		return nil, err
	}
	decision := s.Policy.Check("install", policy.Context{
		NonInteractive:      nonInteractive,
		RiskScore:           res.RiskScore,
		HasPlatformSig:      res.HasPlatformSig,
		SessionInstallCount: provenance.InstallCount(),
	})
	return &Plan{
		SkillID:     res.SkillID,
		Version:     res.Version,
		RiskScore:   res.RiskScore,
		Permissions: res.Permissions,
		Environment: res.Environment,
		Policy:      decision,
		InstallPath: res.InstallPath,
	}, nil
}

// --- init ---

type InitResult struct {
	Dir     string `json:"dir"`
	KeyID   string `json:"keyId"`
	Created bool   `json:"created"`
}

// Init scaffolds a new skill directory with a SKILL.md and descriptor,
// generating the default keypair when none exists.
func (s *Service) Init(dir, name, authorName string) (*InitResult, error) {
	if name == "" {
		name = filepath.Base(dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, skerr.Wrap(skerr.CodeInternal, err, "create skill dir")
	}
	skillMD := filepath.Join(dir, "SKILL.md")
	if _, err := os.Stat(skillMD); err == nil {
		return nil, skerr.New(skerr.CodeInputInvalid, "%s already has a SKILL.md", dir)
	}

	var keyID string
	if info, err := s.KeysShow(); err == nil {
		keyID = info.KeyID
	} else {
		gen, err := s.KeysGenerate(false)
		if err != nil {
			return nil, err
		}
		keyID = gen.KeyID
	}

	md := "---\nname: " + convert.Slug(name) + "\ndescription: Describe what this skill does.\nversion: 0.1.0\n---\n\n# " + name + "\n\nInstructions go here.\n"
	if err := os.WriteFile(skillMD, []byte(md), 0o644); err != nil {
		return nil, skerr.Wrap(skerr.CodeInternal, err, "write SKILL.md")
	}
	desc := "id = \"" + convert.Slug(authorName) + "/" + convert.Slug(name) + "\"\nversion = \"0.1.0\"\nplatform = \"openclaw\"\n\n[network]\nmode = \"none\"\n"
	if err := os.WriteFile(filepath.Join(dir, "skill.toml"), []byte(desc), 0o644); err != nil {
		return nil, skerr.Wrap(skerr.CodeInternal, err, "write skill.toml")
	}
	return &InitResult{Dir: dir, KeyID: keyID, Created: true}, nil
}

// Convert reports the manifest a directory would produce, without
// archiving it.
func (s *Service) Convert(dir, authorName string) (*manifest.Manifest, error) {
	keyID := "0000000000000000"
	if info, err := s.KeysShow(); err == nil {
		keyID = info.KeyID
	}
	res, err := convert.Dir(dir, authorName, keyID)
	if err != nil {
		return nil, err
	}
	return res.Manifest, nil
}

// --- listing ---

// Installed returns the registry records.
func (s *Service) Installed() ([]registry.Record, error) {
	reg, err := registry.Load(config.RegistryPath(s.Home))
	if err != nil {
		return nil, err
	}
	return reg.Skills, nil
}
