// Package policy loads the declarative .skillportrc policy and evaluates
// it per action. Policy loading never fails: a missing or malformed file
// falls through to built-in defaults.
package policy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"

	"github.com/adrg/xdg"
)

// FileName is the policy file looked up in project and user scope.
const FileName = ".skillportrc"

// Policy is the top-level policy object of a .skillportrc document.
type Policy struct {
	AllowedHosts      []string    `json:"allowed_hosts"`
	WorkspaceBoundary bool        `json:"workspace_boundary"`
	RequiresApproval  []string    `json:"requires_approval"`
	AutoInstall       AutoInstall `json:"auto_install"`
}

// AutoInstall limits what non-interactive installs may do.
type AutoInstall struct {
	MaxRiskScore       int  `json:"max_risk_score"`
	RequirePlatformSig bool `json:"require_platform_sig"`
	MaxPerSession      int  `json:"max_per_session"`
}

// Context carries the evaluation inputs for one action.
type Context struct {
	NonInteractive      bool
	RiskScore           int
	HasPlatformSig      bool
	SessionInstallCount int
}

// Decision is the result of a policy check. Hints name the .skillportrc
// knob that would unblock a denial.
type Decision struct {
	Allowed bool     `json:"allowed"`
	Reason  string   `json:"reason,omitempty"`
	Hints   []string `json:"hints,omitempty"`
}

// Default returns the built-in policy.
func Default() Policy {
	return Policy{
		AllowedHosts:      []string{},
		WorkspaceBoundary: true,
		RequiresApproval:  []string{},
		AutoInstall: AutoInstall{
			MaxRiskScore:       30,
			RequirePlatformSig: false,
			MaxPerSession:      5,
		},
	}
}

// Load returns the first valid .skillportrc found in projectRoot, then
// userDir, then the XDG config tree; otherwise the defaults. Malformed
// files are treated as absent.
func Load(projectRoot, userDir string) Policy {
	candidates := []string{}
	if projectRoot != "" {
		candidates = append(candidates, filepath.Join(projectRoot, FileName))
	}
	if userDir != "" {
		candidates = append(candidates, filepath.Join(userDir, FileName))
	}
	candidates = append(candidates, filepath.Join(xdg.ConfigHome, "skillport", FileName))

	for _, path := range candidates {
		if p, ok := loadFile(path); ok {
			return p
		}
	}
	return Default()
}

// loadFile parses one candidate policy file. Fields the document omits
// keep their default values; a file without a policy object is invalid.
func loadFile(path string) (Policy, bool) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(blob, &probe); err != nil {
		return Policy{}, false
	}
	raw, ok := probe["policy"]
	if !ok {
		return Policy{}, false
	}
	p := Default()
	if err := json.Unmarshal(raw, &p); err != nil {
		return Policy{}, false
	}
	if p.AllowedHosts == nil {
		p.AllowedHosts = []string{}
	}
	return p, true
}

// Check evaluates one action against the policy. Actions listed in
// requires_approval fail closed in non-interactive mode.
func (p Policy) Check(action string, ctx Context) Decision {
	if ctx.NonInteractive && slices.Contains(p.RequiresApproval, action) {
		return Decision{
			Reason: "action " + action + " requires interactive approval",
			Hints:  []string{"remove " + action + " from policy.requires_approval to allow it non-interactively"},
		}
	}
	if action == "install" && ctx.NonInteractive {
		if ctx.RiskScore > p.AutoInstall.MaxRiskScore {
			return Decision{
				Reason: "risk score exceeds auto_install.max_risk_score limit",
				Hints:  []string{"raise policy.auto_install.max_risk_score above the reported risk score"},
			}
		}
		if p.AutoInstall.RequirePlatformSig && !ctx.HasPlatformSig {
			return Decision{
				Reason: "archive has no platform signature",
				Hints:  []string{"set policy.auto_install.require_platform_sig to false, or install a platform-signed archive"},
			}
		}
		if ctx.SessionInstallCount >= p.AutoInstall.MaxPerSession {
			return Decision{
				Reason: "session auto-install limit reached",
				Hints:  []string{"raise policy.auto_install.max_per_session or start a new session"},
			}
		}
	}
	return Decision{Allowed: true}
}

// IsHostAllowed reports host membership; an empty allowlist allows all.
func (p Policy) IsHostAllowed(host string) bool {
	if len(p.AllowedHosts) == 0 {
		return true
	}
	return slices.Contains(p.AllowedHosts, host)
}
