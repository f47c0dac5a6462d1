// Package envprobe checks a manifest's host requirements: OS membership,
// binary dependencies on the search path, and required environment
// variables.
package envprobe

import (
	"os"
	"os/exec"
	"runtime"

	"github.com/skillport-dev/skillport/internal/manifest"
)

// Check statuses.
const (
	StatusOK      = "ok"
	StatusWarn    = "warn"
	StatusMissing = "missing"
)

// Check is one probed requirement.
type Check struct {
	Kind    string `json:"kind"` // os, binary, env_var
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Report aggregates all checks. Ready holds iff the OS is compatible, no
// non-optional binary is missing, and no required env var is missing.
type Report struct {
	OS     string  `json:"os"`
	Ready  bool    `json:"ready"`
	Checks []Check `json:"checks"`
}

// DetectOS normalizes the host OS identifier to macos, linux, or windows.
func DetectOS() string {
	switch runtime.GOOS {
	case "darwin":
		return "macos"
	case "windows":
		return "windows"
	default:
		return "linux"
	}
}

// BinaryExists resolves name on the OS search path; false on any error.
func BinaryExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// EnvVarExists reports a non-empty environment lookup.
func EnvVarExists(name string) bool {
	return os.Getenv(name) != ""
}

// CheckEnvironment probes every requirement the manifest declares.
func CheckEnvironment(m *manifest.Manifest) Report {
	report := Report{OS: DetectOS(), Ready: true}

	osOK := false
	for _, candidate := range m.OSCompat {
		if candidate == report.OS {
			osOK = true
			break
		}
	}
	check := Check{Kind: "os", Name: report.OS, Status: StatusOK}
	if !osOK {
		check.Status = StatusMissing
		check.Message = "host OS not listed in os_compat"
		report.Ready = false
	}
	report.Checks = append(report.Checks, check)

	for _, bin := range m.Dependencies.Binaries {
		c := Check{Kind: "binary", Name: bin.Name, Status: StatusOK}
		if !BinaryExists(bin.Name) {
			if bin.Optional {
				c.Status = StatusWarn
				c.Message = "optional binary not found on PATH"
			} else {
				c.Status = StatusMissing
				c.Message = "required binary not found on PATH"
				report.Ready = false
			}
		}
		report.Checks = append(report.Checks, c)
	}

	for _, ev := range m.Dependencies.EnvVars {
		c := Check{Kind: "env_var", Name: ev.Name, Status: StatusOK}
		if !EnvVarExists(ev.Name) {
			if ev.Optional {
				c.Status = StatusWarn
				c.Message = "optional environment variable not set"
			} else {
				c.Status = StatusMissing
				c.Message = "required environment variable not set"
				report.Ready = false
			}
		}
		report.Checks = append(report.Checks, c)
	}
	return report
}
