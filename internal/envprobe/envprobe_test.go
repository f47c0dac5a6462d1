package envprobe

import (
	"testing"

	"github.com/skillport-dev/skillport/internal/manifest"
)

func TestDetectOS(t *testing.T) {
	got := DetectOS()
	switch got {
	case "macos", "linux", "windows":
	default:
		t.Fatalf("DetectOS returned %q", got)
	}
}

func TestBinaryExists(t *testing.T) {
	if BinaryExists("skillport-definitely-missing-binary") {
		t.Fatal("nonexistent binary reported present")
	}
}

func TestEnvVarExists(t *testing.T) {
	t.Setenv("SKILLPORT_PROBE_TEST", "1")
	if !EnvVarExists("SKILLPORT_PROBE_TEST") {
		t.Fatal("set variable reported missing")
	}
	t.Setenv("SKILLPORT_PROBE_TEST", "")
	if EnvVarExists("SKILLPORT_PROBE_TEST") {
		t.Fatal("empty variable reported present")
	}
}

func TestCheckEnvironmentReady(t *testing.T) {
	t.Setenv("SKILLPORT_PROBE_TOKEN", "x")
	m := &manifest.Manifest{
		OSCompat: []string{DetectOS()},
		Dependencies: manifest.Dependencies{
			EnvVars: []manifest.EnvVarDep{{Name: "SKILLPORT_PROBE_TOKEN"}},
		},
	}
	report := CheckEnvironment(m)
	if !report.Ready {
		t.Fatalf("expected ready, got %+v", report)
	}
}

func TestCheckEnvironmentOSIncompatible(t *testing.T) {
	other := "windows"
	if DetectOS() == "windows" {
		other = "linux"
	}
	report := CheckEnvironment(&manifest.Manifest{OSCompat: []string{other}})
	if report.Ready {
		t.Fatal("incompatible OS reported ready")
	}
	if report.Checks[0].Status != StatusMissing {
		t.Fatalf("os check = %+v", report.Checks[0])
	}
}

func TestCheckEnvironmentBinaryRules(t *testing.T) {
	m := &manifest.Manifest{
		OSCompat: []string{DetectOS()},
		Dependencies: manifest.Dependencies{
			Binaries: []manifest.BinaryDep{
				{Name: "skillport-definitely-missing-binary", Optional: true},
			},
		},
	}
	report := CheckEnvironment(m)
	if !report.Ready {
		t.Fatal("missing optional binary must only warn")
	}
	found := false
	for _, c := range report.Checks {
		if c.Kind == "binary" && c.Status == StatusWarn {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected warn check, got %+v", report.Checks)
	}

	m.Dependencies.Binaries[0].Optional = false
	report = CheckEnvironment(m)
	if report.Ready {
		t.Fatal("missing required binary must block")
	}
}
