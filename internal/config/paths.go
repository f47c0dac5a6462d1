package config

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"

	"github.com/skillport-dev/skillport/internal/manifest"
)

// HomeDir resolves the SkillPort state directory: $SKILLPORT_HOME when
// set, otherwise ~/.skillport.
func HomeDir(env Env) string {
	if env.Home != "" {
		return env.Home
	}
	return filepath.Join(xdg.Home, ".skillport")
}

func ConfigPath(home string) string { return filepath.Join(home, "config.json") }

func KeysDir(home string) string { return filepath.Join(home, "keys") }

func TrustedKeysDir(home string) string { return filepath.Join(home, "keys", "trusted") }

func TrustedKeyPath(home, keyID string) string {
	return filepath.Join(TrustedKeysDir(home), keyID+".pub")
}

func PublicKeyPath(home string) string { return filepath.Join(KeysDir(home), "default.pub") }

func PrivateKeyPath(home string) string { return filepath.Join(KeysDir(home), "default.key") }

func RegistryPath(home string) string {
	return filepath.Join(home, "installed", "registry.json")
}

func InstalledRoot(home string) string { return filepath.Join(home, "installed") }

func AuditPath(home string) string { return filepath.Join(home, "audit", "audit.log") }

func ProvenancePath(home string) string { return filepath.Join(home, "provenance.jsonl") }

func TracesDir(home string) string { return filepath.Join(home, "traces") }

// EnsureLayout creates the state directory tree.
func EnsureLayout(home string) error {
	dirs := []string{
		home,
		KeysDir(home),
		TrustedKeysDir(home),
		InstalledRoot(home),
		filepath.Join(home, "audit"),
		TracesDir(home),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// InstallRoot resolves where a skill's files land, by target platform.
// The openclaw and claude-code roots can be overridden by environment;
// universal skills live under the SkillPort home.
func InstallRoot(home string, env Env, platform string) string {
	switch platform {
	case manifest.PlatformOpenClaw:
		if env.OpenClawSkills != "" {
			return env.OpenClawSkills
		}
		return filepath.Join(xdg.Home, ".openclaw", "skills")
	case manifest.PlatformClaudeCode:
		if env.ClaudeSkills != "" {
			return env.ClaudeSkills
		}
		return filepath.Join(xdg.Home, ".claude", "skills")
	default:
		return filepath.Join(InstalledRoot(home), "skills")
	}
}
