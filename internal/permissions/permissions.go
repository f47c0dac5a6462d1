// Package permissions derives a 5-level risk classification from a
// manifest's permission block: one level per category plus the pointwise
// maximum overall.
package permissions

import (
	"strings"

	"github.com/skillport-dev/skillport/internal/manifest"
)

// Level is the risk classification, totally ordered.
type Level int

const (
	LevelSafe Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelSafe:
		return "safe"
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// Assessment carries the per-category levels and their maximum.
type Assessment struct {
	Network      Level `json:"network"`
	Filesystem   Level `json:"filesystem"`
	Exec         Level `json:"exec"`
	Integrations Level `json:"integrations"`
	Overall      Level `json:"overall"`
}

// sensitiveWriteRoots are write targets that escalate filesystem risk to
// critical: the filesystem root, the home directory, and system trees.
var sensitiveWriteRoots = []string{"/", "~", "/etc", "/usr"}

// Assess classifies a permission block.
func Assess(p manifest.Permissions) Assessment {
	a := Assessment{
		Network:      assessNetwork(p.Network),
		Filesystem:   assessFilesystem(p.Filesystem),
		Exec:         assessExec(p.Exec),
		Integrations: assessIntegrations(p.Integrations),
	}
	a.Overall = maxLevel(a.Network, a.Filesystem, a.Exec, a.Integrations)
	return a
}

func assessNetwork(n manifest.NetworkPermission) Level {
	if n.Mode == "none" {
		return LevelSafe
	}
	if len(n.Domains) <= 2 {
		return LevelLow
	}
	return LevelMedium
}

func assessFilesystem(fs manifest.FilesystemPermission) Level {
	for _, p := range fs.WritePaths {
		if sensitiveWritePath(p) {
			return LevelCritical
		}
	}
	if len(fs.WritePaths) > 0 {
		return LevelMedium
	}
	if len(fs.ReadPaths) > 0 {
		return LevelLow
	}
	return LevelSafe
}

func sensitiveWritePath(p string) bool {
	clean := strings.TrimSpace(p)
	for _, root := range sensitiveWriteRoots {
		if clean == root || strings.HasPrefix(clean, root+"/") {
			return true
		}
	}
	return strings.HasPrefix(clean, "~/") || clean == "~"
}

func assessExec(e manifest.ExecPermission) Level {
	if e.Shell {
		return LevelHigh
	}
	switch {
	case len(e.AllowedCommands) == 0:
		return LevelSafe
	case len(e.AllowedCommands) <= 3:
		return LevelMedium
	default:
		return LevelHigh
	}
}

func assessIntegrations(in map[string]string) Level {
	if len(in) == 0 {
		return LevelSafe
	}
	level := LevelLow
	for _, access := range in {
		switch access {
		case manifest.IntegrationSend, manifest.IntegrationWrite:
			return LevelHigh
		case manifest.IntegrationRead:
			level = LevelMedium
		}
	}
	return level
}

func maxLevel(levels ...Level) Level {
	max := LevelSafe
	for _, l := range levels {
		if l > max {
			max = l
		}
	}
	return max
}
