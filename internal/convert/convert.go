// Package convert turns a plain skill directory -- a Claude-style folder
// with a SKILL.md and optional scripts -- into a validated manifest plus
// file map ready for archive creation. Authoring metadata comes from the
// SKILL.md YAML frontmatter and, when present, a skill.toml or legacy
// metadata.toml descriptor.
package convert

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/skillport-dev/skillport/internal/manifest"
	"github.com/skillport-dev/skillport/internal/skerr"
)

const maxSourceFileBytes = 10 << 20 // matches the scan-path archive cap

// frontmatter is the YAML block at the top of SKILL.md.
type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
}

// descriptor is the optional TOML sidecar with fields frontmatter cannot
// carry. skill.toml is the authored name; metadata.toml is the name older
// skill managers wrote next to installed skills.
type descriptor struct {
	ID           string   `toml:"id"`
	Version      string   `toml:"version"`
	Platform     string   `toml:"platform"`
	DeclaredRisk string   `toml:"declared_risk"`
	OSCompat     []string `toml:"os_compat"`
	Entrypoints  []string `toml:"entrypoints"`
	Author       struct {
		Name  string `toml:"name"`
		Email string `toml:"email"`
	} `toml:"author"`
	Network struct {
		Mode    string   `toml:"mode"`
		Domains []string `toml:"domains"`
	} `toml:"network"`
	Exec struct {
		AllowedCommands []string `toml:"allowed_commands"`
		Shell           bool     `toml:"shell"`
	} `toml:"exec"`
}

var slugPattern = regexp.MustCompile(`[^a-z0-9_-]+`)

// Result is the converted skill ready for archive.Create.
type Result struct {
	Manifest *manifest.Manifest
	Files    map[string][]byte
	SkillMD  string
}

// Dir converts a skill directory. authorName and signingKeyID fill the
// manifest fields the directory cannot know; they come from the local key
// store. The returned manifest has not been through Validate yet -- the
// caller decides whether violations are fatal.
func Dir(root, authorName, signingKeyID string) (*Result, error) {
	files, err := readTree(root)
	if err != nil {
		return nil, err
	}
	skillMD, ok := files["SKILL.md"]
	if !ok {
		return nil, skerr.New(skerr.CodeInputInvalid, "%s has no SKILL.md", root)
	}

	fm, _ := parseFrontmatter(string(skillMD))
	var desc descriptor
	for _, name := range []string{"skill.toml", "metadata.toml"} {
		if blob, ok := files[name]; ok {
			if err := toml.Unmarshal(blob, &desc); err != nil {
				return nil, skerr.Wrap(skerr.CodeInputInvalid, err, "parse %s", name)
			}
			delete(files, name)
			break
		}
	}

	m := buildManifest(root, fm, desc, authorName, signingKeyID, files)
	return &Result{Manifest: m, Files: files, SkillMD: string(skillMD)}, nil
}

func buildManifest(root string, fm frontmatter, desc descriptor, authorName, keyID string, files map[string][]byte) *manifest.Manifest {
	name := fm.Name
	if name == "" {
		name = filepath.Base(root)
	}
	id := desc.ID
	if id == "" {
		id = Slug(authorName) + "/" + Slug(name)
	}
	version := firstNonEmpty(desc.Version, fm.Version, "0.1.0")
	osCompat := desc.OSCompat
	if len(osCompat) == 0 {
		osCompat = []string{"macos", "linux", "windows"}
	}
	entrypoints := desc.Entrypoints
	if len(entrypoints) == 0 {
		entrypoints = []string{"SKILL.md"}
	}
	networkMode := desc.Network.Mode
	if networkMode == "" {
		networkMode = "none"
	}
	if authorName == "" {
		authorName = "unknown"
	}

	m := &manifest.Manifest{
		SSPVersion:  manifest.SSPVersion,
		ID:          id,
		Name:        name,
		Description: fm.Description,
		Version:     version,
		Author: manifest.Author{
			Name:         authorName,
			Email:        desc.Author.Email,
			SigningKeyID: keyID,
		},
		OSCompat:     osCompat,
		Platform:     desc.Platform,
		DeclaredRisk: desc.DeclaredRisk,
		Entrypoints:  entrypoints,
		Permissions: manifest.Permissions{
			Network: manifest.NetworkPermission{Mode: networkMode, Domains: desc.Network.Domains},
			Exec: manifest.ExecPermission{
				AllowedCommands: desc.Exec.AllowedCommands,
				Shell:           desc.Exec.Shell,
			},
		},
	}
	manifest.ApplyDefaults(m)
	return m
}

// Slug lowercases and strips a string down to the id alphabet.
func Slug(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.ReplaceAll(v, " ", "-")
	v = slugPattern.ReplaceAllString(v, "")
	if v == "" {
		return "skill"
	}
	return v
}

// parseFrontmatter extracts the leading YAML block from SKILL.md.
func parseFrontmatter(content string) (frontmatter, bool) {
	var fm frontmatter
	if !strings.HasPrefix(content, "---\n") {
		return fm, false
	}
	end := strings.Index(content[4:], "\n---")
	if end < 0 {
		return fm, false
	}
	if err := yaml.Unmarshal([]byte(content[4:4+end]), &fm); err != nil {
		return frontmatter{}, false
	}
	return fm, true
}

func readTree(root string) (map[string][]byte, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, skerr.Wrap(skerr.CodeFileNotFound, err, "skill directory")
	}
	if !info.IsDir() {
		return nil, skerr.New(skerr.CodeInputInvalid, "%s is not a directory", root)
	}
	files := map[string][]byte{}
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			return skerr.New(skerr.CodeInputInvalid, "symlink not allowed in skill source: %s", path)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(filepath.Base(rel), ".") {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if fi.Size() > maxSourceFileBytes {
			return skerr.New(skerr.CodeInputInvalid, "file %s exceeds %d bytes", rel, int64(maxSourceFileBytes))
		}
		blob, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[rel] = blob
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, skerr.New(skerr.CodeInputInvalid, "%s contains no files", root)
	}
	return files, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
