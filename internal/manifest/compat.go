package manifest

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// CompatibleWith reports whether the given OpenClaw version satisfies the
// manifest's openclaw_compat range. An empty range matches everything.
// Range syntax: comparators separated by spaces are ANDed; each comparator
// is ^x.y.z, ~x.y.z, >=v, >v, <=v, <v, =v, or a bare version.
func (m *Manifest) CompatibleWith(version string) (bool, error) {
	if m.OpenClawCompat == "" {
		return true, nil
	}
	v := canonVersion(version)
	if !semver.IsValid(v) {
		return false, fmt.Errorf("invalid version %q", version)
	}
	for _, comp := range strings.Fields(m.OpenClawCompat) {
		ok, err := satisfies(v, comp)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func checkRangeSyntax(rng string) error {
	if strings.TrimSpace(rng) == "" {
		return fmt.Errorf("empty range")
	}
	for _, comp := range strings.Fields(rng) {
		if _, err := satisfies("v0.0.0", comp); err != nil {
			return err
		}
	}
	return nil
}

func satisfies(v, comp string) (bool, error) {
	op := ""
	rest := comp
	for _, candidate := range []string{">=", "<=", ">", "<", "=", "^", "~"} {
		if strings.HasPrefix(comp, candidate) {
			op = candidate
			rest = strings.TrimPrefix(comp, candidate)
			break
		}
	}
	base := canonVersion(rest)
	if !semver.IsValid(base) {
		return false, fmt.Errorf("invalid comparator %q", comp)
	}
	cmp := semver.Compare(v, base)
	switch op {
	case ">=":
		return cmp >= 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case "<":
		return cmp < 0, nil
	case "", "=":
		return cmp == 0, nil
	case "^":
		// Same major, at or above base.
		return cmp >= 0 && semver.Major(v) == semver.Major(base), nil
	case "~":
		// Same major.minor, at or above base.
		return cmp >= 0 && semver.MajorMinor(v) == semver.MajorMinor(base), nil
	}
	return false, fmt.Errorf("invalid comparator %q", comp)
}

func canonVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return v
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
