package scanner

import (
	"regexp"
	"strings"
)

// builtinDetectors returns the full detector set. Rule ids are stable;
// automation keys off them.
func builtinDetectors() []Detector {
	return []Detector{
		secretsDetector(),
		dangerousDetector(),
		piiDetector(),
		obfuscationDetector(),
		networkDetector(),
	}
}

// Tunable thresholds for the high-entropy secret rule. The values are
// empirically chosen; see the rule's remediation text.
const (
	entropyMinLength    = 40
	entropyMinBitsPerCh = 4.5
)

func secretsDetector() Detector {
	return Detector{
		Name: "secrets",
		Rules: []Rule{
			{
				ID: "SEC001", Category: CategorySecret, Severity: SeverityCritical,
				Pattern:     regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
				Remediation: "Remove the AWS access key and rotate it immediately",
			},
			{
				ID: "SEC002", Category: CategorySecret, Severity: SeverityCritical,
				Pattern:     regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`),
				Remediation: "Remove the GitHub token and revoke it",
			},
			{
				ID: "SEC003", Category: CategorySecret, Severity: SeverityCritical,
				Pattern:     regexp.MustCompile(`\bsk_live_[0-9a-zA-Z]{24,}\b`),
				Remediation: "Remove the Stripe live key and roll it",
			},
			{
				ID: "SEC004", Category: CategorySecret, Severity: SeverityCritical,
				Pattern:     regexp.MustCompile(`\bsk-[A-Za-z0-9]{20}T3BlbkFJ[A-Za-z0-9]{20}\b|\bsk-proj-[A-Za-z0-9_-]{40,}\b`),
				Remediation: "Remove the OpenAI API key and rotate it",
			},
			{
				ID: "SEC005", Category: CategorySecret, Severity: SeverityCritical,
				Pattern:     regexp.MustCompile(`\bxox[bap]-[0-9]{10,13}-[0-9]{10,13}-[A-Za-z0-9-]{24,}`),
				Remediation: "Remove the Slack token and revoke it",
			},
			{
				ID: "SEC006", Category: CategorySecret, Severity: SeverityCritical,
				Pattern:     regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH |ENCRYPTED )?PRIVATE KEY-----`),
				Remediation: "Never ship private key material inside a skill",
			},
			{
				ID: "SEC007", Category: CategorySecret, Severity: SeverityHigh,
				Pattern:     regexp.MustCompile(`(?i)\b(?:api[_-]?key|password|passwd|secret[_-]?key|auth[_-]?token)\s*[:=]\s*["'][^"']{8,}["']`),
				Remediation: "Load credentials from the environment instead of hardcoding them",
			},
			{
				ID: "SEC008", Category: CategorySecret, Severity: SeverityHigh,
				Pattern: regexp.MustCompile(`["'][A-Za-z0-9+/=_-]{40,}["']`),
				Filter: func(match, _ string) bool {
					inner := strings.Trim(match, `"'`)
					return len(inner) >= entropyMinLength && ShannonEntropy(inner) >= entropyMinBitsPerCh
				},
				Remediation: "High-entropy literal looks like a secret; move it out of the payload",
			},
		},
	}
}

func dangerousDetector() Detector {
	return Detector{
		Name: "dangerous",
		Rules: []Rule{
			{
				ID: "DNG001", Category: CategoryDangerous, Severity: SeverityHigh,
				Pattern:     regexp.MustCompile(`\beval\s*\(|\bexec\s*\(|new\s+Function\s*\(|\bexecfile\s*\(`),
				Remediation: "Avoid dynamic code execution in skill payloads",
			},
			{
				ID: "DNG002", Category: CategoryDangerous, Severity: SeverityCritical,
				Pattern:     regexp.MustCompile(`\b(?:curl|wget)\b[^|]*\|\s*(?:ba|z)?sh\b`),
				Remediation: "Never pipe a network fetch into a shell",
			},
			{
				ID: "DNG003", Category: CategoryDangerous, Severity: SeverityCritical,
				Pattern:     regexp.MustCompile(`rm\s+-[a-z]*r[a-z]*f[a-z]*\s+(?:/|~|\$HOME)`),
				Remediation: "Destructive filesystem command; remove it",
			},
			{
				ID: "DNG004", Category: CategoryDangerous, Severity: SeverityHigh,
				Pattern:     regexp.MustCompile(`child_process\.(?:exec|spawn|execSync|spawnSync)|subprocess\.(?:run|Popen|call|check_output)|os\.system\s*\(`),
				Remediation: "Child-process spawning must be declared in permissions.exec",
			},
			{
				ID: "DNG005", Category: CategoryDangerous, Severity: SeverityHigh,
				Pattern: regexp.MustCompile(`process\.env\b|os\.environ\b`),
				Filter: func(_, line string) bool {
					l := strings.ToLower(line)
					return strings.Contains(l, "http") || strings.Contains(l, "fetch") ||
						strings.Contains(l, "curl") || strings.Contains(l, "request")
				},
				Remediation: "Environment read combined with network use looks like exfiltration",
			},
		},
	}
}

func piiDetector() Detector {
	return Detector{
		Name: "pii",
		Rules: []Rule{
			{
				ID: "PII001", Category: CategoryPII, Severity: SeverityLow,
				Pattern:     regexp.MustCompile(`/Users/[A-Za-z0-9._-]+|/home/[A-Za-z0-9._-]+|C:\\Users\\[A-Za-z0-9._-]+`),
				Remediation: "Replace user-specific paths with portable placeholders",
			},
			{
				ID: "PII002", Category: CategoryPII, Severity: SeverityMedium,
				Pattern: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
				Filter: func(match, _ string) bool {
					domain := strings.ToLower(match[strings.LastIndex(match, "@")+1:])
					return !exampleDomain(domain)
				},
				Remediation: "Remove real email addresses from skill content",
			},
			{
				ID: "PII003", Category: CategoryPII, Severity: SeverityLow,
				Pattern:     regexp.MustCompile(`\+[0-9]{1,2}[\s.-]\(?[0-9]{3}\)?[\s.-][0-9]{3}[\s.-][0-9]{4}\b|\([0-9]{3}\)\s[0-9]{3}-[0-9]{4}\b`),
				Remediation: "Remove phone numbers from skill content",
			},
			{
				ID: "PII004", Category: CategoryPII, Severity: SeverityMedium,
				Pattern:     regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`),
				Remediation: "Remove SSN-like identifiers from skill content",
			},
			{
				ID: "PII005", Category: CategoryPII, Severity: SeverityHigh,
				Pattern: regexp.MustCompile(`\b(?:[0-9][ -]?){13,16}\b`),
				Filter: func(match, _ string) bool {
					return LuhnCheck(match)
				},
				Remediation: "Credit-card number detected; remove it",
			},
		},
	}
}

func obfuscationDetector() Detector {
	return Detector{
		Name: "obfuscation",
		Rules: []Rule{
			{
				ID: "OBF001", Category: CategoryObfuscation, Severity: SeverityMedium,
				Pattern:     regexp.MustCompile(`\batob\s*\(|\bb64decode\b|base64\s+(?:-d|--decode)\b|Buffer\.from\s*\([^)]*["']base64["']`),
				Remediation: "Base64 decoding hides payload content from review",
			},
			{
				ID: "OBF002", Category: CategoryObfuscation, Severity: SeverityMedium,
				Pattern:     regexp.MustCompile(`(?:\\x[0-9a-fA-F]{2}){10,}`),
				Remediation: "Long hex-escape runs hide payload content from review",
			},
			{
				ID: "OBF003", Category: CategoryObfuscation, Severity: SeverityMedium,
				Pattern:     regexp.MustCompile(`[A-Za-z0-9+/]{120,}={0,2}`),
				Remediation: "Long base64-looking blob; inline data belongs in payload files",
			},
			{
				ID: "OBF004", Category: CategoryObfuscation, Severity: SeverityMedium,
				Pattern:     regexp.MustCompile(`String\.fromCharCode\s*\(|\bchr\s*\(\s*[0-9]+\s*\)\s*\+`),
				Remediation: "Character-code synthesis hides strings from review",
			},
			{
				ID: "OBF005", Category: CategoryObfuscation, Severity: SeverityLow,
				Pattern:     regexp.MustCompile(`\bunescape\s*\(|decodeURIComponent\s*\(|urllib\.parse\.unquote`),
				Remediation: "URL-decoding of stored data hides content from review",
			},
		},
	}
}

func networkDetector() Detector {
	return Detector{
		Name: "network",
		Rules: []Rule{
			{
				ID: "NET001", Category: CategoryNetwork, Severity: SeverityMedium,
				Pattern: regexp.MustCompile(`https?://[A-Za-z0-9._-]+(?::[0-9]+)?(?:/[^\s"'<>]*)?`),
				Filter: func(match, _ string) bool {
					return !localhostURL(match)
				},
				Remediation: "External fetch targets must be declared in permissions.network",
			},
			{
				ID: "NET002", Category: CategoryNetwork, Severity: SeverityLow,
				Pattern:     regexp.MustCompile(`require\s*\(\s*["']https?["']\s*\)|^\s*import\s+(?:http|https|urllib|requests|httpx|aiohttp)\b|from\s+(?:urllib|requests|http\.client)\s+import`),
				Remediation: "HTTP module import implies network use; declare it",
			},
			{
				ID: "NET003", Category: CategoryNetwork, Severity: SeverityMedium,
				Pattern: regexp.MustCompile(`wss?://[A-Za-z0-9._-]+`),
				Filter: func(match, _ string) bool {
					return !localhostURL(match)
				},
				Remediation: "WebSocket targets must be declared in permissions.network",
			},
			{
				ID: "NET004", Category: CategoryNetwork, Severity: SeverityLow,
				Pattern:     regexp.MustCompile(`\b(?:axios|node-fetch|superagent|got)\b|requests\.(?:get|post|put|delete)\s*\(|http\.client\.HTTPSConnection`),
				Remediation: "HTTP client library use implies network access; declare it",
			},
		},
	}
}

var exampleDomains = map[string]bool{
	"example.com": true, "example.org": true, "example.net": true,
	"test.com": true, "localhost": true, "email.com": true,
}

func exampleDomain(domain string) bool {
	if exampleDomains[domain] {
		return true
	}
	return strings.HasSuffix(domain, ".example.com") || strings.HasSuffix(domain, ".example.org")
}

func localhostURL(raw string) bool {
	rest := raw
	for _, prefix := range []string{"https://", "http://", "wss://", "ws://"} {
		if strings.HasPrefix(rest, prefix) {
			rest = strings.TrimPrefix(rest, prefix)
			break
		}
	}
	host := rest
	if i := strings.IndexAny(host, "/:"); i >= 0 {
		host = host[:i]
	}
	host = strings.ToLower(host)
	return host == "localhost" || host == "127.0.0.1" || host == "0.0.0.0" || host == "::1"
}
