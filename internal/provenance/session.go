package provenance

import (
	"os"
	"sync"

	"github.com/google/uuid"
)

// Session is the process-wide identity: one UUID per run plus the
// auto-install counter. It is never shared across processes.
type Session struct {
	ID           string
	Agent        string
	InstallCount int
}

var (
	sessionMu sync.Mutex
	session   *Session
)

// Current returns the process session, initializing it on first call.
func Current() *Session {
	sessionMu.Lock()
	defer sessionMu.Unlock()
	if session == nil {
		session = &Session{ID: uuid.NewString(), Agent: detectAgent()}
	}
	return session
}

// CountInstall increments the session install counter and returns the
// count before the increment, the value policy checks compare against.
func CountInstall() int {
	sessionMu.Lock()
	defer sessionMu.Unlock()
	if session == nil {
		session = &Session{ID: uuid.NewString(), Agent: detectAgent()}
	}
	n := session.InstallCount
	session.InstallCount++
	return n
}

// InstallCount returns the session install counter.
func InstallCount() int {
	return Current().InstallCount
}

// ResetForTest clears the session so tests start from a fresh identity.
func ResetForTest() {
	sessionMu.Lock()
	defer sessionMu.Unlock()
	session = nil
}

// detectAgent maps agent-identity environment hints to the string carried
// in provenance entries. Precedence when several hints are set:
// CLAUDE_CODE, then SKILLPORT_MCP, then SKILLPORT_AGENT.
func detectAgent() string {
	if os.Getenv("CLAUDE_CODE") != "" {
		return "claude-code"
	}
	if os.Getenv("SKILLPORT_MCP") != "" {
		return "mcp"
	}
	if v := os.Getenv("SKILLPORT_AGENT"); v != "" {
		return v
	}
	return "cli"
}
