package provenance

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestSessionIdentity(t *testing.T) {
	ResetForTest()
	a := Current()
	if a.ID == "" {
		t.Fatal("session id empty")
	}
	if a.Agent != "cli" {
		t.Fatalf("agent = %q, want cli", a.Agent)
	}
	if Current().ID != a.ID {
		t.Fatal("session id changed within the process")
	}
	ResetForTest()
	if Current().ID == a.ID {
		t.Fatal("reset did not produce a fresh session")
	}
}

func TestAgentDetection(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"explicit agent", map[string]string{"SKILLPORT_AGENT": "custom-bot"}, "custom-bot"},
		{"mcp", map[string]string{"SKILLPORT_MCP": "1"}, "mcp"},
		{"claude code", map[string]string{"CLAUDE_CODE": "1"}, "claude-code"},
		// Precedence when several hints are set at once: CLAUDE_CODE wins
		// over SKILLPORT_MCP, which wins over SKILLPORT_AGENT.
		{"claude code beats agent", map[string]string{"CLAUDE_CODE": "1", "SKILLPORT_AGENT": "custom-bot"}, "claude-code"},
		{"claude code beats mcp", map[string]string{"CLAUDE_CODE": "1", "SKILLPORT_MCP": "1"}, "claude-code"},
		{"mcp beats agent", map[string]string{"SKILLPORT_MCP": "1", "SKILLPORT_AGENT": "custom-bot"}, "mcp"},
		{"all three", map[string]string{"CLAUDE_CODE": "1", "SKILLPORT_MCP": "1", "SKILLPORT_AGENT": "custom-bot"}, "claude-code"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, k := range []string{"SKILLPORT_AGENT", "SKILLPORT_MCP", "CLAUDE_CODE"} {
				t.Setenv(k, "")
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			ResetForTest()
			if got := Current().Agent; got != tc.want {
				t.Fatalf("agent = %q, want %q", got, tc.want)
			}
		})
	}
	ResetForTest()
}

func TestCountInstall(t *testing.T) {
	ResetForTest()
	if n := CountInstall(); n != 0 {
		t.Fatalf("first count = %d, want 0", n)
	}
	if n := CountInstall(); n != 1 {
		t.Fatalf("second count = %d, want 1", n)
	}
	if InstallCount() != 2 {
		t.Fatalf("install count = %d, want 2", InstallCount())
	}
	ResetForTest()
}

func TestAppendWritesJSONLines(t *testing.T) {
	ResetForTest()
	defer ResetForTest()
	path := filepath.Join(t.TempDir(), "provenance.jsonl")
	log := NewLog(path)
	if err := log.Append(Entry{Action: "install", SkillID: "alice/demo", Version: "1.0.0"}); err != nil {
		t.Fatal(err)
	}
	if err := log.Append(Entry{Action: "uninstall", SkillID: "alice/demo"}); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Action != "install" || entries[1].Action != "uninstall" {
		t.Fatalf("entries out of order: %+v", entries)
	}
	if entries[0].SessionID == "" || entries[0].SessionID != entries[1].SessionID {
		t.Fatal("entries must share the process session id")
	}
	if entries[0].TS == "" || entries[0].TS > entries[1].TS {
		t.Fatalf("timestamps not monotonic: %q %q", entries[0].TS, entries[1].TS)
	}
}

func TestNilLogIsNoop(t *testing.T) {
	var log *Log
	if err := log.Append(Entry{Action: "noop"}); err != nil {
		t.Fatalf("nil log should no-op, got %v", err)
	}
}
