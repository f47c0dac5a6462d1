package provenance

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestAuditRecordsJSONLines(t *testing.T) {
	ResetForTest()
	defer ResetForTest()
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	log := NewAudit(path)
	if err := log.Record(AuditEvent{Operation: "install", Phase: "start", Status: "ok", SkillID: "alice/demo"}); err != nil {
		t.Fatal(err)
	}
	if err := log.Record(AuditEvent{Operation: "install", Phase: "commit", Status: "ok"}); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var events []AuditEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev AuditEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		if ev.Timestamp == "" {
			t.Fatal("event missing timestamp")
		}
		events = append(events, ev)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].SessionID == "" || events[0].SessionID != events[1].SessionID {
		t.Fatal("audit events must share the process session id")
	}
	if events[0].SessionID != Current().ID {
		t.Fatal("audit session id must match the provenance session")
	}
}

func TestNilAuditIsNoop(t *testing.T) {
	var log *AuditLog
	if err := log.Record(AuditEvent{Operation: "x"}); err != nil {
		t.Fatalf("nil audit log should no-op, got %v", err)
	}
	if err := NewAudit("").Record(AuditEvent{Operation: "x"}); err != nil {
		t.Fatalf("pathless audit log should no-op, got %v", err)
	}
}
