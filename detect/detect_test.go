package detect

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/socket-intents/intent-shim/audit"
	"github.com/socket-intents/intent-shim/event"
)

const connectRule = `title: Delegated connect
id: test-connect-rule
status: test
logsource:
  product: intent-shim
detection:
  selection:
    Operation: connect
  condition: selection
level: high
`

func testDetector(t *testing.T) (*Detector, *audit.DB) {
	t.Helper()

	db, err := audit.NewDB(t.TempDir())
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	rulesDir := t.TempDir()
	enabledDir := filepath.Join(rulesDir, "enabled_rules")
	if err := os.MkdirAll(enabledDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(enabledDir, "connect.yml"), []byte(connectRule), 0o644); err != nil {
		t.Fatal(err)
	}

	detector, err := NewDetector(rulesDir, db)
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}
	return detector, db
}

func TestLoadRules(t *testing.T) {
	detector, _ := testDetector(t)

	if got := detector.RuleCount(); got != 1 {
		t.Errorf("Expected 1 loaded rule, got %d", got)
	}
}

func TestCheckEvent(t *testing.T) {
	detector, _ := testDetector(t)
	ctx := context.Background()

	hit := audit.Record{ID: 1, Event: event.New(event.OpConnect, 4, true, "", nil)}
	results := detector.CheckEvent(ctx, audit.EventFields(hit))
	if len(results) != 1 {
		t.Fatalf("Expected 1 match for a connect event, got %d", len(results))
	}
	if results[0].Rule.ID != "test-connect-rule" {
		t.Errorf("Unexpected rule: %s", results[0].Rule.ID)
	}

	miss := audit.Record{ID: 2, Event: event.New(event.OpBind, 4, false, "", nil)}
	if results := detector.CheckEvent(ctx, audit.EventFields(miss)); len(results) != 0 {
		t.Errorf("Expected no match for a bind event, got %d", len(results))
	}
}

func TestPollOnceStoresMatches(t *testing.T) {
	detector, db := testDetector(t)

	db.Publish(event.New(event.OpCreate, 4, true, "", nil))
	db.Publish(event.New(event.OpConnect, 4, true, "", nil))

	if err := detector.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce failed: %v", err)
	}

	matches, err := db.RecentMatches(10)
	if err != nil {
		t.Fatalf("RecentMatches failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Expected 1 stored match, got %d", len(matches))
	}
	if matches[0].RuleID != "test-connect-rule" || matches[0].Severity != "high" {
		t.Errorf("Unexpected match: %+v", matches[0])
	}

	// The resume point advanced; a second poll finds nothing new.
	if err := detector.pollOnce(context.Background()); err != nil {
		t.Fatalf("Second pollOnce failed: %v", err)
	}
	matches, _ = db.RecentMatches(10)
	if len(matches) != 1 {
		t.Errorf("Expected poll to be idempotent, got %d matches", len(matches))
	}
}
