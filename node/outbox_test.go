package node

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"arbiter.dev/engine/protocol"
)

func TestOutboxWriteTemplate(t *testing.T) {
	o, err := OpenOutbox(t.TempDir())
	if err != nil {
		t.Fatalf("OpenOutbox: %v", err)
	}
	s, _ := demoSession(t, 4, protocol.RoleProvider, 100)
	tpl, err := s.PendingTemplate()
	if err != nil {
		t.Fatalf("PendingTemplate: %v", err)
	}
	if tpl == nil {
		t.Fatal("provider owes no template")
	}

	path, err := o.WriteTemplate(s.ID(), 1, tpl)
	if err != nil {
		t.Fatalf("WriteTemplate: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read template file: %v", err)
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		t.Fatalf("template file not hex: %v", err)
	}
	parsed, err := protocol.ParseTransactionTemplate(decoded)
	if err != nil {
		t.Fatalf("ParseTransactionTemplate: %v", err)
	}
	if parsed.BranchID != tpl.BranchID {
		t.Fatalf("branch id %x, want %x", parsed.BranchID, tpl.BranchID)
	}

	// Re-emitting the same template is a no-op.
	if _, err := o.WriteTemplate(s.ID(), 1, tpl); err != nil {
		t.Fatalf("re-emit: %v", err)
	}
}

func TestOutboxWriteResolution(t *testing.T) {
	o, err := OpenOutbox(t.TempDir())
	if err != nil {
		t.Fatalf("OpenOutbox: %v", err)
	}
	rec := protocol.ResolutionRecord{
		SessionID:       "s1",
		BlockID:         "blk-1",
		Outcome:         protocol.OutcomeChallengerWins,
		Winner:          "challenger",
		DisputedStep:    3,
		HasDisputedStep: true,
		Height:          140,
	}
	path, err := o.WriteResolution(&rec)
	if err != nil {
		t.Fatalf("WriteResolution: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read resolution file: %v", err)
	}
	var got protocol.ResolutionRecord
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode resolution file: %v", err)
	}
	if got != rec {
		t.Fatalf("round-trip = %+v, want %+v", got, rec)
	}
}
