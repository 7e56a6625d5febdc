package node

import (
	"crypto/sha256"
	"fmt"
	"testing"

	"arbiter.dev/engine/protocol"
)

type memArchive struct {
	recs []protocol.ResolutionRecord
}

func (m *memArchive) ArchiveResolution(rec protocol.ResolutionRecord) error {
	m.recs = append(m.recs, rec)
	return nil
}

func newTestSession(t *testing.T, sessionID, blockID string, n int, local protocol.Role) *ChallengeSession {
	t.Helper()
	chain := demoChain(t, n)
	tree, err := protocol.CompileScriptTree(chain, protocol.DefaultTimeoutPolicy())
	if err != nil {
		t.Fatalf("CompileScriptTree: %v", err)
	}
	s, err := NewChallengeSession(SessionConfig{
		SessionID:   sessionID,
		BlockID:     blockID,
		Outpoint:    protocol.Outpoint{Txid: [32]byte{0xbb}, Vout: 0},
		LocalRole:   local,
		StartHeight: 100,
		StepInput: func(index uint32) ([]byte, error) {
			return []byte(fmt.Sprintf("step-%d", index)), nil
		},
	}, chain, tree)
	if err != nil {
		t.Fatalf("NewChallengeSession(%s): %v", sessionID, err)
	}
	return s
}

func TestDispatcherRejectsDuplicateSession(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	if err := d.Register(newTestSession(t, "s1", "blk", 4, protocol.RoleChallenger)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := d.Register(newTestSession(t, "s1", "blk", 4, protocol.RoleChallenger)); err == nil {
		t.Fatal("duplicate session id accepted")
	}
}

func TestDispatcherSiblingReconciliation(t *testing.T) {
	// Two challengers dispute the same block. The first confirmed spend of
	// the shared output settles both sessions to the same outcome.
	archive := &memArchive{}
	var reported []protocol.ResolutionRecord
	d := NewDispatcher(nil, archive, func(rec protocol.ResolutionRecord) {
		reported = append(reported, rec)
	})

	for _, id := range []string{"s1", "s2"} {
		if err := d.Register(newTestSession(t, id, "blk-7", 8, protocol.RoleChallenger)); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	if err := d.Register(newTestSession(t, "s3", "blk-other", 8, protocol.RoleChallenger)); err != nil {
		t.Fatalf("register s3: %v", err)
	}

	outputs, err := d.Dispatch(EventEnvelope{
		BlockID: "blk-7",
		Event:   OutputSpent{Height: 140, Outcome: protocol.OutcomeProverWins},
	})
	if err != nil {
		t.Fatalf("dispatch output spend: %v", err)
	}
	if len(outputs) != 2 {
		t.Fatalf("outputs = %d, want 2", len(outputs))
	}
	for _, out := range outputs {
		if out.Result.Resolution == nil || out.Result.Resolution.Outcome != protocol.OutcomeProverWins {
			t.Fatalf("session %s resolution = %+v", out.SessionID, out.Result.Resolution)
		}
	}
	if len(archive.recs) != 2 || len(reported) != 2 {
		t.Fatalf("archived %d, reported %d, want 2 each", len(archive.recs), len(reported))
	}
	if d.OpenSessions() != 1 {
		t.Fatalf("open sessions = %d, want only blk-other's", d.OpenSessions())
	}
	if _, ok := d.Session("s3"); !ok {
		t.Fatal("unrelated session was closed")
	}
}

func TestDispatcherAbsorbsInvalidClaim(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	s := newTestSession(t, "s1", "blk", 8, protocol.RoleChallenger)
	if err := d.Register(s); err != nil {
		t.Fatalf("register: %v", err)
	}

	outputs, err := d.Dispatch(EventEnvelope{
		SessionID: "s1",
		Event: ClaimConfirmed{
			Height:   101,
			Round:    3,
			Lo:       0,
			Hi:       8,
			Midpoint: sha256.Sum256([]byte("x")),
			By:       protocol.RoleProvider,
		},
	})
	if err != nil {
		t.Fatalf("invalid claim escaped the dispatcher: %v", err)
	}
	if len(outputs) != 0 {
		t.Fatalf("outputs = %d, want 0", len(outputs))
	}
	if lo, hi := s.Interval(); lo != 0 || hi != 8 {
		t.Fatalf("session mutated to [%d,%d)", lo, hi)
	}
	if d.OpenSessions() != 1 {
		t.Fatal("session closed on invalid claim")
	}
}

func TestDispatcherHeightBroadcast(t *testing.T) {
	// An untagged height advance past the provider deadline makes every
	// waiting challenger emit a timeout-claim template.
	d := NewDispatcher(nil, nil, nil)
	for _, id := range []string{"s1", "s2"} {
		if err := d.Register(newTestSession(t, id, "blk-"+id, 4, protocol.RoleChallenger)); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}

	outputs, err := d.Dispatch(EventEnvelope{Event: HeightAdvanced{Height: 111}})
	if err != nil {
		t.Fatalf("dispatch height: %v", err)
	}
	templates := 0
	for _, out := range outputs {
		if out.Result.Next != nil {
			if out.Result.Next.Kind != protocol.BranchProviderTimeout {
				t.Fatalf("session %s template kind = %s", out.SessionID, out.Result.Next.Kind)
			}
			templates++
		}
	}
	if templates != 2 {
		t.Fatalf("timeout templates = %d, want 2", templates)
	}
}

func TestDispatcherRequiresRouting(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	if _, err := d.Dispatch(EventEnvelope{Event: OutputSpent{Height: 1, Outcome: protocol.OutcomeProverWins}}); err == nil {
		t.Fatal("output spend without block id accepted")
	}
	if _, err := d.Dispatch(EventEnvelope{Event: TimeoutClaimConfirmed{Height: 1, By: protocol.RoleChallenger}}); err == nil {
		t.Fatal("session event without session id accepted")
	}
}
