package node

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"arbiter.dev/engine/protocol"
)

// Events are confirmed base-chain observations injected by the external
// watcher. The engine never polls: every transition is driven by one of
// these, in base-chain confirmation order.

type Event interface {
	isEvent()
	EventHeight() uint64
}

// HeightAdvanced reports a new confirmed chain tip height.
type HeightAdvanced struct {
	Height uint64
}

// ClaimConfirmed reports a confirmed midpoint-claim spend for a bisection
// round.
type ClaimConfirmed struct {
	Height   uint64
	Round    uint32
	Lo       uint32
	Hi       uint32
	Midpoint [32]byte
	By       protocol.Role
}

// LeafRevealConfirmed reports a confirmed reveal of the raw execution-step
// input at the disputed index.
type LeafRevealConfirmed struct {
	Height uint64
	Index  uint32
	Input  []byte
}

// TimeoutClaimConfirmed reports a confirmed timeout-claim spend by the
// non-silent party.
type TimeoutClaimConfirmed struct {
	Height uint64
	By     protocol.Role
}

// OutputSpent reports that the block's locked output was spent with a
// terminal result, however that happened. The ledger is authoritative:
// every session disputing the block reconciles to this outcome.
type OutputSpent struct {
	Height  uint64
	Outcome protocol.Outcome
}

func (HeightAdvanced) isEvent()        {}
func (ClaimConfirmed) isEvent()        {}
func (LeafRevealConfirmed) isEvent()   {}
func (TimeoutClaimConfirmed) isEvent() {}
func (OutputSpent) isEvent()           {}

func (e HeightAdvanced) EventHeight() uint64        { return e.Height }
func (e ClaimConfirmed) EventHeight() uint64        { return e.Height }
func (e LeafRevealConfirmed) EventHeight() uint64   { return e.Height }
func (e TimeoutClaimConfirmed) EventHeight() uint64 { return e.Height }
func (e OutputSpent) EventHeight() uint64           { return e.Height }

// EventEnvelope tags an event with the session or block it pertains to.
// HeightAdvanced may be untagged: it then applies to every open session.
type EventEnvelope struct {
	SessionID string
	BlockID   string
	Event     Event
}

// eventDisk is the newline-delimited JSON wire form consumed from the
// watcher feed.
type eventDisk struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	BlockID   string `json:"block_id,omitempty"`
	Height    uint64 `json:"height"`
	Round     uint32 `json:"round,omitempty"`
	Lo        uint32 `json:"lo,omitempty"`
	Hi        uint32 `json:"hi,omitempty"`
	Midpoint  string `json:"midpoint,omitempty"`
	Index     uint32 `json:"index,omitempty"`
	InputHex  string `json:"input_hex,omitempty"`
	By        string `json:"by,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

// ParseEventEnvelope decodes one feed line. Unknown fields are rejected so
// a malformed watcher cannot silently feed partial events.
func ParseEventEnvelope(line []byte) (EventEnvelope, error) {
	dec := json.NewDecoder(strings.NewReader(string(line)))
	dec.DisallowUnknownFields()
	var d eventDisk
	if err := dec.Decode(&d); err != nil {
		return EventEnvelope{}, fmt.Errorf("decode event: %w", err)
	}

	env := EventEnvelope{SessionID: d.SessionID, BlockID: d.BlockID}
	switch d.Type {
	case "height":
		env.Event = HeightAdvanced{Height: d.Height}
	case "claim":
		mid, err := parseHex32("midpoint", d.Midpoint)
		if err != nil {
			return EventEnvelope{}, err
		}
		by, err := parseRole(d.By)
		if err != nil {
			return EventEnvelope{}, err
		}
		env.Event = ClaimConfirmed{
			Height:   d.Height,
			Round:    d.Round,
			Lo:       d.Lo,
			Hi:       d.Hi,
			Midpoint: mid,
			By:       by,
		}
	case "leaf_reveal":
		input, err := hex.DecodeString(d.InputHex)
		if err != nil {
			return EventEnvelope{}, fmt.Errorf("decode input_hex: %w", err)
		}
		env.Event = LeafRevealConfirmed{Height: d.Height, Index: d.Index, Input: input}
	case "timeout_claim":
		by, err := parseRole(d.By)
		if err != nil {
			return EventEnvelope{}, err
		}
		env.Event = TimeoutClaimConfirmed{Height: d.Height, By: by}
	case "output_spent":
		outcome, err := parseOutcome(d.Outcome)
		if err != nil {
			return EventEnvelope{}, err
		}
		env.Event = OutputSpent{Height: d.Height, Outcome: outcome}
	default:
		return EventEnvelope{}, fmt.Errorf("unknown event type %q", d.Type)
	}
	return env, nil
}

func parseRole(s string) (protocol.Role, error) {
	switch s {
	case "provider":
		return protocol.RoleProvider, nil
	case "challenger":
		return protocol.RoleChallenger, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

func parseOutcome(s string) (protocol.Outcome, error) {
	switch s {
	case "prover_wins":
		return protocol.OutcomeProverWins, nil
	case "challenger_wins":
		return protocol.OutcomeChallengerWins, nil
	default:
		return protocol.OutcomeUndecided, fmt.Errorf("unknown outcome %q", s)
	}
}

func parseHex32(name, value string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(value)
	if err != nil {
		return out, fmt.Errorf("invalid %s hex: %w", name, err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("invalid %s length: %d", name, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
