package protocol

import "fmt"

// Outcome is the terminal verdict of a challenge session.
type Outcome uint8

const (
	OutcomeUndecided Outcome = iota
	OutcomeProverWins
	OutcomeChallengerWins
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUndecided:
		return "undecided"
	case OutcomeProverWins:
		return "prover_wins"
	case OutcomeChallengerWins:
		return "challenger_wins"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Winner maps an outcome to the winning role. Only meaningful for decided
// outcomes.
func (o Outcome) Winner() Role {
	if o == OutcomeChallengerWins {
		return RoleChallenger
	}
	return RoleProvider
}

// ResolutionRecord is the per-session report handed to the external
// reporting layer once a dispute leaves Undecided.
type ResolutionRecord struct {
	SessionID string  `json:"session_id"`
	BlockID   string  `json:"block_id"`
	Outcome   Outcome `json:"outcome"`
	Winner    string  `json:"winner"`

	// DisputedStep is set only for leaf-resolved disputes.
	DisputedStep    uint32 `json:"disputed_step"`
	HasDisputedStep bool   `json:"has_disputed_step"`

	// Height is the base-chain height of the resolving confirmation.
	Height uint64 `json:"height"`
}
