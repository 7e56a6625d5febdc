package protocol

import "fmt"

// Role identifies a dispute party.
type Role uint8

const (
	RoleProvider Role = iota
	RoleChallenger
)

func (r Role) String() string {
	switch r {
	case RoleProvider:
		return "provider"
	case RoleChallenger:
		return "challenger"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Opponent returns the other party.
func (r Role) Opponent() Role {
	if r == RoleProvider {
		return RoleChallenger
	}
	return RoleProvider
}

// TimeoutPolicy fixes the per-round deadline length in base-chain blocks.
// The silent party loses: provider silence resolves for the challenger,
// challenger silence for the provider, and an unresolved leaf for the
// challenger. Configuration, never mutated after compile.
type TimeoutPolicy struct {
	ProviderResponse   uint32
	ChallengerResponse uint32
	FinalLeaf          uint32
}

// DefaultTimeoutPolicy returns the protocol's standard deadlines.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		ProviderResponse:   10,
		ChallengerResponse: 10,
		FinalLeaf:          5,
	}
}

// Validate rejects policies with any non-positive round duration. Compile
// refuses such policies, so a commitment over an unusable tree can never be
// published.
func (p TimeoutPolicy) Validate() error {
	if p.ProviderResponse == 0 {
		return derr(TREE_ERR_POLICY_INVALID, "provider response timeout must be positive")
	}
	if p.ChallengerResponse == 0 {
		return derr(TREE_ERR_POLICY_INVALID, "challenger response timeout must be positive")
	}
	if p.FinalLeaf == 0 {
		return derr(TREE_ERR_POLICY_INVALID, "final leaf timeout must be positive")
	}
	return nil
}

// RoundTimeout returns the deadline length for a bisection round, keyed by
// whose turn it is. Round parity fixes the turn: round 0 is the provider's.
func (p TimeoutPolicy) RoundTimeout(turn Role) uint32 {
	if turn == RoleProvider {
		return p.ProviderResponse
	}
	return p.ChallengerResponse
}

// TurnForRound returns which party must respond in the given round.
// Deterministic alternation removes any advantage from choosing who moves
// first.
func TurnForRound(round uint32) Role {
	if round%2 == 0 {
		return RoleProvider
	}
	return RoleChallenger
}
