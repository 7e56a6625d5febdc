package node

import (
	"errors"
	"fmt"

	"arbiter.dev/engine/crypto"
	"arbiter.dev/engine/protocol"
)

// StepInputFunc fetches the raw execution-step input for an index from the
// external executor. Required when the local party is the provider, who
// must be able to reveal at the leaf.
type StepInputFunc func(index uint32) ([]byte, error)

// SessionConfig fixes the immutable identity of one challenge session.
type SessionConfig struct {
	SessionID   string
	BlockID     string
	Outpoint    protocol.Outpoint
	LocalRole   protocol.Role
	StartHeight uint64
	StepInput   StepInputFunc
}

// ChallengeSession drives one dispute from initiation to resolution. It is
// advanced exclusively by confirmed on-chain events; it never blocks and
// holds no timers. The step chain and script tree are shared, read-only
// references; every writable field below is private to this session.
type ChallengeSession struct {
	cfg   SessionConfig
	chain *protocol.StepChain
	tree  *protocol.ScriptTree
	hash  crypto.Provider

	lo           uint32
	hi           uint32
	round        uint32
	turn         protocol.Role
	awaitingLeaf bool

	// budget accumulates completed-round timeouts; the active deadline is
	// start + budget + current round's policy entry.
	budget   uint64
	deadline uint64

	lastHeight   uint64
	outcome      protocol.Outcome
	disputedStep uint32
	hasDisputed  bool
}

// StepResult is what one event application yields: whether state advanced,
// an optional next template for the local party to hand to the external
// signer, and the resolution record once the session leaves Undecided.
type StepResult struct {
	Advanced   bool
	Next       *protocol.TransactionTemplate
	Resolution *protocol.ResolutionRecord
}

// NewChallengeSession opens a dispute over the full interval [0, N).
func NewChallengeSession(cfg SessionConfig, chain *protocol.StepChain, tree *protocol.ScriptTree) (*ChallengeSession, error) {
	if chain == nil || chain.Len() == 0 {
		return nil, errors.New("session: nil or empty step chain")
	}
	if tree == nil {
		return nil, errors.New("session: nil script tree")
	}
	if uint32(chain.Len()) != tree.N {
		return nil, fmt.Errorf("session: step chain length %d does not match tree N %d", chain.Len(), tree.N)
	}
	if cfg.SessionID == "" || cfg.BlockID == "" {
		return nil, errors.New("session: session and block ids required")
	}

	s := &ChallengeSession{
		cfg:        cfg,
		chain:      chain,
		tree:       tree,
		hash:       crypto.DevStdProvider{},
		lo:         0,
		hi:         tree.N,
		turn:       protocol.TurnForRound(0),
		lastHeight: cfg.StartHeight,
	}
	if tree.N == 1 {
		// No bisection rounds: the provider is immediately on the hook to
		// reveal the single step.
		s.awaitingLeaf = true
		s.deadline = cfg.StartHeight + uint64(tree.Policy.FinalLeaf)
	} else {
		s.deadline = cfg.StartHeight + uint64(tree.Policy.RoundTimeout(s.turn))
	}
	return s, nil
}

func (s *ChallengeSession) ID() string                { return s.cfg.SessionID }
func (s *ChallengeSession) BlockID() string           { return s.cfg.BlockID }
func (s *ChallengeSession) Outcome() protocol.Outcome { return s.outcome }
func (s *ChallengeSession) Deadline() uint64          { return s.deadline }
func (s *ChallengeSession) Round() uint32             { return s.round }
func (s *ChallengeSession) Turn() protocol.Role       { return s.turn }

// Interval returns the current bisection interval [lo, hi).
func (s *ChallengeSession) Interval() (uint32, uint32) { return s.lo, s.hi }

// DisputedStep returns the leaf index the dispute converged on, if any.
func (s *ChallengeSession) DisputedStep() (uint32, bool) {
	return s.disputedStep, s.hasDisputed
}

// View is the template builder's projection of the session position.
func (s *ChallengeSession) View() protocol.ChallengeView {
	return protocol.ChallengeView{
		Outpoint:     s.cfg.Outpoint,
		Lo:           s.lo,
		Hi:           s.hi,
		Round:        s.round,
		Turn:         s.turn,
		AwaitingLeaf: s.awaitingLeaf,
	}
}

// Apply consumes one confirmed event. Recoverable problems (malformed or
// out-of-order claims, events for resolved sessions) come back as coded
// errors and leave the session unchanged; the caller logs and moves on.
func (s *ChallengeSession) Apply(ev Event) (*StepResult, error) {
	if s.outcome != protocol.OutcomeUndecided {
		return nil, protocol.NewError(protocol.EVENT_ERR_STALE,
			fmt.Sprintf("session %s already resolved %s", s.cfg.SessionID, s.outcome))
	}

	switch e := ev.(type) {
	case HeightAdvanced:
		if e.Height > s.lastHeight {
			s.lastHeight = e.Height
		}
		next, err := s.localTemplate()
		if err != nil {
			return nil, err
		}
		return &StepResult{Next: next}, nil

	case ClaimConfirmed:
		return s.applyClaim(e)

	case LeafRevealConfirmed:
		return s.applyLeafReveal(e)

	case TimeoutClaimConfirmed:
		return s.applyTimeoutClaim(e)

	case OutputSpent:
		if e.Outcome == protocol.OutcomeUndecided {
			return nil, protocol.NewError(protocol.CLAIM_ERR_INVALID,
				"output spend without a terminal outcome")
		}
		// First confirmed spend of the shared output is authoritative for
		// every session on this block.
		return s.resolve(e.Outcome, e.Height), nil

	default:
		return nil, protocol.NewError(protocol.CLAIM_ERR_INVALID, "unknown event")
	}
}

func (s *ChallengeSession) applyClaim(e ClaimConfirmed) (*StepResult, error) {
	if s.awaitingLeaf {
		return nil, protocol.NewError(protocol.CLAIM_ERR_INVALID,
			"midpoint claim during leaf phase")
	}
	if e.Round != s.round || e.Lo != s.lo || e.Hi != s.hi {
		return nil, protocol.NewError(protocol.CLAIM_ERR_INVALID,
			fmt.Sprintf("claim for round %d [%d,%d), session at round %d [%d,%d)",
				e.Round, e.Lo, e.Hi, s.round, s.lo, s.hi))
	}
	if e.By != s.turn {
		return nil, protocol.NewError(protocol.CLAIM_ERR_INVALID,
			fmt.Sprintf("claim by %s out of turn", e.By))
	}

	mid := s.lo + (s.hi-s.lo)/2
	expected, err := s.chain.CommitmentAt(mid)
	if err != nil {
		return nil, err
	}

	// Narrow to the half bounded by the claim the honest recomputation
	// disagrees with: agreement at the midpoint pushes the divergence into
	// the upper half.
	if e.Midpoint == expected {
		s.lo = mid
	} else {
		s.hi = mid
	}

	s.budget += uint64(s.tree.Policy.RoundTimeout(s.turn))
	s.round++
	if e.Height > s.lastHeight {
		s.lastHeight = e.Height
	}

	if s.hi-s.lo == 1 {
		s.awaitingLeaf = true
		s.turn = protocol.RoleProvider
		s.deadline = s.cfg.StartHeight + s.budget + uint64(s.tree.Policy.FinalLeaf)
	} else {
		s.turn = protocol.TurnForRound(s.round)
		s.deadline = s.cfg.StartHeight + s.budget + uint64(s.tree.Policy.RoundTimeout(s.turn))
	}

	next, err := s.localTemplate()
	if err != nil {
		return nil, err
	}
	return &StepResult{Advanced: true, Next: next}, nil
}

func (s *ChallengeSession) applyLeafReveal(e LeafRevealConfirmed) (*StepResult, error) {
	if !s.awaitingLeaf {
		return nil, protocol.NewError(protocol.CLAIM_ERR_INVALID,
			"leaf reveal while still bisecting")
	}
	if e.Index != s.lo {
		return nil, protocol.NewError(protocol.CLAIM_ERR_INVALID,
			fmt.Sprintf("leaf reveal for step %d, dispute is at step %d", e.Index, s.lo))
	}
	if len(e.Input) == 0 || len(e.Input) > protocol.MAX_LEAF_INPUT_BYTES {
		return nil, protocol.NewError(protocol.CLAIM_ERR_INVALID,
			"leaf input length out of range")
	}

	committed, err := s.chain.CommitmentAt(s.lo)
	if err != nil {
		return nil, err
	}
	s.disputedStep = s.lo
	s.hasDisputed = true

	// The base chain recomputes exactly this digest; a match clears the
	// provider, a mismatch convicts.
	if s.hash.SHA256(e.Input) == committed {
		return s.resolve(protocol.OutcomeProverWins, e.Height), nil
	}
	return s.resolve(protocol.OutcomeChallengerWins, e.Height), nil
}

func (s *ChallengeSession) applyTimeoutClaim(e TimeoutClaimConfirmed) (*StepResult, error) {
	if e.Height <= s.deadline {
		return nil, protocol.NewError(protocol.CLAIM_ERR_INVALID,
			fmt.Sprintf("timeout claim at height %d before deadline %d", e.Height, s.deadline))
	}
	// Only the waiting party can claim the on-turn party's silence.
	if e.By != s.turn.Opponent() {
		return nil, protocol.NewError(protocol.CLAIM_ERR_INVALID,
			fmt.Sprintf("timeout claim by %s while %s is on turn", e.By, s.turn))
	}
	if s.awaitingLeaf {
		s.disputedStep = s.lo
		s.hasDisputed = true
	}
	if e.By == protocol.RoleProvider {
		return s.resolve(protocol.OutcomeProverWins, e.Height), nil
	}
	return s.resolve(protocol.OutcomeChallengerWins, e.Height), nil
}

func (s *ChallengeSession) resolve(outcome protocol.Outcome, height uint64) *StepResult {
	s.outcome = outcome
	if height > s.lastHeight {
		s.lastHeight = height
	}
	rec := &protocol.ResolutionRecord{
		SessionID:       s.cfg.SessionID,
		BlockID:         s.cfg.BlockID,
		Outcome:         outcome,
		Winner:          outcome.Winner().String(),
		DisputedStep:    s.disputedStep,
		HasDisputedStep: s.hasDisputed,
		Height:          height,
	}
	return &StepResult{Advanced: true, Resolution: rec}
}

// PendingTemplate returns the transaction the local party currently owes,
// if any. Used on registration, before any event has arrived.
func (s *ChallengeSession) PendingTemplate() (*protocol.TransactionTemplate, error) {
	return s.localTemplate()
}

// localTemplate returns the transaction the local party currently owes (or
// is entitled to), if any: its own reveal while on turn and inside the
// deadline, or a timeout claim once the counterparty's deadline lapsed.
func (s *ChallengeSession) localTemplate() (*protocol.TransactionTemplate, error) {
	if s.outcome != protocol.OutcomeUndecided {
		return nil, nil
	}
	expired := s.lastHeight > s.deadline

	switch {
	case s.turn == s.cfg.LocalRole && !expired:
		if s.awaitingLeaf {
			if s.cfg.StepInput == nil {
				return nil, nil // reveal impossible without executor access
			}
			input, err := s.cfg.StepInput(s.lo)
			if err != nil {
				return nil, fmt.Errorf("session %s: fetch step %d input: %w", s.cfg.SessionID, s.lo, err)
			}
			return protocol.BuildChallengeTemplate(s.tree, s.View(), protocol.RevealLeaf{Input: input})
		}
		mid := s.lo + (s.hi-s.lo)/2
		value, err := s.chain.CommitmentAt(mid)
		if err != nil {
			return nil, err
		}
		return protocol.BuildChallengeTemplate(s.tree, s.View(), protocol.RevealMidpoint{Value: value})

	case s.turn != s.cfg.LocalRole && expired:
		return protocol.BuildChallengeTemplate(s.tree, s.View(), protocol.ClaimTimeout{})

	default:
		return nil, nil
	}
}
