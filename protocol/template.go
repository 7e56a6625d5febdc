package protocol

import (
	"fmt"

	"arbiter.dev/engine/crypto"
)

// Outpoint references the disputed block's single locked output.
type Outpoint struct {
	Txid [32]byte
	Vout uint32
}

// ChallengeView is the slice of session state the template builder needs:
// the current interval, round, whose turn it is, and which output the tree
// locks. AwaitingLeaf marks the terminal single-step phase.
type ChallengeView struct {
	Outpoint     Outpoint
	Lo           uint32
	Hi           uint32
	Round        uint32
	Turn         Role
	AwaitingLeaf bool
}

// ChallengeAction is a state-machine decision to be turned into a spendable
// template.
type ChallengeAction interface {
	isChallengeAction()
}

// RevealMidpoint commits to the step-chain digest at the current interval's
// midpoint.
type RevealMidpoint struct {
	Value [32]byte
}

// RevealLeaf discloses the raw execution-step input for the single disputed
// index, letting the base chain recompute and compare the hash.
type RevealLeaf struct {
	Input []byte
}

// ClaimTimeout spends the timeout path once the party on turn has let its
// deadline lapse.
type ClaimTimeout struct{}

func (RevealMidpoint) isChallengeAction() {}
func (RevealLeaf) isChallengeAction()     {}
func (ClaimTimeout) isChallengeAction()   {}

// MAX_LEAF_INPUT_BYTES bounds a revealed execution-step input. Inputs are
// single hash preimages, not batch payloads.
const MAX_LEAF_INPUT_BYTES = 520

// TransactionTemplate is the unsigned spend of the session's locked output
// via one compiled branch. Signing and broadcast are external; the template
// carries everything else: which branch, the witness payload, the relative
// timelock, and the data-carrying audit output.
type TransactionTemplate struct {
	Outpoint    Outpoint
	BranchID    [32]byte
	Kind        BranchKind
	Sequence    uint32 // relative timelock; zero for non-timeout spends
	TimeoutPath bool
	Witness     [][]byte
	AuditData   []byte
}

const auditTag = "ARBITERv1-audit/"

// auditData is the auditable log line embedded in the spend, recording
// which round and step range was under verification.
func auditData(round, lo, hi uint32, digest [32]byte) []byte {
	out := make([]byte, 0, len(auditTag)+4+4+4+8)
	out = append(out, auditTag...)
	out = AppendU32le(out, round)
	out = AppendU32le(out, lo)
	out = AppendU32le(out, hi)
	out = append(out, digest[:8]...)
	return out
}

// BuildChallengeTemplate selects the unique compiled branch matching the
// session position and action. An action impossible in the current state is
// a caller ordering bug and fails with TPL_ERR_NO_MATCHING_BRANCH.
func BuildChallengeTemplate(tree *ScriptTree, view ChallengeView, action ChallengeAction) (*TransactionTemplate, error) {
	return BuildChallengeTemplateWithProvider(defaultProvider, tree, view, action)
}

func BuildChallengeTemplateWithProvider(p crypto.Provider, tree *ScriptTree, view ChallengeView, action ChallengeAction) (*TransactionTemplate, error) {
	if tree == nil {
		return nil, derr(TPL_ERR_NO_MATCHING_BRANCH, "nil script tree")
	}

	switch a := action.(type) {
	case RevealMidpoint:
		if view.AwaitingLeaf || view.Hi-view.Lo < 2 {
			return nil, derr(TPL_ERR_NO_MATCHING_BRANCH,
				"midpoint claim outside a bisection round")
		}
		branch, ok := tree.MidpointBranch(view.Lo, view.Hi)
		if !ok {
			return nil, derr(TPL_ERR_NO_MATCHING_BRANCH,
				fmt.Sprintf("no midpoint branch for [%d,%d)", view.Lo, view.Hi))
		}
		if branch.Round != view.Round {
			return nil, derr(TPL_ERR_NO_MATCHING_BRANCH,
				fmt.Sprintf("interval [%d,%d) is round %d, session is at round %d",
					view.Lo, view.Hi, branch.Round, view.Round))
		}
		return &TransactionTemplate{
			Outpoint:  view.Outpoint,
			BranchID:  branch.ID(p),
			Kind:      branch.Kind,
			Witness:   [][]byte{append([]byte(nil), a.Value[:]...)},
			AuditData: auditData(view.Round, view.Lo, view.Hi, a.Value),
		}, nil

	case RevealLeaf:
		if !view.AwaitingLeaf {
			return nil, derr(TPL_ERR_NO_MATCHING_BRANCH,
				"leaf reveal while still bisecting")
		}
		if len(a.Input) == 0 || len(a.Input) > MAX_LEAF_INPUT_BYTES {
			return nil, derr(CLAIM_ERR_INVALID, "leaf input length out of range")
		}
		branch, ok := tree.LeafBranch(view.Lo)
		if !ok {
			return nil, derr(TPL_ERR_NO_MATCHING_BRANCH,
				fmt.Sprintf("no leaf branch for step %d", view.Lo))
		}
		return &TransactionTemplate{
			Outpoint:  view.Outpoint,
			BranchID:  branch.ID(p),
			Kind:      branch.Kind,
			Witness:   [][]byte{append([]byte(nil), a.Input...)},
			AuditData: auditData(view.Round, view.Lo, view.Hi, branch.Commitment),
		}, nil

	case ClaimTimeout:
		if view.AwaitingLeaf {
			// The leaf branch's own timeout path resolves an unrevealed leaf.
			branch, ok := tree.LeafBranch(view.Lo)
			if !ok {
				return nil, derr(TPL_ERR_NO_MATCHING_BRANCH,
					fmt.Sprintf("no leaf branch for step %d", view.Lo))
			}
			return &TransactionTemplate{
				Outpoint:    view.Outpoint,
				BranchID:    branch.ID(p),
				Kind:        branch.Kind,
				Sequence:    branch.Timeout,
				TimeoutPath: true,
				AuditData:   auditData(view.Round, view.Lo, view.Hi, branch.Commitment),
			}, nil
		}
		branch, ok := tree.TimeoutBranch(view.Turn)
		if !ok {
			return nil, derr(TPL_ERR_NO_MATCHING_BRANCH,
				fmt.Sprintf("no timeout branch for silent %s", view.Turn))
		}
		return &TransactionTemplate{
			Outpoint:    view.Outpoint,
			BranchID:    branch.ID(p),
			Kind:        branch.Kind,
			Sequence:    branch.Timeout,
			TimeoutPath: true,
			AuditData:   auditData(view.Round, view.Lo, view.Hi, branch.Commitment),
		}, nil

	default:
		return nil, derr(TPL_ERR_NO_MATCHING_BRANCH, "unknown challenge action")
	}
}

// Encode serializes the template for the external signer. Little-endian
// fixed fields, CompactSize-prefixed variable fields.
func (t *TransactionTemplate) Encode() []byte {
	out := make([]byte, 0, 128)
	out = append(out, t.Outpoint.Txid[:]...)
	out = AppendU32le(out, t.Outpoint.Vout)
	out = append(out, t.BranchID[:]...)
	out = append(out, byte(t.Kind))
	out = AppendU32le(out, t.Sequence)
	if t.TimeoutPath {
		out = append(out, 0x01)
	} else {
		out = append(out, 0x00)
	}
	out = AppendCompactSize(out, uint64(len(t.Witness)))
	for _, item := range t.Witness {
		out = AppendCompactSize(out, uint64(len(item)))
		out = append(out, item...)
	}
	out = AppendCompactSize(out, uint64(len(t.AuditData)))
	out = append(out, t.AuditData...)
	return out
}

// ParseTransactionTemplate decodes a template previously produced by
// Encode. Trailing bytes are rejected.
func ParseTransactionTemplate(b []byte) (*TransactionTemplate, error) {
	c := newCursor(b)
	var t TransactionTemplate
	var err error
	if t.Outpoint.Txid, err = c.readHash(); err != nil {
		return nil, err
	}
	if t.Outpoint.Vout, err = c.readU32LE(); err != nil {
		return nil, err
	}
	if t.BranchID, err = c.readHash(); err != nil {
		return nil, err
	}
	kind, err := c.readU8()
	if err != nil {
		return nil, err
	}
	t.Kind = BranchKind(kind)
	if t.Kind < BranchMidpointClaim || t.Kind > BranchChallengerTimeout {
		return nil, derr(TPL_ERR_PARSE, "unknown branch kind")
	}
	if t.Sequence, err = c.readU32LE(); err != nil {
		return nil, err
	}
	flag, err := c.readU8()
	if err != nil {
		return nil, err
	}
	if flag > 1 {
		return nil, derr(TPL_ERR_PARSE, "timeout path flag must be 0 or 1")
	}
	t.TimeoutPath = flag == 1
	nWit, err := c.readCompactSize()
	if err != nil {
		return nil, err
	}
	if nWit > 16 {
		return nil, derr(TPL_ERR_PARSE, "witness item count overflow")
	}
	for i := uint64(0); i < nWit; i++ {
		item, err := c.readVarBytes(MAX_LEAF_INPUT_BYTES, "witness item")
		if err != nil {
			return nil, err
		}
		t.Witness = append(t.Witness, item)
	}
	if t.AuditData, err = c.readVarBytes(256, "audit data"); err != nil {
		return nil, err
	}
	if c.remaining() != 0 {
		return nil, derr(TPL_ERR_PARSE, "trailing bytes")
	}
	return &t, nil
}
