package protocol

import (
	"fmt"

	"arbiter.dev/engine/crypto"
)

// BranchKind discriminates the spend conditions a compiled tree offers.
type BranchKind uint8

const (
	// BranchMidpointClaim lets the party on turn commit to the step
	// commitment at the interval midpoint, advancing the dispute to the
	// half where the claims diverge.
	BranchMidpointClaim BranchKind = iota + 1

	// BranchLeafReveal is the terminal single-step predicate: the base
	// chain recomputes SHA-256 of the revealed input and compares it
	// against the committed digest.
	BranchLeafReveal

	// BranchProviderTimeout is spendable by the challenger once the
	// provider's response deadline has elapsed.
	BranchProviderTimeout

	// BranchChallengerTimeout is spendable by the provider once the
	// challenger's response deadline has elapsed.
	BranchChallengerTimeout
)

func (k BranchKind) String() string {
	switch k {
	case BranchMidpointClaim:
		return "midpoint_claim"
	case BranchLeafReveal:
		return "leaf_reveal"
	case BranchProviderTimeout:
		return "provider_timeout"
	case BranchChallengerTimeout:
		return "challenger_timeout"
	default:
		return fmt.Sprintf("branch_kind(%d)", uint8(k))
	}
}

// Branch is one conditional-spend alternative locking the disputed output.
// Timeout is the branch's relative timelock in blocks; WinnerOnTimeout names
// the party the branch awards when it is spent via the timeout path.
type Branch struct {
	Kind            BranchKind
	Lo              uint32 // interval lower bound, inclusive
	Hi              uint32 // interval upper bound, exclusive
	Round           uint32
	Commitment      [32]byte // midpoint or leaf step commitment; zero for timeout branches
	Timeout         uint32
	WinnerOnTimeout Role
}

const branchPreimageTag = "ARBITERv1-branch/"

// Encode returns the branch's canonical wire form. Branch identity and the
// tree root are both derived from this encoding, so it must stay stable.
func (b Branch) Encode() []byte {
	out := make([]byte, 0, len(branchPreimageTag)+1+4+4+4+32+4+1)
	out = append(out, branchPreimageTag...)
	out = append(out, byte(b.Kind))
	out = AppendU32le(out, b.Lo)
	out = AppendU32le(out, b.Hi)
	out = AppendU32le(out, b.Round)
	out = append(out, b.Commitment[:]...)
	out = AppendU32le(out, b.Timeout)
	out = append(out, byte(b.WinnerOnTimeout))
	return out
}

// ID is the 32-byte digest of the canonical encoding. Distinct branches
// always differ in (kind, interval, round), so IDs are collision-free under
// a collision-resistant digest; compile still verifies.
func (b Branch) ID(p crypto.Provider) [32]byte {
	return p.SHA3_256(b.Encode())
}

// Midpoint returns the bisection midpoint of the branch interval.
func (b Branch) Midpoint() uint32 {
	return b.Lo + (b.Hi-b.Lo)/2
}

// ScriptTree is the compiled branch set over one StepChain and
// TimeoutPolicy. Root is the on-chain locking commitment; both parties
// recompute it independently before trusting a published output.
type ScriptTree struct {
	Root     [32]byte
	Branches []Branch
	N        uint32
	Policy   TimeoutPolicy

	byID map[[32]byte]int
}

// Depth returns the number of bisection rounds the tree supports,
// ceil(log2 N).
func (t *ScriptTree) Depth() uint32 {
	d := uint32(0)
	for span := uint64(1); span < uint64(t.N); span <<= 1 {
		d++
	}
	return d
}

// BranchByID resolves a compiled branch from its identity digest.
func (t *ScriptTree) BranchByID(id [32]byte) (Branch, bool) {
	i, ok := t.byID[id]
	if !ok {
		return Branch{}, false
	}
	return t.Branches[i], true
}

// MidpointBranch returns the bisection branch for interval [lo,hi).
func (t *ScriptTree) MidpointBranch(lo, hi uint32) (Branch, bool) {
	return t.find(func(b Branch) bool {
		return b.Kind == BranchMidpointClaim && b.Lo == lo && b.Hi == hi
	})
}

// LeafBranch returns the single-step reveal branch for a step index.
func (t *ScriptTree) LeafBranch(index uint32) (Branch, bool) {
	return t.find(func(b Branch) bool {
		return b.Kind == BranchLeafReveal && b.Lo == index
	})
}

// TimeoutBranch returns the terminal timeout branch punishing silence by
// the given role.
func (t *ScriptTree) TimeoutBranch(silent Role) (Branch, bool) {
	kind := BranchProviderTimeout
	if silent == RoleChallenger {
		kind = BranchChallengerTimeout
	}
	return t.find(func(b Branch) bool { return b.Kind == kind })
}

func (t *ScriptTree) find(match func(Branch) bool) (Branch, bool) {
	for _, b := range t.Branches {
		if match(b) {
			return b, true
		}
	}
	return Branch{}, false
}

// CompileScriptTree builds the full conditional-spend branch set for a step
// chain: one midpoint-claim branch per reachable bisection interval, one
// leaf-reveal branch per step, and the two terminal timeout branches. Pure
// and idempotent: the same chain and policy always compile to the same
// root. N = 1 collapses to the leaf predicate with no bisection branches.
func CompileScriptTree(chain *StepChain, policy TimeoutPolicy) (*ScriptTree, error) {
	return CompileScriptTreeWithProvider(defaultProvider, chain, policy)
}

func CompileScriptTreeWithProvider(p crypto.Provider, chain *StepChain, policy TimeoutPolicy) (*ScriptTree, error) {
	if chain.Len() == 0 {
		return nil, derr(TREE_ERR_EMPTY_STEP_CHAIN, "cannot compile empty step chain")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	n := uint32(chain.Len())
	branches := make([]Branch, 0, 2*int(n)+1)
	branches = appendIntervalBranches(branches, chain, policy, 0, n, 0)
	branches = append(branches,
		Branch{
			Kind:            BranchProviderTimeout,
			Lo:              0,
			Hi:              n,
			Timeout:         policy.ProviderResponse,
			WinnerOnTimeout: RoleChallenger,
		},
		Branch{
			Kind:            BranchChallengerTimeout,
			Lo:              0,
			Hi:              n,
			Timeout:         policy.ChallengerResponse,
			WinnerOnTimeout: RoleProvider,
		},
	)

	ids := make([][32]byte, len(branches))
	byID := make(map[[32]byte]int, len(branches))
	for i, b := range branches {
		id := b.ID(p)
		if _, dup := byID[id]; dup {
			return nil, derr(TREE_ERR_BRANCH_COLLISION,
				fmt.Sprintf("duplicate branch id %x", id[:8]))
		}
		ids[i] = id
		byID[id] = i
	}

	return &ScriptTree{
		Root:     foldBranchRoot(p, ids),
		Branches: branches,
		N:        n,
		Policy:   policy,
		byID:     byID,
	}, nil
}

// appendIntervalBranches walks the bisection intervals pre-order. Every
// interval of size >= 2 gets a midpoint-claim branch committing to the
// chain's digest at the midpoint; size-1 intervals get the leaf predicate.
func appendIntervalBranches(dst []Branch, chain *StepChain, policy TimeoutPolicy, lo, hi, round uint32) []Branch {
	if hi-lo == 1 {
		return append(dst, Branch{
			Kind:            BranchLeafReveal,
			Lo:              lo,
			Hi:              hi,
			Round:           round,
			Commitment:      chain.Commitments[lo],
			Timeout:         policy.FinalLeaf,
			WinnerOnTimeout: RoleChallenger,
		})
	}
	mid := lo + (hi-lo)/2
	turn := TurnForRound(round)
	dst = append(dst, Branch{
		Kind:            BranchMidpointClaim,
		Lo:              lo,
		Hi:              hi,
		Round:           round,
		Commitment:      chain.Commitments[mid],
		Timeout:         policy.RoundTimeout(turn),
		WinnerOnTimeout: turn.Opponent(),
	})
	dst = appendIntervalBranches(dst, chain, policy, lo, mid, round+1)
	return appendIntervalBranches(dst, chain, policy, mid, hi, round+1)
}

// foldBranchRoot merkleizes branch IDs with leaf/node domain separation and
// the odd-promotion rule (an unpaired node carries forward unchanged).
func foldBranchRoot(p crypto.Provider, ids [][32]byte) [32]byte {
	level := make([][32]byte, 0, len(ids))
	var leafPre [1 + 32]byte
	leafPre[0] = foldTagLeaf
	for _, id := range ids {
		copy(leafPre[1:], id[:])
		level = append(level, p.SHA3_256(leafPre[:]))
	}

	var nodePre [1 + 32 + 32]byte
	nodePre[0] = foldTagNode
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); {
			if i == len(level)-1 {
				next = append(next, level[i])
				i++
				continue
			}
			copy(nodePre[1:33], level[i][:])
			copy(nodePre[33:], level[i+1][:])
			next = append(next, p.SHA3_256(nodePre[:]))
			i += 2
		}
		level = next
	}
	return level[0]
}
