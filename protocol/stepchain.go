package protocol

import (
	"fmt"

	"arbiter.dev/engine/crypto"
)

// ExecutionStep is one unit of batch execution as produced by the external
// executor. Immutable once included in a batch.
type ExecutionStep struct {
	Index uint32
	Input []byte
}

// StepChain is the ordered commitment sequence for one batch plus the
// aggregate state root derived from it. Commitments[i] is the SHA-256 of
// step i's input; the leaf predicate on the base chain recomputes exactly
// this digest.
type StepChain struct {
	Commitments [][32]byte
	StateRoot   [32]byte
}

const (
	foldTagLeaf = 0x00
	foldTagNode = 0x01
)

// defaultProvider backs the package-level helpers. Callers that need a
// certified backend pass their own Provider to the *WithProvider variants.
var defaultProvider crypto.Provider = crypto.DevStdProvider{}

// BuildStepChain derives the step commitments and state root for an ordered
// batch trace. Deterministic: identical steps always yield an identical
// chain. Step indices must be contiguous from 0.
func BuildStepChain(steps []ExecutionStep) (*StepChain, error) {
	return BuildStepChainWithProvider(defaultProvider, steps)
}

func BuildStepChainWithProvider(p crypto.Provider, steps []ExecutionStep) (*StepChain, error) {
	if len(steps) == 0 {
		return nil, derr(STEP_ERR_EMPTY_BATCH, "no execution steps")
	}
	commitments := make([][32]byte, len(steps))
	for i, s := range steps {
		if s.Index != uint32(i) {
			return nil, derr(STEP_ERR_INDEX_GAP,
				fmt.Sprintf("step %d carries index %d", i, s.Index))
		}
		if len(s.Input) == 0 {
			return nil, derr(STEP_ERR_EMPTY_INPUT,
				fmt.Sprintf("step %d has empty input", i))
		}
		commitments[i] = p.SHA256(s.Input)
	}
	return &StepChain{
		Commitments: commitments,
		StateRoot:   FoldStateRoot(p, commitments),
	}, nil
}

// StepChainFromCommitments reconstructs a chain from published digests, the
// verifier-side counterpart of BuildStepChain. The recomputed state root is
// the caller's to compare against whatever the publisher declared.
func StepChainFromCommitments(commitments [][32]byte) (*StepChain, error) {
	return StepChainFromCommitmentsWithProvider(defaultProvider, commitments)
}

func StepChainFromCommitmentsWithProvider(p crypto.Provider, commitments [][32]byte) (*StepChain, error) {
	if len(commitments) == 0 {
		return nil, derr(STEP_ERR_EMPTY_BATCH, "no step commitments")
	}
	chain := &StepChain{
		Commitments: append([][32]byte(nil), commitments...),
		StateRoot:   FoldStateRoot(p, commitments),
	}
	return chain, nil
}

// FoldStateRoot chains commitments in index order:
//
//	acc_0 = SHA3-256(0x00 || c_0)
//	acc_i = SHA3-256(0x01 || acc_{i-1} || c_i)
//
// The same fold backs both publishing (commitment builder) and dispute-side
// midpoint expectations, so "step i's expected value" has one chain-wide
// meaning.
func FoldStateRoot(p crypto.Provider, commitments [][32]byte) [32]byte {
	var pre [1 + 32 + 32]byte
	pre[0] = foldTagLeaf
	copy(pre[1:33], commitments[0][:])
	acc := p.SHA3_256(pre[:33])
	for _, c := range commitments[1:] {
		pre[0] = foldTagNode
		copy(pre[1:33], acc[:])
		copy(pre[33:], c[:])
		acc = p.SHA3_256(pre[:])
	}
	return acc
}

// Len returns the number of steps committed to.
func (sc *StepChain) Len() int {
	if sc == nil {
		return 0
	}
	return len(sc.Commitments)
}

// CommitmentAt returns the committed digest for a step index.
func (sc *StepChain) CommitmentAt(index uint32) ([32]byte, error) {
	if sc == nil || uint64(index) >= uint64(len(sc.Commitments)) {
		return [32]byte{}, derr(CLAIM_ERR_INVALID,
			fmt.Sprintf("step index %d out of range", index))
	}
	return sc.Commitments[index], nil
}
