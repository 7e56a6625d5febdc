// arbiter-compile builds the commitment chain and challenge script tree for
// a published rollup block and prints what a dispute over it would look
// like, without touching any daemon state.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"arbiter.dev/engine/crypto"
	"arbiter.dev/engine/node"
	"arbiter.dev/engine/protocol"
)

type treeSummary struct {
	BlockID     string          `json:"block_id"`
	Steps       int             `json:"steps"`
	StateRoot   string          `json:"state_root"`
	TreeRoot    string          `json:"tree_root"`
	Depth       uint32          `json:"depth"`
	BranchCount int             `json:"branch_count"`
	Branches    []branchSummary `json:"branches,omitempty"`
}

type branchSummary struct {
	Kind    string `json:"kind"`
	Lo      uint32 `json:"lo"`
	Hi      uint32 `json:"hi"`
	Round   uint32 `json:"round"`
	Timeout uint32 `json:"timeout"`
	Winner  string `json:"winner_on_timeout,omitempty"`
	ID      string `json:"id"`
}

func main() {
	blockFile := flag.String("block", "", "rollup block JSON file (required)")
	providerTimeout := flag.Uint("provider-timeout", 0, "override provider response window (blocks)")
	challengerTimeout := flag.Uint("challenger-timeout", 0, "override challenger response window (blocks)")
	leafTimeout := flag.Uint("leaf-timeout", 0, "override final leaf reveal window (blocks)")
	listBranches := flag.Bool("branches", false, "list every compiled branch")
	asJSON := flag.Bool("json", false, "emit the summary as JSON")
	flag.Parse()

	if *blockFile == "" {
		fatalf("usage: arbiter-compile -block <file> [-branches] [-json]")
	}

	policy := protocol.DefaultTimeoutPolicy()
	if *providerTimeout > 0 {
		policy.ProviderResponse = uint32(*providerTimeout)
	}
	if *challengerTimeout > 0 {
		policy.ChallengerResponse = uint32(*challengerTimeout)
	}
	if *leafTimeout > 0 {
		policy.FinalLeaf = uint32(*leafTimeout)
	}
	if err := policy.Validate(); err != nil {
		fatalf("invalid timeout policy: %v", err)
	}

	block, err := node.LoadRollupBlock(*blockFile)
	if err != nil {
		fatalf("load block: %v", err)
	}
	if err := block.VerifyStateRoot(crypto.DevStdProvider{}); err != nil {
		fatalf("verify block: %v", err)
	}
	blockID, err := block.BlockID()
	if err != nil {
		fatalf("block id: %v", err)
	}
	commitments, err := block.Commitments()
	if err != nil {
		fatalf("commitments: %v", err)
	}
	chain, err := protocol.StepChainFromCommitments(commitments)
	if err != nil {
		fatalf("step chain: %v", err)
	}
	tree, err := protocol.CompileScriptTree(chain, policy)
	if err != nil {
		fatalf("compile tree: %v", err)
	}

	summary := treeSummary{
		BlockID:     blockID,
		Steps:       chain.Len(),
		StateRoot:   hex.EncodeToString(chain.StateRoot[:]),
		TreeRoot:    hex.EncodeToString(tree.Root[:]),
		Depth:       tree.Depth(),
		BranchCount: len(tree.Branches),
	}
	if *listBranches {
		for _, b := range tree.Branches {
			id := b.ID(crypto.DevStdProvider{})
			bs := branchSummary{
				Kind:    b.Kind.String(),
				Lo:      b.Lo,
				Hi:      b.Hi,
				Round:   b.Round,
				Timeout: b.Timeout,
				Winner:  b.WinnerOnTimeout.String(),
				ID:      hex.EncodeToString(id[:]),
			}
			summary.Branches = append(summary.Branches, bs)
		}
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			fatalf("encode summary: %v", err)
		}
		return
	}

	fmt.Printf("block:       %s\n", summary.BlockID)
	fmt.Printf("steps:       %d\n", summary.Steps)
	fmt.Printf("state_root:  %s\n", summary.StateRoot)
	fmt.Printf("tree_root:   %s\n", summary.TreeRoot)
	fmt.Printf("depth:       %d\n", summary.Depth)
	fmt.Printf("branches:    %d\n", summary.BranchCount)
	for _, b := range summary.Branches {
		fmt.Printf("  %-18s round=%-3d [%d,%d) timeout=%d winner=%s id=%s\n",
			b.Kind, b.Round, b.Lo, b.Hi, b.Timeout, b.Winner, b.ID[:16])
	}
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(2)
}
