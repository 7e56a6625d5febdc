package node

import (
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"arbiter.dev/engine/crypto"
	"arbiter.dev/engine/protocol"
)

func demoBlockJSON(t *testing.T, n int) []byte {
	t.Helper()
	chain := demoChain(t, n)
	digests := make([]string, n)
	for i := 0; i < n; i++ {
		c, err := chain.CommitmentAt(uint32(i))
		if err != nil {
			t.Fatalf("CommitmentAt(%d): %v", i, err)
		}
		digests[i] = hex.EncodeToString(c[:])
	}
	return []byte(fmt.Sprintf(
		`{"txs":[{"op":"transfer"}],"state_root":%q,"step_chain":["%s"],"timestamp":1700000000,"signer":"seq-1"}`,
		hex.EncodeToString(chain.StateRoot[:]),
		strings.Join(digests, `","`),
	))
}

func TestParseRollupBlockAcceptsValid(t *testing.T) {
	b, err := ParseRollupBlock(demoBlockJSON(t, 4))
	if err != nil {
		t.Fatalf("ParseRollupBlock: %v", err)
	}
	if err := b.VerifyStateRoot(crypto.DevStdProvider{}); err != nil {
		t.Fatalf("VerifyStateRoot: %v", err)
	}
	commitments, err := b.Commitments()
	if err != nil {
		t.Fatalf("Commitments: %v", err)
	}
	if len(commitments) != 4 {
		t.Fatalf("commitments = %d, want 4", len(commitments))
	}
}

func TestParseRollupBlockRejectsMalformed(t *testing.T) {
	valid := string(demoBlockJSON(t, 2))
	cases := []struct {
		name string
		raw  string
	}{
		{"unknown field", strings.Replace(valid, `"signer"`, `"extra":1,"signer"`, 1)},
		{"trailing data", valid + `{"txs":[]}`},
		{"missing txs", strings.Replace(valid, `"txs":[{"op":"transfer"}],`, ``, 1)},
		{"bad state root", strings.Replace(valid, `"state_root":"`, `"state_root":"zz`, 1)},
		{"empty step chain", `{"txs":[],"state_root":"` + strings.Repeat("00", 32) + `","step_chain":[],"timestamp":1,"signer":"s"}`},
		{"zero timestamp", strings.Replace(valid, `"timestamp":1700000000`, `"timestamp":0`, 1)},
		{"empty signer", strings.Replace(valid, `"signer":"seq-1"`, `"signer":""`, 1)},
	}
	for _, tc := range cases {
		if _, err := ParseRollupBlock([]byte(tc.raw)); protocol.CodeOf(err) != protocol.BLOCK_ERR_PARSE {
			t.Fatalf("%s: err = %v, want BLOCK_ERR_PARSE", tc.name, err)
		}
	}
}

func TestVerifyStateRootMismatch(t *testing.T) {
	raw := demoBlockJSON(t, 3)
	b, err := ParseRollupBlock(raw)
	if err != nil {
		t.Fatalf("ParseRollupBlock: %v", err)
	}
	b.StateRoot = strings.Repeat("ab", 32)
	err = b.VerifyStateRoot(crypto.DevStdProvider{})
	if protocol.CodeOf(err) != protocol.BLOCK_ERR_ROOT_MISMATCH {
		t.Fatalf("err = %v, want BLOCK_ERR_ROOT_MISMATCH", err)
	}
}

func TestBlockIDIsStable(t *testing.T) {
	b1, err := ParseRollupBlock(demoBlockJSON(t, 2))
	if err != nil {
		t.Fatalf("ParseRollupBlock: %v", err)
	}
	id1, err := b1.BlockID()
	if err != nil {
		t.Fatalf("BlockID: %v", err)
	}
	if len(id1) != 16 {
		t.Fatalf("block id %q, want 16 hex chars", id1)
	}
	id2, err := b1.BlockID()
	if err != nil {
		t.Fatalf("BlockID: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("block id not stable: %s != %s", id1, id2)
	}

	b2, err := ParseRollupBlock(demoBlockJSON(t, 2))
	if err != nil {
		t.Fatalf("ParseRollupBlock: %v", err)
	}
	b2.Signer = "seq-2"
	id3, err := b2.BlockID()
	if err != nil {
		t.Fatalf("BlockID: %v", err)
	}
	if id3 == id1 {
		t.Fatal("different content produced the same block id")
	}
}
