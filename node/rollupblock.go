package node

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"arbiter.dev/engine/crypto"
	"arbiter.dev/engine/protocol"
)

// RollupBlock is the published per-batch record. The wire form is loose
// JSON; this struct is the strictly validated result. Blocks are immutable
// once published and are referenced by the dispute engine via state root,
// never copied.
type RollupBlock struct {
	Txs       []json.RawMessage `json:"txs"`
	StateRoot string            `json:"state_root"`
	StepChain []string          `json:"step_chain"`
	Timestamp int64             `json:"timestamp"`
	Signer    string            `json:"signer"`
}

// ParseRollupBlock maps the published JSON to a validated RollupBlock.
// Every field is required; nothing malformed reaches the commitment
// builder.
func ParseRollupBlock(raw []byte) (*RollupBlock, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var b RollupBlock
	if err := dec.Decode(&b); err != nil {
		return nil, protocol.NewError(protocol.BLOCK_ERR_PARSE, err.Error())
	}
	if dec.More() {
		return nil, protocol.NewError(protocol.BLOCK_ERR_PARSE, "trailing data after block")
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// LoadRollupBlock reads and parses a published block file.
func LoadRollupBlock(path string) (*RollupBlock, error) {
	raw, err := readFileByPath(path)
	if err != nil {
		return nil, err
	}
	return ParseRollupBlock(raw)
}

func (b *RollupBlock) validate() error {
	if b.Txs == nil {
		return protocol.NewError(protocol.BLOCK_ERR_PARSE, "txs field missing")
	}
	if _, err := decodeDigest("state_root", b.StateRoot); err != nil {
		return err
	}
	if len(b.StepChain) == 0 {
		return protocol.NewError(protocol.BLOCK_ERR_PARSE, "step_chain must be non-empty")
	}
	for i, h := range b.StepChain {
		if _, err := decodeDigest(fmt.Sprintf("step_chain[%d]", i), h); err != nil {
			return err
		}
	}
	if b.Timestamp <= 0 {
		return protocol.NewError(protocol.BLOCK_ERR_PARSE, "timestamp must be positive")
	}
	if b.Signer == "" {
		return protocol.NewError(protocol.BLOCK_ERR_PARSE, "signer must be non-empty")
	}
	return nil
}

func decodeDigest(name, value string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(value)
	if err != nil {
		return out, protocol.NewError(protocol.BLOCK_ERR_PARSE,
			fmt.Sprintf("%s is not hex: %v", name, err))
	}
	if len(raw) != 32 {
		return out, protocol.NewError(protocol.BLOCK_ERR_PARSE,
			fmt.Sprintf("%s must be 32 bytes, got %d", name, len(raw)))
	}
	copy(out[:], raw)
	return out, nil
}

// Commitments returns the step chain as raw digests.
func (b *RollupBlock) Commitments() ([][32]byte, error) {
	out := make([][32]byte, len(b.StepChain))
	for i, h := range b.StepChain {
		d, err := decodeDigest(fmt.Sprintf("step_chain[%d]", i), h)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

// VerifyStateRoot recomputes the aggregate from the published step chain
// and compares it against the declared state_root. A block failing this
// check is rejected before any dispute can be opened on it.
func (b *RollupBlock) VerifyStateRoot(p crypto.Provider) error {
	commitments, err := b.Commitments()
	if err != nil {
		return err
	}
	declared, err := decodeDigest("state_root", b.StateRoot)
	if err != nil {
		return err
	}
	if protocol.FoldStateRoot(p, commitments) != declared {
		return protocol.NewError(protocol.BLOCK_ERR_ROOT_MISMATCH,
			"state_root does not match step_chain")
	}
	return nil
}

// CanonicalBytes is the serialization the block id is derived from: the
// struct's fixed field order, no indentation.
func (b *RollupBlock) CanonicalBytes() ([]byte, error) {
	return json.Marshal(b)
}

// BlockID content-addresses the block: first 16 hex chars of the SHA-256
// of the canonical serialization.
func (b *RollupBlock) BlockID() (string, error) {
	canonical, err := b.CanonicalBytes()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:16], nil
}
