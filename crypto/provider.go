package crypto

// Provider is the narrow digest interface used by protocol code.
// SHA256 is the base-chain script digest (what a step-equality predicate
// recomputes on-chain); SHA3_256 is the chain-wide aggregation digest
// (state roots, branch identities, tree roots).
type Provider interface {
	SHA256(input []byte) [32]byte
	SHA3_256(input []byte) [32]byte
}
