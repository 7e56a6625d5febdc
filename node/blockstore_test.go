package node

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBlockStorePutGetRoundTrip(t *testing.T) {
	bs, err := OpenBlockStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenBlockStore: %v", err)
	}

	b, err := ParseRollupBlock(demoBlockJSON(t, 4))
	if err != nil {
		t.Fatalf("ParseRollupBlock: %v", err)
	}
	id, err := bs.PutBlock(b)
	if err != nil {
		t.Fatalf("PutBlock: %v", err)
	}
	if !bs.HasBlock(id) {
		t.Fatalf("stored block %s not indexed", id)
	}

	got, err := bs.GetBlock(id)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	gotID, err := got.BlockID()
	if err != nil {
		t.Fatalf("BlockID: %v", err)
	}
	if gotID != id {
		t.Fatalf("round-trip id %s, want %s", gotID, id)
	}
}

func TestBlockStorePutIsIdempotent(t *testing.T) {
	bs, err := OpenBlockStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenBlockStore: %v", err)
	}
	b, err := ParseRollupBlock(demoBlockJSON(t, 2))
	if err != nil {
		t.Fatalf("ParseRollupBlock: %v", err)
	}

	id1, err := bs.PutBlock(b)
	if err != nil {
		t.Fatalf("first PutBlock: %v", err)
	}
	id2, err := bs.PutBlock(b)
	if err != nil {
		t.Fatalf("second PutBlock: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("ids differ: %s != %s", id1, id2)
	}
	if ids := bs.BlockIDs(); len(ids) != 1 {
		t.Fatalf("index has %d entries, want 1", len(ids))
	}
}

func TestBlockStoreIndexSurvivesReopen(t *testing.T) {
	root := t.TempDir()
	bs, err := OpenBlockStore(root)
	if err != nil {
		t.Fatalf("OpenBlockStore: %v", err)
	}
	b, err := ParseRollupBlock(demoBlockJSON(t, 3))
	if err != nil {
		t.Fatalf("ParseRollupBlock: %v", err)
	}
	id, err := bs.PutBlock(b)
	if err != nil {
		t.Fatalf("PutBlock: %v", err)
	}

	reopened, err := OpenBlockStore(root)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !reopened.HasBlock(id) {
		t.Fatalf("index lost block %s across reopen", id)
	}
}

func TestBlockStoreRejectsConflictingFile(t *testing.T) {
	root := t.TempDir()
	bs, err := OpenBlockStore(root)
	if err != nil {
		t.Fatalf("OpenBlockStore: %v", err)
	}
	b, err := ParseRollupBlock(demoBlockJSON(t, 2))
	if err != nil {
		t.Fatalf("ParseRollupBlock: %v", err)
	}
	id, err := b.BlockID()
	if err != nil {
		t.Fatalf("BlockID: %v", err)
	}

	path := filepath.Join(root, "blocks", blockFileName(id))
	if err := os.WriteFile(path, []byte("not the block"), 0o644); err != nil {
		t.Fatalf("seed conflicting file: %v", err)
	}
	if _, err := bs.PutBlock(b); err == nil {
		t.Fatal("conflicting stored content accepted")
	}
}
