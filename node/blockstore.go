package node

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	blockStoreIndexVersion = 1
	blockStoreDirName      = "blockstore"
)

// BlockStore keeps published rollup blocks as content-addressed JSON files
// plus an index of ids in arrival order. Writes are idempotent: a block
// already stored under its id is accepted, a conflicting file is an error.
type BlockStore struct {
	rootPath  string
	indexPath string
	blocksDir string
	index     blockStoreIndexDisk
}

type blockStoreIndexDisk struct {
	Version uint32   `json:"version"`
	Blocks  []string `json:"blocks"`
}

func BlockStorePath(dataDir string) string {
	return filepath.Join(dataDir, blockStoreDirName)
}

func OpenBlockStore(rootPath string) (*BlockStore, error) {
	indexPath := filepath.Join(rootPath, "index.json")
	blocksDir := filepath.Join(rootPath, "blocks")

	if err := os.MkdirAll(blocksDir, 0o755); err != nil {
		return nil, err
	}
	index, err := loadBlockStoreIndex(indexPath)
	if err != nil {
		return nil, err
	}
	return &BlockStore{
		rootPath:  rootPath,
		indexPath: indexPath,
		blocksDir: blocksDir,
		index:     index,
	}, nil
}

func blockFileName(id string) string {
	return "rollup_block_" + id + ".json"
}

// PutBlock validates and stores a block, returning its content id.
func (bs *BlockStore) PutBlock(b *RollupBlock) (string, error) {
	if bs == nil {
		return "", errors.New("nil blockstore")
	}
	if err := b.validate(); err != nil {
		return "", err
	}
	id, err := b.BlockID()
	if err != nil {
		return "", err
	}
	canonical, err := b.CanonicalBytes()
	if err != nil {
		return "", err
	}
	if err := writeFileIfAbsent(filepath.Join(bs.blocksDir, blockFileName(id)), canonical); err != nil {
		return "", err
	}
	for _, known := range bs.index.Blocks {
		if known == id {
			return id, nil
		}
	}
	bs.index.Blocks = append(bs.index.Blocks, id)
	return id, saveBlockStoreIndex(bs.indexPath, bs.index)
}

// GetBlock loads and re-validates a stored block.
func (bs *BlockStore) GetBlock(id string) (*RollupBlock, error) {
	if bs == nil {
		return nil, errors.New("nil blockstore")
	}
	raw, err := readFileFromDir(bs.blocksDir, blockFileName(id))
	if err != nil {
		return nil, err
	}
	return ParseRollupBlock(raw)
}

// HasBlock reports whether the id is indexed.
func (bs *BlockStore) HasBlock(id string) bool {
	if bs == nil {
		return false
	}
	for _, known := range bs.index.Blocks {
		if known == id {
			return true
		}
	}
	return false
}

// BlockIDs returns stored ids in arrival order.
func (bs *BlockStore) BlockIDs() []string {
	if bs == nil {
		return nil
	}
	return append([]string(nil), bs.index.Blocks...)
}

func loadBlockStoreIndex(path string) (blockStoreIndexDisk, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return blockStoreIndexDisk{
			Version: blockStoreIndexVersion,
			Blocks:  []string{},
		}, nil
	}
	if err != nil {
		return blockStoreIndexDisk{}, err
	}
	var index blockStoreIndexDisk
	if err := json.Unmarshal(raw, &index); err != nil {
		return blockStoreIndexDisk{}, fmt.Errorf("decode blockstore index: %w", err)
	}
	if index.Version != blockStoreIndexVersion {
		return blockStoreIndexDisk{}, fmt.Errorf("unsupported blockstore index version: %d", index.Version)
	}
	return index, nil
}

func saveBlockStoreIndex(path string, index blockStoreIndexDisk) error {
	raw, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	raw = append(raw, '\n')
	return writeFileAtomic(path, raw, 0o644)
}

func writeFileIfAbsent(path string, content []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err == nil {
		_, writeErr := f.Write(content)
		closeErr := f.Close()
		if writeErr != nil {
			_ = os.Remove(path)
			return writeErr
		}
		if closeErr != nil {
			_ = os.Remove(path)
			return closeErr
		}
		return nil
	}
	if !errors.Is(err, os.ErrExist) {
		return err
	}
	existing, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if !bytes.Equal(existing, content) {
		return fmt.Errorf("file already exists with different content: %s", path)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmpPath := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, mode); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
