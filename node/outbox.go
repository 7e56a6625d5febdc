package node

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"arbiter.dev/engine/protocol"
)

// Outbox persists unsigned challenge templates and resolution records for an
// external signer to pick up. Every file is written at most once; re-emitting
// identical content is a no-op.
type Outbox struct {
	dir string
}

func OpenOutbox(dir string) (*Outbox, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Outbox{dir: dir}, nil
}

// WriteTemplate stores the hex encoding of an unsigned template under a
// per-session sequence number and returns the file path.
func (o *Outbox) WriteTemplate(sessionID string, seq uint64, tpl *protocol.TransactionTemplate) (string, error) {
	if o == nil {
		return "", errors.New("nil outbox")
	}
	if tpl == nil {
		return "", errors.New("nil template")
	}
	raw := tpl.Encode()
	name := fmt.Sprintf("template_%s_%06d.hex", sessionID, seq)
	path := filepath.Join(o.dir, name)
	content := append([]byte(hex.EncodeToString(raw)), '\n')
	if err := writeFileIfAbsent(path, content); err != nil {
		return "", err
	}
	return path, nil
}

// WriteResolution stores the final record for a session as indented JSON.
func (o *Outbox) WriteResolution(rec *protocol.ResolutionRecord) (string, error) {
	if o == nil {
		return "", errors.New("nil outbox")
	}
	if rec == nil {
		return "", errors.New("nil resolution record")
	}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	raw = append(raw, '\n')
	path := filepath.Join(o.dir, fmt.Sprintf("resolution_%s.json", rec.SessionID))
	if err := writeFileIfAbsent(path, raw); err != nil {
		return "", err
	}
	return path, nil
}
