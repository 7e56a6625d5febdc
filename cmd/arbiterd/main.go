package main

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"arbiter.dev/engine/crypto"
	"arbiter.dev/engine/node"
	"arbiter.dev/engine/node/store"
	"arbiter.dev/engine/protocol"
)

type multiStringFlag []string

func (m *multiStringFlag) String() string {
	if m == nil {
		return ""
	}
	return strings.Join(*m, ",")
}

func (m *multiStringFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

func main() {
	defaults := node.DefaultConfig()
	cfg := defaults
	var challenges multiStringFlag

	flag.StringVar(&cfg.Network, "network", defaults.Network, "network name (devnet/testnet/mainnet)")
	flag.StringVar(&cfg.DataDir, "datadir", defaults.DataDir, "daemon data directory")
	flag.StringVar(&cfg.EventFeed, "event-feed", defaults.EventFeed, "watcher feed path, NDJSON ('-' for stdin)")
	flag.StringVar(&cfg.OutboxDir, "outbox", defaults.OutboxDir, "directory for unsigned templates and resolutions")
	flag.StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel, "log level: debug|info|warn|error")
	flag.IntVar(&cfg.Confirmations, "confirmations", defaults.Confirmations, "confirmations before an event is final")
	roleName := flag.String("role", "challenger", "local party: provider|challenger")
	startHeight := flag.Uint64("start-height", 0, "confirmation height of the dispute anchor")
	traceFile := flag.String("trace", "", "JSON array of hex step inputs (enables leaf reveals)")
	flag.Var(&challenges, "challenge", "rollup block file to open a dispute on (repeatable)")
	dryRun := flag.Bool("dry-run", false, "print effective config and exit")
	flag.Parse()

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.OutboxDir == defaults.OutboxDir && cfg.DataDir != defaults.DataDir {
		cfg.OutboxDir = filepath.Join(cfg.DataDir, "outbox")
	}
	if err := node.ValidateConfig(cfg); err != nil {
		fatalf("invalid config: %v", err)
	}
	if *dryRun {
		if err := printConfig(cfg); err != nil {
			fatalf("config encode failed: %v", err)
		}
		return
	}
	localRole, err := parseRole(*roleName)
	if err != nil {
		fatalf("%v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		fatalf("datadir create failed: %v", err)
	}
	blockStore, err := node.OpenBlockStore(node.BlockStorePath(cfg.DataDir))
	if err != nil {
		fatalf("blockstore open failed: %v", err)
	}
	archive, err := store.Open(cfg.DataDir)
	if err != nil {
		fatalf("archive open failed: %v", err)
	}
	defer func() { _ = archive.Close() }()
	outbox, err := node.OpenOutbox(cfg.OutboxDir)
	if err != nil {
		fatalf("outbox open failed: %v", err)
	}

	stepInput, err := loadTrace(*traceFile)
	if err != nil {
		fatalf("trace load failed: %v", err)
	}
	if localRole == protocol.RoleProvider && stepInput == nil {
		logger.Warn("provider role without -trace: leaf reveals unavailable")
	}

	dispatcher := node.NewDispatcher(logger, archive, func(rec protocol.ResolutionRecord) {
		if path, err := outbox.WriteResolution(&rec); err != nil {
			logger.Error("write resolution failed", "session", rec.SessionID, "err", err)
		} else {
			logger.Info("resolution written", "session", rec.SessionID, "path", path)
		}
	})
	emitted := make(map[string]uint64)
	emit := func(sessionID string, tpl *protocol.TransactionTemplate) {
		if tpl == nil {
			return
		}
		emitted[sessionID]++
		path, err := outbox.WriteTemplate(sessionID, emitted[sessionID], tpl)
		if err != nil {
			logger.Error("write template failed", "session", sessionID, "err", err)
			return
		}
		logger.Info("template written",
			"session", sessionID, "kind", tpl.Kind.String(), "path", path)
	}

	for _, path := range challenges {
		if err := openDispute(logger, blockStore, archive, dispatcher, emit, path, localRole, *startHeight, stepInput); err != nil {
			fatalf("open dispute on %s failed: %v", path, err)
		}
	}
	logger.Info("arbiterd started",
		"network", cfg.Network,
		"role", localRole.String(),
		"sessions", dispatcher.OpenSessions(),
		"feed", cfg.EventFeed)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.EventFeed == "" {
		logger.Info("no event feed configured, idling")
		<-ctx.Done()
		return
	}
	if err := runFeed(ctx, logger, dispatcher, emit, cfg.EventFeed); err != nil {
		fatalf("event feed failed: %v", err)
	}
	logger.Info("arbiterd stopped", "open_sessions", dispatcher.OpenSessions())
}

// openDispute verifies a published block, anchors it, and registers one
// challenge session over its full step chain.
func openDispute(
	logger *slog.Logger,
	blockStore *node.BlockStore,
	archive *store.DB,
	dispatcher *node.Dispatcher,
	emit func(string, *protocol.TransactionTemplate),
	path string,
	localRole protocol.Role,
	startHeight uint64,
	stepInput node.StepInputFunc,
) error {
	block, err := node.LoadRollupBlock(path)
	if err != nil {
		return err
	}
	if err := block.VerifyStateRoot(crypto.DevStdProvider{}); err != nil {
		return err
	}
	blockID, err := blockStore.PutBlock(block)
	if err != nil {
		return err
	}
	commitments, err := block.Commitments()
	if err != nil {
		return err
	}
	chain, err := protocol.StepChainFromCommitments(commitments)
	if err != nil {
		return err
	}
	tree, err := protocol.CompileScriptTree(chain, protocol.DefaultTimeoutPolicy())
	if err != nil {
		return err
	}

	// Until a real funding transaction exists the anchor outpoint is the
	// block digest at vout 0.
	canonical, err := block.CanonicalBytes()
	if err != nil {
		return err
	}
	txid := sha256.Sum256(canonical)
	if _, err := archive.AppendAnchor(store.AnchorRecord{
		BlockID:   blockID,
		Txid:      hex.EncodeToString(txid[:]),
		Vout:      0,
		StateRoot: block.StateRoot,
		Height:    startHeight,
	}); err != nil {
		return err
	}

	sessionID := fmt.Sprintf("%s-%s", blockID, localRole)
	session, err := node.NewChallengeSession(node.SessionConfig{
		SessionID:   sessionID,
		BlockID:     blockID,
		Outpoint:    protocol.Outpoint{Txid: txid, Vout: 0},
		LocalRole:   localRole,
		StartHeight: startHeight,
		StepInput:   stepInput,
	}, chain, tree)
	if err != nil {
		return err
	}
	if err := dispatcher.Register(session); err != nil {
		return err
	}
	logger.Info("dispute opened",
		"session", sessionID,
		"block", blockID,
		"steps", chain.Len(),
		"tree_root", hex.EncodeToString(tree.Root[:]),
		"depth", tree.Depth())

	tpl, err := session.PendingTemplate()
	if err != nil {
		return err
	}
	emit(sessionID, tpl)
	return nil
}

// runFeed consumes watcher events line by line until EOF or shutdown.
func runFeed(
	ctx context.Context,
	logger *slog.Logger,
	dispatcher *node.Dispatcher,
	emit func(string, *protocol.TransactionTemplate),
	feed string,
) error {
	var in io.Reader
	if feed == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(feed)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		env, err := node.ParseEventEnvelope([]byte(line))
		if err != nil {
			logger.Warn("malformed event dropped", "err", err)
			continue
		}
		outputs, err := dispatcher.Dispatch(env)
		if err != nil {
			return err
		}
		for _, out := range outputs {
			emit(out.SessionID, out.Result.Next)
		}
	}
	return scanner.Err()
}

func loadTrace(path string) (node.StepInputFunc, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var hexInputs []string
	if err := json.Unmarshal(raw, &hexInputs); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	inputs := make([][]byte, len(hexInputs))
	for i, h := range hexInputs {
		inputs[i], err = hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("trace step %d: %w", i, err)
		}
	}
	return func(index uint32) ([]byte, error) {
		if uint64(index) >= uint64(len(inputs)) {
			return nil, fmt.Errorf("trace has no step %d", index)
		}
		return inputs[index], nil
	}, nil
}

func parseRole(name string) (protocol.Role, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "provider":
		return protocol.RoleProvider, nil
	case "challenger":
		return protocol.RoleChallenger, nil
	default:
		return 0, fmt.Errorf("unknown role %q", name)
	}
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printConfig(cfg node.Config) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(2)
}
