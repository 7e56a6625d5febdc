package node

import (
	"errors"
	"fmt"
	"log/slog"

	"arbiter.dev/engine/protocol"
)

// Archiver persists resolution records for resolved sessions.
type Archiver interface {
	ArchiveResolution(rec protocol.ResolutionRecord) error
}

// Reporter receives one record per resolved session (the external
// reporting boundary).
type Reporter func(rec protocol.ResolutionRecord)

// Dispatcher owns every open challenge session and applies watcher events
// in base-chain confirmation order. It must be driven from a single
// goroutine: total event order is the protocol's consistency mechanism,
// so there is nothing for a lock to arbitrate.
type Dispatcher struct {
	log     *slog.Logger
	archive Archiver
	report  Reporter

	sessions map[string]*ChallengeSession
	byBlock  map[string][]string
}

// SessionOutput pairs a session with the result of applying one event.
type SessionOutput struct {
	SessionID string
	Result    *StepResult
}

func NewDispatcher(logger *slog.Logger, archive Archiver, report Reporter) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		log:      logger,
		archive:  archive,
		report:   report,
		sessions: make(map[string]*ChallengeSession),
		byBlock:  make(map[string][]string),
	}
}

// Register adds an open session. Multiple sessions may dispute the same
// block (multiple challengers); they share the block's locked output and
// are reconciled together when it is spent.
func (d *Dispatcher) Register(s *ChallengeSession) error {
	if s == nil {
		return errors.New("dispatcher: nil session")
	}
	if _, dup := d.sessions[s.ID()]; dup {
		return fmt.Errorf("dispatcher: duplicate session id %s", s.ID())
	}
	d.sessions[s.ID()] = s
	d.byBlock[s.BlockID()] = append(d.byBlock[s.BlockID()], s.ID())
	d.log.Info("session registered",
		"session", s.ID(), "block", s.BlockID(), "deadline", s.Deadline())
	return nil
}

// OpenSessions returns the number of unresolved sessions.
func (d *Dispatcher) OpenSessions() int { return len(d.sessions) }

// Session looks up an open session by id.
func (d *Dispatcher) Session(id string) (*ChallengeSession, bool) {
	s, ok := d.sessions[id]
	return s, ok
}

// Dispatch routes one confirmed event. Session-tagged events go to that
// session; block-tagged spends and untagged height advances fan out. The
// returned outputs carry any templates due for external signing.
func (d *Dispatcher) Dispatch(env EventEnvelope) ([]SessionOutput, error) {
	if env.Event == nil {
		return nil, errors.New("dispatcher: nil event")
	}

	var targets []*ChallengeSession
	switch env.Event.(type) {
	case OutputSpent:
		if env.BlockID == "" {
			return nil, errors.New("dispatcher: output spend without block id")
		}
		for _, id := range d.byBlock[env.BlockID] {
			if s, ok := d.sessions[id]; ok {
				targets = append(targets, s)
			}
		}
	case HeightAdvanced:
		if env.SessionID != "" {
			s, ok := d.sessions[env.SessionID]
			if !ok {
				d.log.Info("event for unknown session", "session", env.SessionID)
				return nil, nil
			}
			targets = append(targets, s)
			break
		}
		for _, s := range d.sessions {
			targets = append(targets, s)
		}
	default:
		if env.SessionID == "" {
			return nil, errors.New("dispatcher: event requires a session id")
		}
		s, ok := d.sessions[env.SessionID]
		if !ok {
			d.log.Info("event for unknown session", "session", env.SessionID)
			return nil, nil
		}
		targets = append(targets, s)
	}

	var outputs []SessionOutput
	for _, s := range targets {
		res, err := s.Apply(env.Event)
		if err != nil {
			switch protocol.CodeOf(err) {
			case protocol.EVENT_ERR_STALE:
				d.log.Info("stale event ignored", "session", s.ID(), "err", err)
			case protocol.CLAIM_ERR_INVALID:
				// Absorbed: the offending party simply risks its own
				// timeout. The session stays Undecided.
				d.log.Warn("invalid claim dropped", "session", s.ID(), "err", err)
			default:
				return outputs, err
			}
			continue
		}
		if res == nil {
			continue
		}
		outputs = append(outputs, SessionOutput{SessionID: s.ID(), Result: res})
		if res.Resolution != nil {
			d.finishSession(s, *res.Resolution)
		}
	}
	return outputs, nil
}

func (d *Dispatcher) finishSession(s *ChallengeSession, rec protocol.ResolutionRecord) {
	d.log.Info("session resolved",
		"session", rec.SessionID,
		"block", rec.BlockID,
		"outcome", rec.Outcome.String(),
		"height", rec.Height)
	if d.archive != nil {
		if err := d.archive.ArchiveResolution(rec); err != nil {
			d.log.Error("archive resolution failed", "session", rec.SessionID, "err", err)
		}
	}
	if d.report != nil {
		d.report(rec)
	}

	delete(d.sessions, s.ID())
	ids := d.byBlock[s.BlockID()]
	kept := ids[:0]
	for _, id := range ids {
		if id != s.ID() {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		delete(d.byBlock, s.BlockID())
	} else {
		d.byBlock[s.BlockID()] = kept
	}
}
