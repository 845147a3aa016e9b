// Package shell is the user-facing control surface: a single record toggle,
// the current state, and the front ends that render it.
package shell

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/dyslu/internal/capture"
	"github.com/loqalabs/dyslu/internal/conversation"
	"github.com/loqalabs/dyslu/internal/pipeline"
	"github.com/loqalabs/dyslu/internal/protocol"
	"github.com/sourcegraph/conc"
)

// Publisher fans UI events out to connected front ends.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// View is a snapshot for rendering.
type View struct {
	Recording  bool
	Processing bool
	Level      float64
	Error      *pipeline.Error
	Records    []conversation.Record
}

type Shell struct {
	base     context.Context
	recorder *capture.Recorder
	pipeline *pipeline.Pipeline
	log      *conversation.Log
	pub      Publisher
	logger   *slog.Logger

	mu    sync.Mutex
	level float64
	turns conc.WaitGroup
}

// New wires the shell to its collaborators. Turns run on base so they
// outlive the request that stopped recording.
func New(base context.Context, recorder *capture.Recorder, p *pipeline.Pipeline, log *conversation.Log, pub Publisher, logger *slog.Logger) *Shell {
	s := &Shell{
		base:     base,
		recorder: recorder,
		pipeline: p,
		log:      log,
		pub:      pub,
		logger:   logger.With(slog.String("component", "shell")),
	}
	p.OnChange(s.publishStatus)
	log.Observe(s.publishTurn)
	return s
}

// Toggle stops an active recording and hands the clip to the pipeline, or
// starts a new recording when idle.
func (s *Shell) Toggle() error {
	if s.recorder.Active() {
		return s.Stop()
	}
	return s.Start()
}

// Start begins recording. It is refused while a turn is processing.
func (s *Shell) Start() error {
	if s.pipeline.IsProcessing() {
		return pipeline.ErrBusy
	}
	if _, err := s.recorder.StartSession(s.base); err != nil {
		if errors.Is(err, capture.ErrSessionActive) {
			return err
		}
		s.pipeline.Fail(pipeline.StageCapture, err)
		return err
	}
	s.publishStatus()
	return nil
}

// Stop finalises the recording and starts a turn in the background. The
// turn slot is claimed before the recorder is released, so a new recording
// cannot start while the clip is being handed over.
func (s *Shell) Stop() error {
	if !s.recorder.Active() {
		return capture.ErrNoSession
	}
	busy := s.pipeline.Acquire()
	clip, err := s.recorder.StopSession()
	s.setLevel(0)
	if err != nil {
		if busy == nil {
			s.pipeline.Release()
		}
		s.publishStatus()
		if errors.Is(err, capture.ErrNoSession) {
			return err
		}
		s.pipeline.Fail(pipeline.StageCapture, err)
		return err
	}
	if busy != nil {
		s.publishStatus()
		s.logger.Warn("clip dropped, turn already running", slog.String("session_id", clip.SessionID))
		s.pipeline.Fail(pipeline.StageCapture, busy)
		return busy
	}
	s.publishStatus()
	s.turns.Go(func() {
		_, _ = s.pipeline.RunAcquired(s.base, clip)
	})
	return nil
}

// Level receives amplitude samples from the recorder.
func (s *Shell) Level(sessionID string, rms float64) {
	s.setLevel(rms)
	s.publish(protocol.SubjectLevel, protocol.Level{SessionID: sessionID, RMS: rms, Timestamp: time.Now().UTC()})
}

func (s *Shell) State() View {
	s.mu.Lock()
	level := s.level
	s.mu.Unlock()
	return View{
		Recording:  s.recorder.Active(),
		Processing: s.pipeline.IsProcessing(),
		Level:      level,
		Error:      s.pipeline.CurrentError(),
		Records:    s.log.All(),
	}
}

// Close stops recording, waits for the running turn and tears down any
// reveal.
func (s *Shell) Close() {
	if s.recorder.Active() {
		if _, err := s.recorder.StopSession(); err != nil && !errors.Is(err, capture.ErrEmptyCapture) {
			s.logger.Warn("stop recording on close", slog.String("error", err.Error()))
		}
	}
	s.turns.Wait()
	s.pipeline.Reset()
}

// Status is the state flags as published to front ends.
func (s *Shell) Status() protocol.Status {
	st := protocol.Status{
		Recording:  s.recorder.Active(),
		Processing: s.pipeline.IsProcessing(),
		Timestamp:  time.Now().UTC(),
	}
	if perr := s.pipeline.CurrentError(); perr != nil {
		st.Error = perr.Message()
		st.Stage = string(perr.Stage)
	}
	return st
}

func (s *Shell) setLevel(rms float64) {
	s.mu.Lock()
	s.level = rms
	s.mu.Unlock()
}

func (s *Shell) publishStatus() {
	s.publish(protocol.SubjectStatus, s.Status())
}

func (s *Shell) publishTurn(ev conversation.Event) {
	s.publish(protocol.SubjectTurn, TurnEvent(ev.Kind, ev.Index, ev.Record))
}

func (s *Shell) publish(subject string, v any) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishJSON(subject, v); err != nil {
		s.logger.Warn("publish failed", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}

// TurnEvent converts a log record to its wire form.
func TurnEvent(kind conversation.EventKind, index int, rec conversation.Record) protocol.TurnEvent {
	return protocol.TurnEvent{
		Kind:      string(kind),
		Index:     index,
		TurnID:    rec.ID,
		Role:      rec.Role.String(),
		Text:      rec.Text,
		Display:   rec.Display(),
		Reveal:    rec.Reveal.String(),
		HasAudio:  rec.Audio != nil,
		Timestamp: time.Now().UTC(),
	}
}
