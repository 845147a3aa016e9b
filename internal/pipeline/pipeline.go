// Package pipeline runs one conversational turn at a time: clip, transcript,
// reply, speech, reveal.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/dyslu/internal/capture"
	"github.com/loqalabs/dyslu/internal/config"
	"github.com/loqalabs/dyslu/internal/conversation"
	"github.com/loqalabs/dyslu/internal/llm"
	"github.com/loqalabs/dyslu/internal/persona"
	"github.com/loqalabs/dyslu/internal/playback"
	"github.com/loqalabs/dyslu/internal/stt"
	"github.com/loqalabs/dyslu/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	HistoryFull   = "full"
	HistoryLatest = "latest"
)

// Deps are the collaborators of a pipeline.
type Deps struct {
	Recognizer  stt.Recognizer
	Generator   llm.Generator
	Synthesizer tts.Synthesizer
	Log         *conversation.Log
	Reveals     *playback.Sync
}

type Options struct {
	Persona    persona.Persona
	History    string
	Completion llm.Request
	Speech     tts.SynthRequest
}

// OptionsFromConfig derives completion and speech defaults from config.
func OptionsFromConfig(cfg config.Config, p persona.Persona) Options {
	speech := tts.SynthRequest{Voice: cfg.TTS.Voice, Model: cfg.TTS.Model, Format: cfg.TTS.Format}
	if p.Voice != "" {
		speech.Voice = p.Voice
	}
	return Options{
		Persona:    p,
		History:    cfg.Pipeline.History,
		Completion: llm.OptionsFromConfig(cfg.LLM),
		Speech:     speech,
	}
}

type Pipeline struct {
	base    context.Context
	deps    Deps
	opts    Options
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics

	processing atomic.Bool

	mu       sync.Mutex
	current  *Error
	onChange []func()
}

// New builds a pipeline. Reveals started by RunTurn live on base, not on the
// per-turn context, so they keep running after RunTurn returns.
func New(base context.Context, deps Deps, opts Options, logger *slog.Logger) (*Pipeline, error) {
	if deps.Recognizer == nil || deps.Generator == nil || deps.Synthesizer == nil || deps.Log == nil || deps.Reveals == nil {
		return nil, errors.New("pipeline: missing dependency")
	}
	if err := opts.Persona.Validate(); err != nil {
		return nil, err
	}
	if opts.History == "" {
		opts.History = HistoryFull
	}
	p := &Pipeline{
		base:   base,
		deps:   deps,
		opts:   opts,
		logger: logger.With(slog.String("component", "pipeline")),
		tracer: otel.Tracer(instrumentation),
	}
	m, err := newMetrics(p)
	if err != nil {
		return nil, fmt.Errorf("pipeline metrics: %w", err)
	}
	p.metrics = m
	deps.Reveals.OnFailure(func(turnID string, err error) {
		p.logger.Warn("reply playback failed", slog.String("turn_id", turnID), slog.String("error", err.Error()))
		p.Fail(StagePlayback, err)
	})
	return p, nil
}

// OnChange registers fn to run whenever the processing flag or the current
// error changes.
func (p *Pipeline) OnChange(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = append(p.onChange, fn)
}

func (p *Pipeline) IsProcessing() bool { return p.processing.Load() }

// CurrentError returns the failure of the latest turn, or nil.
func (p *Pipeline) CurrentError() *Error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Fail records a failure that happened outside RunTurn, such as capture.
func (p *Pipeline) Fail(stage Stage, err error) {
	p.setError(&Error{Stage: stage, Err: err})
}

// Reset tears down any reveal in progress.
func (p *Pipeline) Reset() {
	p.deps.Reveals.Stop()
}

// Acquire claims the single turn slot so IsProcessing reports true before
// the clip is handed over. It returns ErrBusy while a turn is in flight.
// The holder must call RunAcquired or Release.
func (p *Pipeline) Acquire() error {
	if !p.processing.CompareAndSwap(false, true) {
		return ErrBusy
	}
	p.notify()
	return nil
}

// Release gives back a slot taken with Acquire that will not run a turn.
func (p *Pipeline) Release() {
	if p.processing.CompareAndSwap(true, false) {
		p.notify()
	}
}

// RunTurn processes one clip. It returns once the reply reveal has started;
// the returned reveal is nil when the reply has no audio.
func (p *Pipeline) RunTurn(ctx context.Context, clip capture.Clip) (*playback.Reveal, error) {
	if err := p.Acquire(); err != nil {
		return nil, err
	}
	return p.RunAcquired(ctx, clip)
}

// RunAcquired is RunTurn for a caller that already holds the slot.
func (p *Pipeline) RunAcquired(ctx context.Context, clip capture.Clip) (*playback.Reveal, error) {
	if !p.processing.Load() {
		return nil, errors.New("pipeline: turn slot not acquired")
	}
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
	p.notify()
	defer func() {
		p.processing.Store(false)
		p.notify()
	}()

	ctx, span := p.tracer.Start(ctx, "pipeline.turn", trace.WithAttributes(
		attribute.String("session_id", clip.SessionID),
		attribute.Int("clip_bytes", len(clip.Data)),
	))
	defer span.End()

	reveal, err := p.runTurn(ctx, clip)
	if err != nil {
		var perr *Error
		if !errors.As(err, &perr) {
			perr = &Error{Stage: StagePlayback, Err: err}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.metrics.observeTurn(ctx, "failed")
		p.logger.Warn("turn failed", slog.String("stage", string(perr.Stage)), slog.String("error", perr.Err.Error()))
		p.setError(perr)
		return nil, perr
	}
	p.metrics.observeTurn(ctx, "ok")
	return reveal, nil
}

func (p *Pipeline) runTurn(ctx context.Context, clip capture.Clip) (*playback.Reveal, error) {
	var transcript string
	err := p.stage(ctx, StageTranscribe, func(ctx context.Context) error {
		res, err := p.deps.Recognizer.Transcribe(ctx, clip)
		if err != nil {
			return err
		}
		transcript = strings.TrimSpace(res.Text)
		if transcript == "" {
			return stt.ErrEmptyTranscript
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := p.deps.Log.Append(conversation.Record{Role: conversation.RoleUser, Text: transcript}); err != nil {
		return nil, &Error{Stage: StageTranscribe, Err: err}
	}
	p.logger.Info("transcript received", slog.String("session_id", clip.SessionID), slog.Int("chars", len(transcript)))

	var reply string
	err = p.stage(ctx, StageComplete, func(ctx context.Context) error {
		req := p.opts.Completion
		req.TurnID = clip.SessionID
		req.Messages = p.messages(transcript)
		out, err := llm.Complete(ctx, p.deps.Generator, req)
		if err != nil {
			return err
		}
		reply = out.Content
		return nil
	})
	if err != nil {
		return nil, err
	}

	if reply == "" {
		// Nothing to speak; show the empty reply as finished.
		_, err := p.appendStatic(reply)
		return nil, err
	}

	var audio *tts.Audio
	err = p.stage(ctx, StageSynthesize, func(ctx context.Context) error {
		req := p.opts.Speech
		req.TurnID = clip.SessionID
		req.Text = reply
		out, err := tts.Collect(ctx, p.deps.Synthesizer, req)
		if err != nil {
			return err
		}
		audio = out
		return nil
	})
	if err != nil {
		if _, appendErr := p.appendStatic(reply); appendErr != nil {
			return nil, errors.Join(err, appendErr)
		}
		return nil, err
	}

	index, err := p.deps.Log.Append(conversation.Record{
		Role:   conversation.RoleAssistant,
		Text:   reply,
		Audio:  audio,
		Reveal: conversation.NotStarted,
	})
	if err != nil {
		return nil, &Error{Stage: StageSynthesize, Err: err}
	}

	reveal, err := p.deps.Reveals.Start(p.base, index)
	if err != nil {
		return nil, &Error{Stage: StagePlayback, Err: err}
	}
	return reveal, nil
}

// appendStatic adds a reply without audio, already fully revealed.
func (p *Pipeline) appendStatic(text string) (int, error) {
	return p.deps.Log.Append(conversation.Record{
		Role:     conversation.RoleAssistant,
		Text:     text,
		Reveal:   conversation.Complete,
		Revealed: len([]rune(text)),
	})
}

// messages builds the completion input: persona first, then either the
// whole exchange (which already ends with the new transcript) or only the
// new transcript.
func (p *Pipeline) messages(transcript string) []llm.Message {
	out := p.opts.Persona.Prompt()
	if p.opts.History == HistoryLatest {
		return append(out, llm.Message{Role: llm.RoleUser, Content: transcript})
	}
	return append(out, p.deps.Log.Messages()...)
}

func (p *Pipeline) stage(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "pipeline."+string(stage))
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	p.metrics.observeStage(ctx, stage, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &Error{Stage: stage, Err: err}
	}
	return nil
}

func (p *Pipeline) setError(err *Error) {
	p.mu.Lock()
	changed := p.current != err
	p.current = err
	p.mu.Unlock()
	if changed {
		p.notify()
	}
}

func (p *Pipeline) notify() {
	p.mu.Lock()
	fns := append([]func(){}, p.onChange...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
