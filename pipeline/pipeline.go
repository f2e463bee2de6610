// Package pipeline connects the chat feed to the reply machinery: classify
// each inbound frame, consult policy, and hand replies to the delivery
// queue.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/reply-tender/delivery"
	"github.com/onnwee/reply-tender/event"
	"github.com/onnwee/reply-tender/history"
	"github.com/onnwee/reply-tender/persona"
	"github.com/onnwee/reply-tender/policy"
	"github.com/onnwee/reply-tender/respond"
	"github.com/onnwee/reply-tender/telemetry"
)

// Generator produces a reply for ev given recent context. Satisfied by
// *respond.Generator.
type Generator interface {
	Generate(ctx context.Context, ev event.ChatEvent, snapshot []event.ChatEvent) (string, error)
}

// Recorder persists events and replies. Satisfied by *transcript.Store;
// nil disables persistence.
type Recorder interface {
	RecordEvent(ctx context.Context, ev event.ChatEvent) error
	RecordReply(ctx context.Context, mode, text, sourceEventID string, sentAt time.Time) error
}

// Config tunes the pipeline.
type Config struct {
	// MaxConcurrentGenerations bounds in-flight reply generations
	// (default 2).
	MaxConcurrentGenerations int
}

// Pipeline owns the inbound half of the bot.
type Pipeline struct {
	frames   <-chan []byte
	history  *history.Store
	engine   *policy.Engine
	presets  *persona.Presets
	gen      Generator
	queue    *delivery.Queue
	recorder Recorder
	stats    *Stats

	genSem chan struct{}
	wg     sync.WaitGroup
}

// New wires a pipeline. recorder may be nil.
func New(cfg Config, frames <-chan []byte, hist *history.Store, engine *policy.Engine, presets *persona.Presets, gen Generator, queue *delivery.Queue, recorder Recorder, stats *Stats) *Pipeline {
	if cfg.MaxConcurrentGenerations <= 0 {
		cfg.MaxConcurrentGenerations = 2
	}
	if stats == nil {
		stats = NewStats()
	}
	return &Pipeline{
		frames:   frames,
		history:  hist,
		engine:   engine,
		presets:  presets,
		gen:      gen,
		queue:    queue,
		recorder: recorder,
		stats:    stats,
		genSem:   make(chan struct{}, cfg.MaxConcurrentGenerations),
	}
}

// Stats exposes the session counters.
func (p *Pipeline) Stats() *Stats { return p.stats }

// Run consumes frames until the channel closes or ctx is canceled, then
// waits for in-flight generations to finish.
func (p *Pipeline) Run(ctx context.Context) {
	defer p.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-p.frames:
			if !ok {
				return
			}
			p.handle(ctx, raw)
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, raw []byte) {
	ev := event.Classify(raw, time.Now())
	p.stats.NoteEvent(ev.Kind)
	if telemetry.EventsReceived != nil {
		telemetry.EventsReceived.Inc()
	}
	if ev.Kind == event.KindUnknown && telemetry.EventsUnknown != nil {
		telemetry.EventsUnknown.Inc()
	}

	if p.recorder != nil {
		if err := p.recorder.RecordEvent(ctx, ev); err != nil {
			slog.Warn("transcript write failed", slog.Any("err", err))
		}
	}

	// Only conversational text feeds the generation context; joins and
	// likes would crowd real messages out of the window.
	if ev.Kind == event.KindText && !ev.Self {
		p.history.Append(ev)
	}

	dec := p.engine.Evaluate(ev)
	if !dec.Respond {
		if dec.Filtered {
			p.stats.NoteFiltered()
			if telemetry.EventsFiltered != nil {
				telemetry.EventsFiltered.Inc()
			}
		}
		return
	}

	switch dec.Mode {
	case policy.ModePreset:
		text, err := p.presets.Render(dec.TemplateKey, ev.DisplayName)
		if err != nil {
			slog.Warn("preset render failed", slog.String("key", dec.TemplateKey), slog.Any("err", err))
			return
		}
		p.enqueue(delivery.Message{Text: text, Mode: policy.ModePreset.String(), SourceEventID: ev.ID})
	case policy.ModeGenerated:
		if p.gen == nil {
			return
		}
		snapshot := p.history.Snapshot()
		p.wg.Add(1)
		go p.generate(ctx, ev, snapshot)
	}
}

// generate runs one bounded reply generation and enqueues the result.
func (p *Pipeline) generate(ctx context.Context, ev event.ChatEvent, snapshot []event.ChatEvent) {
	defer p.wg.Done()
	select {
	case p.genSem <- struct{}{}:
		defer func() { <-p.genSem }()
	case <-ctx.Done():
		return
	}

	spanCtx, span := telemetry.StartSpan(ctx, "pipeline", "generate_reply",
		attribute.String("event_id", ev.ID),
		attribute.String("user", ev.DisplayName))
	defer span.End()

	start := time.Now()
	text, err := p.gen.Generate(spanCtx, ev, snapshot)
	if telemetry.GenerationDuration != nil {
		telemetry.GenerationDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		telemetry.RecordError(span, err)
		p.stats.NoteGenFailure()
		if telemetry.GenerationFailed != nil {
			telemetry.GenerationFailed.Inc()
		}
		if !errors.Is(err, context.Canceled) {
			slog.Warn("reply generation failed",
				slog.String("event_id", ev.ID),
				slog.Any("err", err))
		}
		return
	}
	telemetry.SetSpanSuccess(span)
	if text == "" {
		return
	}
	p.enqueue(delivery.Message{Text: text, Mode: policy.ModeGenerated.String(), SourceEventID: ev.ID})
}

// SendManual queues operator text ahead of background replies.
func (p *Pipeline) SendManual(text string) bool {
	text = respond.Sanitize(text, 0)
	if text == "" {
		return false
	}
	return p.enqueue(delivery.Message{Text: text, Mode: policy.ModeManual.String(), Priority: true})
}

func (p *Pipeline) enqueue(m delivery.Message) bool {
	if !p.queue.Enqueue(m) {
		slog.Warn("delivery queue closed; reply discarded", slog.String("mode", m.Mode))
		return false
	}
	p.stats.NoteQueued(m.Mode)
	telemetry.SetQueueDepth(p.queue.Len())
	slog.Debug("reply queued",
		slog.String("mode", m.Mode),
		slog.String("source_event", m.SourceEventID))
	return true
}
