// Package pipeline runs one turn of a voice conversation: transcribe the
// utterance, stream the chat reply, cut it into sentences, synthesise each
// sentence and push text and audio to the client as they become available.
//
// Every turn runs on its own goroutine and is controlled through a [Handle].
// Cancelling a handle stops the turn at its next check; [Handle.Wait]
// returns only after the goroutine has fully unwound, so a caller that
// waits before starting the next turn never sees two turns write to the
// same client.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/pkg/provider/chat"
	"github.com/MrWong99/talkback/pkg/provider/image"
	"github.com/MrWong99/talkback/pkg/provider/stt"
	"github.com/MrWong99/talkback/pkg/provider/tts"
	"github.com/MrWong99/talkback/pkg/types"
)

// DefaultBackendTimeout bounds every transcription, synthesis and image call,
// and the wait for each chat fragment.
const DefaultBackendTimeout = 30 * time.Second

// Pipeline holds the backends shared by all sessions. It is safe for
// concurrent use.
type Pipeline struct {
	stt      stt.Provider
	tts      tts.Provider
	images   image.Provider
	voice    types.VoiceProfile
	language string
	timeout  time.Duration
	metrics  *observe.Metrics
	log      *slog.Logger
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithImageProvider enables image turns.
func WithImageProvider(p image.Provider) Option {
	return func(pl *Pipeline) { pl.images = p }
}

// WithVoice sets the synthesis voice.
func WithVoice(v types.VoiceProfile) Option {
	return func(pl *Pipeline) { pl.voice = v }
}

// WithLanguage sets the transcription language hint.
func WithLanguage(lang string) Option {
	return func(pl *Pipeline) { pl.language = lang }
}

// WithBackendTimeout replaces [DefaultBackendTimeout].
func WithBackendTimeout(d time.Duration) Option {
	return func(pl *Pipeline) {
		if d > 0 {
			pl.timeout = d
		}
	}
}

// WithMetrics replaces [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(pl *Pipeline) {
		if m != nil {
			pl.metrics = m
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(pl *Pipeline) {
		if l != nil {
			pl.log = l
		}
	}
}

// New returns a Pipeline. A nil synthesiser makes every reply text-only.
func New(s stt.Provider, t tts.Provider, opts ...Option) *Pipeline {
	p := &Pipeline{
		stt:     s,
		tts:     t,
		timeout: DefaultBackendTimeout,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Handle controls a running turn.
type Handle struct {
	turn   *Turn
	cancel context.CancelFunc
	done   chan struct{}
}

// Turn returns the turn this handle runs.
func (h *Handle) Turn() *Turn { return h.turn }

// Cancel marks the turn cancelled and closes its chat stream. It does not
// wait; see [Handle.CancelAndWait].
func (h *Handle) Cancel() {
	h.turn.cancelled.Store(true)
	h.cancel()
}

// Wait blocks until the turn's goroutine has returned.
func (h *Handle) Wait() { <-h.done }

// Done is closed when the turn's goroutine has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// CancelAndWait cancels the turn and waits until nothing more of it can
// reach the sink.
func (h *Handle) CancelAndWait() {
	h.Cancel()
	h.Wait()
}

// Run starts t on a new goroutine. Chat replies stream through adapter and
// all output goes to sink.
func (p *Pipeline) Run(ctx context.Context, t *Turn, adapter chat.Adapter, sink Sink) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{turn: t, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()
		p.run(ctx, t, adapter, sink)
	}()
	return h
}

func (p *Pipeline) run(ctx context.Context, t *Turn, adapter chat.Adapter, sink Sink) {
	start := time.Now()
	ctx, span := observe.StartTurnSpan(ctx, t.SessionID, t.ID, t.Kind.String())
	defer span.End()

	r := &turnRun{
		p:    p,
		t:    t,
		sink: sink,
		log: p.log.With(
			"session_id", t.SessionID,
			"turn_id", t.ID,
			"kind", t.Kind.String(),
			"trace_id", observe.CorrelationID(ctx),
		),
	}

	outcome := r.execute(ctx, adapter)
	if t.Cancelled() {
		outcome = observe.OutcomeCancelled
	}
	if outcome != observe.OutcomeCancelled {
		t.done.Store(true)
	}

	span.SetAttributes(attribute.String("turn.outcome", outcome))
	p.metrics.RecordTurn(context.WithoutCancel(ctx), outcome, time.Since(start))
	r.log.Debug("turn finished", "outcome", outcome, "duration", time.Since(start))
}

// turnRun is the state of one executing turn.
type turnRun struct {
	p    *Pipeline
	t    *Turn
	sink Sink
	log  *slog.Logger
}

func (r *turnRun) execute(ctx context.Context, adapter chat.Adapter) string {
	switch r.t.Kind {
	case KindImage:
		return r.image(ctx)
	case KindAudio:
		text, outcome := r.transcribe(ctx)
		if text == "" {
			return outcome
		}
		return r.chat(ctx, adapter, text)
	default:
		text := strings.TrimSpace(r.t.Text)
		if text == "" {
			return observe.OutcomeEmpty
		}
		return r.chat(ctx, adapter, text)
	}
}

// stopped reports whether nothing more may be emitted for this turn.
func (r *turnRun) stopped(ctx context.Context) bool {
	return r.t.Cancelled() || ctx.Err() != nil
}

// emit sends ev unless the turn was cancelled or the client is gone.
func (r *turnRun) emit(ctx context.Context, ev Event) bool {
	if r.stopped(ctx) || !r.sink.Connected() {
		return false
	}
	if err := r.sink.SendEvent(ctx, ev); err != nil {
		r.log.Debug("send event failed", "type", ev.Type, "err", err)
		return false
	}
	return true
}

// fail reports err to the client and ends the turn.
func (r *turnRun) fail(ctx context.Context, err error) string {
	if r.stopped(ctx) {
		return observe.OutcomeCancelled
	}
	r.log.Warn("turn failed", "err", err)
	r.emit(ctx, ErrorEvent(err))
	return observe.OutcomeFailed
}

// callBackend runs fn under the backend timeout. Failures come back as
// *types.BackendError; a call aborted by the turn's own cancellation returns
// the context error unwrapped and is not recorded.
func callBackend[R any](ctx context.Context, r *turnRun, stage types.Stage, fn func(context.Context) (R, error)) (R, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.p.timeout)
	defer cancel()

	start := time.Now()
	res, err := fn(callCtx)
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		err = &types.BackendError{Stage: stage, Err: err}
	}
	r.p.metrics.RecordStage(ctx, string(stage), time.Since(start), err)
	return res, err
}

func (r *turnRun) image(ctx context.Context) string {
	if r.p.images == nil {
		return r.fail(ctx, &types.BackendError{Stage: types.StageImage, Err: errors.New("image generation is not configured")})
	}
	png, err := callBackend(ctx, r, types.StageImage, func(c context.Context) ([]byte, error) {
		return r.p.images.Generate(c, r.t.ImagePrompt)
	})
	if r.stopped(ctx) {
		return observe.OutcomeCancelled
	}
	if err != nil {
		return r.fail(ctx, err)
	}
	if !r.emit(ctx, ImageEvent(png, r.t.ImagePrompt)) {
		return observe.OutcomeCancelled
	}
	return observe.OutcomeCompleted
}

// transcribe returns the recognised text, or "" and the outcome that ended
// the turn.
func (r *turnRun) transcribe(ctx context.Context) (string, string) {
	opts := stt.Options{Language: r.p.language, Translate: r.t.Translate}
	text, err := callBackend(ctx, r, types.StageTranscribe, func(c context.Context) (string, error) {
		return r.p.stt.Transcribe(c, r.t.Audio, opts)
	})
	if r.stopped(ctx) {
		return "", observe.OutcomeCancelled
	}
	if err != nil {
		return "", r.fail(ctx, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		r.log.Debug("empty transcript", "audio_bytes", len(r.t.Audio))
		return "", observe.OutcomeEmpty
	}
	r.t.setTranscript(text)
	if !r.emit(ctx, TranscriptionEvent(text)) {
		return "", observe.OutcomeCancelled
	}
	return text, ""
}

// chat streams the reply to text. The backend timeout applies to opening the
// stream and to each wait for the next fragment; time spent synthesising is
// not counted.
func (r *turnRun) chat(ctx context.Context, adapter chat.Adapter, text string) string {
	timeout := r.p.timeout
	chatCtx, cancelChat := context.WithCancelCause(ctx)
	defer cancelChat(nil)
	idle := time.AfterFunc(timeout, func() { cancelChat(context.DeadlineExceeded) })
	defer idle.Stop()

	start := time.Now()
	timedOut := func() bool {
		return ctx.Err() == nil && errors.Is(context.Cause(chatCtx), context.DeadlineExceeded)
	}
	chatFailed := func(err error) string {
		if timedOut() && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("no reply within %s: %w", timeout, context.DeadlineExceeded)
		}
		berr := &types.BackendError{Stage: types.StageChat, Err: err}
		r.p.metrics.RecordStage(ctx, string(types.StageChat), time.Since(start), berr)
		return r.fail(ctx, berr)
	}

	ch, err := adapter.StreamChat(chatCtx, text)
	if err != nil {
		if r.stopped(ctx) {
			return observe.OutcomeCancelled
		}
		return chatFailed(err)
	}

loop:
	for {
		select {
		case <-ctx.Done():
			return observe.OutcomeCancelled
		case c, ok := <-ch:
			if !ok {
				break loop
			}
			if r.stopped(ctx) || !r.sink.Connected() {
				return observe.OutcomeCancelled
			}
			if c.Err != nil {
				return chatFailed(c.Err)
			}
			idle.Stop()
			r.t.appendText(c.Text)
			if endsSentence(c.Text) {
				r.flush(ctx)
			}
			idle.Reset(timeout)
		}
	}

	if r.stopped(ctx) {
		return observe.OutcomeCancelled
	}
	if timedOut() {
		return chatFailed(context.DeadlineExceeded)
	}
	r.p.metrics.RecordStage(ctx, string(types.StageChat), time.Since(start), nil)

	r.flush(ctx)
	if r.stopped(ctx) {
		return observe.OutcomeCancelled
	}
	return observe.OutcomeCompleted
}

// flush emits the buffered sentence and its audio. A synthesis failure only
// costs the audio.
func (r *turnRun) flush(ctx context.Context) {
	sentence := strings.TrimSpace(r.t.takeSentence())
	if sentence == "" {
		return
	}
	if !r.emit(ctx, ChatEvent(sentence)) {
		return
	}
	r.p.metrics.SentencesFlushed.Add(ctx, 1)
	if r.p.tts == nil {
		return
	}

	audio, err := callBackend(ctx, r, types.StageSynthesize, func(c context.Context) ([]byte, error) {
		return r.p.tts.Synthesize(c, sentence, r.p.voice)
	})
	if r.stopped(ctx) {
		return
	}
	if err != nil {
		r.log.Warn("synthesis failed, sending text only", "sentence", sentence, "err", err)
		return
	}
	if len(audio) == 0 || !r.sink.Connected() {
		return
	}
	if err := r.sink.SendAudio(ctx, audio); err != nil {
		r.log.Debug("send audio failed", "err", err)
	}
}
