// Package session runs one call's audio bridge to the realtime API: a
// producer reading capture frames into a bounded queue, a consumer sending
// them over the connection, and a receiver dispatching server events.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"scam-call-guard/internal/models"
	"scam-call-guard/internal/notify"
	"scam-call-guard/internal/observability/logging"
	"scam-call-guard/internal/observability/metrics"
	"scam-call-guard/internal/service/assessment"
	"scam-call-guard/internal/service/capture"
	"scam-call-guard/internal/service/lifecycle"
	"scam-call-guard/internal/service/queue"
	"scam-call-guard/internal/service/realtime"
	"scam-call-guard/internal/store"
)

// Connection is the part of realtime.Conn the session uses.
type Connection interface {
	Send(msg any, timeout time.Duration) error
	SendSync(msg any, timeout time.Duration) error
	Receive() ([]byte, error)
	Close()
}

// ConnectFunc opens a connection, applying its own retry policy.
type ConnectFunc func(ctx context.Context) (Connection, error)

// Dial adapts a realtime.Dialer to a ConnectFunc.
func Dial(d *realtime.Dialer) ConnectFunc {
	return func(ctx context.Context) (Connection, error) {
		conn, err := d.Connect(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Store persists assessments.
type Store interface {
	SaveCall(ctx context.Context, rec store.CallRecord) error
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, alert notify.Alert) error
}

// Publisher emits assessment events.
type Publisher interface {
	PublishAssessment(ctx context.Context, key string, event any) error
}

// Info is the mutable call metadata. It can change while the session runs.
type Info struct {
	CallID           string
	PhoneNumber      string
	DestinationToken string
	Instructions     string
}

// Config holds session tuning.
type Config struct {
	Mode    capture.Mode
	OwnerID string

	QueueSize  int
	PutTimeout time.Duration
	GetTimeout time.Duration

	SendTimeout      time.Duration
	ConfigureTimeout time.Duration

	PersistTimeout time.Duration
	NotifyTimeout  time.Duration
	PublishTimeout time.Duration
	JoinTimeout    time.Duration

	// EffectQueueSize bounds assessments waiting for their side effects.
	EffectQueueSize int

	Thresholds assessment.Thresholds

	// Playback writes model audio to the output sink. Off by default.
	Playback bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Mode:             capture.ModeProcess,
		OwnerID:          "user-1234",
		QueueSize:        100,
		PutTimeout:       100 * time.Millisecond,
		GetTimeout:       2 * time.Second,
		SendTimeout:      5 * time.Second,
		ConfigureTimeout: 5 * time.Second,
		PersistTimeout:   35 * time.Second,
		NotifyTimeout:    10 * time.Second,
		PublishTimeout:   5 * time.Second,
		JoinTimeout:      10 * time.Second,
		EffectQueueSize:  16,
		Thresholds:       assessment.DefaultThresholds(),
	}
}

// Deps are the session's collaborators. Store, Notifier and Publisher may be nil.
type Deps struct {
	Connect   ConnectFunc
	Capture   capture.Opener
	Store     Store
	Notifier  Notifier
	Publisher Publisher
}

// Session is one call's realtime bridge. Run drives it; Stop, Update and the
// accessors are safe from any goroutine.
type Session struct {
	id   string
	cfg  Config
	deps Deps

	info    atomic.Pointer[Info]
	running atomic.Bool
	lc      *lifecycle.Lifecycle
	turns   *lifecycle.Generator

	mu     sync.Mutex
	cancel context.CancelFunc
	conn   Connection

	effectsMu     sync.Mutex
	effects       chan effect
	effectsClosed bool

	done chan struct{}

	framesDropped atomic.Int64

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates an idle session.
func New(cfg Config, deps Deps, info Info) *Session {
	id := uuid.NewString()
	s := &Session{
		id:      id,
		cfg:     cfg,
		deps:    deps,
		lc:      lifecycle.New(),
		turns:   lifecycle.NewGenerator(),
		done:    make(chan struct{}),
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithSession(info.CallID, id),
	}
	s.info.Store(&info)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the lifecycle state.
func (s *Session) State() lifecycle.State { return s.lc.State() }

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// Info returns the current call metadata.
func (s *Session) Info() Info { return *s.info.Load() }

// DroppedFrames returns the number of frames dropped on a full queue or send timeout.
func (s *Session) DroppedFrames() int64 { return s.framesDropped.Load() }

// Update replaces the call metadata. Events dispatched after Update see the
// new values. Instructions already sent to the server are not re-sent.
func (s *Session) Update(info Info) {
	s.info.Store(&info)
	s.logger.Info().
		Str("callId", info.CallID).
		Str("phoneNumber", info.PhoneNumber).
		Bool("hasToken", info.DestinationToken != "").
		Msg("Session info updated")
}

// Stop requests teardown. Safe before, during and after Run, and more than once.
func (s *Session) Stop() {
	if s.lc.Stop() {
		s.logger.Info().Msg("Session stop requested")
	}
	s.running.Store(false)

	s.mu.Lock()
	cancel, conn := s.cancel, s.conn
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
}

// Run connects, opens capture, configures the remote session and streams
// until a task exits or Stop is called. It returns an error only when setup fails.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.lc.Connect(); err != nil {
		s.lc.Finish()
		s.logger.Info().Err(err).Msg("Session stopped before start")
		return nil
	}

	started := time.Now()
	s.metrics.RecordSessionStart()
	outcome := "stopped"
	defer func() {
		s.metrics.RecordSessionEnd(outcome, time.Since(started).Seconds())
	}()

	conn, src, sink, err := s.setup(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.lc.Finish()
			s.logger.Info().Err(err).Msg("Session setup interrupted by stop")
			return nil
		}
		outcome = "failed"
		s.lc.Fail()
		s.lc.Finish()
		s.logger.Error().Err(err).Msg("Session setup failed")
		return err
	}

	if err := s.lc.Stream(); err != nil {
		s.logger.Info().Err(err).Msg("Session stopped during setup")
		s.release(conn, src, sink)
		s.lc.Finish()
		return nil
	}
	s.running.Store(true)
	s.logger.Info().Str("mode", string(s.cfg.Mode)).Msg("Session streaming")

	effectsDone := s.startEffects()

	q := queue.New[capture.Frame](s.cfg.QueueSize)
	halt := func() {
		s.running.Store(false)
		s.lc.Stop()
		cancel()
		conn.Close()
	}

	g := new(errgroup.Group)
	g.Go(func() error {
		defer halt()
		return s.produce(src, q)
	})
	g.Go(func() error {
		defer halt()
		return s.consume(conn, q)
	})
	g.Go(func() error {
		defer halt()
		return s.receive(conn, sink)
	})

	<-ctx.Done()
	halt()

	waitErr := make(chan error, 1)
	go func() { waitErr <- g.Wait() }()

	// The producer may be blocked in a read only closing the source can end.
	if err := src.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Error closing capture source")
	}

	select {
	case err := <-waitErr:
		if err != nil {
			outcome = "error"
			s.logger.Error().Err(err).Msg("Session task failed")
		}
	case <-time.After(s.cfg.JoinTimeout):
		outcome = "timeout"
		s.logger.Warn().Dur("timeout", s.cfg.JoinTimeout).Msg("Session tasks did not exit in time")
	}

	if err := sink.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Error closing output sink")
	}
	s.closeEffects()
	select {
	case <-effectsDone:
	case <-time.After(s.cfg.JoinTimeout):
		s.logger.Warn().Msg("Assessment side effects still running at teardown")
	}

	s.lc.Finish()
	s.logger.Info().
		Int64("framesDropped", s.framesDropped.Load()).
		Dur("duration", time.Since(started)).
		Msg("Session ended")
	return nil
}

func (s *Session) setup(ctx context.Context) (Connection, capture.Source, capture.Sink, error) {
	conn, err := s.deps.Connect(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	src, err := s.deps.Capture.Open(ctx, s.cfg.Mode)
	if err != nil {
		conn.Close()
		return nil, nil, nil, fmt.Errorf("open capture: %w", err)
	}

	sink, err := s.deps.Capture.OpenOutput(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Output unavailable, discarding model audio")
		sink = &capture.DiscardSink{}
	}

	update := realtime.NewSessionUpdate(realtime.DefaultSessionConfig(s.Info().Instructions))
	if err := conn.SendSync(update, s.cfg.ConfigureTimeout); err != nil {
		s.release(conn, src, sink)
		return nil, nil, nil, fmt.Errorf("configure session: %w", err)
	}
	s.logger.Info().Msg("Session configured")

	return conn, src, sink, nil
}

func (s *Session) release(conn Connection, src capture.Source, sink capture.Sink) {
	conn.Close()
	if err := src.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Error closing capture source")
	}
	if err := sink.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Error closing output sink")
	}
}

// produce reads frames into q. A full queue drops the frame.
func (s *Session) produce(src capture.Source, q *queue.Queue[capture.Frame]) error {
	for s.running.Load() {
		frame, err := src.Read()
		if err != nil {
			if errors.Is(err, io.EOF) || !s.running.Load() {
				s.logger.Info().Msg("Capture source exhausted")
				return nil
			}
			return fmt.Errorf("capture read: %w", err)
		}
		if len(frame) == 0 {
			s.logger.Info().Msg("Capture source exhausted")
			return nil
		}
		s.metrics.RecordFrameCaptured()

		if err := q.Put(frame, s.cfg.PutTimeout); err != nil {
			s.metrics.RecordFrameDropped("queue_full")
			if n := s.framesDropped.Add(1); n%100 == 1 {
				s.logger.Warn().Int64("dropped", n).Msg("Frame queue full, dropping audio")
			}
		}
	}
	return nil
}

// consume sends queued frames. A send timeout drops the frame; a closed
// connection ends the loop.
func (s *Session) consume(conn Connection, q *queue.Queue[capture.Frame]) error {
	for s.running.Load() {
		frame, err := q.Get(s.cfg.GetTimeout)
		if err != nil {
			continue
		}

		err = conn.Send(realtime.NewAudioAppend(frame), s.cfg.SendTimeout)
		switch {
		case err == nil:
			s.metrics.RecordFrameSent(len(frame))
		case errors.Is(err, realtime.ErrSendTimeout):
			s.metrics.RecordSendTimeout()
			s.metrics.RecordFrameDropped("send_timeout")
			s.framesDropped.Add(1)
			s.logger.Warn().Msg("Audio send timed out, frame dropped")
		case errors.Is(err, realtime.ErrConnectionClosed):
			s.logger.Info().Err(err).Msg("Connection closed, audio consumer exiting")
			return nil
		default:
			return fmt.Errorf("send audio: %w", err)
		}
	}
	return nil
}

// receive dispatches inbound events in arrival order.
func (s *Session) receive(conn Connection, sink capture.Sink) error {
	for s.running.Load() {
		data, err := conn.Receive()
		if err != nil {
			if errors.Is(err, realtime.ErrConnectionClosed) || !s.running.Load() {
				s.logger.Info().Err(err).Msg("Connection closed, receiver exiting")
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		s.dispatch(data, sink)
	}
	return nil
}

func (s *Session) dispatch(data []byte, sink capture.Sink) {
	ev, err := realtime.ParseServerEvent(data)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Ignoring undecodable server event")
		return
	}
	s.metrics.RecordServerEvent(ev.EventType())

	switch e := ev.(type) {
	case realtime.InputTranscriptionCompleted:
		s.logger.Info().Str("transcript", e.Transcript).Msg("Caller transcript")
	case realtime.AudioTranscriptDone:
		s.logger.Info().Str("transcript", e.Transcript).Msg("Assistant transcript")
		s.handleTranscript(e.Transcript)
	case realtime.AudioDelta:
		s.metrics.RecordPlayback(len(e.Audio))
		if s.cfg.Playback {
			if err := sink.Write(e.Audio); err != nil {
				s.logger.Debug().Err(err).Msg("Playback write failed")
			}
		}
	case realtime.ServerError:
		s.metrics.RecordServerError(e.Detail.Type)
		s.logger.Error().
			Str("type", e.Detail.Type).
			Str("code", e.Detail.Code).
			Str("param", e.Detail.Param).
			Str("eventId", e.Detail.EventID).
			Msg(e.Detail.Message)
	}
}

// effect is one assessment waiting for persistence, notification and publishing.
type effect struct {
	turnID     string
	info       Info
	assessment assessment.Assessment
	category   assessment.Category
	notifyUser bool
}

// startEffects starts the worker that applies side effects one assessment at
// a time, in arrival order. The returned channel closes when it exits.
func (s *Session) startEffects() <-chan struct{} {
	size := s.cfg.EffectQueueSize
	if size < 1 {
		size = 1
	}
	ch := make(chan effect, size)

	s.effectsMu.Lock()
	s.effects = ch
	s.effectsMu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range ch {
			s.applyEffects(e)
		}
	}()
	return done
}

// closeEffects stops accepting assessments. Queued ones still run.
func (s *Session) closeEffects() {
	s.effectsMu.Lock()
	defer s.effectsMu.Unlock()
	if s.effectsClosed {
		return
	}
	s.effectsClosed = true
	if s.effects != nil {
		close(s.effects)
	}
}

// enqueueEffect hands e to the worker without blocking the receive loop.
func (s *Session) enqueueEffect(e effect) {
	s.effectsMu.Lock()
	defer s.effectsMu.Unlock()

	if s.effectsClosed || s.effects == nil {
		s.metrics.RecordAssessmentDropped()
		s.logger.Warn().Str("turnId", e.turnID).Msg("Session tearing down, assessment side effects skipped")
		return
	}
	select {
	case s.effects <- e:
	default:
		s.metrics.RecordAssessmentDropped()
		s.logger.Warn().
			Str("turnId", e.turnID).
			Int("score", e.assessment.Score).
			Msg("Effect queue full, assessment side effects skipped")
	}
}

// handleTranscript turns an assessment transcript into side effects that run
// off the receive loop.
func (s *Session) handleTranscript(text string) {
	a, ok := assessment.Parse(text)
	if !ok {
		return
	}

	info := s.Info()
	cat := s.cfg.Thresholds.Categorize(a.Score)
	notifyUser := s.cfg.Thresholds.ShouldNotify(a.Score)
	turnID := s.turns.Next(info.CallID)
	s.metrics.RecordAssessment(cat.Label)

	s.logger.Info().
		Str("turnId", turnID).
		Str("label", a.Label).
		Str("category", cat.Label).
		Int("score", a.Score).
		Bool("notify", notifyUser).
		Msg("Assessment received")

	s.enqueueEffect(effect{
		turnID:     turnID,
		info:       info,
		assessment: a,
		category:   cat,
		notifyUser: notifyUser,
	})
}

func (s *Session) applyEffects(e effect) {
	turnID, info, a, cat := e.turnID, e.info, e.assessment, e.category
	now := time.Now().UTC()

	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
		err := s.deps.Store.SaveCall(ctx, store.CallRecord{
			UserUUID:    s.cfg.OwnerID,
			CallID:      info.CallID,
			PhoneNumber: info.PhoneNumber,
			ScamScore:   a.Score,
			Response:    a.Label,
			Timestamp:   now,
		})
		cancel()
		if err != nil {
			s.logger.Error().Err(err).Str("turnId", turnID).Msg("Failed to persist assessment")
		}
	}

	notified := false
	if e.notifyUser && s.deps.Notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.NotifyTimeout)
		err := s.deps.Notifier.Notify(ctx, notify.Alert{
			Token:       info.DestinationToken,
			CallID:      info.CallID,
			PhoneNumber: info.PhoneNumber,
			Score:       a.Score,
			Label:       a.Label,
			Category:    cat,
			Timestamp:   now,
		})
		cancel()
		if err != nil {
			s.logger.Error().Err(err).Str("turnId", turnID).Msg("Failed to send notification")
		} else {
			notified = true
		}
	}

	if s.deps.Publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PublishTimeout)
		err := s.deps.Publisher.PublishAssessment(ctx, info.CallID, models.AssessmentEvent{
			EventType:   models.EventTypeAssessment,
			EventID:     uuid.NewString(),
			TurnID:      turnID,
			CallID:      info.CallID,
			SessionID:   s.id,
			OwnerID:     s.cfg.OwnerID,
			PhoneNumber: info.PhoneNumber,
			Label:       a.Label,
			Category:    cat.Label,
			Score:       a.Score,
			Notified:    notified,
			Timestamp:   now.UnixMilli(),
		})
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Str("turnId", turnID).Msg("Failed to publish assessment")
		}
	}
}
