package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/rbmirror/internal/applier"
	"github.com/danmuck/rbmirror/internal/events"
	"github.com/danmuck/rbmirror/internal/mirror"
	"github.com/danmuck/rbmirror/internal/observability"
	"github.com/danmuck/rbmirror/internal/protocol/frame"
	"github.com/danmuck/rbmirror/internal/protocol/renderbatch"
	"github.com/danmuck/rbmirror/internal/protocol/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrClosed          = errors.New("session: closed")
	ErrDesynchronized  = errors.New("session: mirror desynchronized, resync required")
	ErrBatchOutOfOrder = errors.New("session: batch out of order")
	ErrInboxFull       = errors.New("session: inbox full")
)

// Outcome classifies one ApplyPayload call.
type Outcome string

const (
	OutcomeApplied    Outcome = Outcome(observability.OutcomeApplied)
	OutcomeDuplicate  Outcome = Outcome(observability.OutcomeDuplicate)
	OutcomeMalformed  Outcome = Outcome(observability.OutcomeMalformed)
	OutcomeOutOfOrder Outcome = Outcome(observability.OutcomeOutOfOrder)
	OutcomeFailed     Outcome = Outcome(observability.OutcomeFailed)
	OutcomeRefused    Outcome = Outcome(observability.OutcomeRefused)
)

// BatchReport describes what happened to one payload.
type BatchReport struct {
	BatchID  uint64
	Outcome  Outcome
	Result   applier.Result
	Duration time.Duration
}

// Status is a point-in-time view of the session.
type Status struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	Closed         bool      `json:"closed"`
	Sequenced      bool      `json:"sequenced"`
	LastBatchID    uint64    `json:"last_batch_id"`
	BatchesApplied uint64    `json:"batches_applied"`
	Desynchronized bool      `json:"desynchronized"`
	LastError      string    `json:"last_error,omitempty"`
	Nodes          int       `json:"nodes"`
	Bindings       int       `json:"bindings"`
	RetiredEvents  int       `json:"retired_events"`
	InboxLen       int       `json:"inbox_len"`
	OutboxLen      int       `json:"outbox_len"`
}

// Session owns one mirror tree and its event router. Batch application
// takes the write lock, so readers never observe a half-applied batch.
type Session struct {
	id        string
	cfg       Config
	logger    zerolog.Logger
	applier   *applier.Applier
	startedAt time.Time

	mu        sync.RWMutex
	tree      *mirror.Tree
	router    *events.Router
	sequenced bool
	lastBatch uint64
	applied   uint64
	desync    error
	closed    bool

	messageID atomic.Uint64
	inbox     chan []byte
	outbox    *Outbox
	done      chan struct{}
	closeOnce sync.Once
}

func New(cfg Config) *Session {
	cfg = cfg.normalized()
	id := uuid.NewString()
	logger := observability.Component("session").With().Str("session_id", id).Logger()
	return &Session{
		id:        id,
		cfg:       cfg,
		logger:    logger,
		applier:   applier.New(observability.Component("applier").With().Str("session_id", id).Logger()),
		startedAt: time.Now(),
		tree:      mirror.NewTree(),
		router:    events.NewRouter(),
		inbox:     make(chan []byte, cfg.InboxDepth),
		outbox:    NewOutbox(cfg.OutboxDepth),
		done:      make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Config() Config { return s.cfg }

// Outbox is drained by the transport.
func (s *Session) Outbox() *Outbox { return s.outbox }

// Enqueue hands a raw render-batch payload to the Run loop without
// blocking.
func (s *Session) Enqueue(payload []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.inbox <- payload:
		return nil
	default:
		return ErrInboxFull
	}
}

// EnqueueFrame unwraps a RenderBatch transport frame and enqueues its
// payload.
func (s *Session) EnqueueFrame(f frame.Frame) error {
	if f.Header.MessageType != schema.MsgRenderBatch {
		return fmt.Errorf("session: inbound %s frame not accepted", schema.MessageName(f.Header.MessageType))
	}
	payload, err := DecodeRenderBatchFrame(f, s.cfg.Frame)
	if err != nil {
		return err
	}
	return s.Enqueue(payload)
}

// Run applies queued payloads one at a time until ctx is done or the
// session is closed. Per-batch failures are logged and acked; they do not
// stop the loop.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info().Msg("session loop started")
	defer s.logger.Info().Msg("session loop stopped")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case payload := <-s.inbox:
			if _, err := s.ApplyPayload(payload); err != nil && !errors.Is(err, ErrClosed) {
				s.logger.Warn().Err(err).Msg("batch not applied")
			}
		}
	}
}

// ApplyPayload decodes and applies one render batch synchronously. Decoding
// happens before the write lock is taken and never touches the tree.
func (s *Session) ApplyPayload(payload []byte) (BatchReport, error) {
	start := time.Now()
	batch, err := renderbatch.DecodeWithLimits(payload, s.cfg.Batch)
	if err != nil {
		report := BatchReport{Outcome: OutcomeMalformed, Duration: time.Since(start)}
		observability.RecordBatch(string(report.Outcome), 0, report.Duration)
		s.logger.Warn().Err(err).Int("bytes", len(payload)).Msg("malformed render batch")
		return report, err
	}
	return s.applyDecoded(batch, start)
}

func (s *Session) applyDecoded(batch *renderbatch.Batch, start time.Time) (BatchReport, error) {
	report := BatchReport{BatchID: batch.ID}
	err := s.apply(batch, &report)
	report.Duration = time.Since(start)
	observability.RecordBatch(string(report.Outcome), report.Result.Edits, report.Duration)
	if !errors.Is(err, ErrClosed) {
		s.queueAck(batch.ID, err)
	}
	return report, err
}

func (s *Session) apply(batch *renderbatch.Batch, report *BatchReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		report.Outcome = OutcomeRefused
		return ErrClosed
	}
	if s.desync != nil {
		report.Outcome = OutcomeRefused
		return fmt.Errorf("%w: %v", ErrDesynchronized, s.desync)
	}
	if s.sequenced {
		switch {
		case batch.ID <= s.lastBatch:
			report.Outcome = OutcomeDuplicate
			s.logger.Debug().Uint64("batch_id", batch.ID).Uint64("last_batch_id", s.lastBatch).Msg("duplicate batch re-acked")
			return nil
		case batch.ID != s.lastBatch+1:
			report.Outcome = OutcomeOutOfOrder
			return fmt.Errorf("%w: got %d, expected %d", ErrBatchOutOfOrder, batch.ID, s.lastBatch+1)
		}
	}

	res, err := s.applier.Apply(batch, s.tree, s.router)
	report.Result = res
	if err != nil {
		report.Outcome = OutcomeFailed
		s.desync = err
		s.logger.Error().Err(err).Uint64("batch_id", batch.ID).Msg("mirror desynchronized")
		return err
	}
	report.Outcome = OutcomeApplied
	s.sequenced = true
	s.lastBatch = batch.ID
	s.applied++
	return nil
}

func (s *Session) queueAck(batchID uint64, applyErr error) {
	ack := RenderAck{BatchID: batchID}
	if applyErr != nil {
		ack.Error = applyErr.Error()
	}
	raw, err := EncodeRenderAckFrame(s.messageID.Add(1), ack, s.cfg.Frame)
	if err != nil {
		s.logger.Error().Err(err).Uint64("batch_id", batchID).Msg("encode render ack")
		return
	}
	_, err = s.outbox.Push(Outbound{MessageType: schema.MsgRenderAck, BatchID: batchID, Error: ack.Error, Frame: raw})
	if err != nil {
		s.logger.Warn().Err(err).Uint64("batch_id", batchID).Msg("render ack dropped")
	}
}

// Resync discards the tree and router and clears the batch sequence. The
// next batch received establishes a new sequence.
func (s *Session) Resync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.tree = mirror.NewTree()
	s.router = events.NewRouter()
	s.sequenced = false
	s.lastBatch = 0
	s.desync = nil
	s.logger.Info().Msg("session resynchronized")
	return nil
}

// Close stops Run and discards the tree. A batch being applied finishes
// first.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		s.tree = nil
		s.router = nil
		s.mu.Unlock()
		s.logger.Info().Msg("session closed")
	})
}

func (s *Session) readable() error {
	if s.closed {
		return ErrClosed
	}
	if s.desync != nil {
		return fmt.Errorf("%w: %v", ErrDesynchronized, s.desync)
	}
	return nil
}

func notFound(op, logicalID string) error {
	observability.RecordConsistencyWarning(op)
	return &mirror.ConsistencyWarning{Op: op, Index: -1, Reason: fmt.Sprintf("no element with id %q", logicalID)}
}

// FindElementByID returns a snapshot of the attached element whose id
// attribute is logicalID.
func (s *Session) FindElementByID(logicalID string) (mirror.SnapshotNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.readable(); err != nil {
		return mirror.SnapshotNode{}, err
	}
	el, ok := s.tree.FindElementByID(logicalID)
	if !ok {
		err := notFound("find", logicalID)
		s.logger.Warn().Err(err).Msg("lookup miss")
		return mirror.SnapshotNode{}, err
	}
	return s.tree.Snapshot(el.ID())
}

// Resolve returns the descriptor bound for eventName on the element with
// id logicalID.
func (s *Session) Resolve(logicalID, eventName string) (mirror.EventDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.readable(); err != nil {
		return mirror.EventDescriptor{}, err
	}
	el, ok := s.tree.FindElementByID(logicalID)
	if !ok {
		return mirror.EventDescriptor{}, notFound("resolve", logicalID)
	}
	d, ok := s.router.Resolve(el.ID(), eventName)
	if !ok {
		return mirror.EventDescriptor{}, &events.UnknownEventError{Node: el.ID(), EventName: eventName}
	}
	return d, nil
}

// Dispatch packages an interaction on the element with id logicalID and
// queues it for the transport. It does not wait for the server.
func (s *Session) Dispatch(logicalID, eventName string, args []byte) (events.OutboundCall, error) {
	s.mu.RLock()
	if err := s.readable(); err != nil {
		s.mu.RUnlock()
		return events.OutboundCall{}, err
	}
	el, ok := s.tree.FindElementByID(logicalID)
	if !ok {
		s.mu.RUnlock()
		observability.RecordDispatch(false)
		return events.OutboundCall{}, notFound("dispatch", logicalID)
	}
	call, err := s.router.Dispatch(el.ID(), eventName, args)
	s.mu.RUnlock()
	if err != nil {
		observability.RecordDispatch(false)
		return events.OutboundCall{}, err
	}
	return call, s.send(call)
}

// DispatchNode is Dispatch addressed by arena handle.
func (s *Session) DispatchNode(node mirror.NodeID, eventName string, args []byte) (events.OutboundCall, error) {
	s.mu.RLock()
	if err := s.readable(); err != nil {
		s.mu.RUnlock()
		return events.OutboundCall{}, err
	}
	call, err := s.router.Dispatch(node, eventName, args)
	s.mu.RUnlock()
	if err != nil {
		observability.RecordDispatch(false)
		return events.OutboundCall{}, err
	}
	return call, s.send(call)
}

func (s *Session) send(call events.OutboundCall) error {
	raw, err := EncodeDispatchFrame(s.messageID.Add(1), call, s.cfg.CompressAbove, s.cfg.Frame)
	if err != nil {
		observability.RecordDispatch(false)
		return err
	}
	if _, err := s.outbox.Push(Outbound{MessageType: schema.MsgDispatchEvent, EventID: call.TargetEventID, Frame: raw}); err != nil {
		observability.RecordDispatch(false)
		return err
	}
	observability.RecordDispatch(true)
	s.logger.Debug().Uint64("event_id", call.TargetEventID).Str("event", call.EventName).Msg("dispatch queued")
	return nil
}

// Snapshot copies the whole tree.
func (s *Session) Snapshot() (mirror.SnapshotNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.readable(); err != nil {
		return mirror.SnapshotNode{}, err
	}
	return s.tree.Snapshot(s.tree.Root())
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		ID:             s.id,
		StartedAt:      s.startedAt,
		Closed:         s.closed,
		Sequenced:      s.sequenced,
		LastBatchID:    s.lastBatch,
		BatchesApplied: s.applied,
		Desynchronized: s.desync != nil,
		InboxLen:       len(s.inbox),
		OutboxLen:      s.outbox.Len(),
	}
	if s.desync != nil {
		st.LastError = s.desync.Error()
	}
	if !s.closed {
		st.Nodes = s.tree.Len()
		st.Bindings = s.router.Len()
		st.RetiredEvents = s.router.RetiredCount()
	}
	return st
}
