package tts

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-tts/internal/bus"
	"github.com/loqalabs/loqa-tts/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service answers synthesis requests on the bus. Replies use the same
// envelopes as the HTTP embedded mode.
type Service struct {
	bus      *bus.Client
	pipeline *Pipeline
	timeout  time.Duration
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger
}

func NewService(parent context.Context, busClient *bus.Client, pipeline *Pipeline, timeout time.Duration, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Service{
		bus:      busClient,
		pipeline: pipeline,
		timeout:  timeout,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "tts-service")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().QueueSubscribe(protocol.SubjectSynthesize, protocol.QueueSynthesize, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("listening for synthesis requests", slog.String("subject", protocol.SubjectSynthesize))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.sub != nil && s.sub.IsValid() }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.SynthesisRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode synthesis request", slogError(err))
		s.respond(msg, protocol.SynthesisReply{Failure: &protocol.ErrorEnvelope{Error: "invalid request body"}})
		return
	}
	if req.Text == nil {
		s.respond(msg, protocol.SynthesisReply{Failure: &protocol.ErrorEnvelope{Error: ErrEmptyText.Error()}})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()

		id, res, err := s.pipeline.Synthesize(ctx, RequestFromProtocol(req))
		if err != nil {
			env := ErrorEnvelope(id, err)
			s.respond(msg, protocol.SynthesisReply{Failure: &env})
			return
		}
		env := AudioEnvelope(res)
		s.respond(msg, protocol.SynthesisReply{Audio: &env})
	}()
}

func (s *Service) respond(msg *nats.Msg, reply protocol.SynthesisReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("failed to marshal synthesis reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send synthesis reply", slogError(err))
	}
}

// RequestFromProtocol maps the wire request onto a pipeline request.
// Missing hints stay zero and pick up defaults in the pipeline.
func RequestFromProtocol(req protocol.SynthesisRequest) Request {
	out := Request{Speaker: req.Speaker}
	if req.Text != nil {
		out.Text = *req.Text
	}
	if req.Speed != nil {
		out.Speed = *req.Speed
	}
	if req.Pitch != nil {
		out.Pitch = *req.Pitch
	}
	if req.Volume != nil {
		out.Volume = *req.Volume
	}
	return out
}

type eventPublisher struct {
	bus    *bus.Client
	nodeID string
	logger *slog.Logger
}

// EventPublisher announces every finished run on the bus.
func EventPublisher(busClient *bus.Client, nodeID string, log *slog.Logger) Observer {
	return &eventPublisher{bus: busClient, nodeID: nodeID, logger: log.With(slog.String("component", "tts-events"))}
}

func (p *eventPublisher) Observe(_ context.Context, r Report) {
	event := protocol.SynthesisEvent{
		RequestID:           r.ID,
		NodeID:              p.nodeID,
		Speaker:             r.Speaker,
		TextLength:          r.TextLength,
		Status:              r.Status,
		Reason:              r.Reason,
		Strategy:            r.Strategy(),
		Attempts:            len(r.Attempts),
		FallbackRecommended: r.FallbackRecommended,
		DurationMS:          r.Duration.Milliseconds(),
		Timestamp:           time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("failed to marshal synthesis event", slogError(err))
		return
	}
	subject := protocol.SubjectSynthesisCompleted
	if r.Status != "ok" {
		subject = protocol.SubjectSynthesisFailed
	}
	if err := p.bus.Conn().Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish synthesis event", slogError(err))
	}
}
