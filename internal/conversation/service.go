// Package conversation owns the lifecycle of one reading session: the initial
// reading, follow-up questions and reset.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/stargazer/internal/domain"
	"github.com/ashureev/stargazer/internal/llm"
	"github.com/ashureev/stargazer/internal/pipeline"
	"github.com/ashureev/stargazer/internal/prompt"
	"github.com/ashureev/stargazer/internal/store"
	"github.com/ashureev/stargazer/internal/transcript"
	"github.com/google/uuid"
)

var (
	// ErrEmptyQuestion is returned for a blank follow-up question.
	ErrEmptyQuestion = errors.New("question is empty")
	// ErrNoPrediction is returned when a follow-up is asked before the reading.
	ErrNoPrediction = errors.New("no reading yet for this session")
	// ErrReadingExists is returned when a second reading is requested for a session.
	ErrReadingExists = errors.New("session already has a reading")
	// ErrSessionBusy is returned while another request holds the session.
	ErrSessionBusy = errors.New("session is busy")
)

// Option configures a Service.
type Option func(*Service)

// WithTranscript sets the transcript sink.
func WithTranscript(t transcript.Logger) Option {
	return func(s *Service) { s.transcript = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator sets the turn id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithPipelineOptions passes extra options to the reading pipeline.
func WithPipelineOptions(opts ...pipeline.Option) Option {
	return func(s *Service) { s.pipelineOpts = append(s.pipelineOpts, opts...) }
}

// Service runs readings and follow-ups against stored session state.
type Service struct {
	repo         store.Repository
	gen          llm.Generator
	builder      *prompt.Builder
	pipeline     *pipeline.Pipeline
	pipelineOpts []pipeline.Option
	transcript   transcript.Logger
	logger       *slog.Logger
	now          func() time.Time
	newID        func() string

	mu       sync.Mutex
	inflight map[store.SessionKey]struct{}
}

// NewService creates a Service. builder fixes the reading variant.
func NewService(repo store.Repository, gen llm.Generator, builder *prompt.Builder, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		gen:        gen,
		builder:    builder,
		transcript: transcript.Nop{},
		logger:     slog.Default(),
		now:        time.Now,
		newID:      uuid.NewString,
		inflight:   make(map[store.SessionKey]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	popts := append([]pipeline.Option{pipeline.WithLogger(s.logger), pipeline.WithClock(s.now)}, s.pipelineOpts...)
	s.pipeline = pipeline.New(gen, builder, popts...)
	return s
}

// Variant returns the active reading variant.
func (s *Service) Variant() prompt.Variant { return s.builder.Variant() }

// HistoryMaxTurns returns how many turns follow-up prompts embed.
func (s *Service) HistoryMaxTurns() int { return s.builder.MaxTurns() }

// Get returns the state of a session, or nil if the session has none.
func (s *Service) Get(ctx context.Context, key store.SessionKey) (*domain.ConversationState, error) {
	state, err := s.repo.GetConversation(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return state, nil
}

// StartReading validates the birth details, runs the pipeline and stores the
// reading. Nothing is stored when any step fails.
func (s *Service) StartReading(ctx context.Context, key store.SessionKey, name, dob, place string) (*domain.ConversationState, error) {
	profile, err := domain.NewBirthProfile(name, dob, place)
	if err != nil {
		return nil, err
	}
	fields := s.builder.Variant().Fields
	if !fields.Name {
		profile.Name = ""
	}
	if !fields.Place {
		profile.PlaceOfBirth = ""
	}

	release, err := s.acquire(key)
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := s.repo.GetConversation(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if existing != nil && existing.Started() {
		return nil, ErrReadingExists
	}

	log := s.logger.With("user_id", key.UserID, "session_id", key.SessionID)
	s.record(ctx, key, transcript.DirectionUser, transcript.EventReadingRequested, profileSummary(profile), nil)

	result, err := s.pipeline.Run(ctx, profile)
	if err != nil {
		log.Warn("reading failed", "error", err)
		s.record(ctx, key, transcript.DirectionSystem, transcript.EventReadingFailed, err.Error(), nil)
		return nil, err
	}

	state := domain.NewConversationState(key.UserID, key.SessionID, s.builder.Variant().ID, s.now())
	state.RecordReading(result.Profile, result.Attributes, result.Prediction)
	if err := s.repo.SaveConversation(ctx, state); err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}

	log.Info("reading ready",
		"zodiac", result.Attributes.ZodiacSign,
		"numerology", result.Attributes.NumerologyNumber)
	s.record(ctx, key, transcript.DirectionBot, transcript.EventReadingGenerated, result.Prediction.Text, map[string]any{
		"zodiac_sign":       result.Attributes.ZodiacSign,
		"numerology_number": result.Attributes.NumerologyNumber,
	})
	return state, nil
}

// Ask answers a follow-up question in the context of the session's reading
// and history, and appends the exchange.
func (s *Service) Ask(ctx context.Context, key store.SessionKey, question string) (domain.Turn, *domain.ConversationState, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.Turn{}, nil, ErrEmptyQuestion
	}

	release, err := s.acquire(key)
	if err != nil {
		return domain.Turn{}, nil, err
	}
	defer release()

	state, err := s.repo.GetConversation(ctx, key)
	if err != nil {
		return domain.Turn{}, nil, fmt.Errorf("load conversation: %w", err)
	}
	if state == nil {
		return domain.Turn{}, nil, ErrNoPrediction
	}

	p, err := s.builder.FollowUp(state, question)
	if errors.Is(err, prompt.ErrNotReady) {
		return domain.Turn{}, nil, ErrNoPrediction
	}
	if err != nil {
		return domain.Turn{}, nil, err
	}

	s.record(ctx, key, transcript.DirectionUser, transcript.EventQuestion, question, nil)

	start := time.Now()
	answer, err := s.gen.Generate(ctx, p)
	if err == nil {
		answer = strings.TrimSpace(answer)
		if answer == "" {
			err = llm.ErrGenerationUnavailable
		}
	}
	if err != nil {
		s.logger.Warn("follow-up failed", "user_id", key.UserID, "session_id", key.SessionID, "error", err)
		s.record(ctx, key, transcript.DirectionSystem, transcript.EventAnswerFailed, err.Error(), nil)
		return domain.Turn{}, nil, err
	}

	turn := domain.Turn{
		ID:       s.newID(),
		Question: question,
		Answer:   answer,
		AskedAt:  s.now(),
	}
	state.AppendTurn(turn)
	// The session may have expired or been reset by another path while the
	// model was answering; it stays gone.
	if err := s.repo.UpdateConversation(ctx, state); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Info("session ended during follow-up", "user_id", key.UserID, "session_id", key.SessionID)
			return domain.Turn{}, nil, ErrNoPrediction
		}
		return domain.Turn{}, nil, fmt.Errorf("save conversation: %w", err)
	}

	s.logger.Info("follow-up answered",
		"user_id", key.UserID,
		"session_id", key.SessionID,
		"turns", len(state.Turns),
		"elapsed_ms", time.Since(start).Milliseconds())
	s.record(ctx, key, transcript.DirectionBot, transcript.EventAnswer, answer, map[string]any{"turn_id": turn.ID})
	return turn, state, nil
}

// Reset discards the session's state.
func (s *Service) Reset(ctx context.Context, key store.SessionKey) error {
	release, err := s.acquire(key)
	if err != nil {
		return err
	}
	defer release()

	if err := s.repo.DeleteConversation(ctx, key); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	s.record(ctx, key, transcript.DirectionSystem, transcript.EventSessionEnded, "", map[string]any{"reason": "reset"})
	return nil
}

// Expired records the end of sessions discarded for inactivity.
func (s *Service) Expired(keys []store.SessionKey) {
	ctx := transcript.WithOrigin(context.Background(), transcript.ChannelSweeper, "")
	for _, key := range keys {
		s.record(ctx, key, transcript.DirectionSystem, transcript.EventSessionEnded, "", map[string]any{"reason": "expired"})
	}
}

// acquire takes the session's slot without waiting.
func (s *Service) acquire(key store.SessionKey) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inflight[key]; busy {
		s.logger.Warn("session busy", "user_id", key.UserID, "session_id", key.SessionID)
		return nil, ErrSessionBusy
	}
	s.inflight[key] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()
	}, nil
}

func (s *Service) record(ctx context.Context, key store.SessionKey, direction, eventType, content string, meta map[string]any) {
	channel, requestID := transcript.OriginFromContext(ctx)
	if requestID != "" {
		if meta == nil {
			meta = make(map[string]any, 1)
		}
		meta["request_id"] = requestID
	}
	s.transcript.Log(transcript.Event{
		Timestamp:  s.now().UTC().Format(time.RFC3339Nano),
		UserID:     key.UserID,
		SessionID:  key.SessionID,
		Channel:    channel,
		Direction:  direction,
		EventType:  eventType,
		Content:    content,
		Meta:       meta,
	})
}

func profileSummary(p domain.BirthProfile) string {
	parts := []string{"dob=" + p.DateOfBirth.String()}
	if p.Name != "" {
		parts = append(parts, "name="+p.Name)
	}
	if p.PlaceOfBirth != "" {
		parts = append(parts, "place="+p.PlaceOfBirth)
	}
	return strings.Join(parts, " ")
}
