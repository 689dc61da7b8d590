// Package pipeline runs the three-stage reading: zodiac, numerology, prediction.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/stargazer/internal/astro"
	"github.com/ashureev/stargazer/internal/domain"
	"github.com/ashureev/stargazer/internal/llm"
	"github.com/ashureev/stargazer/internal/prompt"
)

// State is the position of a run in the pipeline.
type State int

const (
	Start State = iota
	ZodiacComputed
	AttributesComputed
	PredictionReady
)

func (s State) String() string {
	switch s {
	case Start:
		return "start"
	case ZodiacComputed:
		return "zodiac_computed"
	case AttributesComputed:
		return "attributes_computed"
	case PredictionReady:
		return "prediction_ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stage names.
const (
	StageZodiac     = "zodiac"
	StageNumerology = "numerology"
	StagePrediction = "prediction"
)

// ErrOutOfOrder is returned when a stage's source state is not the current state.
var ErrOutOfOrder = errors.New("stage run out of order")

// StageError reports which stage failed and the state the run was in.
type StageError struct {
	Stage string
	State State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s (from %s): %v", e.Stage, e.State, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Result is the output of a complete run.
type Result struct {
	Profile    domain.BirthProfile
	Attributes domain.DerivedAttributes
	Prediction domain.Prediction
}

// record is the working state of a single run.
type record struct {
	state      State
	profile    domain.BirthProfile
	attributes domain.DerivedAttributes
	prediction domain.Prediction
}

type stage struct {
	name string
	from State
	to   State
	run  func(ctx context.Context, rec *record) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClassifier replaces the default zodiac table.
func WithClassifier(c *astro.Classifier) Option {
	return func(p *Pipeline) { p.classifier = c }
}

// WithObserver registers a callback invoked after every state transition.
func WithObserver(fn func(from, to State)) Option {
	return func(p *Pipeline) { p.observer = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithClock sets the time source used to stamp predictions.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline holds the configured stages. It keeps no per-run state and is safe
// for concurrent use.
type Pipeline struct {
	gen        llm.Generator
	builder    *prompt.Builder
	classifier *astro.Classifier
	observer   func(from, to State)
	logger     *slog.Logger
	now        func() time.Time
	stages     []stage
}

// New returns a pipeline that generates predictions with gen using the
// prompts rendered by builder.
func New(gen llm.Generator, builder *prompt.Builder, opts ...Option) *Pipeline {
	p := &Pipeline{
		gen:        gen,
		builder:    builder,
		classifier: astro.DefaultClassifier(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.stages = []stage{
		{name: StageZodiac, from: Start, to: ZodiacComputed, run: p.computeZodiac},
		{name: StageNumerology, from: ZodiacComputed, to: AttributesComputed, run: p.computeNumerology},
		{name: StagePrediction, from: AttributesComputed, to: PredictionReady, run: p.generatePrediction},
	}
	return p
}

// Run executes every stage once, in order, for profile. On failure no result
// is returned and the error is a *StageError.
func (p *Pipeline) Run(ctx context.Context, profile domain.BirthProfile) (*Result, error) {
	rec := &record{state: Start, profile: profile}
	log := p.logger.With("dob", profile.DateOfBirth.String())
	log.Info("pipeline started", "stages_count", len(p.stages))

	for _, st := range p.stages {
		if rec.state != st.from {
			return nil, &StageError{Stage: st.name, State: rec.state, Err: ErrOutOfOrder}
		}
		if err := ctx.Err(); err != nil {
			return nil, &StageError{Stage: st.name, State: rec.state, Err: err}
		}

		start := time.Now()
		if err := st.run(ctx, rec); err != nil {
			log.Error("stage failed", "stage", st.name, "error", err)
			return nil, &StageError{Stage: st.name, State: rec.state, Err: err}
		}
		log.Info("stage end", "stage", st.name, "elapsed_ms", time.Since(start).Milliseconds())

		from := rec.state
		rec.state = st.to
		if p.observer != nil {
			p.observer(from, rec.state)
		}
	}

	log.Info("pipeline end", "zodiac", rec.attributes.ZodiacSign, "numerology", rec.attributes.NumerologyNumber)
	return &Result{
		Profile:    rec.profile,
		Attributes: rec.attributes,
		Prediction: rec.prediction,
	}, nil
}

func (p *Pipeline) computeZodiac(_ context.Context, rec *record) error {
	if rec.profile.DateOfBirth.IsZero() {
		return astro.ErrInvalidDateFormat
	}
	sign, err := p.classifier.Classify(rec.profile.DateOfBirth)
	if err != nil {
		return err
	}
	rec.attributes.ZodiacSign = sign
	return nil
}

func (p *Pipeline) computeNumerology(_ context.Context, rec *record) error {
	rec.attributes.NumerologyNumber = astro.Numerology(rec.profile.DateOfBirth)
	return nil
}

func (p *Pipeline) generatePrediction(ctx context.Context, rec *record) error {
	if !rec.attributes.Complete() {
		return fmt.Errorf("derived attributes incomplete: %+v", rec.attributes)
	}
	text, err := p.gen.Generate(ctx, p.builder.Initial(rec.profile, rec.attributes))
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return llm.ErrGenerationUnavailable
	}
	rec.prediction = domain.Prediction{Text: text, GeneratedAt: p.now()}
	return nil
}
