package domain

import (
	"strings"
	"time"

	"github.com/ashureev/stargazer/internal/astro"
)

// BirthProfile holds the details a user submits to start a reading.
// Name and PlaceOfBirth are optional.
type BirthProfile struct {
	Name         string     `json:"name,omitempty"`
	DateOfBirth  astro.Date `json:"date_of_birth"`
	PlaceOfBirth string     `json:"place_of_birth,omitempty"`
}

// NewBirthProfile validates dob and trims the optional fields.
func NewBirthProfile(name, dob, place string) (BirthProfile, error) {
	date, err := astro.ParseDate(dob)
	if err != nil {
		return BirthProfile{}, err
	}
	return BirthProfile{
		Name:         strings.TrimSpace(name),
		DateOfBirth:  date,
		PlaceOfBirth: strings.TrimSpace(place),
	}, nil
}

// DerivedAttributes are computed from the date of birth alone.
type DerivedAttributes struct {
	ZodiacSign       astro.Sign `json:"zodiac_sign"`
	NumerologyNumber int        `json:"numerology_number"`
}

// Complete reports whether both attributes are populated.
func (a DerivedAttributes) Complete() bool {
	return a.ZodiacSign.Valid() && a.NumerologyNumber > 0
}

// Prediction is the model's initial reading.
type Prediction struct {
	Text        string    `json:"text"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Turn is one follow-up question and its answer.
type Turn struct {
	ID       string    `json:"id"`
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	AskedAt  time.Time `json:"asked_at"`
}

// Message roles of the flattened chat view.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// Message is one entry of the flattened chat view.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ConversationState is everything one tab session knows. It is created empty,
// filled once by the initial reading, and grows by one turn per follow-up.
type ConversationState struct {
	UserID     string             `json:"user_id"`
	SessionID  string             `json:"session_id"`
	Variant    string             `json:"variant"`
	Profile    *BirthProfile      `json:"profile,omitempty"`
	Attributes *DerivedAttributes `json:"attributes,omitempty"`
	Prediction *Prediction        `json:"prediction,omitempty"`
	Turns      []Turn             `json:"turns"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// NewConversationState returns an empty state for a user's tab session.
func NewConversationState(userID, sessionID, variant string, now time.Time) *ConversationState {
	return &ConversationState{
		UserID:    userID,
		SessionID: sessionID,
		Variant:   variant,
		Turns:     []Turn{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Started reports whether the initial reading has been recorded.
func (s *ConversationState) Started() bool {
	return s.Profile != nil
}

// Ready reports whether follow-up questions may be asked.
func (s *ConversationState) Ready() bool {
	return s.Profile != nil && s.Attributes != nil && s.Prediction != nil
}

// RecordReading stores the result of the initial pipeline run.
func (s *ConversationState) RecordReading(profile BirthProfile, attrs DerivedAttributes, prediction Prediction) {
	s.Profile = &profile
	s.Attributes = &attrs
	s.Prediction = &prediction
	s.UpdatedAt = prediction.GeneratedAt
}

// AppendTurn adds a follow-up exchange.
func (s *ConversationState) AppendTurn(turn Turn) {
	s.Turns = append(s.Turns, turn)
	s.UpdatedAt = turn.AskedAt
}

// RecentTurns returns the last n turns. n <= 0 returns all turns.
func (s *ConversationState) RecentTurns(n int) []Turn {
	if n <= 0 || n >= len(s.Turns) {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// Messages returns the chat view: the reading as the first bot message, then
// each turn as a user/bot pair.
func (s *ConversationState) Messages() []Message {
	msgs := make([]Message, 0, 1+2*len(s.Turns))
	if s.Prediction != nil {
		msgs = append(msgs, Message{Role: RoleBot, Text: s.Prediction.Text})
	}
	for _, t := range s.Turns {
		msgs = append(msgs,
			Message{Role: RoleUser, Text: t.Question},
			Message{Role: RoleBot, Text: t.Answer},
		)
	}
	return msgs
}

// Clone returns a copy that shares no mutable memory with s.
func (s *ConversationState) Clone() *ConversationState {
	cp := *s
	if s.Profile != nil {
		p := *s.Profile
		cp.Profile = &p
	}
	if s.Attributes != nil {
		a := *s.Attributes
		cp.Attributes = &a
	}
	if s.Prediction != nil {
		p := *s.Prediction
		cp.Prediction = &p
	}
	cp.Turns = make([]Turn, len(s.Turns))
	copy(cp.Turns, s.Turns)
	return &cp
}
