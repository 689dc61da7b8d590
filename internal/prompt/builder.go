package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/stargazer/internal/domain"
)

// ErrNotReady is returned when a follow-up prompt is requested before the
// initial reading exists.
var ErrNotReady = errors.New("conversation has no reading yet")

// Builder renders prompts for one variant. It is pure: the same inputs always
// produce the same text.
type Builder struct {
	variant  Variant
	maxTurns int
}

// NewBuilder returns a builder for v that embeds at most maxTurns previous
// turns in follow-ups. maxTurns <= 0 embeds the whole history.
func NewBuilder(v Variant, maxTurns int) *Builder {
	return &Builder{variant: v, maxTurns: maxTurns}
}

// Variant returns the builder's variant.
func (b *Builder) Variant() Variant { return b.variant }

// MaxTurns returns the history cap.
func (b *Builder) MaxTurns() int { return b.maxTurns }

// Initial renders the prompt for the first reading.
func (b *Builder) Initial(p domain.BirthProfile, a domain.DerivedAttributes) string {
	var details []string
	if name := b.name(p); name != "" {
		details = append(details, fmt.Sprintf("the name '%s'", name))
	}
	details = append(details, fmt.Sprintf("birth date '%s'", p.DateOfBirth))
	if place := b.place(p); place != "" {
		details = append(details, fmt.Sprintf("place of birth '%s'", place))
	}
	details = append(details,
		fmt.Sprintf("Zodiac sign '%s'", a.ZodiacSign),
		fmt.Sprintf("Numerology number '%d'", a.NumerologyNumber),
	)

	return fmt.Sprintf("%s Based on %s, %s", b.variant.Persona, joinList(details), b.variant.Focus)
}

// FollowUp renders the prompt answering question in the context of s.
func (b *Builder) FollowUp(s *domain.ConversationState, question string) (string, error) {
	if s == nil || !s.Ready() {
		return "", ErrNotReady
	}

	var sb strings.Builder
	sb.WriteString(b.variant.Persona)
	sb.WriteString("\n")

	sb.WriteString("The user")
	if name := b.name(*s.Profile); name != "" {
		sb.WriteString(" " + name)
	}
	sb.WriteString(" was born on " + s.Profile.DateOfBirth.String())
	if place := b.place(*s.Profile); place != "" {
		sb.WriteString(" in " + place)
	}
	sb.WriteString(".\n")

	fmt.Fprintf(&sb, "Zodiac: %s, Numerology: %d.\n", s.Attributes.ZodiacSign, s.Attributes.NumerologyNumber)
	fmt.Fprintf(&sb, "Your earlier reading: %s\n", s.Prediction.Text)

	sb.WriteString("Previous chat history:")
	turns := s.RecentTurns(b.maxTurns)
	if omitted := len(s.Turns) - len(turns); omitted > 0 {
		fmt.Fprintf(&sb, "\n(%d earlier exchanges omitted)", omitted)
	}
	if len(turns) == 0 {
		sb.WriteString(" none.")
	}
	for _, t := range turns {
		fmt.Fprintf(&sb, "\nQ: %s\nA: %s", t.Question, t.Answer)
	}
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "Now answer this question: %s\n", strings.TrimSpace(question))
	sb.WriteString("Keep your tone and context consistent with your previous responses.")
	if b.variant.FollowUpStyle != "" {
		sb.WriteString(" " + b.variant.FollowUpStyle)
	}

	return sb.String(), nil
}

func (b *Builder) name(p domain.BirthProfile) string {
	if !b.variant.Fields.Name {
		return ""
	}
	return p.Name
}

func (b *Builder) place(p domain.BirthProfile) string {
	if !b.variant.Fields.Place {
		return ""
	}
	return p.PlaceOfBirth
}

func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	}
	return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
}
