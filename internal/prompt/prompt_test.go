package prompt

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/stargazer/internal/astro"
	"github.com/ashureev/stargazer/internal/domain"
)

func ashaState(t *testing.T, turns int) *domain.ConversationState {
	t.Helper()
	profile, err := domain.NewBirthProfile("Asha", "23-11-1995", "Pune")
	if err != nil {
		t.Fatalf("NewBirthProfile: %v", err)
	}
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := domain.NewConversationState("u1", "s1", Love.ID, now)
	s.RecordReading(profile,
		domain.DerivedAttributes{ZodiacSign: astro.Sagittarius, NumerologyNumber: 4},
		domain.Prediction{Text: "Love finds you in spring.", GeneratedAt: now},
	)
	for i := 0; i < turns; i++ {
		s.AppendTurn(domain.Turn{
			ID:       string(rune('a' + i)),
			Question: "question " + string(rune('A'+i)),
			Answer:   "answer " + string(rune('A'+i)),
			AskedAt:  now.Add(time.Duration(i+1) * time.Minute),
		})
	}
	return s
}

func TestInitialEmbedsProfileAndAttributes(t *testing.T) {
	s := ashaState(t, 0)
	got := NewBuilder(Love, 10).Initial(*s.Profile, *s.Attributes)

	for _, want := range []string{"Asha", "23-11-1995", "Pune", "Sagittarius", "'4'", "love, marriage, and relationships"} {
		if !strings.Contains(got, want) {
			t.Errorf("initial prompt missing %q:\n%s", want, got)
		}
	}
}

func TestInitialDateOnlyVariantOmitsNameAndPlace(t *testing.T) {
	s := ashaState(t, 0)
	got := NewBuilder(LoveDateOnly, 10).Initial(*s.Profile, *s.Attributes)

	if strings.Contains(got, "Asha") || strings.Contains(got, "Pune") {
		t.Errorf("date-only prompt leaked name or place:\n%s", got)
	}
	if !strings.Contains(got, "birth date '23-11-1995'") {
		t.Errorf("date-only prompt missing date:\n%s", got)
	}
}

func TestInitialSkipsMissingOptionalFields(t *testing.T) {
	profile, err := domain.NewBirthProfile("  ", "15-08-1990", "")
	if err != nil {
		t.Fatal(err)
	}
	attrs := domain.DerivedAttributes{ZodiacSign: astro.Leo, NumerologyNumber: 33}
	got := NewBuilder(Love, 10).Initial(profile, attrs)

	if strings.Contains(got, "the name") || strings.Contains(got, "place of birth") {
		t.Errorf("prompt mentions absent fields:\n%s", got)
	}
	if !strings.Contains(got, "Leo") || !strings.Contains(got, "'33'") {
		t.Errorf("prompt missing attributes:\n%s", got)
	}
}

func TestInitialIsDeterministic(t *testing.T) {
	s := ashaState(t, 0)
	b := NewBuilder(Future, 10)
	if b.Initial(*s.Profile, *s.Attributes) != b.Initial(*s.Profile, *s.Attributes) {
		t.Fatal("Initial returned different text for the same input")
	}
}

func TestFollowUpNotReady(t *testing.T) {
	s := domain.NewConversationState("u1", "s1", Love.ID, time.Now())
	if _, err := NewBuilder(Love, 10).FollowUp(s, "when?"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("FollowUp() error = %v, want ErrNotReady", err)
	}
	if _, err := NewBuilder(Love, 10).FollowUp(nil, "when?"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("FollowUp(nil) error = %v, want ErrNotReady", err)
	}
}

func TestFollowUpEmbedsContext(t *testing.T) {
	s := ashaState(t, 2)
	got, err := NewBuilder(Love, 10).FollowUp(s, "  Will I marry this year? ")
	if err != nil {
		t.Fatalf("FollowUp: %v", err)
	}

	for _, want := range []string{
		"The user Asha was born on 23-11-1995 in Pune.",
		"Zodiac: Sagittarius, Numerology: 4.",
		"Love finds you in spring.",
		"Q: question A\nA: answer A",
		"Q: question B\nA: answer B",
		"Now answer this question: Will I marry this year?\n",
		"consistent with your previous responses",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("follow-up prompt missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "omitted") {
		t.Errorf("no turns should be omitted:\n%s", got)
	}
}

func TestFollowUpWithoutHistory(t *testing.T) {
	got, err := NewBuilder(Love, 10).FollowUp(ashaState(t, 0), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "Previous chat history: none.") {
		t.Errorf("expected empty history marker:\n%s", got)
	}
}

func TestFollowUpCapsHistory(t *testing.T) {
	got, err := NewBuilder(Love, 2).FollowUp(ashaState(t, 5), "next?")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "(3 earlier exchanges omitted)") {
		t.Errorf("expected omitted count:\n%s", got)
	}
	for _, gone := range []string{"question A", "question B", "question C"} {
		if strings.Contains(got, gone) {
			t.Errorf("prompt should not contain %q", gone)
		}
	}
	for _, kept := range []string{"question D", "question E"} {
		if !strings.Contains(got, kept) {
			t.Errorf("prompt should contain %q", kept)
		}
	}
}

func TestFollowUpPlayfulStyle(t *testing.T) {
	got, err := NewBuilder(Playful, 0).FollowUp(ashaState(t, 1), "joke?")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "make the user laugh") {
		t.Errorf("playful style missing:\n%s", got)
	}
}

func TestRegistryDefaults(t *testing.T) {
	r := DefaultRegistry()
	want := []string{"future", "love", "love-dob", "playful"}
	got := r.IDs()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("IDs() = %v, want %v", got, want)
	}
	if _, err := r.Get("tarot"); !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("Get(tarot) error = %v, want ErrUnknownVariant", err)
	}
}

func TestRegistryLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "variants.yaml")
	data := `variants:
  - id: love
    title: Custom Love
    fields: {name: true, place: false}
    persona: You are a romantic astrologer.
    focus: answer in one line.
  - id: career
    title: Career
    persona: You are a career astrologer.
    focus: focus only on work.
    follow_up_style: Be brief.
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	r := DefaultRegistry()
	if err := r.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	love, err := r.Get("love")
	if err != nil {
		t.Fatal(err)
	}
	if love.Title != "Custom Love" || !love.Fields.Name || love.Fields.Place {
		t.Errorf("love override not applied: %+v", love)
	}
	career, err := r.Get("career")
	if err != nil {
		t.Fatal(err)
	}
	if career.FollowUpStyle != "Be brief." {
		t.Errorf("career.FollowUpStyle = %q", career.FollowUpStyle)
	}
}

func TestRegistryLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":   "variants: [",
		"no id":      "variants:\n  - persona: p\n    focus: f\n",
		"no focus":   "variants:\n  - id: x\n    persona: p\n",
		"no persona": "variants:\n  - id: x\n    focus: f\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if err := DefaultRegistry().LoadYAML([]byte(data)); err == nil {
				t.Fatal("LoadYAML() error = nil, want error")
			}
		})
	}
}

func TestJoinList(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"a"}, "a"},
		{[]string{"a", "b"}, "a and b"},
		{[]string{"a", "b", "c"}, "a, b, and c"},
	}
	for _, tt := range tests {
		if got := joinList(tt.in); got != tt.want {
			t.Errorf("joinList(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
