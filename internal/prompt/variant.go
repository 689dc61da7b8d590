// Package prompt assembles the model prompts for readings and follow-ups.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrUnknownVariant is returned for a variant id that is not registered.
var ErrUnknownVariant = errors.New("unknown reading variant")

// Fields lists which optional profile fields a variant collects. The date of
// birth is always collected.
type Fields struct {
	Name  bool `yaml:"name" json:"name"`
	Place bool `yaml:"place" json:"place"`
}

// Variant is one flavour of the reading: its input schema and templates.
type Variant struct {
	ID            string `yaml:"id" json:"id"`
	Title         string `yaml:"title" json:"title"`
	Fields        Fields `yaml:"fields" json:"fields"`
	Persona       string `yaml:"persona" json:"-"`
	Focus         string `yaml:"focus" json:"-"`
	FollowUpStyle string `yaml:"follow_up_style" json:"-"`
}

// Validate checks the variant is usable.
func (v Variant) Validate() error {
	if v.ID == "" {
		return fmt.Errorf("variant id is required")
	}
	if v.Persona == "" {
		return fmt.Errorf("variant %s: persona is required", v.ID)
	}
	if v.Focus == "" {
		return fmt.Errorf("variant %s: focus is required", v.ID)
	}
	return nil
}

const (
	astrologerPersona = "You are an expert astrologer and numerologist."
	loveFocus         = "give a short, precise prediction (3-4 lines) focusing ONLY on love, marriage, and relationships."
)

// Built-in variants.
var (
	Love = Variant{
		ID:      "love",
		Title:   "Love & Marriage Prediction",
		Fields:  Fields{Name: true, Place: true},
		Persona: astrologerPersona,
		Focus:   loveFocus,
	}
	LoveDateOnly = Variant{
		ID:      "love-dob",
		Title:   "Love & Marriage Prediction",
		Persona: astrologerPersona,
		Focus:   loveFocus,
	}
	Future = Variant{
		ID:      "future",
		Title:   "Future Prediction",
		Persona: astrologerPersona,
		Focus:   "provide a detailed, insightful prediction of their future.",
	}
	Playful = Variant{
		ID:            "playful",
		Title:         "Love Guru",
		Fields:        Fields{Name: true, Place: true},
		Persona:       astrologerPersona,
		Focus:         loveFocus,
		FollowUpStyle: "Keep the answer funny: the aim is not to predict the future but to make the user laugh. Keep the tone and context Indian.",
	}
)

// Registry holds the variants available to the server.
type Registry struct {
	variants map[string]Variant
}

// DefaultRegistry returns a registry with the built-in variants.
func DefaultRegistry() *Registry {
	r := &Registry{variants: make(map[string]Variant)}
	for _, v := range []Variant{Love, LoveDateOnly, Future, Playful} {
		r.variants[v.ID] = v
	}
	return r
}

// Register adds or replaces a variant.
func (r *Registry) Register(v Variant) error {
	if err := v.Validate(); err != nil {
		return err
	}
	r.variants[v.ID] = v
	return nil
}

// Get returns the variant with id.
func (r *Registry) Get(id string) (Variant, error) {
	v, ok := r.variants[id]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %q", ErrUnknownVariant, id)
	}
	return v, nil
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.variants))
	for id := range r.variants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type variantFile struct {
	Variants []Variant `yaml:"variants"`
}

// LoadFile registers every variant listed in a YAML file of the form
//
//	variants:
//	  - id: love
//	    fields: {name: true, place: true}
//	    persona: ...
//	    focus: ...
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read variants file: %w", err)
	}
	return r.LoadYAML(data)
}

// LoadYAML registers the variants in data.
func (r *Registry) LoadYAML(data []byte) error {
	var f variantFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse variants: %w", err)
	}
	for _, v := range f.Variants {
		if err := r.Register(v); err != nil {
			return err
		}
	}
	return nil
}
