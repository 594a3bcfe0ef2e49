// Package claims provides an immutable set of type/value claims.
//
// A Set is never modified in place: With, Replace and Without return a new
// Set and leave the receiver untouched, so a resource owner's claims can be
// shared between requests without aliasing.
package claims

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Well-known claim types.
const (
	Subject       = "sub"
	Name          = "name"
	GivenName     = "given_name"
	FamilyName    = "family_name"
	Email         = "email"
	EmailVerified = "email_verified"
	Role          = "role"
	UpdatedAt     = "updated_at"
)

// Claim is a single type/value pair. A claim type may occur several times
// in a Set (e.g. several role values).
type Claim struct {
	Type  string `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
}

// Set is an immutable, ordered collection of claims. The zero value is an
// empty set ready to use.
type Set struct {
	items []Claim
}

// New builds a Set from the given claims.
func New(cs ...Claim) Set {
	return Set{items: append([]Claim(nil), cs...)}
}

// Len returns the number of claims.
func (s Set) Len() int {
	return len(s.items)
}

// All returns a copy of the claims in insertion order.
func (s Set) All() []Claim {
	return append([]Claim(nil), s.items...)
}

// With returns a new Set with c appended.
func (s Set) With(c Claim) Set {
	items := make([]Claim, 0, len(s.items)+1)
	items = append(items, s.items...)
	return Set{items: append(items, c)}
}

// Replace returns a new Set where every claim of type t is replaced by the
// given values. Passing no values removes the type.
func (s Set) Replace(t string, values ...string) Set {
	items := make([]Claim, 0, len(s.items)+len(values))
	for _, c := range s.items {
		if c.Type != t {
			items = append(items, c)
		}
	}
	for _, v := range values {
		items = append(items, Claim{Type: t, Value: v})
	}
	return Set{items: items}
}

// Without returns a new Set with every claim of type t removed.
func (s Set) Without(t string) Set {
	return s.Replace(t)
}

// Values returns all values of claim type t.
func (s Set) Values(t string) []string {
	var out []string
	for _, c := range s.items {
		if c.Type == t {
			out = append(out, c.Value)
		}
	}
	return out
}

// First returns the first value of claim type t.
func (s Set) First(t string) (string, bool) {
	for _, c := range s.items {
		if c.Type == t {
			return c.Value, true
		}
	}
	return "", false
}

// Has reports whether the set holds the exact type/value pair.
func (s Set) Has(t, value string) bool {
	for _, c := range s.items {
		if c.Type == t && c.Value == value {
			return true
		}
	}
	return false
}

// Filter returns the claims whose type is listed in types.
func (s Set) Filter(types ...string) Set {
	allowed := make(map[string]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	var items []Claim
	for _, c := range s.items {
		if _, ok := allowed[c.Type]; ok {
			items = append(items, c)
		}
	}
	return Set{items: items}
}

// Map renders the set as JWT-style claims: single values become strings and
// repeated types become string arrays.
func (s Set) Map() map[string]any {
	grouped := make(map[string][]string)
	var order []string
	for _, c := range s.items {
		if _, ok := grouped[c.Type]; !ok {
			order = append(order, c.Type)
		}
		grouped[c.Type] = append(grouped[c.Type], c.Value)
	}
	out := make(map[string]any, len(grouped))
	for _, t := range order {
		v := grouped[t]
		if len(v) == 1 {
			out[t] = v[0]
			continue
		}
		out[t] = v
	}
	return out
}

// Types returns the distinct claim types, sorted.
func (s Set) Types() []string {
	seen := make(map[string]struct{})
	for _, c := range s.items {
		seen[c.Type] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as an array of {type, value} objects.
func (s Set) MarshalJSON() ([]byte, error) {
	if s.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.items)
}

// UnmarshalJSON decodes an array of {type, value} objects.
func (s *Set) UnmarshalJSON(data []byte) error {
	var items []Claim
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("failed to decode claims: %w", err)
	}
	s.items = items
	return nil
}

// MarshalYAML encodes the set as a list of claims.
func (s Set) MarshalYAML() (any, error) {
	return s.items, nil
}

// UnmarshalYAML decodes a list of {type, value} mappings.
func (s *Set) UnmarshalYAML(unmarshal func(any) error) error {
	var items []Claim
	if err := unmarshal(&items); err != nil {
		return err
	}
	s.items = items
	return nil
}
