package severity

import (
	"encoding/json"
	"fmt"
)

// Category is the API-compatibility impact of a change. The values are
// totally ordered by impact: Patch < NonBreaking < TechnicallyBreaking < Breaking.
type Category int

const (
	Patch Category = iota + 1
	NonBreaking
	TechnicallyBreaking
	Breaking
)

// ordered lists every category from least to most impact.
var ordered = [...]Category{Patch, NonBreaking, TechnicallyBreaking, Breaking}

var names = map[Category]string{
	Patch:               "Patch",
	NonBreaking:         "NonBreaking",
	TechnicallyBreaking: "TechnicallyBreaking",
	Breaking:            "Breaking",
}

// Categories returns all categories in increasing order of impact.
func Categories() []Category {
	out := make([]Category, len(ordered))
	copy(out, ordered[:])
	return out
}

// Valid reports whether c is one of the four defined categories.
func (c Category) Valid() bool {
	_, ok := names[c]
	return ok
}

// Rank is the zero-based position of c in the impact order, or -1 if c is
// not a defined category.
func (c Category) Rank() int {
	for i, o := range ordered {
		if o == c {
			return i
		}
	}
	return -1
}

// Less reports whether c has strictly lower impact than other.
func (c Category) Less(other Category) bool {
	return c.Rank() < other.Rank()
}

func (c Category) String() string {
	if name, ok := names[c]; ok {
		return name
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// ParseCategory maps the analyzer's spelling of a category to a Category.
func ParseCategory(s string) (Category, error) {
	for c, name := range names {
		if name == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown severity category %q", s)
}

func (c Category) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid category %d", int(c))
	}
	return json.Marshal(c.String())
}

func (c *Category) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("severity category must be a string: %w", err)
	}
	parsed, err := ParseCategory(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
