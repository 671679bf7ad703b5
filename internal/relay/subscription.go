package relay

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Filter selects which inbound events a subscription wants. Tag filters are
// keyed by single-letter tag name and encoded on the wire with a "#" prefix
// ({"kinds":[1],"#p":["<pubkey>"]}).
type Filter struct {
	Kinds []int
	Tags  map[string][]string
}

// Matches reports whether the event satisfies the filter. An empty filter
// matches everything.
func (f Filter) Matches(e Event) bool {
	if len(f.Kinds) > 0 {
		ok := false
		for _, k := range f.Kinds {
			if k == e.Kind {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	for name, wanted := range f.Tags {
		got := e.Tag(name)
		ok := false
		for _, w := range wanted {
			if w == got {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	return true
}

// MarshalJSON encodes the filter in its wire form, with tag filters flattened
// into "#"-prefixed keys alongside "kinds".
func (f Filter) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.Tags)+1)
	if len(f.Kinds) > 0 {
		out["kinds"] = f.Kinds
	}
	for name, values := range f.Tags {
		out["#"+name] = values
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode filter: %w", err)
	}

	*f = Filter{}
	for key, val := range raw {
		switch {
		case key == "kinds":
			if err := json.Unmarshal(val, &f.Kinds); err != nil {
				return fmt.Errorf("failed to decode filter kinds: %w", err)
			}
		case strings.HasPrefix(key, "#"):
			var values []string
			if err := json.Unmarshal(val, &values); err != nil {
				return fmt.Errorf("failed to decode filter tag %s: %w", key, err)
			}
			if f.Tags == nil {
				f.Tags = make(map[string][]string)
			}
			f.Tags[strings.TrimPrefix(key, "#")] = values
		}
	}

	return nil
}

// Subscription pairs a caller-chosen id with a filter. At most one filter set
// exists per id; re-subscribing under the same id replaces the previous one.
type Subscription struct {
	ID     string
	Filter Filter
}
