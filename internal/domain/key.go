package domain

import (
	"fmt"
	"sort"
	"strings"
)

// DebounceKey partitions events into independent batches. Two events with the
// same stream name and grouping fields land in the same batch.
type DebounceKey struct {
	StreamName string
	Grouping   map[string]string
}

func NewDebounceKey(streamName string, grouping map[string]string) (DebounceKey, error) {
	name := strings.TrimSpace(streamName)
	if name == "" {
		return DebounceKey{}, fmt.Errorf("%w: stream name is required", ErrValidation)
	}

	fields := make(map[string]string, len(grouping))
	for k, v := range grouping {
		key := strings.TrimSpace(k)
		if key == "" {
			return DebounceKey{}, fmt.Errorf("%w: grouping field name must not be empty", ErrValidation)
		}
		if strings.ContainsAny(key, "=|") || strings.ContainsAny(v, "=|") {
			return DebounceKey{}, fmt.Errorf("%w: grouping field %q contains reserved separator", ErrValidation, key)
		}
		fields[key] = v
	}

	return DebounceKey{StreamName: name, Grouping: fields}, nil
}

// Identity returns the canonical storage identity of the key. Grouping fields
// are sorted by name so map iteration order cannot produce two identities for
// the same key.
func (k DebounceKey) Identity() string {
	names := make([]string, 0, len(k.Grouping))
	for name := range k.Grouping {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(k.StreamName)
	for _, name := range names {
		b.WriteByte('|')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(k.Grouping[name])
	}
	return b.String()
}
