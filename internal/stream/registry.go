package stream

import (
	"fmt"
	"sort"
	"strings"

	"github.com/forumnotify/debounce-engine/internal/domain"
)

// Config binds one stream name to its timing policy and consumer. The
// Combinable flag is declared alongside the consumer so a mismatch between
// configuration and implementation is caught at startup instead of producing
// a surprise merge at flush time.
type Config struct {
	Name       string
	Policy     domain.TimingPolicy
	Consumer   Consumer
	Combinable bool
}

// Registry is the immutable stream-configuration table built once at process
// start. Both the registration API and the flush scheduler resolve streams
// through it, so an unconfigured name fails fast on either path.
type Registry struct {
	streams map[string]Config
}

func NewRegistry(configs ...Config) (*Registry, error) {
	streams := make(map[string]Config, len(configs))

	for _, cfg := range configs {
		name := strings.TrimSpace(cfg.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: stream name is required", domain.ErrValidation)
		}
		if _, exists := streams[name]; exists {
			return nil, fmt.Errorf("%w: duplicate stream %q", domain.ErrValidation, name)
		}
		if err := cfg.Policy.Validate(); err != nil {
			return nil, fmt.Errorf("stream %q: %w", name, err)
		}
		if cfg.Consumer == nil {
			return nil, fmt.Errorf("%w: stream %q has no consumer", domain.ErrValidation, name)
		}
		if cfg.Consumer.Combinable() != cfg.Combinable {
			return nil, fmt.Errorf("%w: stream %q declares combinable=%t but its consumer reports %t",
				domain.ErrValidation, name, cfg.Combinable, cfg.Consumer.Combinable())
		}

		cfg.Name = name
		streams[name] = cfg
	}

	return &Registry{streams: streams}, nil
}

// Lookup resolves a stream by name.
func (r *Registry) Lookup(name string) (Config, error) {
	cfg, ok := r.streams[strings.TrimSpace(name)]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", domain.ErrUnknownStream, name)
	}
	return cfg, nil
}

// Names returns the configured stream names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.streams))
	for name := range r.streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
