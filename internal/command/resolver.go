package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Resolver runs the model classifier and falls through to the cascade when
// it abstains. Disabled kinds are turned into None so the text reaches
// generation instead.
type Resolver struct {
	primary  Classifier
	fallback *Cascade
	disabled map[Kind]bool
	log      zerolog.Logger
}

// NewResolver wires the two classification stages. primary may be nil, in
// which case only the cascade runs.
func NewResolver(primary Classifier, fallback *Cascade, disabled []Kind, log zerolog.Logger) *Resolver {
	if fallback == nil {
		fallback = NewCascade()
	}
	d := make(map[Kind]bool, len(disabled))
	for _, k := range disabled {
		d[k] = true
	}
	return &Resolver{
		primary:  primary,
		fallback: fallback,
		disabled: d,
		log:      log.With().Str("component", "resolver").Logger(),
	}
}

// Resolve returns the command for text and the stage that produced it.
func (r *Resolver) Resolve(ctx context.Context, text string) (Command, Source) {
	source := SourceFallback
	var res Result
	if r.primary != nil {
		res = r.primary.Classify(ctx, text)
		source = SourceModel
	}
	if r.primary == nil || res.Abstained {
		res = r.fallback.Classify(ctx, text)
		source = SourceFallback
	}

	cmd := res.Command
	if cmd.Kind == "" {
		cmd.Kind = None
	}
	if r.disabled[cmd.Kind] {
		r.log.Debug().Str("kind", string(cmd.Kind)).Msg("command disabled, forwarding to generation")
		cmd = Command{Kind: None}
	}

	r.log.Debug().
		Str("kind", string(cmd.Kind)).
		Str("source", string(source)).
		Msg("resolved")
	return cmd, source
}

// EnabledKinds returns every actionable kind except the disabled ones.
func EnabledKinds(disabled []Kind) []Kind {
	off := make(map[Kind]bool, len(disabled))
	for _, k := range disabled {
		off[k] = true
	}
	var out []Kind
	for _, k := range AllKinds() {
		if k == None || k == Clarify || off[k] {
			continue
		}
		out = append(out, k)
	}
	return out
}

// ParseKinds converts config strings into kinds.
func ParseKinds(names []string) ([]Kind, error) {
	kinds := make([]Kind, 0, len(names))
	for _, n := range names {
		k := Kind(strings.ToLower(strings.TrimSpace(n)))
		if !k.IsValid() || k == None {
			return nil, fmt.Errorf("unknown command kind %q", n)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
