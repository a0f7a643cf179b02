package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/kopernicus/pkg/ports"
)

// Joined routes calls across several providers. A tool name resolves to the
// first provider listing it.
type Joined struct {
	providers []ports.CapabilityProvider
}

// Join combines providers in priority order. Nil providers are skipped.
func Join(providers ...ports.CapabilityProvider) *Joined {
	j := &Joined{}
	for _, p := range providers {
		if p != nil {
			j.providers = append(j.providers, p)
		}
	}
	return j
}

// List returns the tools of every provider; shadowed names are dropped.
func (j *Joined) List(ctx context.Context) ([]ports.ToolDescriptor, error) {
	var out []ports.ToolDescriptor
	seen := make(map[string]bool)
	var errs []error
	for _, p := range j.providers {
		tools, err := p.List(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, t := range tools {
			if !seen[t.Name] {
				seen[t.Name] = true
				out = append(out, t)
			}
		}
	}
	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Invoke calls the first provider that knows the tool.
func (j *Joined) Invoke(ctx context.Context, name string, args map[string]any) (*ports.ToolResult, error) {
	for _, p := range j.providers {
		res, err := p.Invoke(ctx, name, args)
		if errors.Is(err, ports.ErrToolNotFound) {
			continue
		}
		return res, err
	}
	return nil, fmt.Errorf("%w: %s", ports.ErrToolNotFound, name)
}
