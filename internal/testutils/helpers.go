package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aretw0/kopernicus/pkg/ports"
)

// ErrNoScript is returned by the scripted reasoner when no reply is queued for a prompt.
var ErrNoScript = errors.New("no scripted reply")

// Reply is one scripted reasoning response.
type Reply struct {
	// Value is marshaled to JSON for structured calls and printed for text calls.
	// A string is used verbatim in both cases.
	Value any
	Err   error
}

// ScriptedReasoner is a ports.ReasoningProvider replaying queued replies per prompt name.
// The last reply of a queue repeats once the queue is drained.
type ScriptedReasoner struct {
	mu      sync.Mutex
	replies map[string][]Reply
	calls   []ports.Prompt
}

// NewScriptedReasoner creates an empty reasoner. Every unscripted call fails.
func NewScriptedReasoner() *ScriptedReasoner {
	return &ScriptedReasoner{replies: make(map[string][]Reply)}
}

// On queues replies for a prompt name.
func (s *ScriptedReasoner) On(name string, replies ...Reply) *ScriptedReasoner {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[name] = append(s.replies[name], replies...)
	return s
}

// Value is shorthand for a successful reply.
func Value(v any) Reply {
	return Reply{Value: v}
}

// Fail is shorthand for a failed reply.
func Fail(err error) Reply {
	return Reply{Err: err}
}

// Calls returns the prompts received so far.
func (s *ScriptedReasoner) Calls() []ports.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.Prompt(nil), s.calls...)
}

// CallCount returns how many times a prompt name was requested.
func (s *ScriptedReasoner) CallCount(name string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Name == name {
			n++
		}
	}
	return n
}

func (s *ScriptedReasoner) next(prompt ports.Prompt) (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, prompt)
	queue := s.replies[prompt.Name]
	if len(queue) == 0 {
		return Reply{}, fmt.Errorf("%w for %s", ErrNoScript, prompt.Name)
	}
	r := queue[0]
	if len(queue) > 1 {
		s.replies[prompt.Name] = queue[1:]
	}
	return r, nil
}

// ProduceStructured implements ports.ReasoningProvider.
func (s *ScriptedReasoner) ProduceStructured(_ context.Context, prompt ports.Prompt, out any) error {
	r, err := s.next(prompt)
	if err != nil {
		return err
	}
	if r.Err != nil {
		return r.Err
	}
	var data []byte
	if str, ok := r.Value.(string); ok {
		data = []byte(str)
	} else if data, err = json.Marshal(r.Value); err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrMalformedOutput, err)
	}
	return nil
}

// ProduceText implements ports.ReasoningProvider.
func (s *ScriptedReasoner) ProduceText(_ context.Context, prompt ports.Prompt) (string, error) {
	r, err := s.next(prompt)
	if err != nil {
		return "", err
	}
	if r.Err != nil {
		return "", r.Err
	}
	if str, ok := r.Value.(string); ok {
		return str, nil
	}
	return fmt.Sprint(r.Value), nil
}

// ToolFunc answers one fake tool invocation.
type ToolFunc func(args map[string]any) (*ports.ToolResult, error)

// Invocation is one call recorded by FakeCapabilities.
type Invocation struct {
	Tool string
	Args map[string]any
}

// FakeCapabilities is an in-memory ports.CapabilityProvider.
type FakeCapabilities struct {
	mu    sync.Mutex
	tools map[string]ToolFunc
	order []string
	calls []Invocation
}

// NewFakeCapabilities creates a provider with no tools.
func NewFakeCapabilities() *FakeCapabilities {
	return &FakeCapabilities{tools: make(map[string]ToolFunc)}
}

// Handle registers a tool.
func (f *FakeCapabilities) Handle(name string, fn ToolFunc) *FakeCapabilities {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tools[name]; !ok {
		f.order = append(f.order, name)
	}
	f.tools[name] = fn
	return f
}

// Returns registers a tool that always answers with the given text and data.
func (f *FakeCapabilities) Returns(name, text string, data any) *FakeCapabilities {
	return f.Handle(name, func(map[string]any) (*ports.ToolResult, error) {
		return &ports.ToolResult{Text: text, Data: data}, nil
	})
}

// Invocations returns the calls received so far.
func (f *FakeCapabilities) Invocations() []Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Invocation(nil), f.calls...)
}

// Invoke implements ports.CapabilityProvider.
func (f *FakeCapabilities) Invoke(ctx context.Context, name string, args map[string]any) (*ports.ToolResult, error) {
	f.mu.Lock()
	fn, ok := f.tools[name]
	f.calls = append(f.calls, Invocation{Tool: name, Args: args})
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("tool %s: %w", name, ports.ErrToolNotFound)
	}
	return fn(args)
}

// List implements ports.CapabilityProvider.
func (f *FakeCapabilities) List(context.Context) ([]ports.ToolDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ports.ToolDescriptor, 0, len(f.order))
	for _, name := range f.order {
		out = append(out, ports.ToolDescriptor{Name: name, Description: "fake " + name})
	}
	return out, nil
}
