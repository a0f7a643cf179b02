package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/kopernicus/internal/logging"
	"github.com/aretw0/kopernicus/pkg/ports"
)

// ArgPrefix prefixes the environment variables carrying tool arguments.
const ArgPrefix = "KOPERNICUS_ARG_"

// DefaultGracePeriod is how long a cancelled process has to exit after the interrupt.
const DefaultGracePeriod = 5 * time.Second

var argKey = regexp.MustCompile(`[^A-Z0-9_]`)

// Provider is a capability provider running local executables.
// Only registered tools run (allow-listing); arguments are passed as environment
// variables, never as command-line flags, so they cannot inject flags or commands.
type Provider struct {
	mu       sync.RWMutex
	registry map[string]ProcessConfig
	baseDir  string
	grace    time.Duration
	logger   *slog.Logger
}

// Option configures the provider.
type Option func(*Provider)

// WithRegistry populates the allow-list from a loaded config.
func WithRegistry(tools []ProcessConfig) Option {
	return func(p *Provider) {
		for _, tool := range tools {
			p.registry[tool.Name] = tool
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) Option {
	return func(p *Provider) {
		p.baseDir = dir
	}
}

// WithGracePeriod sets how long a cancelled process may take to exit before it is killed.
func WithGracePeriod(d time.Duration) Option {
	return func(p *Provider) {
		p.grace = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// New creates a new process provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		registry: make(map[string]ProcessConfig),
		grace:    DefaultGracePeriod,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register adds a trusted command to the allow-list.
func (p *Provider) Register(name string, command string, args ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registry[name] = ProcessConfig{Name: name, Command: command, Args: args}
}

// List implements ports.CapabilityProvider.
func (p *Provider) List(context.Context) ([]ports.ToolDescriptor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ports.ToolDescriptor, 0, len(p.registry))
	for _, tool := range p.registry {
		props := make(map[string]any, len(tool.Params))
		for _, param := range tool.Params {
			props[param] = map[string]any{"type": "string"}
		}
		out = append(out, ports.ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: map[string]any{"type": "object", "properties": props},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Invoke implements ports.CapabilityProvider. A non-zero exit is a failed call
// carrying the process stderr. Stdout holding a JSON object or array is decoded.
func (p *Provider) Invoke(ctx context.Context, name string, args map[string]any) (*ports.ToolResult, error) {
	p.mu.RLock()
	tool, ok := p.registry[name]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s (not registered)", ports.ErrToolNotFound, name)
	}

	if tool.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tool.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, tool.Command, tool.Args...)
	cmd.Dir = p.baseDir
	cmd.Env = append(cmd.Environ(), environment(tool.Environment, args)...)
	// Interrupt first; the process is killed only after the grace period.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = p.grace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	p.logger.Debug("process tool finished", "tool", name, "duration", time.Since(start), "err", err)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(ctxErr, err)
		}
		return nil, fmt.Errorf("execution failed: %w. Stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	text := strings.TrimSpace(stdout.String())
	return &ports.ToolResult{Text: text, Data: decodeJSON(text)}, nil
}

// environment renders the tool's fixed variables and the call arguments.
// Primitives are formatted as is; maps and slices are encoded as JSON.
func environment(fixed map[string]string, args map[string]any) []string {
	env := make([]string, 0, len(fixed)+len(args))
	for k, v := range fixed {
		env = append(env, k+"="+v)
	}
	for k, v := range args {
		var val string
		switch v.(type) {
		case string, int, int64, float64, bool:
			val = fmt.Sprintf("%v", v)
		case nil:
			val = ""
		default:
			if b, err := json.Marshal(v); err == nil {
				val = string(b)
			} else {
				val = fmt.Sprintf("%v", v)
			}
		}
		env = append(env, ArgPrefix+argKey.ReplaceAllString(strings.ToUpper(k), "_")+"="+val)
	}
	sort.Strings(env)
	return env
}

func decodeJSON(text string) any {
	if !(strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}")) &&
		!(strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]")) {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil
	}
	return v
}
