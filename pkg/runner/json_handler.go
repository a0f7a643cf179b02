package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aretw0/kopernicus/pkg/domain"
)

// Event kinds of the JSON-lines protocol, shared by JSONHandler and the HTTP adapter.
const (
	EventStep   = "step"
	EventTurn   = "turn"
	EventSystem = "system"
	EventError  = "error"
)

// Event is one JSON line.
type Event struct {
	Type     string        `json:"type"`
	Step     string        `json:"step,omitempty"`
	Delta    *domain.Delta `json:"delta,omitempty"`
	Phase    domain.Phase  `json:"phase,omitempty"`
	Response string        `json:"response,omitempty"`
	Awaiting bool          `json:"awaiting_approval,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// JSONHandler implements the IOHandler interface for structured JSON-Lines communication.
type JSONHandler struct {
	Reader *bufio.Reader

	mu      sync.Mutex
	encoder *json.Encoder
}

// NewJSONHandler creates a handler for JSON IO.
func NewJSONHandler(r io.Reader, w io.Writer) *JSONHandler {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	return &JSONHandler{
		Reader:  bufio.NewReader(r),
		encoder: json.NewEncoder(w),
	}
}

func (h *JSONHandler) write(e Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.encoder.Encode(e)
}

func (h *JSONHandler) Step(ctx context.Context, sd domain.StepDelta) error {
	d := sd.Delta
	return h.write(Event{Type: EventStep, Step: sd.Step, Delta: &d})
}

func (h *JSONHandler) Output(ctx context.Context, state *domain.ResearchState) error {
	return h.write(Event{
		Type:     EventTurn,
		Phase:    state.Phase,
		Response: state.Response,
		Awaiting: awaitingApproval(state),
	})
}

// Input reads one line: a JSON string, or raw text.
func (h *JSONHandler) Input(ctx context.Context) (string, error) {
	text, err := h.Reader.ReadString('\n')
	if err != nil && (err != io.EOF || text == "") {
		return "", err
	}
	text = strings.TrimSpace(text)

	var val string
	if err := json.Unmarshal([]byte(text), &val); err == nil {
		text = val
	}
	return SanitizeInput(text)
}

func (h *JSONHandler) SystemOutput(ctx context.Context, msg string) error {
	return h.write(Event{Type: EventSystem, Message: msg})
}
