package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/kopernicus/pkg/domain"
)

// ApprovalHint follows every plan proposal in the console.
const ApprovalHint = "Reply with feedback to revise the plan, or approve it to start the research."

// TextHandler implements the standard text-based interface.
type TextHandler struct {
	Reader   *bufio.Reader
	Writer   io.Writer
	Renderer ContentRenderer
	// Verbose also prints steps that wrote no annotation.
	Verbose bool

	inputChan chan inputResult
	startOnce sync.Once
}

type inputResult struct {
	text string
	err  error
}

// TextHandlerOption defines configuration for TextHandler.
type TextHandlerOption func(*TextHandler)

// WithTextHandlerRenderer configures the content renderer.
func WithTextHandlerRenderer(renderer ContentRenderer) TextHandlerOption {
	return func(h *TextHandler) {
		h.Renderer = renderer
	}
}

// WithVerbose prints every step name as it completes.
func WithVerbose(verbose bool) TextHandlerOption {
	return func(h *TextHandler) {
		h.Verbose = verbose
	}
}

// NewTextHandler creates a handler for standard text IO.
func NewTextHandler(r io.Reader, w io.Writer, opts ...TextHandlerOption) *TextHandler {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	h := &TextHandler{
		Reader: bufio.NewReader(r),
		Writer: w,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *TextHandler) initPump() {
	h.startOnce.Do(func() {
		h.inputChan = make(chan inputResult)
		go h.pump()
	})
}

// pump reads lines in the background so Input can honour cancellation.
func (h *TextHandler) pump() {
	for {
		text, err := h.Reader.ReadString('\n')
		if text != "" {
			h.inputChan <- inputResult{text: text}
		}
		if err != nil {
			if err == io.EOF {
				close(h.inputChan)
				return
			}
			h.inputChan <- inputResult{err: err}
			// Backoff for non-fatal errors to prevent CPU spikes on persistent failure
			time.Sleep(50 * time.Millisecond)
		}
	}
}

// Step prints the annotations a step wrote: tool outcomes, loop guard decisions.
func (h *TextHandler) Step(ctx context.Context, sd domain.StepDelta) error {
	d := sd.Delta
	if h.Verbose {
		fmt.Fprintf(h.Writer, "» %s\n", sd.Step)
	}
	for _, ps := range d.PastSteps {
		fmt.Fprintf(h.Writer, "  %s\n    %s\n", ps.Action, firstLine(ps.Outcome))
	}
	if d.Decision != nil {
		reasoning := ""
		if d.DecisionReasoning != nil {
			reasoning = ": " + *d.DecisionReasoning
		}
		fmt.Fprintf(h.Writer, "  decision %s%s\n", *d.Decision, reasoning)
	}
	return nil
}

// Output prints the response of the turn, rendered when a renderer is set.
func (h *TextHandler) Output(ctx context.Context, state *domain.ResearchState) error {
	if state == nil || state.Response == "" {
		return nil
	}
	output := state.Response
	if h.Renderer != nil {
		if rendered, err := h.Renderer(output); err == nil {
			output = rendered
		}
	}
	fmt.Fprintln(h.Writer, strings.TrimSpace(output))
	if awaitingApproval(state) {
		fmt.Fprintf(h.Writer, "\n%s\n", ApprovalHint)
	}
	return nil
}

func (h *TextHandler) Input(ctx context.Context) (string, error) {
	h.initPump()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
			fmt.Fprint(h.Writer, "> ")
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case res, ok := <-h.inputChan:
			if !ok {
				return "", io.EOF
			}
			if res.err != nil {
				return "", res.err
			}
			clean, err := SanitizeInput(strings.TrimSpace(res.text))
			if err != nil {
				fmt.Fprintf(h.Writer, "Error: %v. Please try again.\n", err)
				continue
			}
			return clean, nil
		}
	}
}

func (h *TextHandler) SystemOutput(ctx context.Context, msg string) error {
	fmt.Fprintf(h.Writer, "\n[System] %s\n", msg)
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

func awaitingApproval(state *domain.ResearchState) bool {
	return !state.InputRejected && state.Negotiation() == domain.NegotiationProposed
}
