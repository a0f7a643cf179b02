package runner

import "log/slog"

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.Logger = logger
		}
	}
}

// WithSessionID sets the session the runner advances.
func WithSessionID(id string) Option {
	return func(r *Runner) {
		r.SessionID = id
	}
}

// WithInputHandler sets the IO strategy.
func WithInputHandler(h IOHandler) Option {
	return func(r *Runner) {
		r.Handler = h
	}
}

// WithAutoApprove approves plan proposals without asking.
func WithAutoApprove(enabled bool) Option {
	return func(r *Runner) {
		r.AutoApprove = enabled
	}
}

// WithExitOnAnswer stops the run once the session is answered.
func WithExitOnAnswer(enabled bool) Option {
	return func(r *Runner) {
		r.ExitOnAnswer = enabled
	}
}
