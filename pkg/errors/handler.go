package errors

import (
	"fmt"
	"io"
	"sort"

	"github.com/rs/zerolog"
)

// Handler reports terminating errors to the operator and the structured log.
// Nothing is retried or recovered; the caller exits after Handle.
type Handler struct {
	logger zerolog.Logger
	out    io.Writer
	color  bool
}

// NewHandler creates a handler writing human-readable output to out
func NewHandler(logger zerolog.Logger, out io.Writer, color bool) *Handler {
	return &Handler{logger: logger, out: out, color: color}
}

// Handle logs err with its code and context, then prints a diagnostic
func (h *Handler) Handle(err error) {
	if err == nil {
		return
	}

	appErr, ok := err.(*AppError)
	if !ok {
		appErr = Wrap(err, ErrCodeInternal, err.Error())
	}

	event := h.logger.Error().
		Str("code", string(appErr.Code)).
		Str("severity", string(appErr.Severity))
	for key, value := range appErr.Context {
		event = event.Interface(key, value)
	}
	if appErr.Cause != nil {
		event = event.AnErr("cause", appErr.Cause)
	}
	event.Msg(appErr.Message)

	h.displayError(appErr)
}

func (h *Handler) displayError(err *AppError) {
	severityColor, resetColor := "", ""
	if h.color {
		switch err.Severity {
		case SeverityCritical:
			severityColor = "\033[31m"
		case SeverityError:
			severityColor = "\033[91m"
		case SeverityWarning:
			severityColor = "\033[33m"
		default:
			severityColor = "\033[36m"
		}
		resetColor = "\033[0m"
	}

	fmt.Fprintf(h.out, "\n%s[%s] %s%s\n", severityColor, err.Code, err.Message, resetColor)
	if err.Cause != nil {
		fmt.Fprintf(h.out, "  %v\n", err.Cause)
	}

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintln(h.out, "\nContext:")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if len(err.Suggestions) > 0 {
		fmt.Fprintln(h.out, "\nSuggestions:")
		for i, suggestion := range err.Suggestions {
			fmt.Fprintf(h.out, "  %d. %s\n", i+1, suggestion)
		}
	}
}
