package errors

import (
	"fmt"
	"log/slog"
	"strings"
)

// FormatForCLI formats an error for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	ne, ok := As(err)
	if !ok {
		ne = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", ne.Message)
	if ne.Cause != nil && ne.Cause.Error() != ne.Message {
		fmt.Fprintf(&sb, "  Cause: %v\n", ne.Cause)
	}
	if ne.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", ne.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", ne.Code)
	return sb.String()
}

// LogAttrs returns slog attributes describing err.
func LogAttrs(err error) []slog.Attr {
	if err == nil {
		return nil
	}

	ne, ok := As(err)
	if !ok {
		return []slog.Attr{slog.String("error", err.Error())}
	}

	attrs := []slog.Attr{
		slog.String("error", ne.Error()),
		slog.String("error_code", ne.Code),
		slog.String("category", string(ne.Category)),
		slog.Bool("retryable", ne.Retryable),
	}
	for k, v := range ne.Details {
		attrs = append(attrs, slog.String("detail_"+k, v))
	}
	return attrs
}
