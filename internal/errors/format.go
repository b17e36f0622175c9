package errors

import (
	"fmt"
	"log/slog"
	"strings"
)

// FormatForCLI formats an error for CLI output.
// Uses a concise format suitable for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	ke, ok := As(err)
	if !ok {
		ke = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", ke.Message))
	if ke.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", ke.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", ke.Code))

	return sb.String()
}

// LogAttrs returns slog attributes describing err.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}

	ke, ok := As(err)
	if !ok {
		return []any{slog.String("error", err.Error())}
	}

	attrs := []any{
		slog.String("error_code", ke.Code),
		slog.String("error", ke.Message),
		slog.String("category", string(ke.Category)),
	}
	if ke.Cause != nil {
		attrs = append(attrs, slog.String("cause", ke.Cause.Error()))
	}
	for k, v := range ke.Details {
		attrs = append(attrs, slog.String("detail_"+k, v))
	}
	return attrs
}
