package memerr

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatForCLI formats an error for terminal display: message, an
// optional hint, and the code for bug reports.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	me, ok := err.(*MemError)
	if !ok {
		me = Wrap(CodeInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", me.Message))
	if me.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", me.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", me.Code))
	return sb.String()
}

// jsonError is the wire/log representation of a MemError.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns the JSON representation of an error, for --json
// CLI output and daemon error responses.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	me, ok := err.(*MemError)
	if !ok {
		me = Wrap(CodeInternal, err)
	}

	je := jsonError{
		Code:       me.Code,
		Message:    me.Message,
		Category:   string(me.Category),
		Severity:   string(me.Severity),
		Details:    me.Details,
		Suggestion: me.Suggestion,
		Retryable:  me.Retryable,
	}
	if me.Cause != nil {
		je.Cause = me.Cause.Error()
	}
	return json.Marshal(je)
}

// LogAttrs flattens an error into key-value pairs suitable for
// slog.Any-style structured logging.
func LogAttrs(err error) map[string]any {
	if err == nil {
		return nil
	}

	me, ok := err.(*MemError)
	if !ok {
		return map[string]any{"error": err.Error()}
	}

	out := map[string]any{
		"error_code": me.Code,
		"message":    me.Message,
		"category":   string(me.Category),
		"severity":   string(me.Severity),
		"retryable":  me.Retryable,
	}
	if me.Cause != nil {
		out["cause"] = me.Cause.Error()
	}
	if me.Suggestion != "" {
		out["suggestion"] = me.Suggestion
	}
	for k, v := range me.Details {
		out["detail_"+k] = v
	}
	return out
}
