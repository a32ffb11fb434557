package session

import (
	"strings"
	"unicode/utf8"
)

// Result is the outcome of a terminated session. It is produced exactly
// once, by whichever invocation first finalises termination, and is the
// only value that crosses invocation boundaries.
type Result struct {
	SessionID   string   `json:"sessionId"`
	DurationMs  int64    `json:"durationMs"`
	ExitCode    *int     `json:"exitCode,omitempty"`
	OutputLines []string `json:"outputLines,omitempty"`
	ErrorLines  []string `json:"errorLines,omitempty"`
}

// TruncationMarker terminates text that exceeded the truncation limit.
const TruncationMarker = "... [truncated]"

// Response is the external, transport-friendly shape of a Result: capture
// is newline-joined and bounded, the full capture stays with the Result.
type Response struct {
	SessionID  string `json:"sessionId"`
	DurationMs int64  `json:"durationMs"`
	ExitCode   *int   `json:"exitCode,omitempty"`
	OutputText string `json:"outputText"`
	ErrorText  string `json:"errorText"`
}

// Response renders the result with capture truncated beyond limit runes.
func (r *Result) Response(limit int) *Response {
	return &Response{
		SessionID:  r.SessionID,
		DurationMs: r.DurationMs,
		ExitCode:   r.ExitCode,
		OutputText: joinTruncated(r.OutputLines, limit),
		ErrorText:  joinTruncated(r.ErrorLines, limit),
	}
}

func joinTruncated(lines []string, limit int) string {
	text := strings.Join(lines, "\n")
	if limit <= 0 || len(text) <= limit {
		return text
	}
	// Back off to a rune boundary; a cut mid-rune would emit invalid
	// UTF-8.
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit] + TruncationMarker
}
