package minixml

import "fmt"

// maxTokenInMessage bounds how much of an offending token an error repeats.
const maxTokenInMessage = 500

// ParseError describes malformed input. Line is 1-based.
type ParseError struct {
	Line  int
	Token string
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("xml parse error at line %d: %s (token %q)", e.Line, e.Msg, e.Token)
	}
	return fmt.Sprintf("xml parse error at line %d: %s", e.Line, e.Msg)
}

func truncate(s string) string {
	if len(s) > maxTokenInMessage {
		return s[:maxTokenInMessage]
	}
	return s
}
