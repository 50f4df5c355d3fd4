package parser

import (
	"errors"
	"fmt"
	"strings"
)

// ParseError is a flow definition error with its location, when known
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Cause   error
}

var (
	ErrUnsupportedTrigger = errors.New("unsupported trigger type")
	ErrInvalidDefinition  = errors.New("invalid flow definition")
)

func (e *ParseError) Error() string {
	var sb strings.Builder
	sb.WriteString("parse error")
	if e.Path != "" {
		sb.WriteString(" in ")
		sb.WriteString(e.Path)
	}
	switch {
	case e.Line > 0 && e.Column > 0:
		fmt.Fprintf(&sb, " at line %d, column %d", e.Line, e.Column)
	case e.Line > 0:
		fmt.Fprintf(&sb, " at line %d", e.Line)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	return sb.String()
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

func newParseError(path string, err error) *ParseError {
	msg := strings.TrimPrefix(err.Error(), "yaml: ")
	line, column := lineColumn(msg)
	return &ParseError{
		Path:    path,
		Line:    line,
		Column:  column,
		Message: msg,
		Cause:   err,
	}
}

func lineColumn(msg string) (int, int) {
	var line, column int
	if idx := strings.Index(msg, "line "); idx != -1 {
		_, _ = fmt.Sscanf(msg[idx:], "line %d", &line)
	}
	if idx := strings.Index(msg, "column "); idx != -1 {
		_, _ = fmt.Sscanf(msg[idx:], "column %d", &column)
	}
	return line, column
}
