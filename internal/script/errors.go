// ABOUTME: Line-numbered compile diagnostics for rule scripts
// ABOUTME: CompileError collects every error found in one pass over the source

package script

import (
	"fmt"
	"strings"
)

// Diagnostic is a single compiler finding tied to a source line.
type Diagnostic struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("line %d: %s", d.Line, d.Message)
}

// CompileError is returned by Compile when the source has one or more errors.
type CompileError struct {
	Diagnostics []Diagnostic
}

func (e *CompileError) Error() string {
	if len(e.Diagnostics) == 1 {
		return "compile error: " + e.Diagnostics[0].String()
	}
	parts := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		parts[i] = d.String()
	}
	return fmt.Sprintf("%d compile errors: %s", len(e.Diagnostics), strings.Join(parts, "; "))
}
