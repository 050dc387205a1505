package compiler

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Diagnostic is a build message of the bundler.
type Diagnostic struct {
	Text   string `json:"text"`
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// CompileError holds the diagnostics of a failed build, e.g. syntax errors
// or unresolvable imports.
type CompileError struct {
	Diagnostics []Diagnostic
}

func (e *CompileError) Error() string {
	texts := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		if d.File != "" {
			texts[i] = fmt.Sprintf("%s:%d:%d: %s", d.File, d.Line, d.Column, d.Text)
		} else {
			texts[i] = d.Text
		}
	}
	return "build failed: " + strings.Join(texts, "; ")
}

// MarshalJSON implements the json.Marshaler interface.
func (e *CompileError) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string][]Diagnostic{"errors": e.Diagnostics})
}

func newCompileError(messages []api.Message) *CompileError {
	diagnostics := make([]Diagnostic, len(messages))
	for i, msg := range messages {
		d := Diagnostic{Text: msg.Text}
		if msg.Location != nil {
			d.File = msg.Location.File
			d.Line = msg.Location.Line
			d.Column = msg.Location.Column
		}
		diagnostics[i] = d
	}
	return &CompileError{Diagnostics: diagnostics}
}

// InternalError is a failure of the host (fetch, transport) or of the
// bundler itself.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string {
	return "compiler: " + e.Err.Error()
}

func (e *InternalError) Unwrap() error { return e.Err }

// ValidationError is returned for bundle requests that can not produce a
// single artifact.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
