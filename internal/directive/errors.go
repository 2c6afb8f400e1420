package directive

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoToolFound indicates no registered tool matched a directive.
	ErrNoToolFound = errors.New("no tool matches directive")

	// ErrScriptNotFound indicates a tool script is missing from every
	// script directory.
	ErrScriptNotFound = errors.New("tool script not found")

	// ErrEmptyDirective indicates a blank directive.
	ErrEmptyDirective = errors.New("directive is empty")
)

// ToolError reports a tool selection failure for a directive.
type ToolError struct {
	Directive string
	ToolID    string
	Err       error
}

func (e *ToolError) Error() string {
	if e.ToolID != "" {
		return fmt.Sprintf("directive %q (tool %s): %v", e.Directive, e.ToolID, e.Err)
	}
	return fmt.Sprintf("directive %q: %v", e.Directive, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// ScriptNotFoundError lists the paths tried for a tool script.
type ScriptNotFoundError struct {
	ToolID string
	Script string
	Tried  []string
}

func (e *ScriptNotFoundError) Error() string {
	return fmt.Sprintf("script %s for tool %s not found (tried %s)", e.Script, e.ToolID, strings.Join(e.Tried, ", "))
}

// Is matches ErrScriptNotFound.
func (e *ScriptNotFoundError) Is(target error) bool {
	return target == ErrScriptNotFound
}
