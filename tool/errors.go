package tool

import "errors"

var (
	// ErrUnknownTool is returned when the model calls a tool that is not registered.
	ErrUnknownTool = errors.New("tool: unknown tool")

	// ErrInvalidTool is returned by Register for a malformed tool.
	ErrInvalidTool = errors.New("tool: invalid tool")

	// ErrDuplicateTool is returned by Register when the name is taken.
	ErrDuplicateTool = errors.New("tool: already registered")

	// ErrTimeout is returned when a tool outlives the executor timeout.
	ErrTimeout = errors.New("tool: execution timed out")
)
