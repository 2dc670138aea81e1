// Package mcp exposes nexus context retrieval and the decision ledger to
// AI clients over the Model Context Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"

	nxerrors "github.com/nullvektordom/nexus-cli-sub000/internal/errors"
)

// Custom MCP error codes.
const (
	// ErrCodeStoreUnavailable indicates the vector store could not be reached.
	ErrCodeStoreUnavailable = -32001

	// ErrCodeEmbeddingUnavailable indicates no embedding could be produced.
	ErrCodeEmbeddingUnavailable = -32002

	// ErrCodeTimeout indicates the request timed out or was cancelled.
	ErrCodeTimeout = -32003

	// ErrCodeFileNotFound indicates a resource file no longer exists on disk.
	ErrCodeFileNotFound = -32004

	// ErrCodeFileTooLarge indicates a resource file is too large to return.
	ErrCodeFileTooLarge = -32005

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Sentinel errors for internal use.
var (
	ErrToolNotFound     = errors.New("tool not found")
	ErrInvalidParams    = errors.New("invalid parameters")
	ErrResourceNotFound = errors.New("resource not found")
	ErrNoActiveSprint   = errors.New("no active sprint")
)

// MCPError is an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var nexusErr *nxerrors.NexusError
	if errors.As(err, &nexusErr) {
		return mapNexusError(nexusErr)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Tool not found."}
	case errors.Is(err, ErrInvalidParams):
		return &MCPError{Code: ErrCodeInvalidParams, Message: "Invalid parameters."}
	case errors.Is(err, ErrResourceNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Resource not found."}
	case errors.Is(err, ErrNoActiveSprint):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "No sprint is active."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

// NewResourceNotFoundError creates an error for unknown resources.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Resource '%s' not found.", uri)}
}

func mapNexusError(ne *nxerrors.NexusError) *MCPError {
	message := ne.Message
	if ne.Suggestion != "" {
		message = fmt.Sprintf("%s %s", ne.Message, ne.Suggestion)
	}

	switch ne.Category {
	case nxerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case nxerrors.CategoryStore:
		return &MCPError{Code: ErrCodeStoreUnavailable, Message: message}
	case nxerrors.CategoryEmbedding:
		return &MCPError{Code: ErrCodeEmbeddingUnavailable, Message: message}
	case nxerrors.CategoryIO:
		if ne.Code == nxerrors.ErrCodeFileRead {
			return &MCPError{Code: ErrCodeFileNotFound, Message: message}
		}
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
