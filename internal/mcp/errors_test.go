package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nxerrors "github.com/nullvektordom/nexus-cli-sub000/internal/errors"
)

func TestMapError_NilError(t *testing.T) {
	assert.Nil(t, MapError(nil))
}

func TestMapError_Sentinels(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"canceled", fmt.Errorf("search: %w", context.Canceled), ErrCodeTimeout},
		{"tool not found", ErrToolNotFound, ErrCodeMethodNotFound},
		{"invalid params", ErrInvalidParams, ErrCodeInvalidParams},
		{"resource not found", ErrResourceNotFound, ErrCodeMethodNotFound},
		{"no sprint", ErrNoActiveSprint, ErrCodeMethodNotFound},
		{"unknown", errors.New("boom"), ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.code, got.Code)
			assert.NotEmpty(t, got.Message)
		})
	}
}

func TestMapError_NexusErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation", nxerrors.ValidationError("decision text is empty", nil), ErrCodeInvalidParams},
		{"empty query", nxerrors.New(nxerrors.ErrCodeQueryEmpty, "query is empty", nil), ErrCodeInvalidParams},
		{"store connection", nxerrors.New(nxerrors.ErrCodeStoreConnection, "qdrant unreachable", nil), ErrCodeStoreUnavailable},
		{"circuit open", nxerrors.New(nxerrors.ErrCodeCircuitOpen, "circuit breaker is open", nil), ErrCodeStoreUnavailable},
		{"embedding", nxerrors.New(nxerrors.ErrCodeNotInitialized, "embedder not initialized", nil), ErrCodeEmbeddingUnavailable},
		{"file read", nxerrors.New(nxerrors.ErrCodeFileRead, "cannot read", nil), ErrCodeFileNotFound},
		{"encoding", nxerrors.New(nxerrors.ErrCodeEncoding, "not utf-8", nil), ErrCodeInternalError},
		{"scheduling", nxerrors.New(nxerrors.ErrCodeScheduling, "panicked", nil), ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(fmt.Errorf("wrapped: %w", tt.err))
			require.NotNil(t, got)
			assert.Equal(t, tt.code, got.Code)
		})
	}
}

func TestMapError_IncludesSuggestion(t *testing.T) {
	// Given: an error carrying a suggestion
	err := nxerrors.New(nxerrors.ErrCodeNotInitialized, "embeddings are unavailable", nil).
		WithSuggestion("Run 'nexus status' to check the model files.")

	// When: mapping it
	got := MapError(err)

	// Then: the message ends with the suggestion
	assert.Equal(t, "embeddings are unavailable Run 'nexus status' to check the model files.", got.Message)
}

func TestMapError_PassesMCPErrorThrough(t *testing.T) {
	orig := NewInvalidParamsError("limit must be positive")

	got := MapError(fmt.Errorf("handler: %w", orig))

	assert.Same(t, orig, got)
}

func TestMCPError_Error(t *testing.T) {
	assert.Equal(t, "MCP error -32601: Tool 'x' not found.", NewMethodNotFoundError("x").Error())
	assert.Equal(t, "MCP error -32601: Resource 'nexus://x' not found.", NewResourceNotFoundError("nexus://x").Error())
}
