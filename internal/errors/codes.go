// Package errors provides structured error handling for nexus.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: File and watcher errors
//   - 3XX: Vector store errors
//   - 4XX: Validation errors
//   - 5XX: Embedding errors
//   - 6XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, encoding and watch errors.
	CategoryIO Category = "IO"
	// CategoryStore indicates vector store errors.
	CategoryStore Category = "STORE"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryEmbedding indicates model, tokenizer and inference errors.
	CategoryEmbedding Category = "EMBEDDING"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates the feature cannot run at all.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed but the caller can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	ErrCodeFileRead   = "ERR_201_FILE_READ"
	ErrCodeEncoding   = "ERR_202_ENCODING"
	ErrCodeWatchSetup = "ERR_203_WATCH_SETUP"
	ErrCodeManifest   = "ERR_204_MANIFEST"

	ErrCodeStoreConnection = "ERR_301_STORE_CONNECTION"
	ErrCodeStoreOperation  = "ERR_302_STORE_OPERATION"
	ErrCodeCircuitOpen     = "ERR_303_CIRCUIT_OPEN"

	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_403_QUERY_EMPTY"

	ErrCodeInitialization     = "ERR_501_INITIALIZATION"
	ErrCodeAlreadyInitialized = "ERR_502_ALREADY_INITIALIZED"
	ErrCodeNotInitialized     = "ERR_503_NOT_INITIALIZED"
	ErrCodeTokenization       = "ERR_504_TOKENIZATION"
	ErrCodeInference          = "ERR_505_INFERENCE"
	ErrCodeShape              = "ERR_506_SHAPE"

	ErrCodeInternal   = "ERR_601_INTERNAL"
	ErrCodeScheduling = "ERR_602_SCHEDULING"
)

// Sentinels for errors.Is. Matching is by code, so any error built with
// New(code, ...) matches the sentinel of the same code.
var (
	ErrInitialization     = &NexusError{Code: ErrCodeInitialization}
	ErrAlreadyInitialized = &NexusError{Code: ErrCodeAlreadyInitialized}
	ErrNotInitialized     = &NexusError{Code: ErrCodeNotInitialized}
	ErrTokenization       = &NexusError{Code: ErrCodeTokenization}
	ErrInference          = &NexusError{Code: ErrCodeInference}
	ErrShape              = &NexusError{Code: ErrCodeShape}
	ErrStoreConnection    = &NexusError{Code: ErrCodeStoreConnection}
	ErrStoreOperation     = &NexusError{Code: ErrCodeStoreOperation}
	ErrFileRead           = &NexusError{Code: ErrCodeFileRead}
	ErrEncoding           = &NexusError{Code: ErrCodeEncoding}
	ErrWatchSetup         = &NexusError{Code: ErrCodeWatchSetup}
	ErrScheduling         = &NexusError{Code: ErrCodeScheduling}
	ErrCircuitOpen        = &NexusError{Code: ErrCodeCircuitOpen, Message: "circuit breaker is open"}
)

// categoryFromCode extracts the category from the numeric block of a code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryStore
	case '4':
		return CategoryValidation
	case '5':
		return CategoryEmbedding
	default:
		return CategoryInternal
	}
}

func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeInitialization, ErrCodeScheduling:
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode reports whether an operation failing with code may succeed on retry.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeStoreConnection, ErrCodeCircuitOpen:
		return true
	default:
		return false
	}
}
