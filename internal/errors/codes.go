// Package errors provides structured error handling for blogsearch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (index storage, disk)
//   - 3XX: Entry store errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates index storage and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryEntryStore indicates authoritative entry store errors.
	CategoryEntryStore Category = "ENTRY_STORE"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeCorruptIndex  = "ERR_201_CORRUPT_INDEX"
	ErrCodeIndexWrite    = "ERR_202_INDEX_WRITE"
	ErrCodeIndexLocked   = "ERR_203_INDEX_LOCKED"
	ErrCodeStoreDegraded = "ERR_204_STORE_DEGRADED"

	// Entry store errors (300-399)
	ErrCodeEntryFetchFailed  = "ERR_301_ENTRY_FETCH_FAILED"
	ErrCodeEntryStreamFailed = "ERR_302_ENTRY_STREAM_FAILED"
	ErrCodeDocumentConvert   = "ERR_303_DOCUMENT_CONVERT"

	// Validation errors (400-499)
	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"
	ErrCodeQueryEmpty   = "ERR_402_QUERY_EMPTY"
	ErrCodeInvalidQuery = "ERR_403_INVALID_QUERY"

	// Internal errors (500-599)
	ErrCodeInternal      = "ERR_501_INTERNAL"
	ErrCodeSearchFailed  = "ERR_502_SEARCH_FAILED"
	ErrCodeRebuildFailed = "ERR_503_REBUILD_FAILED"
)

// categoryFromCode extracts category from error code.
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
		return CategoryEntryStore
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode derives severity from the code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeIndexLocked:
		return SeverityFatal
	case ErrCodeEntryFetchFailed, ErrCodeDocumentConvert, ErrCodeStoreDegraded:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether operations failing with this code are
// worth retrying.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEntryFetchFailed, ErrCodeEntryStreamFailed:
		return true
	default:
		return false
	}
}
