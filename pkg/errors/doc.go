// Package errors provides structured error types for better observability
// and programmatic error handling across the application.
//
// Example usage:
//
//	err := errors.WrapWithContext(
//	    errors.ErrCodeUnsupported,
//	    "binary introspection unavailable",
//	    err,
//	    map[string]any{
//	        "path": exe,
//	        "goos": runtime.GOOS,
//	    },
//	)
package errors
