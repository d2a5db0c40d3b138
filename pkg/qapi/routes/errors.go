package routes

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/jobman/pkg/qsdk/qerr"
)

// statusError maps a coded error onto an HTTP error. fallback is used for
// codes the endpoint has no specific answer for.
func statusError(err error, fallback func(string, ...error) huma.StatusError) huma.StatusError {
	msg := err.Error()
	switch qerr.CodeOf(err) {
	case qerr.CodeNotFound:
		return huma.Error404NotFound(msg)
	case qerr.CodeConflict:
		return huma.Error409Conflict(msg)
	case qerr.CodeNoCapacity:
		return huma.Error503ServiceUnavailable(msg)
	default:
		return fallback(msg)
	}
}
