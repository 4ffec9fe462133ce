package httpmw

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hydra-run/hydra/internal/herr"
)

// ErrorEnvelope is the wire shape of spec.md §6/§7's error response:
// {code, message, details}.
type ErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// WriteError maps err onto an HTTP status and the standard error envelope.
// Any error not already a *herr.Error is reported as herr.CodeInternal.
func WriteError(c *gin.Context, err error) {
	he, ok := herr.As(err)
	if !ok {
		he = herr.Wrap(herr.CodeInternal, err, "internal error")
	}
	c.JSON(statusFor(he.Code), ErrorEnvelope{
		Code:    string(he.Code),
		Message: he.Message,
		Details: he.Details,
	})
}

// statusFor maps herr.Code to the HTTP status a REST caller expects,
// separate from herr.ExitCode's CLI exit-code table since a long-lived
// HTTP server has no equivalent of a process exit status.
func statusFor(code herr.Code) int {
	switch code {
	case herr.CodeInvalidConfig, herr.CodeNotAGitRepo, herr.CodeUnsupportedVersion, herr.CodeUnsupportedFlag:
		return http.StatusBadRequest
	case herr.CodeAuthMissing:
		return http.StatusUnauthorized
	case herr.CodeExperimentalBlocked:
		return http.StatusForbidden
	case herr.CodeNotFound, herr.CodeSessionUnknown:
		return http.StatusNotFound
	case herr.CodeDirtyWorktree, herr.CodeSafetyGate, herr.CodeMergeConflict, herr.CodeSessionNotRunning, herr.CodeBudgetExceeded:
		return http.StatusConflict
	case herr.CodeLockContention:
		return http.StatusLocked
	case herr.CodeBinaryMissing, herr.CodeNotReady, herr.CodeScoringUnavailable:
		return http.StatusServiceUnavailable
	case herr.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
