package middleware

import (
	"net/http"

	apierrors "obsidian/internal/errors"
	"obsidian/internal/infrastructure"
)

// ProblemFromStatus builds a problem for the statuses middleware answers with
// directly, before any handler runs.
func ProblemFromStatus(status int, detail, instance, traceID string) *apierrors.ProblemDetails {
	var problemType string
	switch status {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusRequestEntityTooLarge:
		problemType = apierrors.TypeValidation
	case http.StatusUnauthorized:
		problemType = apierrors.TypeUnauthorized
	case http.StatusForbidden:
		problemType = apierrors.TypeForbidden
	case http.StatusTooManyRequests:
		problemType = apierrors.TypeRateLimit
	case http.StatusGatewayTimeout:
		problemType = apierrors.TypeTimeout
	case http.StatusServiceUnavailable:
		problemType = apierrors.TypeServiceDown
	default:
		problemType = apierrors.TypeInternal
	}

	problem := apierrors.NewProblemDetails(status, problemType, http.StatusText(status), detail, instance)
	if traceID != "" {
		problem.WithExtension("trace_id", traceID)
	}
	return problem
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	ProblemFromStatus(status, detail, r.URL.Path, infrastructure.GetTraceID(r.Context())).Write(w)
}
