package httpadapter

import (
	"net/http"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
)

// First matching kind wins; unknown errors are 500.
var errorStatuses = []struct {
	kind   error
	status int
}{
	{domain.ErrInvalidInput, http.StatusBadRequest},
	{domain.ErrUnauthorized, http.StatusForbidden},
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrBatchInProgress, http.StatusConflict},
	{domain.ErrNotConfigured, http.StatusServiceUnavailable},
	{domain.ErrTemporary, http.StatusServiceUnavailable},
}

func mapErrorToHTTPStatus(err error) int {
	for _, e := range errorStatuses {
		if domain.IsKind(err, e.kind) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}
