package errorhandler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/craftzone/craftzone-api/internal/pkg/database"
	"github.com/craftzone/craftzone-api/internal/pkg/logger"
	"github.com/craftzone/craftzone-api/internal/pkg/response"
)

// HandleError logs err with the request id and writes the given error
// response.
func HandleError(ctx context.Context, w http.ResponseWriter, status int, code, message string, err error) {
	event := logger.FromContext(ctx).Error().
		Str("error_code", code).
		Int("status_code", status)
	if err != nil {
		event = event.Err(err)
	}
	event.Msg(message)

	response.Error(w, status, code, message)
}

// HandleUnexpected maps errors no domain handler recognised: transient
// store failures become 503, everything else a generic 500.
func HandleUnexpected(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, database.ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		logger.FromContext(ctx).Warn().Err(err).Msg("Store unavailable")
		response.ServiceUnavailable(w)
		return
	}
	HandleError(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", err)
}

// LogValidationError logs validation errors with details
func LogValidationError(ctx context.Context, fieldErrors map[string]string) {
	errJSON, _ := json.Marshal(fieldErrors)
	logger.FromContext(ctx).Warn().
		RawJSON("validation_errors", errJSON).
		Msg("Validation error")
}
