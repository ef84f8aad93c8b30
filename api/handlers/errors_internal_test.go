package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/malbeclabs/eventdash/analytics/pkg/query"
	"github.com/malbeclabs/eventdash/analytics/pkg/refdata"
	dashtesting "github.com/malbeclabs/eventdash/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

func TestAPI_WriteError_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "invalid argument",
			err:        fmt.Errorf("%w: n must be positive, got 0", query.ErrInvalidArgument),
			wantStatus: http.StatusBadRequest,
			wantBody:   "invalid argument: n must be positive, got 0",
		},
		{
			name:       "not found",
			err:        fmt.Errorf("location L9: %w", refdata.ErrNotFound),
			wantStatus: http.StatusNotFound,
			wantBody:   "not found",
		},
		{
			name:       "store unavailable",
			err:        &query.StoreUnavailableError{Op: "count", Err: errors.New("dial tcp postgres://u:p@db: refused")},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   RetryMessage,
		},
		{
			name:       "anything else",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   "failed to load things",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			writeError(rec, dashtesting.NewLogger(), "failed to load things", tt.err)

			require.Equal(t, tt.wantStatus, rec.Code)
			require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tt.wantBody, body.Error)
			require.NotContains(t, rec.Body.String(), "u:p@")
		})
	}
}
