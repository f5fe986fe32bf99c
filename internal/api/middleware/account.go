package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/phrazzld/tollgate/internal/api/shared"
	"github.com/phrazzld/tollgate/internal/domain"
	"github.com/phrazzld/tollgate/internal/platform/logger"
)

// AccountIDHeader names the caller's account. Authentication happens in
// front of this service; the header is trusted as-is.
const AccountIDHeader = "X-Account-ID"

// RequireAccount rejects requests without a well-formed account header and
// stores the account in the request context otherwise.
func RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID := strings.TrimSpace(r.Header.Get(AccountIDHeader))
		if accountID == "" {
			shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized,
				"Missing account identity", domain.ErrUnauthorized, shared.WithElevatedLogLevel())
			return
		}
		if err := domain.ValidateAccountID(accountID); err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid account identifier", err)
			return
		}

		ctx := shared.SetAccountID(r.Context(), accountID)
		ctx = logger.WithLogger(ctx, logger.FromContext(ctx).With(slog.String("account_id", accountID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
