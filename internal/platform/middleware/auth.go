package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"verigate/internal/operatortoken"
	"verigate/pkg/domainerrors"
	"verigate/pkg/platform/httputil"
	"verigate/pkg/requestcontext"
)

// TokenValidator validates operator bearer tokens.
type TokenValidator interface {
	Validate(tokenString string) (*operatortoken.Claims, error)
}

// RequireOperator authenticates requests with an operator bearer token and
// injects the operator ID into the request context.
func RequireOperator(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const bearerPrefix = "Bearer "
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
			if !ok {
				logger.WarnContext(r.Context(), "missing bearer token",
					"request_id", requestcontext.RequestID(r.Context()),
					"path", r.URL.Path,
				)
				httputil.WriteError(w, domainerrors.New(domainerrors.CodeUnauthorized,
					"missing or malformed Authorization header"))
				return
			}

			claims, err := validator.Validate(token)
			if err != nil {
				logger.WarnContext(r.Context(), "operator token rejected",
					"error", err,
					"request_id", requestcontext.RequestID(r.Context()),
				)
				httputil.WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(
				requestcontext.WithOperatorID(r.Context(), claims.OperatorID)))
		})
	}
}
