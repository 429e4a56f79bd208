package operators

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/stepfund/valued/internal/platform/httpx"
	"github.com/stepfund/valued/internal/shared"
)

// TokenHeader carries the operator credential as "<id>:<secret>".
const TokenHeader = "X-Operator-Token"

// RequireOperator authenticates the operator token and stores the operator id
// in the request context. Requests without a valid token never reach the
// wrapped handler.
func RequireOperator(registry Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(TokenHeader)
			if token == "" {
				httpx.RespondError(w, fmt.Errorf("%w: missing %s header", shared.ErrUnauthenticated, TokenHeader))
				return
			}
			id, secret, ok := strings.Cut(token, ":")
			if !ok {
				httpx.RespondError(w, fmt.Errorf("%w: malformed operator token", shared.ErrUnauthenticated))
				return
			}
			op, err := registry.Authenticate(r.Context(), id, secret)
			if err != nil {
				httpx.RespondError(w, err)
				return
			}
			ctx := shared.ContextWithOperator(r.Context(), op.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
