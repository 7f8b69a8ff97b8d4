package testutil

import (
	"net/http"

	"verigate/pkg/requestcontext"
)

// WithOperator adds an operator ID to the request context.
// This simulates what the auth middleware would do for authenticated requests.
func WithOperator(req *http.Request, operatorID string) *http.Request {
	if operatorID == "" {
		return req
	}
	ctx := requestcontext.WithOperatorID(req.Context(), operatorID)
	return req.WithContext(ctx)
}
