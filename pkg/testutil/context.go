package testutil

import (
	"net/http"

	id "accounts/pkg/domain"
	"accounts/pkg/requestcontext"
)

// WithCredential puts an authenticated caller on the request context, as the
// auth middleware would.
func WithCredential(req *http.Request, credentialID id.CredentialID, roles ...string) *http.Request {
	ctx := requestcontext.WithCredentialID(req.Context(), credentialID)
	ctx = requestcontext.WithRoles(ctx, roles)
	return req.WithContext(ctx)
}

// WithRequestID sets the request id normally minted by middleware.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
