package core

import (
	"errors"
	"net/http"
	"strings"

	"tasseo/internal/types"
)

// AuthMiddleware puts the types.Principal behind a bearer token into the
// request context. s.PublicPaths and CORS preflights skip it. Every failure
// is a 401 carrying auth_token_missing or auth_token_invalid.
//
// A nil Authenticator disables the check; handlers that need a principal
// then reject the request on their own.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil || r.Method == http.MethodOptions || s.PublicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			unauthorized(w, r, types.ErrCodeAuthTokenMissing, "a Bearer token is required")
			return
		}

		principal, err := s.Authenticator.ResolveToken(r.Context(), token)
		var appErr *types.AppError
		switch {
		case err == nil && principal != nil:
			next.ServeHTTP(w, r.WithContext(types.WithPrincipal(r.Context(), *principal)))
		case err == nil, errors.As(err, &appErr) && appErr.Code == types.ErrCodeAuthTokenInvalid:
			s.Logger.WarnContext(r.Context(), "rejected bearer token", "route", routePattern(r))
			unauthorized(w, r, types.ErrCodeAuthTokenInvalid, "invalid authentication token")
		default:
			s.Logger.ErrorContext(r.Context(), "resolving bearer token", "route", routePattern(r), "error", err)
			unauthorized(w, r, types.ErrCodeAuthTokenInvalid, "authentication failed")
		}
	})
}

// bearerToken accepts "Bearer <token>" with the scheme in any case.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	JSON(w, r, http.StatusUnauthorized, errorEnvelope(code, message, types.GetRequestID(r.Context())))
}
