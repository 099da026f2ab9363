package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/frahmantamala/payment-reconciliation/internal"
)

type operatorContextKey struct{}

// OperatorClaims identifies the caller of the operational endpoints
// (tenant sync, monitor control).
type OperatorClaims struct {
	Subject  string
	TenantID string
}

func OperatorFromContext(ctx context.Context) (*OperatorClaims, bool) {
	claims, ok := ctx.Value(operatorContextKey{}).(*OperatorClaims)
	return claims, ok
}

// JWTAuth validates a Bearer token signed with the configured secret
// and puts the operator claims on the request context.
func JWTAuth(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				writeAuthError(w, apperrors.ErrInvalidToken)
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				if errors.Is(err, jwt.ErrTokenExpired) {
					writeAuthError(w, apperrors.ErrTokenExpired)
					return
				}
				logger.Warn("rejected token", "error", err, "path", r.URL.Path)
				writeAuthError(w, apperrors.ErrInvalidToken)
				return
			}

			operator := &OperatorClaims{}
			if sub, ok := claims["sub"].(string); ok {
				operator.Subject = sub
			}
			if tenantID, ok := claims["tenant_id"].(string); ok {
				operator.TenantID = tenantID
			}

			ctx := context.WithValue(r.Context(), operatorContextKey{}, operator)
			if operator.TenantID != "" {
				ctx = apperrors.ContextWithTenantID(ctx, operator.TenantID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

func writeAuthError(w http.ResponseWriter, appErr *apperrors.AppError) {
	status, body := appErr.ToHTTPResponse()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
