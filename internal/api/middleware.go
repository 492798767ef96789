/**
 * @description
 * This file contains custom middleware for the HTTP router. Middlewares are used
 * to process requests before they reach the final handler, perfect for tasks like
 * authentication, logging, or adding context to a request.
 *
 * @dependencies
 * - context, net/http, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// UserIDContextKey is a custom type for the context key to avoid collisions.
type UserIDContextKey string

const sessionUserIDKey UserIDContextKey = "sessionUserID"

// AuthMiddleware creates a middleware that validates the HMAC-signed session
// tokens issued at account creation and login.
func AuthMiddleware(jwtSecret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Get the Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			// Extract the token from "Bearer <token>"
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			// Parse and validate the session token
			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return jwtSecret, nil
			})
			if err != nil {
				writeError(w, http.StatusUnauthorized, fmt.Sprintf("Invalid token: %v", err))
				return
			}
			if !token.Valid {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Invalid token claims")
				return
			}

			// Get the user ID from the 'sub' claim (standard JWT claim for subject)
			sub, ok := claims["sub"].(string)
			if !ok {
				writeError(w, http.StatusUnauthorized, "User ID not found in token")
				return
			}
			userID, err := uuid.Parse(sub)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid user ID in token")
				return
			}

			// Add the user ID to the request context
			ctx := context.WithValue(r.Context(), sessionUserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionUserID retrieves the authenticated user's ID from the request context.
func SessionUserID(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(sessionUserIDKey).(uuid.UUID)
	return userID, ok
}
