package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
	RoleKey   contextKey = "user_role"
)

// Middleware validates the access token and stores the user ID and role in
// the request context. Refresh tokens are not accepted on API routes.
func Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Missing Authorization header")
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid Authorization header format")
		}

		claims, err := parseClaims(parts[1])
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
		}
		if typ, _ := claims["typ"].(string); typ != "access" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Refresh tokens cannot access the API")
		}

		sub, err := claims.GetSubject()
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token subject")
		}
		userID, err := uuid.Parse(sub)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid user ID in token")
		}

		role, _ := claims["role"].(string)
		if role == "" {
			role = RoleUser
		}

		c.Set(string(UserIDKey), userID)
		c.Set(string(RoleKey), role)
		return next(c)
	}
}

// RequireAdmin rejects requests whose token does not carry the admin role.
// It must run after Middleware.
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		role, ok := c.Get(string(RoleKey)).(string)
		if !ok || role != RoleAdmin {
			return echo.NewHTTPError(http.StatusForbidden, "Admin role required")
		}
		return next(c)
	}
}

// GetUserIDFromContext retrieves the authenticated user ID.
func GetUserIDFromContext(c echo.Context) (uuid.UUID, error) {
	val := c.Get(string(UserIDKey))
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil, errors.New("user ID not found in context")
	}
	return id, nil
}
