package api

import (
	"errors"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/pullquiz/pullquiz/pkg/models"
	"github.com/pullquiz/pullquiz/pkg/storage"
)

const identityContextKey = "identity"

// extractToken pulls the opaque token from the Authorization header
// (Bearer scheme) or the token query parameter.
func extractToken(c *echo.Context) string {
	auth := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.QueryParam("token")
}

// requireTeacher gates the control endpoints: the token must resolve to
// the teacher of the session named in the path.
func (s *Server) requireTeacher(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		token := extractToken(c)
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
		}

		identity, err := s.auth.LookupToken(c.Request().Context(), token)
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		if err != nil {
			return mapEngineError(err)
		}
		if identity.Role != models.RoleTeacher {
			return echo.NewHTTPError(http.StatusForbidden, "teacher role required")
		}
		if identity.SessionID != c.Param("id") {
			return echo.NewHTTPError(http.StatusForbidden, "token is not valid for this session")
		}

		c.Set(identityContextKey, identity)
		return next(c)
	}
}

// requireSession admits any token scoped to the session named in the
// path, teacher or student. Used by endpoints students call directly.
func (s *Server) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		token := extractToken(c)
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
		}

		identity, err := s.auth.LookupToken(c.Request().Context(), token)
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		if err != nil {
			return mapEngineError(err)
		}
		if identity.SessionID != c.Param("id") {
			return echo.NewHTTPError(http.StatusForbidden, "token is not valid for this session")
		}

		c.Set(identityContextKey, identity)
		return next(c)
	}
}

// identityFrom returns the authenticated identity stashed by the auth
// middleware.
func identityFrom(c *echo.Context) *storage.TokenIdentity {
	if id, ok := c.Get(identityContextKey).(*storage.TokenIdentity); ok {
		return id
	}
	return nil
}
