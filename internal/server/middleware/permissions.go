package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		user := c.(*AppContext).User
		if user == nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}
		if !user.IsAdmin() {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden: administrator authority required"})
		}
		return next(c)
	}
}
