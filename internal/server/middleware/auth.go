package middleware

import (
	"net/http"

	"github.com/OpenPecha/webuddhist/backend/pkg/auth"

	"github.com/labstack/echo/v4"
)

// AuthMiddleware verifies the bearer token and stores the caller and raw token
// on the AppContext. The token is forwarded to the destination API.
func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := auth.ParseBearer(c.Request().Header.Get("Authorization"))
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}

		cc := c.(*AppContext)
		user, err := cc.App.Verifier.Verify(token)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}

		cc.User = user
		cc.Token = token
		return next(c)
	}
}
