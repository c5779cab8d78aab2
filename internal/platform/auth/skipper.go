package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// publicRoutes are the registered echo routes, keyed "METHOD /path", that
// answer without credentials. Only liveness and database readiness qualify;
// everything under /api/v1 needs a token.
var publicRoutes = map[string]bool{
	http.MethodGet + " /health":    true,
	http.MethodGet + " /health/db": true,
}

// AuthSkipper matches the matched route template and method, so a POST to a
// health path or an unmatched URL still requires a token.
func AuthSkipper(c echo.Context) bool {
	return IsPublicRoute(c.Request().Method, c.Path())
}

// IsPublicRoute reports whether method and route bypass authentication.
func IsPublicRoute(method, route string) bool {
	return publicRoutes[method+" "+route]
}
