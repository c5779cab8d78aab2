package analytics

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sabcare/careline/internal/platform/auth"
	"github.com/sabcare/careline/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/analytics", auth.RequireRole(auth.RoleClinician, auth.RoleCoordinator))
	g.GET("/dashboard", h.GetDashboard)
}

// GetDashboard handles GET /analytics/dashboard?limit=N, where limit bounds
// the upcoming call list.
func (h *Handler) GetDashboard(c echo.Context) error {
	d, err := h.svc.Dashboard(c.Request().Context(), pagination.Limit(c, DefaultUpcoming))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}
