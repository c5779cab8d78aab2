package ivr

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sabcare/careline/internal/platform/auth"
	"github.com/sabcare/careline/pkg/pagination"
)

type Handler struct {
	store    CallRecordStore
	executor *Executor
	now      func() time.Time
}

func NewHandler(store CallRecordStore, executor *Executor) *Handler {
	return &Handler{store: store, executor: executor, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleCoordinator))
	g.GET("/calls/upcoming", h.ListUpcoming)
	g.GET("/calls/:id", h.GetCall)
	g.GET("/patients/:id/calls", h.ListPatientCalls)
	g.POST("/calls/:id/execute", h.ExecuteCall)
	g.POST("/calls/:id/cancel", h.CancelCall)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/executor/tick", h.Tick)
}

func (h *Handler) ListUpcoming(c echo.Context) error {
	limit := pagination.Limit(c, 10)
	items, err := h.store.ListUpcoming(c.Request().Context(), h.now(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*CallEntry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"calls": items, "limit": limit})
}

func (h *Handler) GetCall(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.store.GetByID(c.Request().Context(), id)
	if err != nil {
		return callError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) ListPatientCalls(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.store.ListByPatient(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ExecuteCall(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.executor.ExecuteNow(c.Request().Context(), id)
	if err != nil {
		return callError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) CancelCall(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.executor.Cancel(c.Request().Context(), id)
	if err != nil {
		return callError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Tick(c echo.Context) error {
	res, err := h.executor.Tick(c.Request().Context(), h.now())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

// callError maps executor and store errors onto HTTP statuses.
func callError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "call not found")
	case errors.Is(err, ErrAlreadyCompleted):
		return echo.NewHTTPError(http.StatusConflict, "call already completed")
	case errors.Is(err, ErrCancelled):
		return echo.NewHTTPError(http.StatusConflict, "call was cancelled")
	case errors.Is(err, ErrInFlight):
		return echo.NewHTTPError(http.StatusConflict, "call is already being executed")
	case errors.Is(err, ErrDelivery):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
