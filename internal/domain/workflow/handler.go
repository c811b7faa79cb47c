package workflow

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rcm/rcm/pkg/pagination"
)

type APIHandler struct {
	svc *Service
}

func NewAPIHandler(svc *Service) *APIHandler {
	return &APIHandler{svc: svc}
}

func (h *APIHandler) RegisterRoutes(api *echo.Group) {
	api.POST("/workflows", h.StartWorkflow)
	api.GET("/workflows", h.ListWorkflows)
	api.GET("/workflows/:id", h.GetWorkflow)
	api.GET("/workflows/:id/steps", h.GetWorkflowSteps)
	api.POST("/workflows/:id/resume", h.ResumeWorkflow)
	api.POST("/workflows/:id/cancel", h.CancelWorkflow)
}

func (h *APIHandler) StartWorkflow(c echo.Context) error {
	var req StartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inst, err := h.svc.Start(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, ErrDuplicateWorkflow) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusAccepted, inst)
}

func (h *APIHandler) GetWorkflow(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	inst, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
	}
	return c.JSON(http.StatusOK, inst)
}

func (h *APIHandler) ListWorkflows(c echo.Context) error {
	pg := pagination.FromContext(c)
	instances, total, err := h.svc.List(c.Request().Context(), c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(instances, total, pg.Limit, pg.Offset))
}

func (h *APIHandler) GetWorkflowSteps(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	steps, err := h.svc.Steps(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
	}
	return c.JSON(http.StatusOK, steps)
}

type resumeRequest struct {
	Corrections Context `json:"corrections"`
}

func (h *APIHandler) ResumeWorkflow(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req resumeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inst, err := h.svc.Resume(c.Request().Context(), id, req.Corrections)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
		}
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusAccepted, inst)
}

func (h *APIHandler) CancelWorkflow(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	inst, err := h.svc.Cancel(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
		}
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusAccepted, inst)
}
