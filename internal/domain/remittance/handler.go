package remittance

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rcm/rcm/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/denials", h.ListDenials)
	api.GET("/denials/:id", h.GetDenial)
	api.POST("/denials/:id/outcome", h.RecordOutcome)
	api.GET("/payments", h.ListPayments)
	api.GET("/payments/report", h.PaymentReport)
	api.GET("/payments/:id", h.GetPayment)
}

func (h *Handler) ListDenials(c echo.Context) error {
	pg := pagination.FromContext(c)
	denials, total, err := h.svc.ListDenials(c.Request().Context(),
		c.QueryParam("category"), c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(denials, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetDenial(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	dc, err := h.svc.GetDenial(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "denial case not found")
	}
	return c.JSON(http.StatusOK, dc)
}

type outcomeRequest struct {
	Outcome string `json:"outcome"`
	Note    string `json:"note"`
}

func (h *Handler) RecordOutcome(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req outcomeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	dc, err := h.svc.RecordOutcome(c.Request().Context(), id, req.Outcome, req.Note)
	if err != nil {
		if errors.Is(err, ErrDenialNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "denial case not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, dc)
}

func (h *Handler) ListPayments(c echo.Context) error {
	pg := pagination.FromContext(c)
	payments, total, err := h.svc.ListPayments(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(payments, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetPayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPayment(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "payment not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) PaymentReport(c echo.Context) error {
	report, err := h.svc.Report(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}
