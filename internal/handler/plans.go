package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LougLynx/RIG-SYSTEM/internal/apierror"
	"github.com/LougLynx/RIG-SYSTEM/internal/dto"
	"github.com/LougLynx/RIG-SYSTEM/internal/middleware"
	"github.com/LougLynx/RIG-SYSTEM/internal/service"
)

type PlansHandler struct{ svc service.PlanService }

func NewPlansHandler(svc service.PlanService) *PlansHandler {
	return &PlansHandler{svc: svc}
}

// Delay POST /v1/plan-details/:id/delays
func (h *PlansHandler) Delay(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.DelayPlanDetailRequest
	if !bindAndValidate(c, &req) {
		return
	}

	resp, err := h.svc.DelayDetail(c.Request.Context(), id, req, middleware.Actor(c))
	switch {
	case errors.Is(err, service.ErrPlanDetailNotFound):
		c.JSON(http.StatusNotFound, apierror.New(err.Error()))
	case errors.Is(err, service.ErrSameDate):
		c.JSON(http.StatusConflict, apierror.New(err.Error()))
	case err != nil:
		_ = c.Error(err)
	default:
		c.JSON(http.StatusCreated, resp)
	}
}
