package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LougLynx/RIG-SYSTEM/internal/apierror"
	"github.com/LougLynx/RIG-SYSTEM/internal/service"
)

type ReceivingsHandler struct{ svc service.ReceivingQueryService }

func NewReceivingsHandler(svc service.ReceivingQueryService) *ReceivingsHandler {
	return &ReceivingsHandler{svc: svc}
}

// List GET /v1/receivings[?date=YYYY-MM-DD]
// Without a date it returns the records still waiting for completion.
func (h *ReceivingsHandler) List(c *gin.Context) {
	day, ok, err := queryDate(c, "date")
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("date must be YYYY-MM-DD"))
		return
	}

	var resp interface{}
	if ok {
		resp, err = h.svc.ListByDay(c.Request.Context(), day)
	} else {
		resp, err = h.svc.ListOpen(c.Request.Context())
	}
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Get GET /v1/receivings/:id
func (h *ReceivingsHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	resp, err := h.svc.Get(c.Request.Context(), id)
	if errors.Is(err, service.ErrReceivingNotFound) {
		c.JSON(http.StatusNotFound, apierror.New(err.Error()))
		return
	}
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
