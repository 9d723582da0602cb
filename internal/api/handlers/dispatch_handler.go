package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/callscribe/callscribe/internal/models"
	"github.com/callscribe/callscribe/internal/services"
	"github.com/callscribe/callscribe/internal/utils"
)

type DispatchHandler struct {
	svc services.DispatchService
}

func NewDispatchHandler(svc services.DispatchService) *DispatchHandler {
	return &DispatchHandler{svc: svc}
}

func (h *DispatchHandler) Fleet(c *gin.Context) {
	fleet, err := h.svc.Fleet(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ambulances": fleet})
}

func (h *DispatchHandler) Ambulance(c *gin.Context) {
	a, err := h.svc.Ambulance(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *DispatchHandler) UpsertAmbulance(c *gin.Context) {
	if _, ok := requireDispatcherID(c); !ok {
		return
	}

	var a models.Ambulance
	if err := c.ShouldBindJSON(&a); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "DispatchHandler.UpsertAmbulance", "invalid request body", err))
		return
	}
	if err := h.svc.UpsertAmbulance(c.Request.Context(), &a); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type ambulanceStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *DispatchHandler) SetAmbulanceStatus(c *gin.Context) {
	if _, ok := requireDispatcherID(c); !ok {
		return
	}

	var req ambulanceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "DispatchHandler.SetAmbulanceStatus", "status is required", err))
		return
	}
	if err := h.svc.SetAmbulanceStatus(c.Request.Context(), c.Param("id"), req.Status); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": req.Status})
}

func (h *DispatchHandler) Recommend(c *gin.Context) {
	recs, err := h.svc.Recommend(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recommendations": recs})
}

type dispatchRequest struct {
	AmbulanceID string `json:"ambulanceId"` // empty means take the top recommendation
}

func (h *DispatchHandler) Dispatch(c *gin.Context) {
	if _, ok := requireDispatcherID(c); !ok {
		return
	}

	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		writeError(c, utils.E(utils.CodeInvalidArgument, "DispatchHandler.Dispatch", "invalid request body", err))
		return
	}

	call, err := h.svc.Dispatch(c.Request.Context(), c.Param("call_id"), req.AmbulanceID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

// History returns every dispatch recorded for a call, scores included.
func (h *DispatchHandler) History(c *gin.Context) {
	recs, err := h.svc.History(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispatches": recs})
}
