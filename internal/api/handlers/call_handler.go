package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/callscribe/callscribe/internal/models"
	"github.com/callscribe/callscribe/internal/parser"
	"github.com/callscribe/callscribe/internal/services"
	"github.com/callscribe/callscribe/internal/translate"
	"github.com/callscribe/callscribe/internal/utils"
)

type CallHandler struct {
	svc        services.CallService
	translator *translate.Client
}

func NewCallHandler(svc services.CallService, translator *translate.Client) *CallHandler {
	return &CallHandler{svc: svc, translator: translator}
}

// Create registers a call record directly, for walk-in reports and imports
// that never had a live session.
func (h *CallHandler) Create(c *gin.Context) {
	if _, ok := requireDispatcherID(c); !ok {
		return
	}

	var call models.Call
	if err := c.ShouldBindJSON(&call); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "CallHandler.Create", "invalid request body", err))
		return
	}
	if call.CallID == "" {
		call.CallID = uuid.NewString()
	}

	if err := h.svc.CreateCall(c.Request.Context(), &call); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, call)
}

func (h *CallHandler) List(c *gin.Context) {
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "100"), 10, 64)

	calls, err := h.svc.List(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": calls, "count": len(calls)})
}

func (h *CallHandler) Get(c *gin.Context) {
	call, err := h.svc.Get(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h *CallHandler) Update(c *gin.Context) {
	if _, ok := requireDispatcherID(c); !ok {
		return
	}

	var upd models.CallUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "CallHandler.Update", "invalid request body", err))
		return
	}

	call, err := h.svc.Update(c.Request.Context(), c.Param("call_id"), upd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

// Parse runs the local keyword extraction pass over a call's transcript,
// giving the console an instant first read before the AI triage lands.
func (h *CallHandler) Parse(c *gin.Context) {
	call, err := h.svc.Get(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, parser.Parse(call.Transcript))
}

// Translate returns the call's transcript rendered in the target language.
// Lines the translator cannot handle come back marked, never dropped, so
// the console always shows something per line.
func (h *CallHandler) Translate(c *gin.Context) {
	target := c.Query("target")
	if target == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "CallHandler.Translate", "target language is required", nil))
		return
	}

	call, err := h.svc.Get(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	texts := make([]string, len(call.Transcript))
	for i, line := range call.Transcript {
		texts[i] = line.Text
	}
	translated := h.translator.TranslateLines(c.Request.Context(), texts, target)

	lines := make([]models.TranscriptLine, len(call.Transcript))
	for i, line := range call.Transcript {
		line.Text = translated[i]
		lines[i] = line
	}
	c.JSON(http.StatusOK, gin.H{"callId": call.CallID, "target": target, "transcript": lines})
}

// Cleanup deletes resolved calls older than the retention window
// (default 24h, override with ?hours=N).
func (h *CallHandler) Cleanup(c *gin.Context) {
	if _, ok := requireDispatcherID(c); !ok {
		return
	}

	hours, err := strconv.Atoi(c.DefaultQuery("hours", "24"))
	if err != nil || hours <= 0 {
		writeError(c, utils.E(utils.CodeInvalidArgument, "CallHandler.Cleanup", "hours must be a positive integer", err))
		return
	}

	n, err := h.svc.Cleanup(c.Request.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}
