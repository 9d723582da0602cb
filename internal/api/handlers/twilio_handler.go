package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/callscribe/callscribe/internal/models"
	"github.com/callscribe/callscribe/internal/services"
	"github.com/callscribe/callscribe/internal/session"
)

// TwilioHandler terminates PSTN webhooks. A phone call entering through
// Twilio becomes a regular session on the engine; TwiML replies steer the
// caller.
type TwilioHandler struct {
	calls  services.CallService
	events session.Events
	log    *logrus.Logger
}

func NewTwilioHandler(calls services.CallService, events session.Events, log *logrus.Logger) *TwilioHandler {
	if log == nil {
		log = logrus.New()
	}
	return &TwilioHandler{calls: calls, events: events, log: log}
}

const incomingTwiML = `<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Say voice="alice">Emergency services. Your call is being recorded and analyzed. Please describe your emergency.</Say>
  <Record transcribe="true" transcribeCallback="/twilio/transcription" action="/twilio/recording-complete" maxLength="300" playBeep="false"/>
</Response>`

const recordingDoneTwiML = `<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Say voice="alice">Thank you. Help is on the way. Stay on the line if you need further assistance.</Say>
  <Pause length="2"/>
  <Hangup/>
</Response>`

// IncomingCall answers the voice webhook: creates the call record, notifies
// the dashboards, and greets the caller.
func (h *TwilioHandler) IncomingCall(c *gin.Context) {
	callSid := c.PostForm("CallSid")
	from := c.PostForm("From")
	if callSid == "" {
		c.String(http.StatusBadRequest, "missing CallSid")
		return
	}

	h.log.WithFields(logrus.Fields{"call_id": callSid, "from": from}).Info("incoming phone call")

	call := &models.Call{
		CallID: callSid,
		From:   from,
		Status: models.CallStatusActive,
	}
	if err := h.calls.CreateCall(c.Request.Context(), call); err != nil {
		h.log.WithError(err).WithField("call_id", callSid).Error("failed to create call record")
	}
	if h.events != nil {
		h.events.BroadcastIncomingCall(callSid, from, time.Now().UTC())
	}

	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, incomingTwiML)
}

// Transcription receives the completed call transcription and stores it as
// a single caller-attributed transcript line.
func (h *TwilioHandler) Transcription(c *gin.Context) {
	callSid := c.PostForm("CallSid")
	text := c.PostForm("TranscriptionText")
	status := c.PostForm("TranscriptionStatus")

	if status != "completed" || text == "" || callSid == "" {
		c.Status(http.StatusOK)
		return
	}

	line := models.TranscriptLine{Speaker: models.SpeakerCaller, Text: text, Timestamp: "00:00"}
	if err := h.calls.SyncTranscript(c.Request.Context(), callSid, []models.TranscriptLine{line}); err != nil {
		h.log.WithError(err).WithField("call_id", callSid).Warn("failed to store phone transcription")
	}
	c.Status(http.StatusOK)
}

// RecordingComplete thanks the caller and hangs up.
func (h *TwilioHandler) RecordingComplete(c *gin.Context) {
	callSid := c.PostForm("CallSid")
	h.log.WithField("call_id", callSid).Info("phone recording complete")

	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, recordingDoneTwiML)
}

// Status tracks call lifecycle events from the carrier.
func (h *TwilioHandler) Status(c *gin.Context) {
	callSid := c.PostForm("CallSid")
	status := c.PostForm("CallStatus")
	if callSid == "" || status == "" {
		c.Status(http.StatusOK)
		return
	}

	h.log.WithFields(logrus.Fields{"call_id": callSid, "status": status}).Info("carrier status")
	if h.events != nil {
		h.events.BroadcastStatus(callSid, status)
	}
	c.Status(http.StatusOK)
}
