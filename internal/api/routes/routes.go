package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/callscribe/callscribe/internal/api/handlers"
	"github.com/callscribe/callscribe/internal/api/middleware"
)

type Deps struct {
	Call     *handlers.CallHandler
	Dispatch *handlers.DispatchHandler // nil without the dispatch database
	Token    *handlers.TokenHandler
	Twilio   *handlers.TwilioHandler // nil when no PSTN webhook is configured
	WS       *handlers.WSHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Session socket: callers and dashboards connect here unauthenticated.
	r.GET("/ws", d.WS.Socket)

	// Carrier webhooks (Twilio signs its own requests).
	if d.Twilio != nil {
		tw := r.Group("/twilio")
		tw.POST("/incoming-call", d.Twilio.IncomingCall)
		tw.POST("/transcription", d.Twilio.Transcription)
		tw.POST("/recording-complete", d.Twilio.RecordingComplete)
		tw.POST("/status", d.Twilio.Status)
	}

	// Dispatcher console (JWT).
	auth := r.Group("/")
	auth.Use(middleware.JWTAuth())

	auth.GET("/calls", d.Call.List)
	auth.POST("/calls", middleware.RequireDispatcher(), d.Call.Create)
	auth.GET("/calls/:call_id", d.Call.Get)
	auth.GET("/calls/:call_id/parse", d.Call.Parse)
	auth.GET("/calls/:call_id/translate", d.Call.Translate)
	auth.PATCH("/calls/:call_id", middleware.RequireDispatcher(), d.Call.Update)
	auth.DELETE("/calls/cleanup", middleware.RequireAdmin(), d.Call.Cleanup)

	// Fleet endpoints need the dispatch database.
	if d.Dispatch != nil {
		auth.GET("/ambulances", d.Dispatch.Fleet)
		auth.GET("/ambulances/:id", d.Dispatch.Ambulance)
		auth.POST("/ambulances", middleware.RequireDispatcher(), d.Dispatch.UpsertAmbulance)
		auth.PATCH("/ambulances/:id/status", middleware.RequireDispatcher(), d.Dispatch.SetAmbulanceStatus)
		auth.GET("/calls/:call_id/recommendation", d.Dispatch.Recommend)
		auth.GET("/calls/:call_id/dispatches", d.Dispatch.History)
		auth.POST("/calls/:call_id/dispatch", middleware.RequireDispatcher(), d.Dispatch.Dispatch)
	}

	if d.Token != nil {
		auth.GET("/scribe-token", d.Token.ScribeToken)
	}
}
