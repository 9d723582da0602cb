package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/callscribe/callscribe/internal/providers/stt"
)

// TokenHandler mints single-use realtime transcription tokens for browser
// clients, keeping the vendor API key server-side.
type TokenHandler struct {
	tokens *stt.TokenClient
}

func NewTokenHandler(tokens *stt.TokenClient) *TokenHandler {
	return &TokenHandler{tokens: tokens}
}

func (h *TokenHandler) ScribeToken(c *gin.Context) {
	tok, err := h.tokens.Fetch(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok})
}
