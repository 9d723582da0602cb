package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/callscribe/callscribe/internal/utils"
)

const defaultTokenEndpoint = "https://api.elevenlabs.io/v1/single-use-token/realtime_scribe"

// TokenClient mints single-use realtime transcription tokens so that the
// vendor API key never leaves the server. Tokens are requested fresh for
// every recognition session; they are not cached.
type TokenClient struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

func NewTokenClient(endpoint, apiKey string) *TokenClient {
	if endpoint == "" {
		endpoint = defaultTokenEndpoint
	}
	return &TokenClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch acquires one token. Any failure is reported as TOKEN_ACQUISITION;
// callers fall back to a degraded recognition path rather than ending the
// session.
func (c *TokenClient) Fetch(ctx context.Context) (string, error) {
	const op = "TokenClient.Fetch"

	if c.apiKey == "" {
		return "", utils.E(utils.CodeTokenAcquisition, op, "transcription api key is not configured", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, nil)
	if err != nil {
		return "", utils.E(utils.CodeTokenAcquisition, op, "failed to build token request", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", utils.E(utils.CodeTokenAcquisition, op, "token endpoint unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", utils.E(utils.CodeTokenAcquisition, op, "token endpoint rejected the request", nil)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", utils.E(utils.CodeTokenAcquisition, op, "malformed token response", err)
	}
	if body.Token == "" {
		return "", utils.E(utils.CodeTokenAcquisition, op, "token endpoint returned an empty token", nil)
	}

	return body.Token, nil
}
