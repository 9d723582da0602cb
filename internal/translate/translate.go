// Package translate renders transcript lines into the dispatcher's language
// through a LibreTranslate instance. Translation is an annotation layered on
// top of committed lines; the original text is never replaced.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultEndpoint = "https://libretranslate.com/translate"

// UnavailablePrefix marks lines the translator could not process. The
// original text follows the prefix so the dispatcher still sees something.
const UnavailablePrefix = "[Translation unavailable] "

type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	log      *logrus.Logger
}

func NewClient(endpoint, apiKey string, log *logrus.Logger) *Client {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if log == nil {
		log = logrus.New()
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 15 * time.Second},
		log:      log,
	}
}

// TranslateLines translates a batch of lines in one request, joined by
// newlines the way the upstream API expects. On any failure every line comes
// back prefixed with UnavailablePrefix; the call never returns an error to
// its caller's hot path.
func (c *Client) TranslateLines(ctx context.Context, lines []string, targetLang string) []string {
	if len(lines) == 0 {
		return nil
	}
	if targetLang == "" {
		targetLang = "en"
	}

	translated, err := c.request(ctx, strings.Join(lines, "\n"), targetLang)
	if err != nil {
		c.log.WithError(err).Warn("translation unavailable, passing original text through")
		return degraded(lines)
	}

	parts := strings.Split(translated, "\n")
	if len(parts) != len(lines) {
		c.log.WithFields(logrus.Fields{"sent": len(lines), "got": len(parts)}).
			Warn("translation line count mismatch, passing original text through")
		return degraded(lines)
	}
	return parts
}

func (c *Client) request(ctx context.Context, text, targetLang string) (string, error) {
	payload := map[string]string{
		"q":      text,
		"source": "auto",
		"target": targetLang,
		"format": "text",
	}
	if c.apiKey != "" {
		payload["api_key"] = c.apiKey
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translation API error: %d", resp.StatusCode)
	}

	var out struct {
		TranslatedText string `json:"translatedText"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.TranslatedText, nil
}

func degraded(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = UnavailablePrefix + line
	}
	return out
}
