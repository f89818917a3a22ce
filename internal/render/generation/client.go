package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"scene-gen/internal/common/apperr"
	"scene-gen/internal/render/prompt"

	"github.com/gofiber/fiber/v3/log"
	"github.com/tidwall/gjson"
)

// ============================================================
// Generation Client
// ============================================================

// Client отправляет запрос в сервис генерации и возвращает сырое тело ответа.
type Client interface {
	Generate(ctx context.Context, req prompt.Request) ([]byte, error)
}

// HTTPClient: клиент внешнего сервиса генерации по HTTP/JSON.
type HTTPClient struct {
	url   string
	token string
	http  *http.Client
}

func NewHTTPClient(url, token string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPClient{
		url:   strings.TrimRight(url, "/"),
		token: token,
		http:  hc,
	}
}

// Generate: сетевые сбои и таймаут дают TRANSPORT, отказ сервиса даёт GENERATION_FAILED
// с сообщением сервиса.
func (c *HTTPClient) Generate(ctx context.Context, req prompt.Request) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidInput, "build generation request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	log.Infow("generation request", "url", c.url, "images", len(req.Images), "prompt_bytes", len(req.Prompt))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, apperr.Transport("generation service unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Transport("read generation response", err)
	}

	if resp.StatusCode >= 300 {
		msg := serviceMessage(data)
		if msg == "" {
			msg = fmt.Sprintf("generation service status %d", resp.StatusCode)
		}
		log.Warnw("generation rejected", "status", resp.StatusCode, "message", msg)
		return nil, apperr.GenerationFailed(msg)
	}

	if gjson.ValidBytes(data) {
		if success := gjson.GetBytes(data, "success"); success.Exists() && !success.Bool() {
			msg := serviceMessage(data)
			if msg == "" {
				msg = "generation service reported failure"
			}
			log.Warnw("generation declined", "message", msg)
			return nil, apperr.GenerationFailed(msg)
		}
	}

	return data, nil
}

// serviceMessage достаёт текст ошибки из известных полей ответа.
func serviceMessage(data []byte) string {
	if !gjson.ValidBytes(data) {
		return strings.TrimSpace(string(data))
	}
	for _, path := range []string{"error.message", "error", "message", "description"} {
		if r := gjson.GetBytes(data, path); r.Type == gjson.String && r.String() != "" {
			return r.String()
		}
	}
	return ""
}
