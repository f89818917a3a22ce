package studio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestReadiness(t *testing.T) {
	ws, _ := newTestWorkspace(t)
	dbUp := true
	health := NewHealth(pingFunc(func(context.Context) error {
		if !dbUp {
			return errors.New("closed")
		}
		return nil
	}), ws)
	app := fiber.New()
	health.Mount(app)

	resp, _ := do(t, app, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, app, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "no active project")

	_, err := ws.Open(context.Background())
	assert.NoError(t, err)
	resp, _ = do(t, app, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	dbUp = false
	resp, body = do(t, app, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "database")
}
