package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/localnerve/tablebridge/internal/handlers"
	"github.com/localnerve/tablebridge/internal/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("server-secret")

type okMigrator struct{ calls int }

func (m *okMigrator) Migrate(context.Context, string) (services.Report, error) {
	m.calls++
	return services.Report{}, nil
}

type pinger struct{}

func (pinger) Ping(context.Context) error { return nil }

func newTestApp(t *testing.T, requireAuth bool, maxMB int) (*fiber.App, *okMigrator) {
	t.Helper()
	supersetSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	}))
	t.Cleanup(supersetSrv.Close)

	m := &okMigrator{}
	app := New(Options{
		Upload: &handlers.UploadHandler{Migrator: m, UploadFolder: t.TempDir()},
		Health: &handlers.HealthHandler{Deps: services.HealthDeps{
			DocumentStore: pinger{},
			Database:      pinger{},
			SupersetURL:   supersetSrv.URL,
		}},
		RequireAuth: requireAuth,
		TokenSecret: secret,
		MaxUploadMB: maxMB,
		Registerer:  prometheus.NewRegistry(),
	})
	return app, m
}

func uploadRequest(t *testing.T, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", "rows.csv")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/api/upload", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode(t *testing.T, r io.Reader) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(r).Decode(&out))
	return out
}

func TestUploadRouteOpenByDefault(t *testing.T) {
	app, m := newTestApp(t, false, 1)

	resp, err := app.Test(uploadRequest(t, []byte("a,b\n1,2\n")), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, m.calls)
	assert.Equal(t, "1.0.0", resp.Header.Get("X-Api-Version"))
}

func TestUploadRouteRequiresBearer(t *testing.T) {
	app, m := newTestApp(t, true, 1)

	resp, err := app.Test(uploadRequest(t, []byte("a,b\n1,2\n")), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	out := decode(t, resp.Body)
	assert.Equal(t, "upload.authorization", out["type"])
	assert.Equal(t, false, out["ok"])
	assert.Equal(t, 0, m.calls)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "7"}).SignedString(secret)
	require.NoError(t, err)
	req := uploadRequest(t, []byte("a,b\n1,2\n"))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, m.calls)
}

func TestUploadBodyLimit(t *testing.T) {
	app, m := newTestApp(t, false, 1)

	resp, err := app.Test(uploadRequest(t, bytes.Repeat([]byte("x"), 2<<20)), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, 0, m.calls)
}

func TestHealthRoute(t *testing.T) {
	app, _ := newTestApp(t, false, 1)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decode(t, resp.Body)["status"])
}

func TestNotFoundAndMetrics(t *testing.T) {
	app, _ := newTestApp(t, false, 1)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/nope", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "[404] Resource Not Found", decode(t, resp.Body)["message"])

	resp, err = app.Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
