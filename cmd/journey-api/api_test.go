package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woolane/journey/pkg/models"
	"github.com/woolane/journey/pkg/persistence/file"
)

func setupTestApp(tempDir string) *fiber.App {
	persistence := file.NewPersistence(tempDir)

	return NewAPI(slog.Default(), persistence).App()
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Journey API", string(body))
}

func TestAPI_Liveness(t *testing.T) {
	app := setupTestApp(t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_GetAutomations_Empty(t *testing.T) {
	app := setupTestApp(t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/automations", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var automations []*models.Automation

	require.NoError(t, json.Unmarshal(body, &automations))
	assert.Empty(t, automations)
}
