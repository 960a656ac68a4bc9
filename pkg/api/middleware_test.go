package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/dqc/internal/testutil"
)

func TestMiddleware(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: errorHandler})
	setupMiddleware(app, testutil.Logger())

	app.Get("/ok", func(c fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/bad", func(fiber.Ctx) error {
		return fiber.NewError(fiber.StatusBadRequest, "bad batch")
	})
	app.Get("/panic", func(fiber.Ctx) error {
		panic("boom")
	})

	tests := []struct {
		path       string
		wantStatus int
		wantError  string
	}{
		{path: "/ok", wantStatus: http.StatusOK},
		{path: "/bad", wantStatus: http.StatusBadRequest, wantError: "bad batch"},
		{path: "/panic", wantStatus: http.StatusInternalServerError, wantError: "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			if tt.wantError == "" {
				return
			}

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			var out struct {
				Error string `json:"error"`
				Code  int    `json:"code"`
			}
			require.NoError(t, json.Unmarshal(body, &out))

			assert.Equal(t, tt.wantError, out.Error)
			assert.Equal(t, tt.wantStatus, out.Code)
		})
	}
}
