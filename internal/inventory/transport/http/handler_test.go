package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/internal/inventory/repository"
	"github.com/sakashimaa/order-saga/internal/inventory/service"
	"github.com/sakashimaa/order-saga/pkg/eventbus/eventbustest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInventoryHandler(t *testing.T) {
	svc := service.NewInventoryService(repository.NewMemoryRepository(), &eventbustest.Recorder{}, zap.NewNop())
	app := fiber.New()
	RegisterRoutes(app, NewInventoryHandler(svc, zap.NewNop()))

	productID := uuid.New()
	path := "/api/inventory/" + productID.String()

	call := func(method, body string) (int, recordResponse) {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		defer resp.Body.Close()

		var out recordResponse
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	code, _ := call(http.MethodGet, "")
	require.Equal(t, http.StatusNotFound, code)

	code, rec := call(http.MethodPut, `{"total":10}`)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 10, rec.Available)

	require.NoError(t, svc.Reserve(context.Background(), productID, 4))

	code, rec = call(http.MethodGet, "")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 10, rec.Total)
	require.EqualValues(t, 4, rec.Reserved)
	require.EqualValues(t, 6, rec.Available)

	code, _ = call(http.MethodPut, `{"total":3}`)
	require.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = call(http.MethodPut, `{}`)
	require.Equal(t, http.StatusBadRequest, code)
}
