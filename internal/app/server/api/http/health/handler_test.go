package health

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"golang.org/x/exp/slog"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHandler_healthCheck(t *testing.T) {
	tests := []struct {
		name           string
		db             Pinger
		expectedStatus string
		expectedDB     string
		wantErr        bool
	}{
		{
			name:           "health check returns OK",
			expectedStatus: "OK",
		},
		{
			name:           "database reachable",
			db:             pingerFunc(func(context.Context) error { return nil }),
			expectedStatus: "OK",
			expectedDB:     "OK",
		},
		{
			name:    "database unreachable",
			db:      pingerFunc(func(context.Context) error { return errors.New("connection refused") }),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			log := slog.Default()
			middleware := huma.Middlewares{}
			handler := NewHandler(tt.db, log, middleware)
			ctx := context.Background()
			input := &Input{}

			// Act
			output, err := handler.healthCheck(ctx, input)

			// Assert
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, output)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, output)
			assert.Equal(t, tt.expectedStatus, output.Body.Status)
			assert.Equal(t, tt.expectedDB, output.Body.Database)
			assert.False(t, output.Body.Time.IsZero())
		})
	}
}

func TestHandler_healthCheckRoute(t *testing.T) {
	_, api := humatest.New(t)
	NewHandler(nil, slog.Default(), huma.Middlewares{}).SetupRoutes(api)

	resp := api.Get("/api/v1/health")

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"status":"OK"`)
}

func TestNewHandler(t *testing.T) {
	// Arrange
	log := slog.Default()
	middleware := huma.Middlewares{}

	// Act
	handler := NewHandler(nil, log, middleware)

	// Assert
	assert.NotNil(t, handler)
	assert.NotNil(t, handler.log)
	assert.NotNil(t, handler.middleware)
}
