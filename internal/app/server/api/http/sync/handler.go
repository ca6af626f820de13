package sync

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"reliefsync/internal/domain/sync"
)

type Handler struct {
	service    sync.Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service sync.Servicer, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		log:        log.With("component", "sync_handler"),
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.batchOp(), h.batch)
}

func (h *Handler) batch(ctx context.Context, input *batchInput) (*batchOutput, error) {
	response, err := h.service.ApplyBatch(ctx, input.Body)
	if err != nil {
		if errors.Is(err, sync.ErrValidation) {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
		h.log.Error("failed to apply batch", "error", err)
		return nil, huma.Error500InternalServerError("failed to apply batch")
	}

	return &batchOutput{
		Body: *response,
	}, nil
}
