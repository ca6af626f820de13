package sync

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) batchOp() huma.Operation {
	return huma.Operation{
		OperationID:   "sync-batch",
		Method:        http.MethodPost,
		Path:          "/api/v1/sync/batch",
		Summary:       "Пакетная синхронизация изменений",
		Description:   "Применяет до 100 локальных изменений по порядку и возвращает результат по каждому",
		Tags:          []string{"sync"},
		DefaultStatus: http.StatusOK,
		Errors:        []int{http.StatusUnprocessableEntity, http.StatusInternalServerError},
		Middlewares:   h.middleware,
	}
}
