package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/exp/slog"

	"reliefsync/internal/app/client/config"
	"reliefsync/internal/domain/sync"
)

const (
	batchPath  = "/api/v1/sync/batch"
	healthPath = "/api/v1/health"
)

// ErrUnreachable - запрос не дошел до сервера или ответ не был получен
var ErrUnreachable = errors.New("server unreachable")

// StatusError - сервер ответил кодом ошибки
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("ошибка сервера: статус %d: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("ошибка сервера: статус %d", e.Code)
}

// Remote - серверная сторона пакетной синхронизации
type Remote interface {
	ApplyBatch(ctx context.Context, req sync.BatchRequest) (*sync.BatchResponse, error)
	HealthCheck(ctx context.Context) error
}

type HTTPClient struct {
	client    *http.Client
	log       *slog.Logger
	baseURL   string
	userAgent string
}

func NewHTTPClient(cfg *config.Config, log *slog.Logger) *HTTPClient {
	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConnsPerHost: 10,
		},
	}

	return &HTTPClient{
		client:    client,
		log:       log.With("component", "http_client"),
		baseURL:   cfg.ServerURL(),
		userAgent: "ReliefSync-Client/1.0",
	}
}

// HealthCheck проверяет доступность сервера
func (h *HTTPClient) HealthCheck(ctx context.Context) error {
	resp, err := h.doRequest(ctx, http.MethodGet, healthPath, nil)
	if err != nil {
		return err
	}
	return h.parseResponse(resp, nil)
}

// ApplyBatch отправляет пакет изменений
func (h *HTTPClient) ApplyBatch(ctx context.Context, req sync.BatchRequest) (*sync.BatchResponse, error) {
	resp, err := h.doRequest(ctx, http.MethodPost, batchPath, req)
	if err != nil {
		return nil, err
	}

	var result sync.BatchResponse
	if err := h.parseResponse(resp, &result); err != nil {
		return nil, err
	}
	if len(result.Results) != len(req.Changes) {
		return nil, fmt.Errorf("сервер вернул %d результатов на %d изменений", len(result.Results), len(req.Changes))
	}
	return &result, nil
}

func (h *HTTPClient) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("ошибка маршалинга тела запроса: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}

	req.Header.Set("User-Agent", h.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	h.log.Debug("Отправка запроса",
		"method", method,
		"url", req.URL.String(),
	)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	return resp, nil
}

func (h *HTTPClient) parseResponse(resp *http.Response, result any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: ошибка чтения ответа: %v", ErrUnreachable, err)
	}

	h.log.Debug("Получен ответ",
		"status", resp.StatusCode,
		"bytes", len(body),
	)

	if resp.StatusCode >= 400 {
		return &StatusError{Code: resp.StatusCode, Detail: errorDetail(body)}
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("ошибка парсинга ответа: %w", err)
		}
	}

	return nil
}

// errorDetail извлекает описание из тела ошибки (application/problem+json)
func errorDetail(body []byte) string {
	var problem struct {
		Detail string `json:"detail"`
		Errors []struct {
			Message  string `json:"message"`
			Location string `json:"location"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &problem); err != nil {
		return ""
	}

	parts := make([]string, 0, len(problem.Errors)+1)
	if problem.Detail != "" {
		parts = append(parts, problem.Detail)
	}
	for _, e := range problem.Errors {
		if e.Location != "" {
			parts = append(parts, e.Location+": "+e.Message)
		} else {
			parts = append(parts, e.Message)
		}
	}
	return strings.Join(parts, "; ")
}
