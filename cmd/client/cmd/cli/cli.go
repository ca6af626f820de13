// Package cli содержит общие для команд клиента помощники
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"reliefsync/internal/app/client"
)

var ErrNotInitialized = errors.New("приложение не инициализировано")

type envKey struct{}

// Env - то, что получает каждая команда после настройки корневой команды
type Env struct {
	App     *client.App
	Printer *Printer
}

func WithEnv(ctx context.Context, env *Env) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

// FromCommand достает окружение из контекста команды
func FromCommand(cmd *cobra.Command) (*Env, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, ErrNotInitialized
	}
	env, ok := ctx.Value(envKey{}).(*Env)
	if !ok || env == nil || env.App == nil {
		return nil, ErrNotInitialized
	}
	return env, nil
}

// ReadData читает JSON из файла, "-" означает стандартный ввод
func ReadData(path string, stdin io.Reader) ([]byte, error) {
	if path == "" {
		return nil, errors.New("не указан файл с данными (--file)")
	}
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения stdin: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}
	return data, nil
}
