// Package migration приводит схему серверной таблицы сущностей к последней версии
package migration

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	// драйвер postgres и файловый источник регистрируются при импорте
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"reliefsync/internal/app/server/config"
)

// ErrDirty - предыдущий запуск оборвался посреди миграции, схему чинят вручную
var ErrDirty = errors.New("schema is dirty")

// Source - открытые каталог миграций и база, *migrate.Migrate
type Source interface {
	Up() error
	Version() (version uint, dirty bool, err error)
	Close() (sourceErr error, databaseErr error)
}

// Opener открывает Source. Тесты передают свой, чтобы не трогать диск и базу.
type Opener func(sourceURL, databaseURL string) (Source, error)

// Open открывает golang-migrate
func Open(sourceURL, databaseURL string) (Source, error) {
	return migrate.New(sourceURL, databaseURL)
}

type Schema struct {
	sourceURL   string
	databaseURL string
	open        Opener
}

func NewSchema(cfg config.DB, open Opener) *Schema {
	if open == nil {
		open = Open
	}
	return &Schema{
		sourceURL:   "file://" + cfg.Migrations,
		databaseURL: cfg.DatabaseURI,
		open:        open,
	}
}

// Apply накатывает недостающие миграции и возвращает итоговую версию схемы.
// Пустая база без миграций дает версию 0.
func (s *Schema) Apply() (version uint, err error) {
	src, err := s.open(s.sourceURL, s.databaseURL)
	if err != nil {
		return 0, fmt.Errorf("open migrations: %w", err)
	}
	defer func() {
		sourceErr, databaseErr := src.Close()
		if sourceErr != nil {
			sourceErr = fmt.Errorf("close migration source: %w", sourceErr)
		}
		if databaseErr != nil {
			databaseErr = fmt.Errorf("close migration database: %w", databaseErr)
		}
		err = errors.Join(err, sourceErr, databaseErr)
	}()

	if err := src.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := src.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read schema version: %w", err)
	case dirty:
		return version, fmt.Errorf("%w: version %d", ErrDirty, version)
	}
	return version, nil
}
