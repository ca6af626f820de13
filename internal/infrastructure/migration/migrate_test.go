package migration

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"reliefsync/internal/app/server/config"
)

type MockSource struct {
	mock.Mock
}

func (m *MockSource) Up() error {
	return m.Called().Error(0)
}

func (m *MockSource) Version() (uint, bool, error) {
	args := m.Called()
	return args.Get(0).(uint), args.Bool(1), args.Error(2)
}

func (m *MockSource) Close() (error, error) {
	args := m.Called()
	return args.Error(0), args.Error(1)
}

func testDB() config.DB {
	return config.DB{DatabaseURI: "postgres://relief@localhost/relief", Migrations: "migrations"}
}

func opener(src Source) Opener {
	return func(string, string) (Source, error) { return src, nil }
}

func TestSchema_ApplyOpensConfiguredSource(t *testing.T) {
	src := new(MockSource)
	src.On("Up").Return(nil)
	src.On("Version").Return(uint(1), false, nil)
	src.On("Close").Return(nil, nil)

	var gotSource, gotDB string
	open := func(source, db string) (Source, error) {
		gotSource, gotDB = source, db
		return src, nil
	}

	version, err := NewSchema(testDB(), open).Apply()

	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.Equal(t, "file://migrations", gotSource)
	assert.Equal(t, "postgres://relief@localhost/relief", gotDB)
	src.AssertExpectations(t)
}

func TestSchema_Apply(t *testing.T) {
	upErr := errors.New("dirty database version 1")
	closeErr := errors.New("connection reset")

	tests := []struct {
		name        string
		upErr       error
		version     uint
		dirty       bool
		versionErr  error
		closeErr    error
		wantVersion uint
		wantErr     error
	}{
		{name: "applied", version: 1, wantVersion: 1},
		// ErrNoChange - схема уже последняя
		{name: "no change", upErr: migrate.ErrNoChange, version: 1, wantVersion: 1},
		{name: "empty source", upErr: migrate.ErrNoChange, versionErr: migrate.ErrNilVersion},
		{name: "up failure", upErr: upErr, wantErr: upErr},
		{name: "dirty", version: 1, dirty: true, wantVersion: 1, wantErr: ErrDirty},
		{name: "close failure", version: 1, closeErr: closeErr, wantVersion: 1, wantErr: closeErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			src := new(MockSource)
			src.On("Up").Return(tt.upErr)
			src.On("Version").Return(tt.version, tt.dirty, tt.versionErr).Maybe()
			src.On("Close").Return(nil, tt.closeErr)

			// Act
			version, err := NewSchema(testDB(), opener(src)).Apply()

			// Assert
			assert.Equal(t, tt.wantVersion, version)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			src.AssertCalled(t, "Close")
		})
	}
}

func TestSchema_ApplyOpenError(t *testing.T) {
	open := func(string, string) (Source, error) {
		return nil, errors.New("unknown driver")
	}

	_, err := NewSchema(testDB(), open).Apply()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}
