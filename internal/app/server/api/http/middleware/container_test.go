package middleware

import (
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
)

func TestContainer_GetAllAndClear(t *testing.T) {
	noop := func(ctx huma.Context, next func(huma.Context)) { next(ctx) }
	c := NewContainer()

	c.Add(noop).Add(noop, noop)
	first := c.GetAllAndClear()

	assert.Len(t, first, 3)
	assert.Empty(t, c.GetAllAndClear())

	c.Add(noop)
	assert.Len(t, c.GetAllAndClear(), 1)
	assert.Len(t, first, 3)
}
