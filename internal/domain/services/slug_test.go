package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devilmonastery/gatehouse/internal/domain/repositories"
	memdb "github.com/devilmonastery/gatehouse/internal/infrastructure/database/memory"
)

// allTaken reports every slug as used
type allTaken struct {
	repositories.UserRepository
}

func (allTaken) SlugExists(ctx context.Context, slug string) (bool, error) {
	return true, nil
}

func TestBaseSlug(t *testing.T) {
	tests := map[string]string{
		"Ada Lovelace":  "ada-lovelace",
		"  Ada   ":      "ada",
		"Hello, World!": "hello-world",
		"!!!":           fallbackSlug,
		"":              fallbackSlug,
	}
	for in, want := range tests {
		assert.Equal(t, want, BaseSlug(in), in)
	}
}

func TestSlugGenerator_FallsBackToTimestamp(t *testing.T) {
	g := NewSlugGenerator(allTaken{memdb.New().Repositories().Users})
	g.now = func() time.Time { return time.UnixMilli(1700000000123) }

	slug, err := g.Generate(context.Background(), "Ada")
	require.NoError(t, err)
	assert.Equal(t, "ada-1700000000123", slug)
}
