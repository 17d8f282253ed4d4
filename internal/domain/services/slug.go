package services

import (
	"context"
	"fmt"
	"time"

	"github.com/gosimple/slug"

	"github.com/devilmonastery/gatehouse/internal/domain/repositories"
)

// maxSlugProbes bounds the name, name-2, name-3, ... search
const maxSlugProbes = 100

const fallbackSlug = "user"

// SlugGenerator picks unused URL slugs for new users
type SlugGenerator struct {
	users repositories.UserRepository
	now   func() time.Time
}

// NewSlugGenerator creates a generator that probes users for collisions
func NewSlugGenerator(users repositories.UserRepository) *SlugGenerator {
	return &SlugGenerator{users: users, now: time.Now}
}

// BaseSlug is the lowercase, hyphenated form of a display name
func BaseSlug(name string) string {
	s := slug.Make(name)
	if s == "" {
		return fallbackSlug
	}
	return s
}

// Generate returns the first free slug among base, base-2, ... base-N, and a
// timestamp-suffixed slug once those are exhausted. The result can still
// collide with a concurrent registration; callers retry on ErrDuplicateSlug.
func (g *SlugGenerator) Generate(ctx context.Context, name string) (string, error) {
	base := BaseSlug(name)
	for i := 1; i <= maxSlugProbes; i++ {
		candidate := base
		if i > 1 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		}
		taken, err := g.users.SlugExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check slug: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return fmt.Sprintf("%s-%d", base, g.now().UnixMilli()), nil
}
