package postgres

import (
	"errors"

	"github.com/lib/pq"

	"github.com/devilmonastery/gatehouse/internal/domain/repositories"
)

const uniqueViolation = "23505"

// constraintErrors maps unique constraints and indexes to domain errors
var constraintErrors = map[string]error{
	"users_email_key":              repositories.ErrDuplicateEmail,
	"users_slug_key":               repositories.ErrDuplicateSlug,
	"external_logins_provider_key": repositories.ErrDuplicateExternalLogin,
}

// translateUniqueViolation returns the domain error for a unique violation,
// or err unchanged
func translateUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		if domainErr, ok := constraintErrors[pqErr.Constraint]; ok {
			return domainErr
		}
	}
	return err
}
