package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	wrapped := fmt.Errorf("insert reservation: %w", &pgconn.PgError{Code: CodeExclusionViolation})

	assert.True(t, HasCode(wrapped, CodeExclusionViolation))
	assert.False(t, HasCode(wrapped, CodeUniqueViolation))
	assert.False(t, HasCode(errors.New("boom"), CodeExclusionViolation))
	assert.False(t, HasCode(nil, CodeExclusionViolation))
}
