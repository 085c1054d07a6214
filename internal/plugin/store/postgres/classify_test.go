package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	var transient *registrystore.TransientError
	var conflict *registrystore.ConflictError
	var fatal *registrystore.FatalError

	require.ErrorAs(t, Classify("op", &pgconn.PgError{Code: "40001"}), &transient)
	require.ErrorAs(t, Classify("op", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"})), &transient)
	require.ErrorAs(t, Classify("op", &pgconn.PgError{Code: "23505", Message: "duplicate key"}), &conflict)
	require.ErrorAs(t, Classify("op", &pgconn.PgError{Code: "23503"}), &fatal)
	require.Nil(t, Classify("op", &pgconn.PgError{Code: "42601"}))
	require.Nil(t, Classify("op", errors.New("plain")))
	require.Nil(t, Classify("op", context.Canceled))
}
