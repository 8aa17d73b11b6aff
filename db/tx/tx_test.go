package tx

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFor(t *testing.T) {
	conn := &sqlx.DB{}
	ctx := context.Background()

	assert.Same(t, conn, For(ctx, conn))

	tx := &sqlx.Tx{}
	assert.Same(t, tx, For(WithTransaction(ctx, tx), conn))
}

func TestRequired(t *testing.T) {
	ctx := context.Background()

	_, err := Required(ctx)
	require.ErrorIs(t, err, ErrNoTransaction)

	_, err = Required(WithTransaction(ctx, nil))
	require.ErrorIs(t, err, ErrNoTransaction)

	tx := &sqlx.Tx{}
	got, err := Required(WithTransaction(ctx, tx))
	require.NoError(t, err)
	assert.Same(t, tx, got)
}
