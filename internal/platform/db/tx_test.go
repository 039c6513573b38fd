package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	serial := fmt.Errorf("insert: %w", &pgconn.PgError{Code: CodeSerializationFailure})
	require.True(t, IsSerializationFailure(serial))
	require.False(t, IsUniqueViolation(serial))

	require.True(t, IsSerializationFailure(&pgconn.PgError{Code: CodeDeadlockDetected}))
	require.True(t, IsUniqueViolation(&pgconn.PgError{Code: CodeUniqueViolation}))

	plain := errors.New("connection reset")
	require.Equal(t, "", SQLState(plain))
	require.False(t, IsSerializationFailure(plain))
}

type fakeTx struct {
	pgx.Tx
	commitErr  error
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Commit(ctx context.Context) error {
	f.committed = true
	return f.commitErr
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	f.rolledBack = true
	return nil
}

type fakeBeginner struct {
	tx   *fakeTx
	err  error
	opts pgx.TxOptions
}

func (f *fakeBeginner) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.tx, nil
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()

	ok := &fakeBeginner{tx: &fakeTx{}}
	require.NoError(t, WithTx(ctx, ok, func(pgx.Tx) error { return nil }))
	require.Equal(t, pgx.RepeatableRead, ok.opts.IsoLevel)
	require.True(t, ok.tx.committed)

	failing := &fakeBeginner{tx: &fakeTx{}}
	boom := errors.New("boom")
	err := WithTx(ctx, failing, func(pgx.Tx) error { return boom })
	require.ErrorIs(t, err, boom)
	require.False(t, failing.tx.committed)
	require.True(t, failing.tx.rolledBack)

	serial := &pgconn.PgError{Code: CodeSerializationFailure}
	commit := &fakeBeginner{tx: &fakeTx{commitErr: serial}}
	err = WithTx(ctx, commit, func(pgx.Tx) error { return nil })
	require.True(t, IsSerializationFailure(err))

	begin := &fakeBeginner{err: errors.New("pool closed")}
	require.ErrorContains(t, WithTx(ctx, begin, func(pgx.Tx) error { return nil }), "begin tx")
}
