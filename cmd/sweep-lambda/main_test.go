package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/bookingcore/internal/clock"
	"github.com/wolfman30/bookingcore/internal/database"
	"github.com/wolfman30/bookingcore/internal/reservations"
	"github.com/wolfman30/bookingcore/pkg/logging"
)

func TestHandleSweepsExpiredHolds(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	manager := reservations.NewManager(
		reservations.NewPostgresRepository(database.NewTxManager(mock, 0)),
		clock.NewFixed(now),
		logging.New("error"),
	)
	mock.ExpectExec("UPDATE slot_reservations").
		WithArgs(now, reservations.ReasonExpired).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	res, err := handle(context.Background(), manager, events.CloudWatchEvent{ID: "evt-1"}, logging.New("error"))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Swept)
	assert.Equal(t, now, res.AsOf)
	require.NoError(t, mock.ExpectationsWereMet())
}

type failingSweeper struct{}

func (failingSweeper) Sweep(context.Context, time.Time) (int, error) {
	return 0, errors.New("connection reset")
}

func (failingSweeper) Now() time.Time { return time.Unix(0, 0) }

func TestHandleReturnsSweepError(t *testing.T) {
	_, err := handle(context.Background(), failingSweeper{}, events.CloudWatchEvent{}, logging.New("error"))
	assert.Error(t, err)
}
