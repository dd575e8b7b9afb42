package events

import (
	"context"
	"errors"
	"testing"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/wolfman30/bookingcore/internal/database"
)

func TestPaymentEventStoreRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewPaymentEventStore(database.NewTxManager(mock, 0))
	evt := PaymentEvent{ExternalEventID: "evt_1", Provider: "stripe", Kind: "checkout.session.completed", PaymentIntentRef: "pi_1", Payload: []byte(`{}`)}

	mock.ExpectExec("INSERT INTO payment_events").WithArgs("evt_1", "stripe", "checkout.session.completed", "pi_1", pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	inserted, err := store.Record(context.Background(), evt)
	if err != nil || !inserted {
		t.Fatalf("expected insert, got inserted=%v err=%v", inserted, err)
	}

	mock.ExpectExec("INSERT INTO payment_events").WithArgs("evt_1", "stripe", "checkout.session.completed", "pi_1", pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("INSERT", 0))
	inserted, err = store.Record(context.Background(), evt)
	if err != nil || inserted {
		t.Fatalf("expected duplicate, got inserted=%v err=%v", inserted, err)
	}

	mock.ExpectQuery("SELECT processed_at IS NOT NULL").WithArgs("evt_1").WillReturnRows(pgxmock.NewRows([]string{"processed"}).AddRow(true))
	processed, err := store.IsProcessed(context.Background(), "evt_1")
	if err != nil || !processed {
		t.Fatalf("expected processed, got %v %v", processed, err)
	}

	mock.ExpectQuery("SELECT processed_at IS NOT NULL").WithArgs("evt_missing").WillReturnError(pgx.ErrNoRows)
	processed, err = store.IsProcessed(context.Background(), "evt_missing")
	if err != nil || processed {
		t.Fatalf("expected unprocessed missing row, got %v %v", processed, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPaymentEventStoreLockRequiresTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewPaymentEventStore(database.NewTxManager(mock, 0))
	if _, err := store.LockForProcessing(context.Background(), "evt_1"); err == nil {
		t.Fatal("expected error outside a transaction")
	}
}

func TestPaymentEventStoreProcessInTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	db := database.NewTxManager(mock, 0)
	store := NewPaymentEventStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("evt_1").WillReturnRows(pgxmock.NewRows([]string{"processed"}).AddRow(false))
	mock.ExpectExec("UPDATE payment_events").WithArgs("evt_1").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = db.WithTx(context.Background(), func(ctx context.Context) error {
		processed, err := store.LockForProcessing(ctx, "evt_1")
		if err != nil {
			return err
		}
		if processed {
			return errors.New("unexpected processed")
		}
		return store.MarkProcessed(ctx, "evt_1")
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	mock.ExpectExec("UPDATE payment_events").WithArgs("evt_2", "handler exploded").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.RecordFailure(context.Background(), "evt_2", errors.New("handler exploded")); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
