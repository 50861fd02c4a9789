package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	slotQuery         = `SELECT "name","current_occupancy","total_capacity" FROM "parking_slots" WHERE "parking_slots"."id" = \$1 ORDER BY "parking_slots"."id" LIMIT \$[0-9]+`
	subscriptionQuery = `SELECT .* FROM "push_subscriptions".*JOIN .*subscription_slot_mapping.*WHERE .*ssm\.parking_slot_id = \$1`
)

type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

func respond(status int) (*http.Response, error) {
	return &http.Response{StatusCode: status, Status: http.StatusText(status), Body: io.NopCloser(bytes.NewBufferString(""))}, nil
}

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func expectSlot(mock sqlmock.Sqlmock, slotID int64, name string, current, total int) {
	mock.ExpectQuery(slotQuery).
		WithArgs(slotID, 1).
		WillReturnRows(sqlmock.NewRows([]string{"name", "current_occupancy", "total_capacity"}).AddRow(name, current, total))
}

func expectSubscriber(mock sqlmock.Sqlmock, slotID int64, endpoint string) {
	mock.ExpectQuery(subscriptionQuery).
		WithArgs(slotID).
		WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth", "created_at"}).
			AddRow(endpoint, "key", "secret", time.Now()))
}

func TestWorkerPool_Dispatch(t *testing.T) {
	db, _ := newTestDB(t)
	wp := NewWorkerPool(1, db, &webpush.Options{})

	wp.Dispatch(2)

	select {
	case job := <-wp.jobs:
		assert.Equal(t, int64(2), job)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for job to be dispatched")
	}
}

func TestWorkerPool_DispatchThrottle(t *testing.T) {
	db, _ := newTestDB(t)
	wp := NewWorkerPool(1, db, &webpush.Options{})
	wp.SetThrottle(time.Minute)

	wp.Dispatch(2)
	wp.Dispatch(2)
	wp.Dispatch(1)

	assert.Len(t, wp.Jobs(), 2)
}

func TestWorkerPool_DispatchDropsWhenQueueFull(t *testing.T) {
	db, _ := newTestDB(t)
	wp := NewWorkerPool(1, db, &webpush.Options{})

	for i := 0; i < cap(wp.Jobs())+5; i++ {
		wp.Dispatch(int64(i))
	}
	assert.Len(t, wp.Jobs(), cap(wp.Jobs()))
}

func TestWorkerPool_Notify(t *testing.T) {
	ctx := context.Background()

	t.Run("sends the free count to subscribers", func(t *testing.T) {
		db, mock := newTestDB(t)
		wp := NewWorkerPool(1, db, &webpush.Options{})
		var results []string
		wp.OnSent(func(r string) { results = append(results, r) })

		var msg Message
		wp.sender = &mockSender{SendFunc: func(payload []byte, sub *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
			assert.Equal(t, "https://push.example/rizal", sub.Endpoint)
			assert.Equal(t, "key", sub.Keys.P256dh)
			require.NoError(t, json.Unmarshal(payload, &msg))
			return respond(http.StatusCreated)
		}}

		expectSlot(mock, 2, "Rizal", 49, 50)
		expectSubscriber(mock, 2, "https://push.example/rizal")

		wp.notify(ctx, 2)

		assert.Equal(t, []string{ResultSent}, results)
		assert.Equal(t, "Rizal", msg.Location)
		assert.Equal(t, 1, msg.Free)
		assert.Equal(t, "Parking at Rizal has space available! (1 free)", msg.Body)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("skips a slot that filled up again", func(t *testing.T) {
		db, mock := newTestDB(t)
		wp := NewWorkerPool(1, db, &webpush.Options{})
		wp.sender = &mockSender{SendFunc: func([]byte, *webpush.Subscription, *webpush.Options) (*http.Response, error) {
			t.Error("no push expected for a full slot")
			return respond(http.StatusCreated)
		}}

		expectSlot(mock, 1, "Einstein", 50, 50)

		wp.notify(ctx, 1)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deletes expired subscription", func(t *testing.T) {
		db, mock := newTestDB(t)
		wp := NewWorkerPool(1, db, &webpush.Options{})
		var results []string
		wp.OnSent(func(r string) { results = append(results, r) })
		wp.sender = &mockSender{SendFunc: func([]byte, *webpush.Subscription, *webpush.Options) (*http.Response, error) {
			return respond(http.StatusGone)
		}}

		expectSlot(mock, 1, "Einstein", 10, 50)
		expectSubscriber(mock, 1, "https://push.example/expired")
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM subscription_slot_mapping WHERE push_subscription_endpoint = \$1`).
			WithArgs("https://push.example/expired").
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(`DELETE FROM "push_subscriptions" WHERE "push_subscriptions"."endpoint" = \$1`).
			WithArgs("https://push.example/expired").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		wp.notify(ctx, 1)

		assert.Equal(t, []string{ResultExpired}, results)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("falls back to slot ID when lookup fails", func(t *testing.T) {
		db, mock := newTestDB(t)
		wp := NewWorkerPool(1, db, &webpush.Options{})
		var msg Message
		wp.sender = &mockSender{SendFunc: func(payload []byte, _ *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
			require.NoError(t, json.Unmarshal(payload, &msg))
			return respond(http.StatusCreated)
		}}

		mock.ExpectQuery(slotQuery).WithArgs(int64(3), 1).WillReturnError(errors.New("connection reset"))
		expectSubscriber(mock, 3, "https://push.example/fallback")

		wp.notify(ctx, 3)

		assert.Equal(t, "Parking at #3 has space available!", msg.Body)
		assert.Empty(t, msg.Location)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports push service errors", func(t *testing.T) {
		db, mock := newTestDB(t)
		wp := NewWorkerPool(1, db, &webpush.Options{})
		var results []string
		wp.OnSent(func(r string) { results = append(results, r) })
		calls := 0
		wp.sender = &mockSender{SendFunc: func([]byte, *webpush.Subscription, *webpush.Options) (*http.Response, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("dial tcp: timeout")
			}
			return respond(http.StatusInternalServerError)
		}}

		expectSlot(mock, 2, "Rizal", 20, 50)
		mock.ExpectQuery(subscriptionQuery).
			WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth", "created_at"}).
				AddRow("https://push.example/a", "k", "a", time.Now()).
				AddRow("https://push.example/b", "k", "a", time.Now()))

		wp.notify(ctx, 2)

		assert.Equal(t, []string{ResultFailed, ResultFailed}, results)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWorkerPool_Start(t *testing.T) {
	db, mock := newTestDB(t)
	wp := NewWorkerPool(2, db, &webpush.Options{})

	var wg sync.WaitGroup
	wg.Add(1)
	wp.sender = &mockSender{SendFunc: func([]byte, *webpush.Subscription, *webpush.Options) (*http.Response, error) {
		wg.Done()
		return respond(http.StatusCreated)
	}}
	expectSlot(mock, 2, "Rizal", 0, 50)
	expectSubscriber(mock, 2, "https://push.example/rizal")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)
	wp.Dispatch(2)

	wg.Wait()
}
