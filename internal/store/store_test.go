package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/korvuslabs/prowl/api/schemas"
)

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func newMockedStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return s, mockPool
}

func TestRecordOutcome(t *testing.T) {
	t.Run("fills in id and timestamp", func(t *testing.T) {
		s, mockPool := newMockedStore(t)

		mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO request_outcomes")).
			WithArgs(
				pgxmock.AnyArg(), "owner-a", "trending", "BotDetected",
				"bot-defense marker found", 3, int64(4200), pgxmock.AnyArg(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := s.RecordOutcome(context.Background(), OutcomeRecord{
			Owner:     "owner-a",
			Operation: "trending",
			Kind:      schemas.KindBotDetected,
			Message:   "bot-defense marker found",
			Attempts:  3,
			Latency:   4200 * time.Millisecond,
		})
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("propagates insert failure", func(t *testing.T) {
		s, mockPool := newMockedStore(t)

		mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO request_outcomes")).
			WillReturnError(errors.New("connection reset"))

		err := s.RecordOutcome(context.Background(), OutcomeRecord{Owner: "owner-a", Operation: "user"})
		assert.Error(t, err)
	})
}

func TestRecentOutcomes(t *testing.T) {
	s, mockPool := newMockedStore(t)

	now := time.Now()
	rows := pgxmock.NewRows([]string{
		"id", "owner_key", "operation", "kind", "message", "attempts", "latency_ms", "created_at",
	}).AddRow(
		"id-1", "owner-a", "user", "NotFound", "entity does not exist", 1, int64(900), now,
	)

	mockPool.ExpectQuery(regexp.QuoteMeta("FROM request_outcomes")).
		WithArgs("owner-a", 10).
		WillReturnRows(rows)

	out, err := s.RecentOutcomes(context.Background(), "owner-a", 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, schemas.KindNotFound, out[0].Kind)
	assert.Equal(t, 900*time.Millisecond, out[0].Latency)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	s, mockPool := newMockedStore(t)

	mockPool.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS request_outcomes")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
