package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/candidate-discovery/internal/clock/fake"
	"github.com/JakeFAU/candidate-discovery/internal/discovery"
	"github.com/JakeFAU/candidate-discovery/internal/quota"
)

func TestLoadQuotaReadsTotalsForDay(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewQuotaStore(mock, "")
	require.NoError(t, err)

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT kind, committed FROM quota_usage WHERE day").
		WithArgs(day).
		WillReturnRows(pgxmock.NewRows([]string{"kind", "committed"}).
			AddRow("profiles", int32(8)).
			AddRow("messages", int32(3)))

	counts, err := store.LoadQuota(context.Background(), "2025-03-10")
	require.NoError(t, err)
	require.Equal(t, map[quota.Kind]int{quota.KindProfiles: 8, quota.KindMessages: 3}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadQuotaPropagatesErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewQuotaStore(mock, "limits")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT kind, committed FROM limits").
		WillReturnError(errors.New("relation does not exist"))

	_, err = store.LoadQuota(context.Background(), "2025-03-10")
	require.ErrorContains(t, err, "relation does not exist")

	_, err = store.LoadQuota(context.Background(), "10/03/2025")
	require.ErrorContains(t, err, "parse quota day")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveQuotaUpsertsRunningTotal(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewQuotaStore(mock, "")
	require.NoError(t, err)

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO quota_usage").
		WithArgs(day, "profiles", int32(12)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveQuota(context.Background(), "2025-03-10", quota.KindProfiles, 12))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewQuotaStoreRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewQuotaStore(mock, "quota; DROP TABLE x")
	require.Error(t, err)
	_, err = NewQuotaStore(nil, "")
	require.Error(t, err)
}

func TestLedgerSurvivesRestartThroughQuotaStore(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewQuotaStore(mock, "")
	require.NoError(t, err)

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT kind, committed FROM quota_usage").
		WithArgs(day).
		WillReturnRows(pgxmock.NewRows([]string{"kind", "committed"}).AddRow("profiles", int32(9)))
	mock.ExpectExec("INSERT INTO quota_usage").
		WithArgs(day, "profiles", int32(10)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	clk := fake.New(time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC))
	ledger, err := quota.OpenLedger(context.Background(), clk, map[quota.Kind]int{quota.KindProfiles: 10}, store)
	require.NoError(t, err)

	g, err := ledger.Reserve(quota.KindProfiles, 5)
	require.NoError(t, err)
	require.Equal(t, 1, g.Amount)
	require.NoError(t, ledger.Commit(g, 1))

	_, err = ledger.Reserve(quota.KindProfiles, 1)
	require.ErrorIs(t, err, discovery.ErrQuotaExhausted)
	require.NoError(t, mock.ExpectationsWereMet())
}
