package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ASIK-R/my-budget-buddy-sub000/model"
)

var t0 = time.Date(2025, 4, 10, 8, 0, 0, 0, time.UTC)

func at(offset time.Duration) *time.Time { return model.Stamp(t0.Add(offset)) }

func TestResolveByTimestamp(t *testing.T) {
	plain := model.Budget{ID: "b", Category: "plain"}
	older := model.Budget{ID: "b", Category: "older", UpdatedAt: at(0)}
	newer := model.Budget{ID: "b", Category: "newer", UpdatedAt: at(time.Minute)}

	require.Equal(t, "remote", ResolveByTimestamp(model.Budget{Category: "local"}, model.Budget{Category: "remote"}).Category)
	require.Equal(t, "older", ResolveByTimestamp(older, plain).Category)
	require.Equal(t, "older", ResolveByTimestamp(plain, older).Category)
	require.Equal(t, "newer", ResolveByTimestamp(newer, older).Category)
	require.Equal(t, "newer", ResolveByTimestamp(older, newer).Category)

	same := model.Budget{ID: "b", Category: "same", UpdatedAt: at(0)}
	require.Equal(t, "same", ResolveByTimestamp(older, same).Category)
}

func TestResolveTransactionDuplicates(t *testing.T) {
	local := model.Transaction{ID: "t1", Type: model.TransactionExpense, Category: "food",
		Amount: 12.5, Description: "lunch", Date: t0}
	remote := local
	remote.Date = t0.Add(30 * time.Second)
	remote.UpdatedAt = at(time.Hour)

	require.True(t, IsDuplicateTransaction(local, remote))
	require.Equal(t, local, ResolveTransaction(local, remote), "duplicates keep the local copy")

	remote.OwnerID = "user-1"
	require.Equal(t, remote, ResolveTransaction(local, remote), "owner id wins")

	local.OwnerID = "user-1"
	require.Equal(t, local, ResolveTransaction(local, remote))
}

func TestResolveTransactionDistinct(t *testing.T) {
	local := model.Transaction{ID: "t1", Type: model.TransactionExpense, Amount: 5, Description: "a", Date: t0,
		UpdatedAt: at(time.Hour)}
	remote := local
	remote.Date = t0.Add(61 * time.Second)
	remote.UpdatedAt = at(0)

	require.False(t, IsDuplicateTransaction(local, remote))
	require.Equal(t, local, ResolveTransaction(local, remote))

	remote.Date = t0
	remote.Amount = 6
	require.False(t, IsDuplicateTransaction(local, remote))

	require.True(t, IsDuplicateTransaction(local, model.Transaction{
		ID: "x", Type: local.Type, Amount: 5, Description: "a", Date: t0.Add(-DuplicateWindow),
	}))
}

func TestResolveWalletBalanceOverride(t *testing.T) {
	local := model.Wallet{ID: "w1", Name: "Renamed offline", Type: "cash", Balance: 50,
		UpdatedAt: at(2 * time.Hour), BalanceUpdatedAt: at(0)}
	remote := model.Wallet{ID: "w1", Name: "Old name", Type: "bank", Balance: 80,
		UpdatedAt: at(time.Hour), BalanceUpdatedAt: at(time.Hour)}

	got := ResolveWallet(local, remote)
	require.Equal(t, "Renamed offline", got.Name)
	require.Equal(t, "cash", got.Type)
	require.Equal(t, 80.0, got.Balance)
	require.Equal(t, remote.BalanceUpdatedAt, got.BalanceUpdatedAt)
	require.Equal(t, local.UpdatedAt, got.UpdatedAt)
	require.Equal(t, 50.0, local.Balance, "inputs are not modified")
}

func TestResolveWalletKeepsFresherLocalBalance(t *testing.T) {
	local := model.Wallet{ID: "w1", Balance: 50, UpdatedAt: at(2 * time.Hour), BalanceUpdatedAt: at(time.Hour)}
	remote := model.Wallet{ID: "w1", Balance: 80, UpdatedAt: at(0), BalanceUpdatedAt: at(time.Hour)}
	require.Equal(t, local, ResolveWallet(local, remote))

	remote.BalanceUpdatedAt = nil
	require.Equal(t, local, ResolveWallet(local, remote))
}

func TestResolveWalletRemoteWins(t *testing.T) {
	local := model.Wallet{ID: "w1", Name: "a", Balance: 1}
	remote := model.Wallet{ID: "w1", Name: "b", Balance: 2}
	require.Equal(t, remote, ResolveWallet(local, remote))
}

func TestResolveBudget(t *testing.T) {
	local := model.Budget{ID: "b1", Limit: 100, UpdatedAt: at(time.Minute)}
	remote := model.Budget{ID: "b1", Limit: 200, UpdatedAt: at(0)}
	require.Equal(t, local, ResolveBudget(local, remote))
}
