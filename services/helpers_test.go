package services

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ThirDecade2020/GitPaid/models"
	"github.com/ThirDecade2020/GitPaid/utils"
)

const testVaultSecret = "test-wallet-encryption-secret"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newTestDB opens a per-test in-memory SQLite database. A single pooled
// connection keeps concurrent writers serialized the way a row-locking
// Postgres would.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Wallet{},
		&models.Bounty{},
		&models.RepoWebhook{},
	))
	return db
}

type transferCall struct {
	From   string
	To     string
	Amount *big.Int
}

// fakeSubmitter records submitted transfers and can be set to fail.
type fakeSubmitter struct {
	mu    sync.Mutex
	calls []transferCall
	err   error
	seq   int
}

func (f *fakeSubmitter) SubmitTransfer(ctx context.Context, from, to string, amountBase *big.Int, privKey []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, transferCall{From: from, To: to, Amount: new(big.Int).Set(amountBase)})
	f.seq++
	return fmt.Sprintf("tx-%d", f.seq), nil
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSubmitter) lastCall() transferCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeSubmitter) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// fakeVerifier answers issue state from fixed flags.
type fakeVerifier struct {
	open   bool
	closed bool
	err    error
}

func (f *fakeVerifier) IsIssueOpen(ctx context.Context, owner, repo string, number int) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.open, nil
}

func (f *fakeVerifier) IsIssueClosed(ctx context.Context, owner, repo string, number int) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.closed, nil
}

type testEnv struct {
	db        *gorm.DB
	vault     *utils.KeyVault
	submitter *fakeSubmitter
	verifier  *fakeVerifier
	wallets   *WalletService
	transfers *TransferService
	bounties  *BountyService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	vault := utils.NewKeyVault(testVaultSecret)
	submitter := &fakeSubmitter{}
	verifier := &fakeVerifier{open: true}

	escrowKey, _, err := utils.GenerateKey()
	require.NoError(t, err)

	transfers, err := NewTransferService(db, vault, submitter, "0xescrow00000000000000000000000000000000ff", escrowKey)
	require.NoError(t, err)

	return &testEnv{
		db:        db,
		vault:     vault,
		submitter: submitter,
		verifier:  verifier,
		wallets:   NewWalletService(db, vault),
		transfers: transfers,
		bounties:  NewBountyService(db, transfers, verifier),
	}
}

// createTestWallet provisions a generated wallet for a user.
func (e *testEnv) createTestWallet(t *testing.T, userID string) *models.Wallet {
	t.Helper()
	wallet, err := e.wallets.CreateWallet(userID, CreateWalletInput{
		DisplayName: "wallet of " + userID,
		GenerateNew: true,
	})
	require.NoError(t, err)
	return wallet
}
