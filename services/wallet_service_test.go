package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThirDecade2020/GitPaid/models"
	"github.com/ThirDecade2020/GitPaid/utils"
)

func TestCreateWalletGeneratesKeyAndEncryptsAtRest(t *testing.T) {
	env := newTestEnv(t)

	wallet, err := env.wallets.CreateWallet("user-1", CreateWalletInput{
		DisplayName: "main",
		GenerateNew: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "user-1", wallet.UserID)
	assert.True(t, wallet.IsDefault, "first wallet must be forced default")
	assert.Regexp(t, `^0x[0-9a-f]{40}$`, wallet.Address)
	require.NotEmpty(t, wallet.EncryptedKey)

	// Stored blob must decrypt back to a 32-byte secp256k1 key that derives
	// the stored address — and must not be the plaintext itself.
	key, err := env.vault.Open(wallet.EncryptedKey)
	require.NoError(t, err)
	defer utils.ZeroBytes(key)
	require.Len(t, key, 32)
	assert.NotEqual(t, key, wallet.EncryptedKey[:32])

	derived, err := utils.AddressFromPrivateKey(key)
	require.NoError(t, err)
	assert.Equal(t, derived, wallet.Address)
}

func TestCreateWalletImportValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.wallets.CreateWallet("user-1", CreateWalletInput{})
	assert.Equal(t, ErrKindValidation, KindOf(err), "missing address must fail validation")

	_, err = env.wallets.CreateWallet("user-1", CreateWalletInput{Address: "0xabc"})
	assert.Equal(t, ErrKindValidation, KindOf(err), "missing private key must fail validation")

	_, err = env.wallets.CreateWallet("user-1", CreateWalletInput{
		Address:       "0xabc",
		PrivateKeyHex: "not-hex",
	})
	assert.Equal(t, ErrKindValidation, KindOf(err))
}

func TestCreateWalletImportWithMismatchedAddressIsAccepted(t *testing.T) {
	env := newTestEnv(t)

	priv, _, err := utils.GenerateKey()
	require.NoError(t, err)

	// Address does not derive from the key: accepted with a warning only.
	wallet, err := env.wallets.CreateWallet("user-1", CreateWalletInput{
		Address:       "0x1111111111111111111111111111111111111111",
		PrivateKeyHex: fmt.Sprintf("%x", priv),
	})
	require.NoError(t, err)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", wallet.Address)
}

func TestListWalletsOrdering(t *testing.T) {
	env := newTestEnv(t)

	first := env.createTestWallet(t, "user-1")
	second := env.createTestWallet(t, "user-1")
	third := env.createTestWallet(t, "user-1")

	wallets, err := env.wallets.ListWallets("user-1")
	require.NoError(t, err)
	require.Len(t, wallets, 3)

	// Default first (the first-created wallet), then newest first.
	assert.Equal(t, first.ID, wallets[0].ID)
	assert.True(t, wallets[0].IsDefault)
	assert.ElementsMatch(t, []string{second.ID, third.ID}, []string{wallets[1].ID, wallets[2].ID})
}

func TestGetWalletOwnership(t *testing.T) {
	env := newTestEnv(t)
	wallet := env.createTestWallet(t, "user-1")

	_, err := env.wallets.GetWallet(wallet.ID, "user-2")
	assert.Equal(t, ErrKindForbidden, KindOf(err))

	_, err = env.wallets.GetWallet("missing-id", "user-1")
	assert.Equal(t, ErrKindNotFound, KindOf(err))
}

func TestUpdateWalletDefaultIsExclusive(t *testing.T) {
	env := newTestEnv(t)

	a := env.createTestWallet(t, "user-1")
	b := env.createTestWallet(t, "user-1")

	isDefault := true
	_, err := env.wallets.UpdateWallet(b.ID, "user-1", UpdateWalletInput{IsDefault: &isDefault})
	require.NoError(t, err)

	var defaults int64
	require.NoError(t, env.db.Model(&models.Wallet{}).
		Where("user_id = ? AND is_default = ?", "user-1", true).
		Count(&defaults).Error)
	assert.EqualValues(t, 1, defaults)

	updated, err := env.wallets.GetWallet(b.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, updated.IsDefault)

	old, err := env.wallets.GetWallet(a.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, old.IsDefault)
}

func TestConcurrentDefaultSetsLeaveExactlyOneDefault(t *testing.T) {
	env := newTestEnv(t)

	ids := make([]string, 4)
	for i := range ids {
		ids[i] = env.createTestWallet(t, "user-1").ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(walletID string) {
			defer wg.Done()
			isDefault := true
			_, _ = env.wallets.UpdateWallet(walletID, "user-1", UpdateWalletInput{IsDefault: &isDefault})
		}(id)
	}
	wg.Wait()

	var defaults int64
	require.NoError(t, env.db.Model(&models.Wallet{}).
		Where("user_id = ? AND is_default = ?", "user-1", true).
		Count(&defaults).Error)
	assert.EqualValues(t, 1, defaults, "exactly one default for all orderings of concurrent default-sets")
}

func TestDeleteWalletBlockedByReferences(t *testing.T) {
	env := newTestEnv(t)
	wallet := env.createTestWallet(t, "user-1")

	env.verifier.open = true
	for i := 1; i <= 3; i++ {
		_, err := env.bounties.Fund(context.Background(), "user-1", FundBountyInput{
			RepoOwner:   "octo",
			RepoName:    "repo",
			IssueNumber: i,
			Amount:      dec("1"),
			WalletID:    wallet.ID,
		})
		require.NoError(t, err)
	}

	err := env.wallets.DeleteWallet(wallet.ID, "user-1", false)
	require.Equal(t, ErrKindConflict, KindOf(err))
	assert.Contains(t, err.Error(), "3 bounties")
}

func TestDeleteWalletForceDetachesAndPromotesDefault(t *testing.T) {
	env := newTestEnv(t)
	wallet := env.createTestWallet(t, "user-1") // default
	survivor := env.createTestWallet(t, "user-1")

	_, err := env.bounties.Fund(context.Background(), "user-1", FundBountyInput{
		RepoOwner:   "octo",
		RepoName:    "repo",
		IssueNumber: 7,
		Amount:      dec("2"),
		WalletID:    wallet.ID,
	})
	require.NoError(t, err)

	require.NoError(t, env.wallets.DeleteWallet(wallet.ID, "user-1", true))

	var bounty models.Bounty
	require.NoError(t, env.db.First(&bounty, "issue_number = ?", 7).Error)
	assert.Nil(t, bounty.OwnerWalletID, "force delete must null the owner reference")

	var count int64
	require.NoError(t, env.db.Model(&models.Wallet{}).Where("id = ?", wallet.ID).Count(&count).Error)
	assert.Zero(t, count)

	promoted, err := env.wallets.GetWallet(survivor.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, promoted.IsDefault, "a surviving wallet is promoted to default")
}

func TestSigningKeyRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	wallet := env.createTestWallet(t, "user-1")

	key, err := env.wallets.SigningKey(wallet.ID, "user-1")
	require.NoError(t, err)
	defer utils.ZeroBytes(key)

	derived, err := utils.AddressFromPrivateKey(key)
	require.NoError(t, err)
	assert.Equal(t, wallet.Address, derived)

	_, err = env.wallets.SigningKey(wallet.ID, "user-2")
	assert.Equal(t, ErrKindForbidden, KindOf(err))
}

func TestCountAssociations(t *testing.T) {
	env := newTestEnv(t)
	funding := env.createTestWallet(t, "user-1")
	idle := env.createTestWallet(t, "user-1")
	hunterWallet := env.createTestWallet(t, "user-2")

	bounty, err := env.bounties.Fund(context.Background(), "user-1", FundBountyInput{
		RepoOwner:   "octo",
		RepoName:    "repo",
		IssueNumber: 42,
		Amount:      dec("1"),
		WalletID:    funding.ID,
	})
	require.NoError(t, err)

	_, err = env.bounties.Claim(context.Background(), "user-2", bounty.ID, hunterWallet.ID)
	require.NoError(t, err)

	counts, err := env.wallets.CountAssociations("user-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[funding.ID])
	assert.EqualValues(t, 0, counts[idle.ID])

	hunterCounts, err := env.wallets.CountAssociations("user-2")
	require.NoError(t, err)
	assert.EqualValues(t, 1, hunterCounts[hunterWallet.ID], "hunter-side references count too")
}
