// services/transfer_service.go
package services

import (
	"context"
	"errors"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ThirDecade2020/GitPaid/models"
	"github.com/ThirDecade2020/GitPaid/utils"
)

// BaseUnitScale is the fixed decimal→base-unit conversion exponent. Amounts
// are truncated toward zero at this scale; fractional precision beyond it is
// lost on every fund/release/refund consistently.
const BaseUnitScale = 18

// escrowContextKey is the signing-context cache key for the platform escrow
// identity, which is not a user wallet row.
const escrowContextKey = "escrow"

// TransferReceipt is the opaque proof of a completed value transfer. It is
// constructed only by TransferService and stored verbatim on the bounty.
type TransferReceipt struct {
	TxID   string          `json:"tx_id"`
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// signingContext is the cached per-wallet account handle: the resolved
// address plus the sealed key blob. Plaintext key material is decrypted only
// inside submit and zeroed before it returns.
type signingContext struct {
	address   string
	sealedKey []byte
}

// TransferService moves value between the three custodial roles: lister
// wallets, the process-wide escrow identity, and hunter wallets. Signing
// contexts are resolved lazily per wallet id and cached; a rotated key needs
// an explicit InvalidateContext call.
type TransferService struct {
	DB        *gorm.DB
	vault     *utils.KeyVault
	submitter Submitter
	timeout   time.Duration

	mu       sync.Mutex
	contexts map[string]*signingContext
}

// NewTransferService wires the service. The escrow private key is sealed
// immediately; the plaintext argument should be discarded by the caller.
func NewTransferService(db *gorm.DB, vault *utils.KeyVault, submitter Submitter, escrowAddress string, escrowPrivKey []byte) (*TransferService, error) {
	sealed, err := vault.Seal(escrowPrivKey)
	if err != nil {
		return nil, err
	}
	utils.ZeroBytes(escrowPrivKey)

	s := &TransferService{
		DB:        db,
		vault:     vault,
		submitter: submitter,
		timeout:   30 * time.Second,
		contexts:  map[string]*signingContext{},
	}
	s.contexts[escrowContextKey] = &signingContext{
		address:   utils.NormalizeAddress(escrowAddress),
		sealedKey: sealed,
	}
	return s, nil
}

// FundEscrow transfers amount from the given user wallet to the escrow
// identity. Wallet ownership is the caller's guard; this layer only signs
// and submits.
func (s *TransferService) FundEscrow(ctx context.Context, sourceWalletID string, amount decimal.Decimal) (TransferReceipt, error) {
	src, err := s.contextFor(sourceWalletID)
	if err != nil {
		return TransferReceipt{}, err
	}
	escrow := s.escrowContext()
	return s.submit(ctx, src, escrow.address, amount)
}

// ReleaseFromEscrow pays out the escrow balance to a hunter wallet.
func (s *TransferService) ReleaseFromEscrow(ctx context.Context, destWalletID string, amount decimal.Decimal) (TransferReceipt, error) {
	dst, err := s.contextFor(destWalletID)
	if err != nil {
		return TransferReceipt{}, err
	}
	return s.submit(ctx, s.escrowContext(), dst.address, amount)
}

// RefundFromEscrow returns the escrow balance to a lister wallet.
func (s *TransferService) RefundFromEscrow(ctx context.Context, destWalletID string, amount decimal.Decimal) (TransferReceipt, error) {
	dst, err := s.contextFor(destWalletID)
	if err != nil {
		return TransferReceipt{}, err
	}
	return s.submit(ctx, s.escrowContext(), dst.address, amount)
}

// EscrowAddress exposes the custodial address for diagnostics.
func (s *TransferService) EscrowAddress() string {
	return s.escrowContext().address
}

// InvalidateContext drops the cached signing context for a wallet, forcing
// re-resolution on next use. Required after key rotation.
func (s *TransferService) InvalidateContext(walletID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if walletID != escrowContextKey {
		delete(s.contexts, walletID)
	}
}

// ToBaseUnits converts a decimal amount into integer base units, truncating
// toward zero at BaseUnitScale.
func ToBaseUnits(amount decimal.Decimal) *big.Int {
	return amount.Shift(BaseUnitScale).Truncate(0).BigInt()
}

func (s *TransferService) escrowContext() *signingContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contexts[escrowContextKey]
}

// contextFor resolves and caches the signing context for a wallet id.
func (s *TransferService) contextFor(walletID string) (*signingContext, error) {
	if walletID == "" {
		return nil, Errf(ErrKindValidation, "wallet id is required")
	}

	s.mu.Lock()
	if sc, ok := s.contexts[walletID]; ok {
		s.mu.Unlock()
		return sc, nil
	}
	s.mu.Unlock()

	var wallet models.Wallet
	if err := s.DB.First(&wallet, "id = ?", walletID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, Errf(ErrKindNotFound, "wallet %s not found", walletID)
		}
		return nil, WrapErr(ErrKindTransferFailed, err, "failed to load wallet %s", walletID)
	}

	sc := &signingContext{
		address:   utils.NormalizeAddress(wallet.Address),
		sealedKey: wallet.EncryptedKey,
	}

	s.mu.Lock()
	s.contexts[walletID] = sc
	s.mu.Unlock()
	return sc, nil
}

// submit performs one signed transfer under a bounded timeout. The signer's
// plaintext key lives only for the duration of this call.
func (s *TransferService) submit(ctx context.Context, from *signingContext, to string, amount decimal.Decimal) (TransferReceipt, error) {
	if amount.Sign() <= 0 {
		return TransferReceipt{}, Errf(ErrKindValidation, "transfer amount must be positive")
	}

	privKey, err := s.vault.Open(from.sealedKey)
	if err != nil {
		return TransferReceipt{}, WrapErr(ErrKindTransferFailed, err, "failed to unseal signing key for %s", from.address)
	}
	defer utils.ZeroBytes(privKey)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	txID, err := s.submitter.SubmitTransfer(ctx, from.address, to, ToBaseUnits(amount), privKey)
	if err != nil {
		if KindOf(err) != "" {
			return TransferReceipt{}, err
		}
		return TransferReceipt{}, WrapErr(ErrKindTransferFailed, err, "transfer %s -> %s failed", from.address, to)
	}

	log.Printf("💸 Transfer submitted: %s -> %s amount=%s tx=%s", from.address, to, amount.String(), txID)

	return TransferReceipt{
		TxID:   txID,
		From:   from.address,
		To:     to,
		Amount: amount,
	}, nil
}
