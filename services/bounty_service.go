// services/bounty_service.go
package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ThirDecade2020/GitPaid/models"
)

// BountyService is the bounty lifecycle state machine. Every transition is
// guarded by a conditional update keyed on the expected current status, so
// two racing transitions on one bounty cannot both succeed; complete and
// cancel additionally serialize behind a per-bounty lock because their
// transfer must finish before the status write.
type BountyService struct {
	DB        *gorm.DB
	Transfers *TransferService
	Verifier  IssueVerifier

	locks sync.Map // bounty id -> *sync.Mutex
}

func NewBountyService(db *gorm.DB, transfers *TransferService, verifier IssueVerifier) *BountyService {
	return &BountyService{DB: db, Transfers: transfers, Verifier: verifier}
}

type FundBountyInput struct {
	RepoOwner   string          `json:"repo_owner"`
	RepoName    string          `json:"repo_name"`
	IssueNumber int             `json:"issue_number"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	WalletID    string          `json:"wallet_id"`
}

// Fund creates a new OPEN bounty: the issue must exist and be open, the
// funding wallet must belong to the actor, and the escrow transfer must
// succeed before anything is persisted. An existing non-terminal bounty on
// the same issue is a conflict.
func (s *BountyService) Fund(ctx context.Context, actorID string, input FundBountyInput) (*models.Bounty, error) {
	if input.RepoOwner == "" || input.RepoName == "" || input.IssueNumber <= 0 {
		return nil, Errf(ErrKindValidation, "repo owner, repo name and issue number are required")
	}
	if input.WalletID == "" {
		return nil, Errf(ErrKindValidation, "funding wallet id is required")
	}
	if input.Amount.Sign() <= 0 {
		return nil, Errf(ErrKindValidation, "bounty amount must be positive")
	}
	if input.Currency == "" {
		input.Currency = "ETH"
	}

	if _, err := s.ownedWallet(input.WalletID, actorID); err != nil {
		return nil, err
	}

	var existing int64
	if err := s.DB.Model(&models.Bounty{}).
		Where("repo_owner = ? AND repo_name = ? AND issue_number = ? AND status IN ?",
			input.RepoOwner, input.RepoName, input.IssueNumber,
			[]string{models.BountyStatusOpen, models.BountyStatusClaimed}).
		Count(&existing).Error; err != nil {
		return nil, WrapErr(ErrKindConflict, err, "failed to check existing bounties")
	}
	if existing > 0 {
		return nil, Errf(ErrKindConflict, "issue %s/%s#%d already has an active bounty",
			input.RepoOwner, input.RepoName, input.IssueNumber)
	}

	open, err := s.Verifier.IsIssueOpen(ctx, input.RepoOwner, input.RepoName, input.IssueNumber)
	if err != nil {
		return nil, err
	}
	if !open {
		return nil, Errf(ErrKindValidation, "issue %s/%s#%d is not open",
			input.RepoOwner, input.RepoName, input.IssueNumber)
	}

	receipt, err := s.Transfers.FundEscrow(ctx, input.WalletID, input.Amount)
	if err != nil {
		return nil, err
	}

	walletID := input.WalletID
	bounty := &models.Bounty{
		ID:              uuid.NewString(),
		RepoOwner:       input.RepoOwner,
		RepoName:        input.RepoName,
		IssueNumber:     input.IssueNumber,
		Amount:          input.Amount,
		Currency:        input.Currency,
		Status:          models.BountyStatusOpen,
		EscrowTxID:      receipt.TxID,
		CreatedByUserID: actorID,
		OwnerWalletID:   &walletID,
	}
	if err := s.DB.Create(bounty).Error; err != nil {
		// Funds are already in escrow; surface loudly so the operator can
		// reconcile against the receipt.
		log.Printf("❌ Bounty persist failed after escrow funding (tx=%s): %v", receipt.TxID, err)
		return nil, WrapErr(ErrKindConflict, err, "escrow funded (tx %s) but bounty persist failed", receipt.TxID)
	}

	log.Printf("✅ Bounty %s funded for %s/%s#%d amount=%s tx=%s",
		bounty.ID, input.RepoOwner, input.RepoName, input.IssueNumber, input.Amount.String(), receipt.TxID)
	return bounty, nil
}

// Claim moves an OPEN bounty to CLAIMED, binding the hunter and their payout
// wallet exactly once. The guard-and-write is a single conditional update, so
// of any number of concurrent claims exactly one wins; the rest observe
// invalid_transition.
func (s *BountyService) Claim(ctx context.Context, actorID, bountyID, hunterWalletID string) (*models.Bounty, error) {
	if hunterWalletID == "" {
		return nil, Errf(ErrKindValidation, "hunter wallet id is required")
	}
	if _, err := s.ownedWallet(hunterWalletID, actorID); err != nil {
		return nil, err
	}

	bounty, err := s.GetBounty(bountyID)
	if err != nil {
		return nil, err
	}

	res := s.DB.Model(&models.Bounty{}).
		Where("id = ? AND status = ?", bountyID, models.BountyStatusOpen).
		Updates(map[string]interface{}{
			"status":             models.BountyStatusClaimed,
			"claimed_by_user_id": actorID,
			"hunter_wallet_id":   hunterWalletID,
			"updated_at":         time.Now(),
		})
	if res.Error != nil {
		return nil, WrapErr(ErrKindConflict, res.Error, "failed to claim bounty")
	}
	if res.RowsAffected == 0 {
		return nil, s.invalidTransition(bountyID, "claim", bounty.Status)
	}

	return s.GetBounty(bountyID)
}

// Complete releases the escrow to the hunter and moves CLAIMED → COMPLETED.
// Only the bounty creator may complete; system-initiated callers (webhook,
// sync worker) act as the creator with issueVerified set, having already
// confirmed closure. The release transfer must succeed before the status
// flips — a transfer failure leaves the bounty untouched and retryable.
func (s *BountyService) Complete(ctx context.Context, actorID, bountyID string, issueVerified bool) (*models.Bounty, error) {
	unlock := s.lockBounty(bountyID)
	defer unlock()

	bounty, err := s.GetBounty(bountyID)
	if err != nil {
		return nil, err
	}
	if bounty.CreatedByUserID != actorID {
		return nil, Errf(ErrKindForbidden, "only the bounty creator may complete it")
	}
	if bounty.Status != models.BountyStatusClaimed {
		return nil, s.invalidTransition(bountyID, "complete", bounty.Status)
	}
	if bounty.HunterWalletID == nil {
		return nil, Errf(ErrKindValidation, "bounty %s has no hunter wallet on record", bountyID)
	}

	if !issueVerified {
		closed, err := s.Verifier.IsIssueClosed(ctx, bounty.RepoOwner, bounty.RepoName, bounty.IssueNumber)
		if err != nil {
			return nil, err
		}
		if !closed {
			return nil, Errf(ErrKindValidation, "issue %s/%s#%d is not closed",
				bounty.RepoOwner, bounty.RepoName, bounty.IssueNumber)
		}
	}

	receipt, err := s.Transfers.ReleaseFromEscrow(ctx, *bounty.HunterWalletID, bounty.Amount)
	if err != nil {
		return nil, err
	}

	res := s.DB.Model(&models.Bounty{}).
		Where("id = ? AND status = ?", bountyID, models.BountyStatusClaimed).
		Updates(map[string]interface{}{
			"status":       models.BountyStatusCompleted,
			"escrow_tx_id": receipt.TxID,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		log.Printf("❌ Bounty %s: escrow released (tx=%s) but status write failed: %v", bountyID, receipt.TxID, res.Error)
		return nil, WrapErr(ErrKindConflict, res.Error, "escrow released (tx %s) but status write failed", receipt.TxID)
	}
	if res.RowsAffected == 0 {
		return nil, s.invalidTransition(bountyID, "complete", bounty.Status)
	}

	log.Printf("✅ Bounty %s completed, payout tx=%s", bountyID, receipt.TxID)
	return s.GetBounty(bountyID)
}

// Cancel refunds the escrow to the lister and moves OPEN/CLAIMED → CANCELLED.
// The refund defaults to the bounty's owner wallet; an override wallet must
// belong to the cancelling actor.
func (s *BountyService) Cancel(ctx context.Context, actorID, bountyID, overrideWalletID string) (*models.Bounty, error) {
	unlock := s.lockBounty(bountyID)
	defer unlock()

	bounty, err := s.GetBounty(bountyID)
	if err != nil {
		return nil, err
	}
	if bounty.CreatedByUserID != actorID {
		return nil, Errf(ErrKindForbidden, "only the bounty creator may cancel it")
	}
	if bounty.Terminal() {
		return nil, s.invalidTransition(bountyID, "cancel", bounty.Status)
	}

	refundWalletID := ""
	if overrideWalletID != "" {
		if _, err := s.ownedWallet(overrideWalletID, actorID); err != nil {
			return nil, err
		}
		refundWalletID = overrideWalletID
	} else {
		if bounty.OwnerWalletID == nil {
			return nil, Errf(ErrKindValidation, "bounty %s has no owner wallet on record; supply a refund wallet", bountyID)
		}
		refundWalletID = *bounty.OwnerWalletID
	}

	receipt, err := s.Transfers.RefundFromEscrow(ctx, refundWalletID, bounty.Amount)
	if err != nil {
		return nil, err
	}

	res := s.DB.Model(&models.Bounty{}).
		Where("id = ? AND status IN ?", bountyID,
			[]string{models.BountyStatusOpen, models.BountyStatusClaimed}).
		Updates(map[string]interface{}{
			"status":       models.BountyStatusCancelled,
			"escrow_tx_id": receipt.TxID,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		log.Printf("❌ Bounty %s: escrow refunded (tx=%s) but status write failed: %v", bountyID, receipt.TxID, res.Error)
		return nil, WrapErr(ErrKindConflict, res.Error, "escrow refunded (tx %s) but status write failed", receipt.TxID)
	}
	if res.RowsAffected == 0 {
		return nil, s.invalidTransition(bountyID, "cancel", bounty.Status)
	}

	log.Printf("✅ Bounty %s cancelled, refund tx=%s", bountyID, receipt.TxID)
	return s.GetBounty(bountyID)
}

// GetBounty loads a single bounty.
func (s *BountyService) GetBounty(id string) (*models.Bounty, error) {
	var bounty models.Bounty
	if err := s.DB.First(&bounty, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, Errf(ErrKindNotFound, "bounty %s not found", id)
		}
		return nil, WrapErr(ErrKindConflict, err, "failed to load bounty")
	}
	return &bounty, nil
}

// ListBounties returns bounties, optionally filtered by status and repo.
func (s *BountyService) ListBounties(status, repoOwner, repoName string) ([]models.Bounty, error) {
	db := s.DB.Model(&models.Bounty{}).Order("created_at DESC")
	if status != "" {
		db = db.Where("status = ?", status)
	}
	if repoOwner != "" {
		db = db.Where("repo_owner = ?", repoOwner)
	}
	if repoName != "" {
		db = db.Where("repo_name = ?", repoName)
	}

	var bounties []models.Bounty
	if err := db.Find(&bounties).Error; err != nil {
		return nil, WrapErr(ErrKindConflict, err, "failed to list bounties")
	}
	return bounties, nil
}

// FindActiveBountyForIssue locates the non-terminal bounty bound to an issue,
// used by the webhook handler and the sync worker.
func (s *BountyService) FindActiveBountyForIssue(repoOwner, repoName string, issueNumber int) (*models.Bounty, error) {
	var bounty models.Bounty
	err := s.DB.Where("repo_owner = ? AND repo_name = ? AND issue_number = ? AND status IN ?",
		repoOwner, repoName, issueNumber,
		[]string{models.BountyStatusOpen, models.BountyStatusClaimed}).
		First(&bounty).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, Errf(ErrKindNotFound, "no active bounty for %s/%s#%d", repoOwner, repoName, issueNumber)
	}
	if err != nil {
		return nil, WrapErr(ErrKindConflict, err, "failed to look up bounty for issue")
	}
	return &bounty, nil
}

func (s *BountyService) ownedWallet(walletID, actorID string) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := s.DB.First(&wallet, "id = ?", walletID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, Errf(ErrKindNotFound, "wallet %s not found", walletID)
		}
		return nil, WrapErr(ErrKindConflict, err, "failed to load wallet")
	}
	if wallet.UserID != actorID {
		return nil, Errf(ErrKindForbidden, "wallet %s belongs to a different user", walletID)
	}
	return &wallet, nil
}

func (s *BountyService) invalidTransition(bountyID, op, lastSeen string) error {
	// Report the live status where possible; lastSeen covers a row that
	// vanished mid-operation.
	status := lastSeen
	var current models.Bounty
	if err := s.DB.Select("status").First(&current, "id = ?", bountyID).Error; err == nil {
		status = current.Status
	}
	return Errf(ErrKindInvalidTransition, "cannot %s bounty %s: current status is %s", op, bountyID, status)
}

func (s *BountyService) lockBounty(id string) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
