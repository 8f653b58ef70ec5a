// models/bounty.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bounty lifecycle states. Terminal states (completed, cancelled) are final —
// no operation transitions out of them.
const (
	BountyStatusOpen      = "open"
	BountyStatusClaimed   = "claimed"
	BountyStatusCompleted = "completed"
	BountyStatusCancelled = "cancelled"
)

// Bounty is a funded reward tied to one GitHub issue, tracked through
// open → claimed → completed, or cancelled from open/claimed.
//
// OwnerWalletID is set at funding and never reassigned; HunterWalletID is set
// exactly once at claim time. Both are pointers only because a force-deleted
// wallet nulls its references. EscrowTxID holds the most recent transfer
// receipt: the funding transaction at creation, overwritten with the
// release/refund transaction on the terminal transition.
type Bounty struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	RepoOwner   string `gorm:"size:128;not null;index:idx_bounty_issue" json:"repo_owner"`
	RepoName    string `gorm:"size:128;not null;index:idx_bounty_issue" json:"repo_name"`
	IssueNumber int    `gorm:"not null;index:idx_bounty_issue" json:"issue_number"`

	Amount   decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"amount"`
	Currency string          `gorm:"size:16;not null" json:"currency"`

	Status     string `gorm:"size:16;not null;index" json:"status"`
	EscrowTxID string `gorm:"size:128" json:"escrow_tx_id"`

	CreatedByUserID string  `gorm:"type:uuid;not null;index" json:"created_by_user_id"`
	ClaimedByUserID *string `gorm:"type:uuid" json:"claimed_by_user_id,omitempty"`

	OwnerWalletID  *string `gorm:"type:uuid;index" json:"owner_wallet_id,omitempty"`
	HunterWalletID *string `gorm:"type:uuid;index" json:"hunter_wallet_id,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Terminal reports whether the bounty is in a final state.
func (b *Bounty) Terminal() bool {
	return b.Status == BountyStatusCompleted || b.Status == BountyStatusCancelled
}
