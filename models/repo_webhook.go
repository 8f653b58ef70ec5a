// models/repo_webhook.go
package models

import "time"

// RepoWebhook stores the per-repository shared secret used to verify GitHub
// webhook deliveries. Every inbound event must carry an HMAC-SHA256 signature
// over the raw payload computed with this secret; unverifiable events are
// rejected with no bounty state change.
type RepoWebhook struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	RepoOwner string `gorm:"size:128;not null;uniqueIndex:idx_repo_webhook" json:"repo_owner"`
	RepoName  string `gorm:"size:128;not null;uniqueIndex:idx_repo_webhook" json:"repo_name"`

	// Shared secret, returned exactly once at registration. Not serialized.
	Secret string `gorm:"size:128;not null" json:"-"`

	CreatedByUserID string    `gorm:"type:uuid;not null" json:"created_by_user_id"`
	CreatedAt       time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
