// models/wallet.go
package models

import (
	"time"
)

// Wallet is a user-owned signing key record. The private key is encrypted
// at rest with the process-wide wallet secret and is never serialized —
// only WalletService may decrypt it, scoped to a single operation.
type Wallet struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      string `gorm:"type:uuid;not null;index" json:"user_id"` // External user ID (gateway-resolved)
	DisplayName string `gorm:"size:128" json:"display_name"`
	Address     string `gorm:"size:128;not null;uniqueIndex" json:"address"`

	// AES-GCM ciphertext (salt + nonce + sealed key). Never exposed.
	EncryptedKey []byte `gorm:"type:bytea" json:"-"`

	// Exactly one wallet per user carries is_default = true at any time.
	// Enforced by WalletService on every default-flag write.
	IsDefault bool `gorm:"not null;default:false" json:"is_default"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
