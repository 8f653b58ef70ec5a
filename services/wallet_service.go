// services/wallet_service.go
package services

import (
	"errors"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ThirDecade2020/GitPaid/models"
	"github.com/ThirDecade2020/GitPaid/utils"
)

// WalletService owns wallet records and their encrypted key material.
// Consumers never see the stored ciphertext; SigningKey hands out a decrypted
// key scoped to a single operation.
type WalletService struct {
	DB    *gorm.DB
	vault *utils.KeyVault
}

func NewWalletService(db *gorm.DB, vault *utils.KeyVault) *WalletService {
	return &WalletService{DB: db, vault: vault}
}

type CreateWalletInput struct {
	DisplayName   string `json:"display_name"`
	Address       string `json:"address"`
	PrivateKeyHex string `json:"private_key_hex"`
	GenerateNew   bool   `json:"generate_new"`
	MakeDefault   bool   `json:"make_default"`
}

type UpdateWalletInput struct {
	DisplayName *string `json:"display_name"`
	IsDefault   *bool   `json:"is_default"`
}

// CreateWallet registers a wallet for a user. With GenerateNew a fresh
// secp256k1 key pair is synthesized and any supplied material is ignored;
// otherwise the caller must supply an address and key. An imported key whose
// derived address does not match the supplied one is accepted with a warning
// only — some callers import keys for chains with divergent address
// derivation.
func (s *WalletService) CreateWallet(userID string, input CreateWalletInput) (*models.Wallet, error) {
	if userID == "" {
		return nil, Errf(ErrKindValidation, "user id is required")
	}

	var privKey []byte
	var address string

	if input.GenerateNew {
		var err error
		privKey, address, err = utils.GenerateKey()
		if err != nil {
			return nil, WrapErr(ErrKindValidation, err, "key generation failed")
		}
	} else {
		if input.Address == "" {
			return nil, Errf(ErrKindValidation, "address is required when not generating a new key")
		}
		if input.PrivateKeyHex == "" {
			return nil, Errf(ErrKindValidation, "private key is required when not generating a new key")
		}
		var err error
		privKey, err = utils.ParsePrivateKeyHex(input.PrivateKeyHex)
		if err != nil {
			return nil, WrapErr(ErrKindValidation, err, "malformed private key")
		}
		address = utils.NormalizeAddress(input.Address)

		if derived, err := utils.AddressFromPrivateKey(privKey); err == nil && derived != address {
			log.Printf("⚠️  Wallet import for user %s: supplied address %s does not match derived %s", userID, address, derived)
		}
	}
	defer utils.ZeroBytes(privKey)

	sealed, err := s.vault.Seal(privKey)
	if err != nil {
		return nil, WrapErr(ErrKindValidation, err, "failed to encrypt key material")
	}

	wallet := &models.Wallet{
		ID:           uuid.NewString(),
		UserID:       userID,
		DisplayName:  input.DisplayName,
		Address:      address,
		EncryptedKey: sealed,
		IsDefault:    input.MakeDefault,
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Wallet{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
			return err
		}
		// The user's first wallet is always the default.
		if count == 0 {
			wallet.IsDefault = true
		} else if wallet.IsDefault {
			if err := tx.Model(&models.Wallet{}).
				Where("user_id = ? AND is_default = ?", userID, true).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(wallet).Error
	})
	if err != nil {
		return nil, WrapErr(ErrKindConflict, err, "failed to create wallet")
	}

	return wallet, nil
}

// ListWallets returns the user's wallets, default first, then newest first.
func (s *WalletService) ListWallets(userID string) ([]models.Wallet, error) {
	var wallets []models.Wallet
	if err := s.DB.Where("user_id = ?", userID).
		Order("is_default DESC, created_at DESC").
		Find(&wallets).Error; err != nil {
		return nil, WrapErr(ErrKindConflict, err, "failed to list wallets")
	}
	return wallets, nil
}

// GetWallet loads one wallet, enforcing ownership.
func (s *WalletService) GetWallet(id, requestingUserID string) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := s.DB.First(&wallet, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, Errf(ErrKindNotFound, "wallet %s not found", id)
		}
		return nil, WrapErr(ErrKindConflict, err, "failed to load wallet")
	}
	if wallet.UserID != requestingUserID {
		return nil, Errf(ErrKindForbidden, "wallet %s belongs to a different user", id)
	}
	return &wallet, nil
}

// UpdateWallet renames a wallet and/or moves the default flag. Setting a new
// default clears the flag on the user's other wallets inside the same
// transaction, so a reader never observes two defaults.
func (s *WalletService) UpdateWallet(id, requestingUserID string, input UpdateWalletInput) (*models.Wallet, error) {
	wallet, err := s.GetWallet(id, requestingUserID)
	if err != nil {
		return nil, err
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if input.IsDefault != nil && *input.IsDefault && !wallet.IsDefault {
			if err := tx.Model(&models.Wallet{}).
				Where("user_id = ? AND id <> ?", requestingUserID, id).
				Update("is_default", false).Error; err != nil {
				return err
			}
			wallet.IsDefault = true
		}
		if input.DisplayName != nil {
			wallet.DisplayName = *input.DisplayName
		}
		return tx.Save(wallet).Error
	})
	if err != nil {
		return nil, WrapErr(ErrKindConflict, err, "failed to update wallet")
	}
	return wallet, nil
}

// DeleteWallet removes a wallet. If any bounty still references it as owner
// or hunter wallet the call fails with a conflict carrying the count, unless
// force is set — then every reference is nulled first. If the deleted wallet
// was the default and another remains, one of the survivors is promoted.
func (s *WalletService) DeleteWallet(id, requestingUserID string, force bool) error {
	wallet, err := s.GetWallet(id, requestingUserID)
	if err != nil {
		return err
	}

	var refCount int64
	if err := s.DB.Model(&models.Bounty{}).
		Where("owner_wallet_id = ? OR hunter_wallet_id = ?", id, id).
		Count(&refCount).Error; err != nil {
		return WrapErr(ErrKindConflict, err, "failed to count bounty references")
	}
	if refCount > 0 && !force {
		return Errf(ErrKindConflict, "wallet %s is referenced by %d bounties; pass force to detach", id, refCount)
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if refCount > 0 {
			if err := tx.Model(&models.Bounty{}).
				Where("owner_wallet_id = ?", id).
				Update("owner_wallet_id", nil).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.Bounty{}).
				Where("hunter_wallet_id = ?", id).
				Update("hunter_wallet_id", nil).Error; err != nil {
				return err
			}
		}
		if err := tx.Delete(&models.Wallet{}, "id = ?", id).Error; err != nil {
			return err
		}
		if wallet.IsDefault {
			var next models.Wallet
			err := tx.Where("user_id = ?", requestingUserID).
				Order("created_at DESC").
				First(&next).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			return tx.Model(&next).Update("is_default", true).Error
		}
		return nil
	})
	if err != nil {
		return WrapErr(ErrKindConflict, err, "failed to delete wallet")
	}
	return nil
}

// SigningKey decrypts and returns the wallet's raw private key for a single
// operation. The caller must zero the returned bytes; the key is never
// logged.
func (s *WalletService) SigningKey(id, requestingUserID string) ([]byte, error) {
	wallet, err := s.GetWallet(id, requestingUserID)
	if err != nil {
		return nil, err
	}
	key, err := s.vault.Open(wallet.EncryptedKey)
	if err != nil {
		return nil, WrapErr(ErrKindConflict, err, "failed to unseal wallet key")
	}
	return key, nil
}

// CountAssociations reports, for each wallet the user owns, how many bounties
// reference it on the owner or hunter side.
func (s *WalletService) CountAssociations(userID string) (map[string]int64, error) {
	wallets, err := s.ListWallets(userID)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(wallets))
	for _, w := range wallets {
		var n int64
		if err := s.DB.Model(&models.Bounty{}).
			Where("owner_wallet_id = ? OR hunter_wallet_id = ?", w.ID, w.ID).
			Count(&n).Error; err != nil {
			return nil, WrapErr(ErrKindConflict, err, "failed to count references for wallet %s", w.ID)
		}
		counts[w.ID] = n
	}
	return counts, nil
}
