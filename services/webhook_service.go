// services/webhook_service.go
package services

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ThirDecade2020/GitPaid/models"
)

// WebhookService verifies GitHub webhook deliveries against per-repository
// shared secrets and converts "issue closed" events into completion attempts.
// An unverifiable event is rejected with no bounty state change.
type WebhookService struct {
	DB       *gorm.DB
	Bounties *BountyService
}

func NewWebhookService(db *gorm.DB, bounties *BountyService) *WebhookService {
	return &WebhookService{DB: db, Bounties: bounties}
}

// RegisterRepoWebhook provisions (or rotates) the shared secret for a
// repository. The secret is returned exactly once; it is never readable
// afterwards through the API.
func (s *WebhookService) RegisterRepoWebhook(actorID, repoOwner, repoName string) (*models.RepoWebhook, error) {
	if repoOwner == "" || repoName == "" {
		return nil, Errf(ErrKindValidation, "repo owner and name are required")
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, WrapErr(ErrKindConflict, err, "failed to generate webhook secret")
	}
	secret := hex.EncodeToString(buf)

	hook := &models.RepoWebhook{
		ID:              uuid.NewString(),
		RepoOwner:       repoOwner,
		RepoName:        repoName,
		Secret:          secret,
		CreatedByUserID: actorID,
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var existing models.RepoWebhook
		err := tx.Where("repo_owner = ? AND repo_name = ?", repoOwner, repoName).First(&existing).Error
		if err == nil {
			existing.Secret = secret
			existing.CreatedByUserID = actorID
			*hook = existing
			return tx.Save(&existing).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(hook).Error
	})
	if err != nil {
		return nil, WrapErr(ErrKindConflict, err, "failed to register webhook")
	}

	// Hand the fresh secret back to the caller in this one response.
	hook.Secret = secret
	return hook, nil
}

// issueEventPayload is the slice of the GitHub "issues" event the handler
// needs. Everything else in the payload is ignored.
type issueEventPayload struct {
	Action string `json:"action"`
	Issue  struct {
		Number int    `json:"number"`
		State  string `json:"state"`
	} `json:"issue"`
	Repository struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
}

// HandleGitHubEvent processes one delivery: verify the HMAC-SHA256 signature
// over the raw body with the repository's stored secret, then — for a closed
// issue carrying a claimed bounty — complete the bounty as the owning user
// context. Closure is already attested by the verified event, so the
// completion skips the redundant API round trip. Anything that isn't a
// closed-issue event for a claimed bounty is a no-op.
func (s *WebhookService) HandleGitHubEvent(ctx context.Context, rawBody []byte, signatureHeader string) error {
	var payload issueEventPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return Errf(ErrKindValidation, "malformed webhook payload")
	}

	repoOwner := payload.Repository.Owner.Login
	repoName := payload.Repository.Name
	if repoOwner == "" || repoName == "" {
		return Errf(ErrKindValidation, "webhook payload missing repository identity")
	}

	var hook models.RepoWebhook
	if err := s.DB.Where("repo_owner = ? AND repo_name = ?", repoOwner, repoName).First(&hook).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Errf(ErrKindForbidden, "no webhook registered for %s/%s", repoOwner, repoName)
		}
		return WrapErr(ErrKindConflict, err, "failed to load webhook secret")
	}

	if !verifySignature(hook.Secret, rawBody, signatureHeader) {
		log.Printf("🚫 Webhook signature verification failed for %s/%s", repoOwner, repoName)
		return Errf(ErrKindForbidden, "webhook signature verification failed")
	}

	if payload.Action != "closed" || payload.Issue.Number == 0 {
		return nil
	}

	bounty, err := s.Bounties.FindActiveBountyForIssue(repoOwner, repoName, payload.Issue.Number)
	if err != nil {
		if KindOf(err) == ErrKindNotFound {
			return nil
		}
		return err
	}
	if bounty.Status != models.BountyStatusClaimed {
		log.Printf("➡️ Webhook: issue %s/%s#%d closed but bounty %s is %s — ignoring",
			repoOwner, repoName, payload.Issue.Number, bounty.ID, bounty.Status)
		return nil
	}

	// System-initiated: act as the bounty's creator; authorization for this
	// path is the verified webhook signature, not actor identity.
	if _, err := s.Bounties.Complete(ctx, bounty.CreatedByUserID, bounty.ID, true); err != nil {
		// A concurrent completion (worker or user) losing the race is fine.
		if KindOf(err) == ErrKindInvalidTransition {
			return nil
		}
		return err
	}

	log.Printf("✅ Webhook: bounty %s completed after %s/%s#%d closed",
		bounty.ID, repoOwner, repoName, payload.Issue.Number)
	return nil
}

// verifySignature checks a GitHub X-Hub-Signature-256 header value
// ("sha256=<hex>") against the raw payload in constant time.
func verifySignature(secret string, body []byte, signatureHeader string) bool {
	sigHex, ok := strings.CutPrefix(signatureHeader, "sha256=")
	if !ok {
		return false
	}
	expected, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
