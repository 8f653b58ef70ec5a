package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThirDecade2020/GitPaid/models"
)

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func issueClosedBody(owner, repo string, number int) []byte {
	return []byte(fmt.Sprintf(
		`{"action":"closed","issue":{"number":%d,"state":"closed"},"repository":{"name":%q,"owner":{"login":%q}}}`,
		number, repo, owner))
}

func TestRegisterRepoWebhookCreatesAndRotatesSecret(t *testing.T) {
	env := newTestEnv(t)
	hooks := NewWebhookService(env.db, env.bounties)

	first, err := hooks.RegisterRepoWebhook("lister", "octo", "widget")
	require.NoError(t, err)
	assert.Len(t, first.Secret, 64)

	second, err := hooks.RegisterRepoWebhook("lister", "octo", "widget")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "re-registration rotates in place")
	assert.NotEqual(t, first.Secret, second.Secret)

	var count int64
	require.NoError(t, env.db.Model(&models.RepoWebhook{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestHandleGitHubEventCompletesClaimedBounty(t *testing.T) {
	env := newTestEnv(t)
	hooks := NewWebhookService(env.db, env.bounties)

	w1 := env.createTestWallet(t, "lister")
	w2 := env.createTestWallet(t, "hunter")
	bounty, err := env.bounties.Fund(context.Background(), "lister", fundInput(w1.ID))
	require.NoError(t, err)
	_, err = env.bounties.Claim(context.Background(), "hunter", bounty.ID, w2.ID)
	require.NoError(t, err)

	hook, err := hooks.RegisterRepoWebhook("lister", "octo", "widget")
	require.NoError(t, err)

	body := issueClosedBody("octo", "widget", 101)
	require.NoError(t, hooks.HandleGitHubEvent(context.Background(), body, signBody(hook.Secret, body)))

	done, err := env.bounties.GetBounty(bounty.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BountyStatusCompleted, done.Status)
	assert.Equal(t, w2.Address, env.submitter.lastCall().To, "payout went to the hunter wallet")

	// Redelivery of the same event is a no-op: the bounty is terminal.
	calls := env.submitter.callCount()
	require.NoError(t, hooks.HandleGitHubEvent(context.Background(), body, signBody(hook.Secret, body)))
	assert.Equal(t, calls, env.submitter.callCount())
}

func TestHandleGitHubEventRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	hooks := NewWebhookService(env.db, env.bounties)

	w1 := env.createTestWallet(t, "lister")
	w2 := env.createTestWallet(t, "hunter")
	bounty, err := env.bounties.Fund(context.Background(), "lister", fundInput(w1.ID))
	require.NoError(t, err)
	_, err = env.bounties.Claim(context.Background(), "hunter", bounty.ID, w2.ID)
	require.NoError(t, err)

	_, err = hooks.RegisterRepoWebhook("lister", "octo", "widget")
	require.NoError(t, err)

	body := issueClosedBody("octo", "widget", 101)
	for _, sig := range []string{
		"",
		"sha256=deadbeef",
		signBody("wrong-secret", body),
		"not-a-signature-header",
	} {
		err := hooks.HandleGitHubEvent(context.Background(), body, sig)
		assert.Equal(t, ErrKindForbidden, KindOf(err), "signature %q", sig)
	}

	current, err := env.bounties.GetBounty(bounty.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BountyStatusClaimed, current.Status, "unverified events change nothing")
}

func TestHandleGitHubEventRejectsUnregisteredRepo(t *testing.T) {
	env := newTestEnv(t)
	hooks := NewWebhookService(env.db, env.bounties)

	body := issueClosedBody("octo", "unregistered", 1)
	err := hooks.HandleGitHubEvent(context.Background(), body, signBody("anything", body))
	assert.Equal(t, ErrKindForbidden, KindOf(err))
}

func TestHandleGitHubEventNoOps(t *testing.T) {
	env := newTestEnv(t)
	hooks := NewWebhookService(env.db, env.bounties)

	w1 := env.createTestWallet(t, "lister")
	bounty, err := env.bounties.Fund(context.Background(), "lister", fundInput(w1.ID))
	require.NoError(t, err)

	hook, err := hooks.RegisterRepoWebhook("lister", "octo", "widget")
	require.NoError(t, err)

	// Closed issue, but the bounty is OPEN (unclaimed): no-op, no payout.
	body := issueClosedBody("octo", "widget", 101)
	require.NoError(t, hooks.HandleGitHubEvent(context.Background(), body, signBody(hook.Secret, body)))

	// Reopened event: no-op.
	reopened := []byte(`{"action":"reopened","issue":{"number":101},"repository":{"name":"widget","owner":{"login":"octo"}}}`)
	require.NoError(t, hooks.HandleGitHubEvent(context.Background(), reopened, signBody(hook.Secret, reopened)))

	// Closed issue with no bounty at all: no-op.
	other := issueClosedBody("octo", "widget", 999)
	require.NoError(t, hooks.HandleGitHubEvent(context.Background(), other, signBody(hook.Secret, other)))

	current, err := env.bounties.GetBounty(bounty.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BountyStatusOpen, current.Status)
	assert.Equal(t, 1, env.submitter.callCount(), "only the original funding transfer")
}

func TestHandleGitHubEventMalformedPayload(t *testing.T) {
	env := newTestEnv(t)
	hooks := NewWebhookService(env.db, env.bounties)

	err := hooks.HandleGitHubEvent(context.Background(), []byte("{not json"), "sha256=00")
	assert.Equal(t, ErrKindValidation, KindOf(err))

	err = hooks.HandleGitHubEvent(context.Background(), []byte(`{"action":"closed"}`), "sha256=00")
	assert.Equal(t, ErrKindValidation, KindOf(err), "missing repository identity")
}
