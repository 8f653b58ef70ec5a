// handlers/webhook.go
package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/ThirDecade2020/GitPaid/middleware"
	"github.com/ThirDecade2020/GitPaid/services"
)

func SetupWebhookRoutes(app *fiber.App, webhookService *services.WebhookService) {
	// 🔐 Secret provisioning is a user action
	secured := app.Group("/", middleware.UserContextMiddleware())
	secured.Post("/repos/:owner/:name/webhook", registerRepoWebhook(webhookService))

	// 🔓 GitHub delivers here directly; the HMAC signature is the auth.
	app.Post("/webhooks/github", handleGitHubWebhook(webhookService))
}

func registerRepoWebhook(s *services.WebhookService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		hook, err := s.RegisterRepoWebhook(middleware.ActorID(c), c.Params("owner"), c.Params("name"))
		if err != nil {
			return renderError(c, err)
		}
		// The secret is shown exactly once, here.
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"id":         hook.ID,
			"repo_owner": hook.RepoOwner,
			"repo_name":  hook.RepoName,
			"secret":     hook.Secret,
		})
	}
}

func handleGitHubWebhook(s *services.WebhookService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Get("X-GitHub-Event") != "issues" {
			// Not an issues event — acknowledge so GitHub doesn't retry.
			return c.SendStatus(fiber.StatusOK)
		}

		err := s.HandleGitHubEvent(c.Context(), c.Body(), c.Get("X-Hub-Signature-256"))
		if err != nil {
			if services.KindOf(err) == services.ErrKindForbidden {
				// 401 with no information disclosure.
				return c.SendStatus(fiber.StatusUnauthorized)
			}
			log.Printf("❌ Webhook processing failed: %v", err)
			return renderError(c, err)
		}
		return c.SendStatus(fiber.StatusOK)
	}
}
