// handlers/bounty.go
package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ThirDecade2020/GitPaid/middleware"
	"github.com/ThirDecade2020/GitPaid/services"
)

func SetupBountyRoutes(app *fiber.App, bountyService *services.BountyService) {
	// 🔓 Read-only listing is gateway-authenticated but needs no user context
	app.Get("/bounties", listBounties(bountyService))
	app.Get("/bounties/:id", getBounty(bountyService))

	// 🔐 Lifecycle operations require the acting user
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/bounties", fundBounty(bountyService))
	secured.Post("/bounties/:id/claim", claimBounty(bountyService))
	secured.Post("/bounties/:id/complete", completeBounty(bountyService))
	secured.Post("/bounties/:id/cancel", cancelBounty(bountyService))
}

func fundBounty(s *services.BountyService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var input services.FundBountyInput
		if err := c.BodyParser(&input); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		bounty, err := s.Fund(c.Context(), middleware.ActorID(c), input)
		if err != nil {
			return renderError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(bounty)
	}
}

func claimBounty(s *services.BountyService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var input struct {
			WalletID string `json:"wallet_id"`
		}
		if err := c.BodyParser(&input); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		bounty, err := s.Claim(c.Context(), middleware.ActorID(c), c.Params("id"), input.WalletID)
		if err != nil {
			return renderError(c, err)
		}
		return c.JSON(bounty)
	}
}

func completeBounty(s *services.BountyService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// User-initiated completion always re-verifies the issue state.
		bounty, err := s.Complete(c.Context(), middleware.ActorID(c), c.Params("id"), false)
		if err != nil {
			return renderError(c, err)
		}
		return c.JSON(bounty)
	}
}

func cancelBounty(s *services.BountyService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var input struct {
			RefundWalletID string `json:"refund_wallet_id"`
		}
		// Body is optional — an empty cancel refunds the owner wallet.
		_ = c.BodyParser(&input)
		bounty, err := s.Cancel(c.Context(), middleware.ActorID(c), c.Params("id"), input.RefundWalletID)
		if err != nil {
			return renderError(c, err)
		}
		return c.JSON(bounty)
	}
}

func getBounty(s *services.BountyService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		bounty, err := s.GetBounty(c.Params("id"))
		if err != nil {
			return renderError(c, err)
		}
		return c.JSON(bounty)
	}
}

func listBounties(s *services.BountyService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		bounties, err := s.ListBounties(c.Query("status"), c.Query("repo_owner"), c.Query("repo_name"))
		if err != nil {
			return renderError(c, err)
		}
		return c.JSON(bounties)
	}
}
