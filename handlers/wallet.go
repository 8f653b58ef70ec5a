// handlers/wallet.go
package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ThirDecade2020/GitPaid/middleware"
	"github.com/ThirDecade2020/GitPaid/services"
)

func SetupWalletRoutes(app *fiber.App, walletService *services.WalletService) {
	// 🔐 All wallet routes require a gateway-resolved user context
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/wallets", createWallet(walletService))
	secured.Get("/wallets", listWallets(walletService))
	secured.Get("/wallets/associations", walletAssociations(walletService))
	secured.Get("/wallets/:id", getWallet(walletService))
	secured.Patch("/wallets/:id", updateWallet(walletService))
	secured.Delete("/wallets/:id", deleteWallet(walletService))
}

// renderError maps a service error onto the standard JSON error body.
func renderError(c *fiber.Ctx, err error) error {
	return c.Status(services.HTTPStatus(err)).JSON(fiber.Map{
		"error": err.Error(),
		"kind":  string(services.KindOf(err)),
	})
}

func createWallet(s *services.WalletService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var input services.CreateWalletInput
		if err := c.BodyParser(&input); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		wallet, err := s.CreateWallet(middleware.ActorID(c), input)
		if err != nil {
			return renderError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(wallet)
	}
}

func listWallets(s *services.WalletService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		wallets, err := s.ListWallets(middleware.ActorID(c))
		if err != nil {
			return renderError(c, err)
		}
		return c.JSON(wallets)
	}
}

func getWallet(s *services.WalletService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		wallet, err := s.GetWallet(c.Params("id"), middleware.ActorID(c))
		if err != nil {
			return renderError(c, err)
		}
		return c.JSON(wallet)
	}
}

func updateWallet(s *services.WalletService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var input services.UpdateWalletInput
		if err := c.BodyParser(&input); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		wallet, err := s.UpdateWallet(c.Params("id"), middleware.ActorID(c), input)
		if err != nil {
			return renderError(c, err)
		}
		return c.JSON(wallet)
	}
}

func deleteWallet(s *services.WalletService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		force := c.QueryBool("force", false)
		if err := s.DeleteWallet(c.Params("id"), middleware.ActorID(c), force); err != nil {
			return renderError(c, err)
		}
		return c.JSON(fiber.Map{
			"message": "wallet deleted successfully",
			"id":      c.Params("id"),
		})
	}
}

func walletAssociations(s *services.WalletService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		counts, err := s.CountAssociations(middleware.ActorID(c))
		if err != nil {
			return renderError(c, err)
		}
		return c.JSON(fiber.Map{"associations": counts})
	}
}
