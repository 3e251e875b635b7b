// Package wallet exposes the wallet top-up, token purchase and balance
// endpoints.
package wallet

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kausenergy/settlement/pkg/config"
	settlementdomain "github.com/kausenergy/settlement/pkg/domain/settlement"
	"github.com/kausenergy/settlement/pkg/middleware"
	settlementsvc "github.com/kausenergy/settlement/pkg/service/settlement"
	"github.com/kausenergy/settlement/webapi/common"
)

// Routes mounts the wallet endpoints.
func Routes(app *fiber.App, svc *settlementsvc.Service, cfg *config.App) {
	app.Post("/topup", middleware.JwtProtected(cfg.Jwt), Topup(svc))
	app.Post("/purchase", middleware.JwtProtected(cfg.Jwt), Purchase(svc))
	app.Get("/wallet", middleware.JwtProtected(cfg.Jwt), GetWallet(svc))
}

// Topup settles an approved external payment into the fiat wallet.
// @Summary Top up the fiat wallet
// @Description Confirm an approved payment with its gateway and credit the wallet. Safe to retry with the same orderId.
// @Tags wallet
// @Accept json
// @Produce json
// @Param request body TopupRequest true "Approved payment"
// @Success 200 {object} common.Response
// @Failure 400 {object} common.ProblemDetails
// @Failure 404 {object} common.ProblemDetails
// @Failure 409 {object} common.ProblemDetails
// @Failure 429 {object} common.ProblemDetails
// @Failure 503 {object} common.ProblemDetails
// @Security BearerAuth
// @Router /topup [post]
func Topup(svc *settlementsvc.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		input, err := common.BindAndValidate[TopupRequest](c)
		if input == nil {
			return err
		}
		return settle(c, svc, settlementdomain.PurposeWalletTopup, "Top-up credited",
			input.PaymentKey, input.OrderID, input.Amount, input.Provider)
	}
}

// Purchase settles an approved external payment into KAUS tokens.
// @Summary Purchase KAUS tokens
// @Description Confirm an approved payment and credit KAUS at the configured price. Safe to retry with the same orderId.
// @Tags wallet
// @Accept json
// @Produce json
// @Param request body PurchaseRequest true "Approved payment"
// @Success 200 {object} common.Response
// @Failure 400 {object} common.ProblemDetails
// @Failure 404 {object} common.ProblemDetails
// @Failure 409 {object} common.ProblemDetails
// @Failure 429 {object} common.ProblemDetails
// @Failure 503 {object} common.ProblemDetails
// @Security BearerAuth
// @Router /purchase [post]
func Purchase(svc *settlementsvc.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		input, err := common.BindAndValidate[PurchaseRequest](c)
		if input == nil {
			return err
		}
		return settle(c, svc, settlementdomain.PurposeKausPurchase, "Purchase credited",
			input.PaymentKey, input.OrderID, input.Amount, input.Provider)
	}
}

func settle(
	c *fiber.Ctx,
	svc *settlementsvc.Service,
	purpose settlementdomain.IntentPurpose,
	message string,
	paymentKey, orderID string,
	amount int64,
	provider string,
) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return common.ProblemDetailsJSON(c, "Unauthorized", nil, fiber.StatusUnauthorized)
	}

	result, err := svc.Settle(c.Context(), settlementsvc.Command{
		UserID:      userID,
		ReferenceID: orderID,
		PaymentKey:  paymentKey,
		Provider:    provider,
		Amount:      amount,
		Purpose:     purpose,
	})
	if err != nil {
		return common.ProblemDetailsJSON(c, "Settlement failed", err)
	}

	msg := message
	if result.Duplicate {
		msg = "Already processed"
	}
	return common.SuccessResponseJSON(c, fiber.StatusOK, msg, fiber.Map{
		"referenceId":   result.ReferenceID,
		"transactionId": result.TransactionID,
		"amount":        result.CreditedAmount,
		"currency":      result.Currency,
		"bonus":         result.BonusAmount,
		"newBalance":    result.NewBalance,
		"duplicate":     result.Duplicate,
	})
}

// GetWallet returns the caller's balances.
// @Summary Get wallet balances
// @Tags wallet
// @Produce json
// @Success 200 {object} common.Response
// @Failure 401 {object} common.ProblemDetails
// @Security BearerAuth
// @Router /wallet [get]
func GetWallet(svc *settlementsvc.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := middleware.UserID(c)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Unauthorized", nil, fiber.StatusUnauthorized)
		}
		accounts, err := svc.Wallet(c.Context(), userID)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Failed to load wallet", err)
		}
		data := fiber.Map{}
		for currency, account := range accounts {
			data[currency] = fiber.Map{
				"balance":           account.Balance,
				"pendingWithdrawal": account.PendingWithdrawal,
				"available":         account.Available(),
			}
		}
		return common.SuccessResponseJSON(c, fiber.StatusOK, "Wallet", data)
	}
}
