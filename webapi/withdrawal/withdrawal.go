// Package withdrawal exposes the user-facing withdrawal endpoints.
package withdrawal

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kausenergy/settlement/pkg/config"
	"github.com/kausenergy/settlement/pkg/middleware"
	withdrawalsvc "github.com/kausenergy/settlement/pkg/service/withdrawal"
	"github.com/kausenergy/settlement/webapi/common"
)

// RequestInput creates a withdrawal request.
type RequestInput struct {
	Amount int64 `json:"amount" validate:"required,gt=0" example:"50000"`
}

// Routes mounts the withdrawal endpoints.
func Routes(app *fiber.App, svc *withdrawalsvc.Service, cfg *config.App) {
	app.Post("/withdraw", middleware.JwtProtected(cfg.Jwt), Request(svc))
}

// Request places a withdrawal request and holds the amount.
// @Summary Request a withdrawal
// @Description Holds the amount against the wallet; an operator approves and completes the payout.
// @Tags withdrawal
// @Accept json
// @Produce json
// @Param request body RequestInput true "Withdrawal amount in KRW"
// @Success 201 {object} common.Response
// @Failure 400 {object} common.ProblemDetails
// @Failure 404 {object} common.ProblemDetails
// @Failure 429 {object} common.ProblemDetails
// @Security BearerAuth
// @Router /withdraw [post]
func Request(svc *withdrawalsvc.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		input, err := common.BindAndValidate[RequestInput](c)
		if input == nil {
			return err
		}
		userID, err := middleware.UserID(c)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Unauthorized", nil, fiber.StatusUnauthorized)
		}

		read, err := svc.Request(c.Context(), userID, input.Amount)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Withdrawal request failed", err)
		}
		return common.SuccessResponseJSON(c, fiber.StatusCreated, "Withdrawal requested", fiber.Map{
			"id":     read.ID,
			"amount": read.Amount,
			"status": read.Status,
		})
	}
}
