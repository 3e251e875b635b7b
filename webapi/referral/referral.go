// Package referral exposes the referral claim endpoint.
package referral

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kausenergy/settlement/pkg/config"
	"github.com/kausenergy/settlement/pkg/middleware"
	referralsvc "github.com/kausenergy/settlement/pkg/service/referral"
	"github.com/kausenergy/settlement/webapi/common"
)

// ClaimInput registers the caller under a referral code.
type ClaimInput struct {
	Code string `json:"code" validate:"required" example:"KAUS-FRIEND"`
}

// CodeInput registers a referral code for the caller.
type CodeInput struct {
	Code string `json:"code" validate:"required,min=4,max=32" example:"KAUS-FRIEND"`
}

// Routes mounts the referral endpoints.
func Routes(app *fiber.App, svc *referralsvc.Service, cfg *config.App) {
	app.Post("/referral/code", middleware.JwtProtected(cfg.Jwt), IssueCode(svc))
	app.Post("/referral/claim", middleware.JwtProtected(cfg.Jwt), Claim(svc))
}

// IssueCode registers a referral code owned by the caller.
// @Summary Register a referral code
// @Tags referral
// @Accept json
// @Produce json
// @Param request body CodeInput true "Referral code"
// @Success 201 {object} common.Response
// @Failure 400 {object} common.ProblemDetails
// @Failure 429 {object} common.ProblemDetails
// @Security BearerAuth
// @Router /referral/code [post]
func IssueCode(svc *referralsvc.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		input, err := common.BindAndValidate[CodeInput](c)
		if input == nil {
			return err
		}
		userID, err := middleware.UserID(c)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Unauthorized", nil, fiber.StatusUnauthorized)
		}

		if err := svc.IssueCode(c.Context(), userID, input.Code); err != nil {
			return common.ProblemDetailsJSON(c, "Referral code registration failed", err)
		}
		return common.SuccessResponseJSON(c, fiber.StatusCreated, "Referral code registered", fiber.Map{
			"code": input.Code,
		})
	}
}

// Claim credits the referral bonus pair for a valid code.
// @Summary Claim a referral code
// @Description Registers the code's owner as the caller's referrer and credits both bonuses atomically.
// @Tags referral
// @Accept json
// @Produce json
// @Param request body ClaimInput true "Referral code"
// @Success 200 {object} common.Response
// @Failure 400 {object} common.ProblemDetails
// @Failure 404 {object} common.ProblemDetails
// @Failure 409 {object} common.ProblemDetails
// @Failure 429 {object} common.ProblemDetails
// @Security BearerAuth
// @Router /referral/claim [post]
func Claim(svc *referralsvc.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		input, err := common.BindAndValidate[ClaimInput](c)
		if input == nil {
			return err
		}
		userID, err := middleware.UserID(c)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Unauthorized", nil, fiber.StatusUnauthorized)
		}

		result, err := svc.Claim(c.Context(), userID, input.Code)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Referral claim failed", err)
		}
		return common.SuccessResponseJSON(c, fiber.StatusOK, "Referral claimed", fiber.Map{
			"referrerId": result.ReferrerID,
			"bonus":      result.RefereeBonus,
			"newBalance": result.NewBalance,
		})
	}
}
