// Package admin exposes the operator endpoints: withdrawal processing and
// the reconciliation sweep. All routes require the operations key.
package admin

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/kausenergy/settlement/pkg/config"
	"github.com/kausenergy/settlement/pkg/middleware"
	settlementsvc "github.com/kausenergy/settlement/pkg/service/settlement"
	withdrawalsvc "github.com/kausenergy/settlement/pkg/service/withdrawal"
	"github.com/kausenergy/settlement/webapi/common"
)

// ProcessInput is one operator decision on a withdrawal.
type ProcessInput struct {
	Action      string `json:"action" validate:"required,oneof=APPROVE REJECT COMPLETE" example:"APPROVE"`
	Reason      string `json:"reason,omitempty" example:"kyc incomplete"`
	TransferRef string `json:"transferRef,omitempty" example:"bank_tx_42"`
}

// Routes mounts the admin endpoints.
func Routes(app *fiber.App, withdrawals *withdrawalsvc.Service, settlements *settlementsvc.Service, cfg *config.App) {
	group := app.Group("/admin", middleware.OpsProtected(cfg.Admin.OpsKeyHash))
	group.Get("/withdrawals", ListWithdrawals(withdrawals))
	group.Post("/withdrawals/:id/process", ProcessWithdrawal(withdrawals))
	group.Get("/reconciliation", Reconciliation(settlements))
}

// ListWithdrawals lists withdrawal requests by status.
// @Summary List withdrawal requests
// @Tags admin
// @Produce json
// @Param status query string false "Status filter" default(PENDING)
// @Success 200 {object} common.Response
// @Failure 401 {object} common.ProblemDetails
// @Router /admin/withdrawals [get]
func ListWithdrawals(svc *withdrawalsvc.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status := c.Query("status", "PENDING")
		reads, err := svc.ListByStatus(c.Context(), status, 100)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Failed to list withdrawals", err)
		}
		return common.SuccessResponseJSON(c, fiber.StatusOK, "Withdrawals", reads)
	}
}

// ProcessWithdrawal applies an operator action to a withdrawal request.
// @Summary Process a withdrawal request
// @Description APPROVE moves PENDING to PROCESSING, REJECT releases the hold, COMPLETE settles the payout against the ledger.
// @Tags admin
// @Accept json
// @Produce json
// @Param id path string true "Withdrawal id"
// @Param request body ProcessInput true "Action"
// @Success 200 {object} common.Response
// @Failure 400 {object} common.ProblemDetails
// @Failure 401 {object} common.ProblemDetails
// @Failure 404 {object} common.ProblemDetails
// @Failure 409 {object} common.ProblemDetails
// @Router /admin/withdrawals/{id}/process [post]
func ProcessWithdrawal(svc *withdrawalsvc.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return common.ProblemDetailsJSON(c, "Invalid withdrawal id", nil, fiber.StatusBadRequest)
		}
		input, err := common.BindAndValidate[ProcessInput](c)
		if input == nil {
			return err
		}

		read, err := svc.Process(c.Context(), withdrawalsvc.ProcessCommand{
			WithdrawalID: id,
			Action:       withdrawalsvc.Action(input.Action),
			Reason:       input.Reason,
			TransferRef:  input.TransferRef,
		})
		if err != nil {
			return common.ProblemDetailsJSON(c, "Withdrawal processing failed", err)
		}
		return common.SuccessResponseJSON(c, fiber.StatusOK, "Withdrawal processed", fiber.Map{
			"id":          read.ID,
			"status":      read.Status,
			"transferRef": read.TransferRef,
		})
	}
}

// Reconciliation lists intents stuck in a non-terminal state.
// @Summary List stuck settlement intents
// @Description Intents reserved or captured past the cutoff. Each needs an operator decision; nothing is credited automatically.
// @Tags admin
// @Produce json
// @Success 200 {object} common.Response
// @Failure 401 {object} common.ProblemDetails
// @Router /admin/reconciliation [get]
func Reconciliation(svc *settlementsvc.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		stuck, err := svc.Reconciliation(c.Context())
		if err != nil {
			return common.ProblemDetailsJSON(c, "Reconciliation sweep failed", err)
		}
		return common.SuccessResponseJSON(c, fiber.StatusOK, "Stuck intents", stuck)
	}
}
