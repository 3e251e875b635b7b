// Command kausctl is the operator tool for the settlement core. It talks to
// the database directly with the same services the API uses, so every action
// goes through the same guards and audit trail.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/kausenergy/settlement/infra"
	"github.com/kausenergy/settlement/infra/repository"
	"github.com/kausenergy/settlement/pkg/audit"
	"github.com/kausenergy/settlement/pkg/config"
	"github.com/kausenergy/settlement/pkg/eventbus"
	"github.com/kausenergy/settlement/pkg/logging"
	"github.com/kausenergy/settlement/pkg/metrics"
	settlementsvc "github.com/kausenergy/settlement/pkg/service/settlement"
	withdrawalsvc "github.com/kausenergy/settlement/pkg/service/withdrawal"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "hash-key":
		hashKey()
	case "withdrawals":
		listWithdrawals()
	case "process":
		processWithdrawal()
	case "reconcile":
		reconcile()
	default:
		color.Red("Unknown command: %s", os.Args[1])
		usage()
	}
}

func usage() {
	fmt.Println("Usage: kausctl <command> [arguments]")
	fmt.Println("Commands:")
	fmt.Println("  hash-key                                    generate a bcrypt hash for ADMIN_OPS_KEY_HASH")
	fmt.Println("  withdrawals [status]                        list withdrawal requests (default PENDING)")
	fmt.Println("  process <id> <APPROVE|REJECT|COMPLETE> [reason-or-transfer-ref]")
	fmt.Println("  reconcile                                   list settlement intents stuck in a non-terminal state")
}

// hashKey reads the operations key without echo and prints its bcrypt hash.
func hashKey() {
	fmt.Print("Operations key: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		color.Red("Failed to read key: %v", err)
		return
	}
	hash, err := bcrypt.GenerateFromPassword(raw, bcrypt.DefaultCost)
	if err != nil {
		color.Red("Failed to hash key: %v", err)
		return
	}
	color.Green("ADMIN_OPS_KEY_HASH=%s", hash)
}

type toolkit struct {
	withdrawal *withdrawalsvc.Service
	settlement *settlementsvc.Service
	sink       audit.Sink
}

func dial() (*toolkit, error) {
	logger := slog.Default()
	cfg, err := config.Load(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger = logging.New(cfg.Log)

	db, err := infra.NewDBConnection(cfg.DB.Url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	uow := repository.NewUoW(db)
	sink := audit.NewBufferedSink(repository.NewAuditStore(db), logger)
	bus := eventbus.New(logger)
	m := metrics.New(prometheus.NewRegistry())

	return &toolkit{
		withdrawal: withdrawalsvc.New(uow, sink, bus, m, logger, withdrawalsvc.Config{
			MinAmountKRW: cfg.Withdrawal.MinAmountKRW,
			MaxAmountKRW: cfg.Withdrawal.MaxAmountKRW,
		}),
		settlement: settlementsvc.New(uow, nil, sink, bus, m, logger, settlementsvc.Config{
			StuckAfter: cfg.Settlement.StuckAfter,
		}),
		sink: sink,
	}, nil
}

func listWithdrawals() {
	status := "PENDING"
	if len(os.Args) > 2 {
		status = os.Args[2]
	}
	tk, err := dial()
	if err != nil {
		color.Red("%v", err)
		return
	}
	defer tk.sink.Close() //nolint:errcheck

	reads, err := tk.withdrawal.ListByStatus(context.Background(), status, 100)
	if err != nil {
		color.Red("Failed to list withdrawals: %v", err)
		return
	}
	if len(reads) == 0 {
		fmt.Printf("No %s withdrawals.\n", status)
		return
	}
	for _, w := range reads {
		fmt.Printf("%s  user=%s  %d %s  %s\n", w.ID, w.UserID, w.Amount, w.Currency, w.Status)
	}
}

func processWithdrawal() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: process <id> <APPROVE|REJECT|COMPLETE> [reason-or-transfer-ref]")
		return
	}
	id, err := uuid.Parse(os.Args[2])
	if err != nil {
		color.Red("Invalid withdrawal id: %v", err)
		return
	}
	action := withdrawalsvc.Action(os.Args[3])
	extra := ""
	if len(os.Args) > 4 {
		extra = os.Args[4]
	}

	cmd := withdrawalsvc.ProcessCommand{WithdrawalID: id, Action: action}
	switch action {
	case withdrawalsvc.ActionReject:
		cmd.Reason = extra
	case withdrawalsvc.ActionComplete:
		cmd.TransferRef = extra
	}

	tk, err := dial()
	if err != nil {
		color.Red("%v", err)
		return
	}
	defer tk.sink.Close() //nolint:errcheck

	read, err := tk.withdrawal.Process(context.Background(), cmd)
	if err != nil {
		color.Red("Processing failed: %v", err)
		return
	}
	color.Green("Withdrawal %s is now %s", read.ID, read.Status)
}

func reconcile() {
	tk, err := dial()
	if err != nil {
		color.Red("%v", err)
		return
	}
	defer tk.sink.Close() //nolint:errcheck

	stuck, err := tk.settlement.Reconciliation(context.Background())
	if err != nil {
		color.Red("Reconciliation sweep failed: %v", err)
		return
	}
	if len(stuck) == 0 {
		color.Green("No stuck intents.")
		return
	}
	color.Yellow("%d stuck intent(s):", len(stuck))
	for _, intent := range stuck {
		fmt.Printf("%s  ref=%s  user=%s  %d %s  %s  since=%s\n",
			intent.ID, intent.ReferenceID, intent.UserID,
			intent.Amount, intent.Currency, intent.Status,
			intent.CreatedAt.Format("2006-01-02 15:04:05"))
	}
}
