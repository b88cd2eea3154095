package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"deedflow/internal/config"
	"deedflow/internal/db"
	"deedflow/internal/engine"
	"deedflow/internal/migrate"
	"deedflow/internal/repo"
	"deedflow/internal/stage"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T, cfg *config.Config) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if cfg == nil {
		cfg = config.Default()
		cfg.Tasks.AutoGenerate = false
	}
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func createTransaction(t *testing.T, env testEnv) string {
	t.Helper()
	txn, err := env.Engine.CreateTransaction(env.Ctx, engine.TransactionCreateOptions{
		PropertyAddress: "123 Main St, Springfield",
		PurchasePrice:   500000,
		ActorID:         "tester",
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return txn.ID
}

func TestCreateTransactionSeedsWorkflow(t *testing.T) {
	env := newTestEnv(t, nil)
	txn, err := env.Engine.CreateTransaction(env.Ctx, engine.TransactionCreateOptions{
		PropertyAddress: "123 Main St, Springfield",
		PurchasePrice:   500000,
		ActorID:         "tester",
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	if txn.CurrentStage != string(stage.OfferAccepted) {
		t.Fatalf("initial stage = %s", txn.CurrentStage)
	}
	if len(txn.StageHistory) != 1 {
		t.Fatalf("history length = %d, want 1", len(txn.StageHistory))
	}
	created, _ := time.Parse(time.RFC3339, txn.CreatedAt)
	estimated, _ := time.Parse(time.RFC3339, txn.EstimatedClosingDate)
	if got := estimated.Sub(created); got != 13*24*time.Hour {
		t.Fatalf("estimated closing %v after creation, want 13 days", got)
	}
	if txn.ID != "TXN-2025-001" {
		t.Fatalf("transaction id = %s", txn.ID)
	}
}

func TestCreateTransactionValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	var ve engine.ValidationError
	_, err := env.Engine.CreateTransaction(env.Ctx, engine.TransactionCreateOptions{
		PropertyAddress: "123 Main St",
		PurchasePrice:   0,
		ActorID:         "tester",
	})
	if !errors.As(err, &ve) {
		t.Fatalf("zero price: got %v, want validation error", err)
	}
	_, err = env.Engine.CreateTransaction(env.Ctx, engine.TransactionCreateOptions{
		PurchasePrice: 500000,
		ActorID:       "tester",
	})
	if !errors.As(err, &ve) {
		t.Fatalf("missing address: got %v, want validation error", err)
	}
}

func TestBlockingTaskGatesAdvance(t *testing.T) {
	env := newTestEnv(t, nil)
	id := createTransaction(t, env)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		TransactionID: id,
		Title:         "Deposit earnest money",
		Type:          "payment",
		IsBlocking:    true,
		ActorID:       "tester",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	_, err = env.Engine.AdvanceStage(env.Ctx, id, "", "tester", false)
	var be engine.BlockedByTasksError
	if !errors.As(err, &be) {
		t.Fatalf("advance: got %v, want blocked error", err)
	}
	if len(be.Tasks) != 1 || be.Tasks[0].ID != task.ID || be.Tasks[0].Title != "Deposit earnest money" {
		t.Fatalf("blocked tasks = %+v", be.Tasks)
	}

	// State untouched by the failed advance.
	txn, err := env.Engine.Repo.GetTransaction(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if txn.CurrentStage != string(stage.OfferAccepted) || len(txn.StageHistory) != 1 {
		t.Fatalf("stage %s history %d after blocked advance", txn.CurrentStage, len(txn.StageHistory))
	}

	if _, err := env.Engine.CompleteTask(env.Ctx, task.ID, "buyer", "", "", "tester"); err != nil {
		t.Fatalf("complete task: %v", err)
	}
	txn, err = env.Engine.AdvanceStage(env.Ctx, id, "", "tester", false)
	if err != nil {
		t.Fatalf("advance after completion: %v", err)
	}
	if txn.CurrentStage != string(stage.TitleSearch) {
		t.Fatalf("stage = %s", txn.CurrentStage)
	}
	if len(txn.StageHistory) != 2 {
		t.Fatalf("history length = %d, want 2", len(txn.StageHistory))
	}
}

func TestForceAdvanceBypassesBlockingTasks(t *testing.T) {
	env := newTestEnv(t, nil)
	id := createTransaction(t, env)
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		TransactionID: id,
		Title:         "Deposit earnest money",
		IsBlocking:    true,
		ActorID:       "tester",
	}); err != nil {
		t.Fatal(err)
	}
	txn, err := env.Engine.AdvanceStage(env.Ctx, id, "manager override", "tester", true)
	if err != nil {
		t.Fatalf("forced advance: %v", err)
	}
	last := txn.StageHistory[len(txn.StageHistory)-1]
	if !last.ForceAdvanced || last.Notes != "manager override" {
		t.Fatalf("history entry = %+v", last)
	}
}

func TestTerminalStageRejectsAdvance(t *testing.T) {
	env := newTestEnv(t, nil)
	id := createTransaction(t, env)
	for i := 0; i < stage.Count()-1; i++ {
		if _, err := env.Engine.AdvanceStage(env.Ctx, id, "", "tester", true); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
	}
	_, err := env.Engine.AdvanceStage(env.Ctx, id, "", "tester", true)
	var ie engine.InvalidTransitionError
	if !errors.As(err, &ie) {
		t.Fatalf("advance at terminal: got %v, want invalid transition", err)
	}
}

func TestDepositEarnestMoney(t *testing.T) {
	env := newTestEnv(t, nil)
	id := createTransaction(t, env)
	txn, err := env.Engine.DepositEarnestMoney(env.Ctx, id, 10000, "", "tester")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if txn.EarnestMoneyStatus != "deposited" {
		t.Fatalf("status = %s", txn.EarnestMoneyStatus)
	}
	if txn.CurrentStage != string(stage.OfferAccepted) {
		t.Fatalf("stage changed to %s", txn.CurrentStage)
	}
	if len(txn.StageHistory) != 2 {
		t.Fatalf("history length = %d, want 2", len(txn.StageHistory))
	}
	last := txn.StageHistory[1]
	if last.Event != "earnest_money_deposited" || last.Payload["amount"] != float64(10000) {
		t.Fatalf("history entry = %+v", last)
	}

	var ve engine.ValidationError
	if _, err := env.Engine.DepositEarnestMoney(env.Ctx, id, -5, "", "tester"); !errors.As(err, &ve) {
		t.Fatalf("negative amount: got %v, want validation error", err)
	}
	if _, err := env.Engine.DepositEarnestMoney(env.Ctx, id, 10000, "", "tester"); !errors.As(err, &ve) {
		t.Fatalf("double deposit: got %v, want validation error", err)
	}
}

func TestVerifyFunds(t *testing.T) {
	env := newTestEnv(t, nil)
	id := createTransaction(t, env)
	txn, err := env.Engine.VerifyFunds(env.Ctx, id, "wire_receipt", "tester")
	if err != nil {
		t.Fatalf("verify funds: %v", err)
	}
	if !txn.FundsVerified || txn.FundsVerifiedBy == nil || *txn.FundsVerifiedBy != "wire_receipt" {
		t.Fatalf("funds fields = %v %v", txn.FundsVerified, txn.FundsVerifiedBy)
	}
	last := txn.StageHistory[len(txn.StageHistory)-1]
	if last.Event != "funds_verified" || last.Stage != string(stage.OfferAccepted) {
		t.Fatalf("history entry = %+v", last)
	}
}

func TestForcedRunToClosing(t *testing.T) {
	env := newTestEnv(t, nil)
	id := createTransaction(t, env)
	var closingSetAt int
	for i := 1; i < stage.Count(); i++ {
		txn, err := env.Engine.AdvanceStage(env.Ctx, id, "", "tester", true)
		if err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		if got := stage.Index(stage.Stage(txn.CurrentStage)); got != i {
			t.Fatalf("advance %d landed at index %d", i, got)
		}
		if len(txn.StageHistory) != i+1 {
			t.Fatalf("advance %d: history length %d", i, len(txn.StageHistory))
		}
		if txn.ActualClosingDate != nil && closingSetAt == 0 {
			closingSetAt = i
		}
	}
	if closingSetAt != stage.Count()-1 {
		t.Fatalf("actual closing date set at advance %d, want %d", closingSetAt, stage.Count()-1)
	}
	txn, err := env.Engine.Repo.GetTransaction(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if txn.CurrentStage != string(stage.RecordingComplete) {
		t.Fatalf("final stage = %s", txn.CurrentStage)
	}
}

func TestHistoryAppendOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	id := createTransaction(t, env)

	snapshot := func() []string {
		t.Helper()
		txn, err := env.Engine.Repo.GetTransaction(env.Ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		var out []string
		for _, h := range txn.StageHistory {
			out = append(out, h.Stage+"|"+h.EnteredAt+"|"+h.Event+"|"+h.Timestamp)
		}
		return out
	}

	before := snapshot()
	ops := []func() error{
		func() error { _, err := env.Engine.DepositEarnestMoney(env.Ctx, id, 10000, "", "tester"); return err },
		func() error { _, err := env.Engine.VerifyFunds(env.Ctx, id, "bank_letter", "tester"); return err },
		func() error { _, err := env.Engine.AdvanceStage(env.Ctx, id, "", "tester", true); return err },
	}
	for i, op := range ops {
		if err := op(); err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
		after := snapshot()
		if len(after) != len(before)+1 {
			t.Fatalf("op %d: history grew from %d to %d", i, len(before), len(after))
		}
		for j := range before {
			if after[j] != before[j] {
				t.Fatalf("op %d rewrote entry %d: %s -> %s", i, j, before[j], after[j])
			}
		}
		before = after
	}
}

func TestCompleteTaskOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	id := createTransaction(t, env)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		TransactionID: id,
		Title:         "Order title search",
		ActorID:       "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	done, err := env.Engine.CompleteTask(env.Ctx, task.ID, "title-co", "all clear", `{"report":"ok"}`, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != "completed" || done.CompletedAt == nil || *done.CompletedBy != "title-co" {
		t.Fatalf("completed task = %+v", done)
	}

	_, err = env.Engine.CompleteTask(env.Ctx, task.ID, "someone-else", "", "", "tester")
	var ae engine.AlreadyCompletedError
	if !errors.As(err, &ae) {
		t.Fatalf("re-complete: got %v, want already completed", err)
	}
	again, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if *again.CompletedBy != "title-co" || *again.CompletedAt != *done.CompletedAt {
		t.Fatalf("completion fields changed: %+v", again)
	}
}

func TestUpdateTaskCannotComplete(t *testing.T) {
	env := newTestEnv(t, nil)
	id := createTransaction(t, env)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		TransactionID: id, Title: "Schedule signing", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	status := "completed"
	_, err = env.Engine.UpdateTask(env.Ctx, task.ID, engine.TaskPatch{Status: &status}, "tester")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("update to completed: got %v, want validation error", err)
	}

	inProgress := "in_progress"
	updated, err := env.Engine.UpdateTask(env.Ctx, task.ID, engine.TaskPatch{Status: &inProgress}, "tester")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != "in_progress" || updated.StartedAt == nil {
		t.Fatalf("updated task = %+v", updated)
	}
}

func TestAutoGeneratedStageTasks(t *testing.T) {
	cfg := config.Default()
	env := newTestEnv(t, cfg)
	buyer, err := env.Engine.CreateParty(env.Ctx, engine.PartyCreateOptions{Name: "Ann Buyer", Role: "buyer", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	txn, err := env.Engine.CreateTransaction(env.Ctx, engine.TransactionCreateOptions{
		PropertyAddress: "9 Elm St",
		PurchasePrice:   350000,
		BuyerID:         &buyer.ID,
		ActorID:         "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilters{TransactionID: txn.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != len(cfg.Tasks.Stages[string(stage.OfferAccepted)]) {
		t.Fatalf("generated %d tasks, want %d", len(tasks), len(cfg.Tasks.Stages[string(stage.OfferAccepted)]))
	}
	var assignedToBuyer int
	for _, task := range tasks {
		if task.RelatedStage == nil || *task.RelatedStage != string(stage.OfferAccepted) {
			t.Fatalf("task %s related stage = %v", task.ID, task.RelatedStage)
		}
		if task.AssignedTo != nil && *task.AssignedTo == buyer.ID {
			assignedToBuyer++
		}
	}
	if assignedToBuyer == 0 {
		t.Fatalf("no generated task resolved the buyer role")
	}

	// Generated blocking tasks gate the advance out of the first stage.
	_, err = env.Engine.AdvanceStage(env.Ctx, txn.ID, "", "tester", false)
	var be engine.BlockedByTasksError
	if !errors.As(err, &be) {
		t.Fatalf("advance: got %v, want blocked error", err)
	}
}

func TestDocumentGateWhenEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.Tasks.AutoGenerate = false
	cfg.Documents.RequireStageApprovals = true
	env := newTestEnv(t, cfg)
	id := createTransaction(t, env)

	// offer_accepted -> title_search_ordered needs no documents.
	if _, err := env.Engine.AdvanceStage(env.Ctx, id, "", "tester", false); err != nil {
		t.Fatalf("advance: %v", err)
	}

	// lender_underwriting requires approved proof_of_funds.
	_, err := env.Engine.AdvanceStage(env.Ctx, id, "", "tester", false)
	var de engine.BlockedByDocumentsError
	if !errors.As(err, &de) {
		t.Fatalf("advance: got %v, want blocked by documents", err)
	}
	if len(de.Missing) != 1 || de.Missing[0] != "proof_of_funds" {
		t.Fatalf("missing = %v", de.Missing)
	}

	doc, err := env.Engine.RegisterDocument(env.Ctx, engine.DocumentCreateOptions{
		TransactionID: id, Type: "proof_of_funds", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetDocumentStatus(env.Ctx, doc.ID, "approved", nil, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AdvanceStage(env.Ctx, id, "", "tester", false); err != nil {
		t.Fatalf("advance with approved doc: %v", err)
	}
}

func TestStaleStageUpdateDoesNotApply(t *testing.T) {
	env := newTestEnv(t, nil)
	id := createTransaction(t, env)

	txn, err := env.Engine.Repo.GetTransaction(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	txn.CurrentStage = string(stage.TitleSearch)
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	applied, err := env.Engine.Repo.UpdateTransactionStageTx(env.Ctx, tx, txn, "not_the_current_stage")
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Fatalf("stale update applied")
	}
}

func TestProgressReport(t *testing.T) {
	env := newTestEnv(t, nil)
	id := createTransaction(t, env)
	for i := 0; i < 2; i++ {
		if _, err := env.Engine.AdvanceStage(env.Ctx, id, "", "tester", true); err != nil {
			t.Fatal(err)
		}
	}
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{TransactionID: id, Title: "Review appraisal", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{TransactionID: id, Title: "Order inspection", ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CompleteTask(env.Ctx, task.ID, "lender", "", "", "tester"); err != nil {
		t.Fatal(err)
	}

	report, err := env.Engine.Progress(env.Ctx, id)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if report.CurrentStage != string(stage.Underwriting) || report.StageIndex != 2 {
		t.Fatalf("report stage = %s index %d", report.CurrentStage, report.StageIndex)
	}
	if report.PercentComplete != 43 {
		t.Fatalf("percent complete = %d, want 43", report.PercentComplete)
	}
	if report.TasksTotal != 2 || report.TasksCompleted != 1 || report.TaskPercentComplete != 50 {
		t.Fatalf("task progress = %d/%d (%d%%)", report.TasksCompleted, report.TasksTotal, report.TaskPercentComplete)
	}
	if len(report.Stages) != stage.Count() {
		t.Fatalf("stage rows = %d", len(report.Stages))
	}
	if report.Stages[0].Status != "completed" || report.Stages[2].Status != "current" || report.Stages[6].Status != "pending" {
		t.Fatalf("stage statuses = %+v", report.Stages)
	}
}

func TestMutationsRejectedAfterClosing(t *testing.T) {
	env := newTestEnv(t, nil)
	id := createTransaction(t, env)
	for i := 0; i < stage.Count()-1; i++ {
		if _, err := env.Engine.AdvanceStage(env.Ctx, id, "", "tester", true); err != nil {
			t.Fatal(err)
		}
	}
	var ie engine.InvalidTransitionError
	if _, err := env.Engine.DepositEarnestMoney(env.Ctx, id, 10000, "", "tester"); !errors.As(err, &ie) {
		t.Fatalf("deposit after closing: got %v", err)
	}
	if _, err := env.Engine.VerifyFunds(env.Ctx, id, "wire_receipt", "tester"); !errors.As(err, &ie) {
		t.Fatalf("verify after closing: got %v", err)
	}
}

func TestIDsNotReusedAfterDelete(t *testing.T) {
	env := newTestEnv(t, nil)
	first := createTransaction(t, env)
	second := createTransaction(t, env)
	if first != "TXN-2025-001" || second != "TXN-2025-002" {
		t.Fatalf("ids = %s, %s", first, second)
	}
	if err := env.Engine.DeleteTransaction(env.Ctx, first, "tester"); err != nil {
		t.Fatalf("delete transaction: %v", err)
	}
	third := createTransaction(t, env)
	if third != "TXN-2025-003" {
		t.Fatalf("id after delete = %s, want TXN-2025-003", third)
	}

	taskA, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		TransactionID: second, Title: "Order title search", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		TransactionID: second, Title: "Order payoff statement", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, taskA.ID, "tester"); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	taskC, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		TransactionID: second, Title: "Schedule walkthrough", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create task after delete: %v", err)
	}
	if taskC.ID != "TASK-2025-003" {
		t.Fatalf("task id after delete = %s, want TASK-2025-003", taskC.ID)
	}

	buyer, err := env.Engine.CreateParty(env.Ctx, engine.PartyCreateOptions{Name: "Pat Doe", Role: "buyer", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateParty(env.Ctx, engine.PartyCreateOptions{Name: "Sam Doe", Role: "seller", ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteParty(env.Ctx, buyer.ID, "tester"); err != nil {
		t.Fatalf("delete party: %v", err)
	}
	agent, err := env.Engine.CreateParty(env.Ctx, engine.PartyCreateOptions{Name: "Lee Cruz", Role: "buyer_agent", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create party after delete: %v", err)
	}
	if agent.ID != "PARTY-2025-003" {
		t.Fatalf("party id after delete = %s, want PARTY-2025-003", agent.ID)
	}
}
