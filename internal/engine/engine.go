package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"deedflow/internal/config"
	"deedflow/internal/domain"
	"deedflow/internal/events"
	"deedflow/internal/repo"
	"deedflow/internal/stage"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

// idPrefix returns the year-scoped id prefix, e.g. "TXN-2025-". The
// sequence part is resolved against existing rows inside the insert tx.
func (e Engine) idPrefix(kind string) string {
	return fmt.Sprintf("%s-%d-", kind, e.now().UTC().Year())
}

var validPriorities = map[string]bool{"low": true, "normal": true, "high": true, "urgent": true}

var validTaskPriorities = map[string]bool{"low": true, "normal": true, "high": true, "critical": true}

var validTaskStatuses = map[string]bool{
	"pending": true, "in_progress": true, "blocked": true,
	"completed": true, "cancelled": true, "overdue": true,
}

var validDocumentStatuses = map[string]bool{
	"pending_upload": true, "uploaded": true, "processing": true,
	"pending_review": true, "approved": true, "rejected": true, "superseded": true,
}

var validPartyRoles = map[string]bool{
	"buyer": true, "seller": true, "buyer_agent": true, "seller_agent": true,
	"loan_officer": true, "title_officer": true, "escrow_officer": true,
	"closing_coordinator": true, "inspector": true, "appraiser": true,
}

// TransactionCreateOptions are parameters for opening a transaction.
type TransactionCreateOptions struct {
	PropertyAddress   string
	PropertyType      *string
	PropertySqft      *int
	PropertyBedrooms  *int
	PropertyBathrooms *float64
	PropertyYearBuilt *int

	PurchasePrice float64
	DownPayment   *float64
	LoanAmount    *float64

	BuyerID        *string
	SellerID       *string
	BuyerAgentID   *string
	SellerAgentID  *string
	LoanOfficerID  *string
	TitleOfficerID *string

	Notes    string
	Priority string
	ActorID  string
}

func (e Engine) CreateTransaction(ctx context.Context, opts TransactionCreateOptions) (domain.Transaction, error) {
	if opts.PropertyAddress == "" {
		return domain.Transaction{}, ValidationError{Field: "property_address", Reason: "is required"}
	}
	if opts.PurchasePrice <= 0 {
		return domain.Transaction{}, ValidationError{Field: "purchase_price", Reason: "must be positive"}
	}
	if opts.Priority == "" {
		opts.Priority = "normal"
	}
	if !validPriorities[opts.Priority] {
		return domain.Transaction{}, ValidationError{Field: "priority", Reason: "unknown value " + opts.Priority}
	}
	refs := map[string]*string{
		"buyer_id": opts.BuyerID, "seller_id": opts.SellerID,
		"buyer_agent_id": opts.BuyerAgentID, "seller_agent_id": opts.SellerAgentID,
		"loan_officer_id": opts.LoanOfficerID, "title_officer_id": opts.TitleOfficerID,
	}
	for field, id := range refs {
		if id == nil || *id == "" {
			continue
		}
		if _, err := e.Repo.GetParty(ctx, *id); err != nil {
			return domain.Transaction{}, ValidationError{Field: field, Reason: "party " + *id + " not found"}
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Transaction{}, err
	}
	defer tx.Rollback()

	prefix := e.idPrefix("TXN")
	seq, err := e.Repo.NextTransactionSeqTx(ctx, tx, prefix)
	if err != nil {
		return domain.Transaction{}, err
	}
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	initial := stage.Initial()
	t := domain.Transaction{
		ID:                   fmt.Sprintf("%s%03d", prefix, seq),
		PropertyAddress:      opts.PropertyAddress,
		PropertyType:         opts.PropertyType,
		PropertySqft:         opts.PropertySqft,
		PropertyBedrooms:     opts.PropertyBedrooms,
		PropertyBathrooms:    opts.PropertyBathrooms,
		PropertyYearBuilt:    opts.PropertyYearBuilt,
		PurchasePrice:        opts.PurchasePrice,
		DownPayment:          opts.DownPayment,
		LoanAmount:           opts.LoanAmount,
		EarnestMoneyStatus:   "pending",
		CurrentStage:         string(initial),
		StageStartedAt:       nowStr,
		CreatedAt:            nowStr,
		EstimatedClosingDate: now.AddDate(0, 0, stage.TotalDays()).Format(time.RFC3339),
		BuyerID:              opts.BuyerID,
		SellerID:             opts.SellerID,
		BuyerAgentID:         opts.BuyerAgentID,
		SellerAgentID:        opts.SellerAgentID,
		LoanOfficerID:        opts.LoanOfficerID,
		TitleOfficerID:       opts.TitleOfficerID,
		Notes:                opts.Notes,
		Priority:             opts.Priority,
		StageHistory: []domain.StageEntry{{
			Stage:     string(initial),
			EnteredAt: nowStr,
			Notes:     "Transaction created",
		}},
	}
	if err := e.Repo.InsertTransactionTx(ctx, tx, t); err != nil {
		return domain.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	if e.Config != nil && e.Config.Tasks.AutoGenerate {
		if _, err := e.generateStageTasks(ctx, tx, t, initial, opts.ActorID); err != nil {
			return domain.Transaction{}, err
		}
	}
	if err := e.writer().Append(ctx, tx, "transaction.created", t.ID, "transaction", t.ID, opts.ActorID, events.EventPayload{
		"stage":          t.CurrentStage,
		"purchase_price": t.PurchasePrice,
	}); err != nil {
		return domain.Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Transaction{}, err
	}
	return t, nil
}

// generateStageTasks creates the configured tasks for a stage the
// transaction just entered. Assignment resolves the template role against
// the transaction's party references; unmatched roles stay unassigned.
func (e Engine) generateStageTasks(ctx context.Context, tx *sql.Tx, t domain.Transaction, stg stage.Stage, actorID string) ([]domain.Task, error) {
	if e.Config == nil {
		return nil, nil
	}
	templates := e.Config.Tasks.Stages[string(stg)]
	if len(templates) == 0 {
		return nil, nil
	}
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	due := now.AddDate(0, 0, stage.Duration(stg)).Format(time.RFC3339)
	relStage := string(stg)
	var created []domain.Task
	prefix := e.idPrefix("TASK")
	for _, tpl := range templates {
		seq, err := e.Repo.NextTaskSeqTx(ctx, tx, prefix)
		if err != nil {
			return nil, err
		}
		priority := tpl.Priority
		if priority == "" {
			priority = "normal"
		}
		task := domain.Task{
			ID:            fmt.Sprintf("%s%03d", prefix, seq),
			TransactionID: t.ID,
			Title:         tpl.Title,
			Description:   tpl.Description,
			Type:          tpl.Type,
			AssignedTo:    partyForRole(t, tpl.AssignedRole),
			AssignedBy:    actorID,
			AssignedAt:    nowStr,
			Status:        "pending",
			Priority:      priority,
			DueDate:       &due,
			IsBlocking:    tpl.Blocking,
			RelatedStage:  &relStage,
			CreatedAt:     nowStr,
			UpdatedAt:     nowStr,
		}
		if err := e.Repo.InsertTaskTx(ctx, tx, task); err != nil {
			return nil, fmt.Errorf("insert generated task: %w", err)
		}
		created = append(created, task)
	}
	if err := e.writer().Append(ctx, tx, "transaction.tasks.generated", t.ID, "transaction", t.ID, actorID, events.EventPayload{
		"stage": string(stg),
		"count": len(created),
	}); err != nil {
		return nil, err
	}
	return created, nil
}

func partyForRole(t domain.Transaction, role string) *string {
	var ref *string
	switch role {
	case "buyer":
		ref = t.BuyerID
	case "seller":
		ref = t.SellerID
	case "buyer_agent":
		ref = t.BuyerAgentID
	case "seller_agent":
		ref = t.SellerAgentID
	case "loan_officer":
		ref = t.LoanOfficerID
	case "title_officer", "escrow_officer", "closing_coordinator":
		ref = t.TitleOfficerID
	}
	if ref == nil || *ref == "" {
		return nil
	}
	return ref
}

// AdvanceStage moves a transaction to the next stage. Unless force is set,
// the advance is gated on incomplete blocking tasks and on the stage's
// required approved documents.
func (e Engine) AdvanceStage(ctx context.Context, id, notes, actorID string, force bool) (domain.Transaction, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Transaction{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTransactionTx(ctx, tx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	current := stage.Stage(t.CurrentStage)
	next, ok := stage.Next(current)
	if !ok {
		return domain.Transaction{}, InvalidTransitionError{TransactionID: id, Stage: t.CurrentStage, Reason: "already at final stage"}
	}
	if !force {
		blocking, err := e.Repo.ListBlockingTasksTx(ctx, tx, id, t.CurrentStage)
		if err != nil {
			return domain.Transaction{}, err
		}
		if len(blocking) > 0 {
			be := BlockedByTasksError{TransactionID: id, Stage: t.CurrentStage}
			for _, bt := range blocking {
				be.Tasks = append(be.Tasks, BlockedTask{ID: bt.ID, Title: bt.Title})
			}
			return domain.Transaction{}, be
		}
		if e.Config != nil && e.Config.Documents.RequireStageApprovals {
			var missing []string
			for _, docType := range stage.RequiredDocuments(next) {
				ok, err := e.Repo.HasApprovedDocumentTx(ctx, tx, id, docType)
				if err != nil {
					return domain.Transaction{}, err
				}
				if !ok {
					missing = append(missing, docType)
				}
			}
			if len(missing) > 0 {
				return domain.Transaction{}, BlockedByDocumentsError{TransactionID: id, Stage: t.CurrentStage, Missing: missing}
			}
		}
	}

	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	fromStage := t.CurrentStage
	t.CurrentStage = string(next)
	t.StageStartedAt = nowStr
	t.EstimatedClosingDate = now.AddDate(0, 0, stage.RemainingDays(next)).Format(time.RFC3339)
	if stage.Terminal(next) && t.ActualClosingDate == nil {
		t.ActualClosingDate = &nowStr
	}
	t.StageHistory = append(t.StageHistory, domain.StageEntry{
		Stage:         string(next),
		EnteredAt:     nowStr,
		Notes:         notes,
		ForceAdvanced: force,
	})

	applied, err := e.Repo.UpdateTransactionStageTx(ctx, tx, t, fromStage)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("update stage: %w", err)
	}
	if !applied {
		return domain.Transaction{}, InvalidTransitionError{TransactionID: id, Stage: fromStage, Reason: "stage changed concurrently"}
	}
	if e.Config != nil && e.Config.Tasks.AutoGenerate {
		if _, err := e.generateStageTasks(ctx, tx, t, next, actorID); err != nil {
			return domain.Transaction{}, err
		}
	}
	if err := e.writer().Append(ctx, tx, "transaction.stage.advanced", id, "transaction", id, actorID, events.EventPayload{
		"from":  fromStage,
		"to":    t.CurrentStage,
		"force": force,
	}); err != nil {
		return domain.Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Transaction{}, err
	}
	return t, nil
}

func (e Engine) DepositEarnestMoney(ctx context.Context, id string, amount float64, notes, actorID string) (domain.Transaction, error) {
	if amount <= 0 {
		return domain.Transaction{}, ValidationError{Field: "amount", Reason: "must be positive"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Transaction{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTransactionTx(ctx, tx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if stage.Terminal(stage.Stage(t.CurrentStage)) {
		return domain.Transaction{}, InvalidTransitionError{TransactionID: id, Stage: t.CurrentStage, Reason: "transaction is closed"}
	}
	if t.EarnestMoneyStatus != "pending" {
		return domain.Transaction{}, ValidationError{Field: "earnest_money", Reason: "already " + t.EarnestMoneyStatus}
	}

	nowStr := e.now().UTC().Format(time.RFC3339)
	t.EarnestMoneyAmount = &amount
	t.EarnestMoneyStatus = "deposited"
	t.EarnestMoneyDepositedAt = &nowStr
	entry := domain.StageEntry{
		Stage:     t.CurrentStage,
		Event:     "earnest_money_deposited",
		Timestamp: nowStr,
		Payload:   map[string]any{"amount": amount},
	}
	if notes != "" {
		entry.Payload["notes"] = notes
	}
	t.StageHistory = append(t.StageHistory, entry)

	if err := e.Repo.UpdateTransactionWorkflowTx(ctx, tx, t); err != nil {
		return domain.Transaction{}, fmt.Errorf("update earnest money: %w", err)
	}
	if err := e.writer().Append(ctx, tx, "transaction.earnest_money.deposited", id, "transaction", id, actorID, events.EventPayload{
		"amount": amount,
	}); err != nil {
		return domain.Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Transaction{}, err
	}
	return t, nil
}

// VerifyFunds records that buyer funds were verified, with the method (wire
// receipt, bank letter) stored as the verifier reference.
func (e Engine) VerifyFunds(ctx context.Context, id, method, actorID string) (domain.Transaction, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Transaction{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTransactionTx(ctx, tx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if stage.Terminal(stage.Stage(t.CurrentStage)) {
		return domain.Transaction{}, InvalidTransitionError{TransactionID: id, Stage: t.CurrentStage, Reason: "transaction is closed"}
	}
	if t.FundsVerified {
		return domain.Transaction{}, ValidationError{Field: "funds", Reason: "already verified"}
	}

	nowStr := e.now().UTC().Format(time.RFC3339)
	t.FundsVerified = true
	t.FundsVerifiedAt = &nowStr
	if method != "" {
		t.FundsVerifiedBy = &method
	}
	payload := map[string]any{}
	if method != "" {
		payload["method"] = method
	}
	t.StageHistory = append(t.StageHistory, domain.StageEntry{
		Stage:     t.CurrentStage,
		Event:     "funds_verified",
		Timestamp: nowStr,
		Payload:   payload,
	})

	if err := e.Repo.UpdateTransactionWorkflowTx(ctx, tx, t); err != nil {
		return domain.Transaction{}, fmt.Errorf("update funds verification: %w", err)
	}
	if err := e.writer().Append(ctx, tx, "transaction.funds.verified", id, "transaction", id, actorID, events.EventPayload(payload)); err != nil {
		return domain.Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Transaction{}, err
	}
	return t, nil
}

// UpdateTransactionMeta changes notes and priority only. Workflow state
// moves exclusively through the dedicated operations.
func (e Engine) UpdateTransactionMeta(ctx context.Context, id string, notes *string, priority, actorID string) (domain.Transaction, error) {
	if priority != "" && !validPriorities[priority] {
		return domain.Transaction{}, ValidationError{Field: "priority", Reason: "unknown value " + priority}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Transaction{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetTransactionTx(ctx, tx, id); err != nil {
		return domain.Transaction{}, err
	}
	if err := e.Repo.UpdateTransactionMetaTx(ctx, tx, id, notes, priority); err != nil {
		return domain.Transaction{}, err
	}
	if err := e.writer().Append(ctx, tx, "transaction.updated", id, "transaction", id, actorID, nil); err != nil {
		return domain.Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Transaction{}, err
	}
	return e.Repo.GetTransaction(ctx, id)
}

func (e Engine) DeleteTransaction(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetTransactionTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Repo.DeleteTransactionTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.writer().Append(ctx, tx, "transaction.deleted", id, "transaction", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// TaskCreateOptions are parameters for creating a task by hand, outside the
// stage templates.
type TaskCreateOptions struct {
	TransactionID     string
	Title             string
	Description       string
	Type              string
	AssignedTo        *string
	Priority          string
	DueDate           *string
	IsBlocking        bool
	RelatedStage      *string
	RelatedDocumentID *string
	ActorID           string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, ValidationError{Field: "title", Reason: "is required"}
	}
	if opts.Type == "" {
		opts.Type = "other"
	}
	if opts.Priority == "" {
		opts.Priority = "normal"
	}
	if !validTaskPriorities[opts.Priority] {
		return domain.Task{}, ValidationError{Field: "priority", Reason: "unknown value " + opts.Priority}
	}
	if opts.RelatedStage != nil && !stage.Valid(stage.Stage(*opts.RelatedStage)) {
		return domain.Task{}, ValidationError{Field: "related_stage", Reason: "unknown stage " + *opts.RelatedStage}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetTransactionTx(ctx, tx, opts.TransactionID); err != nil {
		return domain.Task{}, err
	}
	prefix := e.idPrefix("TASK")
	seq, err := e.Repo.NextTaskSeqTx(ctx, tx, prefix)
	if err != nil {
		return domain.Task{}, err
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:                fmt.Sprintf("%s%03d", prefix, seq),
		TransactionID:     opts.TransactionID,
		Title:             opts.Title,
		Description:       opts.Description,
		Type:              opts.Type,
		AssignedTo:        opts.AssignedTo,
		AssignedBy:        opts.ActorID,
		AssignedAt:        nowStr,
		Status:            "pending",
		Priority:          opts.Priority,
		DueDate:           opts.DueDate,
		IsBlocking:        opts.IsBlocking,
		RelatedStage:      opts.RelatedStage,
		RelatedDocumentID: opts.RelatedDocumentID,
		CreatedAt:         nowStr,
		UpdatedAt:         nowStr,
	}
	if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.writer().Append(ctx, tx, "task.created", t.TransactionID, "task", t.ID, opts.ActorID, events.EventPayload{
		"title":    t.Title,
		"blocking": t.IsBlocking,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskPatch is a partial update. Nil fields are left unchanged.
type TaskPatch struct {
	Title         *string
	Description   *string
	Status        *string
	Priority      *string
	AssignedTo    *string
	DueDate       *string
	IsBlocking    *bool
	BlockedReason *string
}

func (e Engine) UpdateTask(ctx context.Context, id string, patch TaskPatch, actorID string) (domain.Task, error) {
	if patch.Status != nil {
		if !validTaskStatuses[*patch.Status] {
			return domain.Task{}, ValidationError{Field: "status", Reason: "unknown value " + *patch.Status}
		}
		if *patch.Status == "completed" {
			return domain.Task{}, ValidationError{Field: "status", Reason: "tasks are completed through the complete operation"}
		}
	}
	if patch.Priority != nil && !validTaskPriorities[*patch.Priority] {
		return domain.Task{}, ValidationError{Field: "priority", Reason: "unknown value " + *patch.Priority}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status == "completed" {
		return domain.Task{}, AlreadyCompletedError{TaskID: id}
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Status != nil {
		t.Status = *patch.Status
		if *patch.Status == "in_progress" && t.StartedAt == nil {
			started := e.now().UTC().Format(time.RFC3339)
			t.StartedAt = &started
		}
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.AssignedTo != nil {
		t.AssignedTo = patch.AssignedTo
	}
	if patch.DueDate != nil {
		t.DueDate = patch.DueDate
	}
	if patch.IsBlocking != nil {
		t.IsBlocking = *patch.IsBlocking
	}
	if patch.BlockedReason != nil {
		t.BlockedReason = patch.BlockedReason
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("update task: %w", err)
	}
	if err := e.writer().Append(ctx, tx, "task.updated", t.TransactionID, "task", t.ID, actorID, events.EventPayload{
		"status": t.Status,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// CompleteTask marks a task completed exactly once. Completing a completed
// task is an error, not a no-op, so automation retries surface instead of
// silently passing.
func (e Engine) CompleteTask(ctx context.Context, id, completedBy, notes, dataJSON, actorID string) (domain.Task, error) {
	if dataJSON != "" && !json.Valid([]byte(dataJSON)) {
		return domain.Task{}, ValidationError{Field: "completion_data", Reason: "must be valid JSON"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status == "completed" {
		return domain.Task{}, AlreadyCompletedError{TaskID: id}
	}

	nowStr := e.now().UTC().Format(time.RFC3339)
	t.Status = "completed"
	t.CompletedAt = &nowStr
	if completedBy != "" {
		t.CompletedBy = &completedBy
	}
	if notes != "" {
		t.CompletionNotes = &notes
	}
	if dataJSON != "" {
		t.CompletionData = &dataJSON
	}
	t.UpdatedAt = nowStr

	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("complete task: %w", err)
	}
	if err := e.writer().Append(ctx, tx, "task.completed", t.TransactionID, "task", t.ID, actorID, events.EventPayload{
		"completed_by": completedBy,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) DeleteTask(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteTaskTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.writer().Append(ctx, tx, "task.deleted", t.TransactionID, "task", t.ID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// PartyCreateOptions are parameters for registering a party.
type PartyCreateOptions struct {
	Name          string
	Role          string
	Email         *string
	Phone         *string
	Company       *string
	LicenseNumber *string
	ActorID       string
}

func (e Engine) CreateParty(ctx context.Context, opts PartyCreateOptions) (domain.Party, error) {
	if opts.Name == "" {
		return domain.Party{}, ValidationError{Field: "name", Reason: "is required"}
	}
	if !validPartyRoles[opts.Role] {
		return domain.Party{}, ValidationError{Field: "role", Reason: "unknown value " + opts.Role}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Party{}, err
	}
	defer tx.Rollback()

	prefix := e.idPrefix("PARTY")
	seq, err := e.Repo.NextPartySeqTx(ctx, tx, prefix)
	if err != nil {
		return domain.Party{}, err
	}
	p := domain.Party{
		ID:            fmt.Sprintf("%s%03d", prefix, seq),
		Name:          opts.Name,
		Role:          opts.Role,
		Email:         opts.Email,
		Phone:         opts.Phone,
		Company:       opts.Company,
		LicenseNumber: opts.LicenseNumber,
		CreatedAt:     e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertPartyTx(ctx, tx, p); err != nil {
		return domain.Party{}, fmt.Errorf("insert party: %w", err)
	}
	if err := e.writer().Append(ctx, tx, "party.created", "", "party", p.ID, opts.ActorID, events.EventPayload{
		"role": p.Role,
	}); err != nil {
		return domain.Party{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Party{}, err
	}
	return p, nil
}

// PartyPatch is a partial update. Nil fields are left unchanged.
type PartyPatch struct {
	Name          *string
	Role          *string
	Email         *string
	Phone         *string
	Company       *string
	LicenseNumber *string
}

func (e Engine) UpdateParty(ctx context.Context, id string, patch PartyPatch, actorID string) (domain.Party, error) {
	if patch.Role != nil && !validPartyRoles[*patch.Role] {
		return domain.Party{}, ValidationError{Field: "role", Reason: "unknown value " + *patch.Role}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Party{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetParty(ctx, id)
	if err != nil {
		return domain.Party{}, err
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Role != nil {
		p.Role = *patch.Role
	}
	if patch.Email != nil {
		p.Email = patch.Email
	}
	if patch.Phone != nil {
		p.Phone = patch.Phone
	}
	if patch.Company != nil {
		p.Company = patch.Company
	}
	if patch.LicenseNumber != nil {
		p.LicenseNumber = patch.LicenseNumber
	}
	if err := e.Repo.UpdatePartyTx(ctx, tx, p); err != nil {
		return domain.Party{}, err
	}
	if err := e.writer().Append(ctx, tx, "party.updated", "", "party", p.ID, actorID, nil); err != nil {
		return domain.Party{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Party{}, err
	}
	return p, nil
}

func (e Engine) DeleteParty(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetParty(ctx, id); err != nil {
		return err
	}
	if err := e.Repo.DeletePartyTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.writer().Append(ctx, tx, "party.deleted", "", "party", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// DocumentCreateOptions are parameters for registering a document record.
// File content never enters the system; only metadata is tracked.
type DocumentCreateOptions struct {
	TransactionID string
	Type          string
	FileName      *string
	UploadedBy    *string
	ActorID       string
}

var validDocumentTypes = map[string]bool{
	"purchase_agreement": true, "title_report": true, "proof_of_funds": true,
	"closing_disclosure": true, "deed": true, "insurance_policy": true,
	"inspection_report": true, "appraisal_report": true, "wire_receipt": true,
	"id_document": true, "other": true,
}

func (e Engine) RegisterDocument(ctx context.Context, opts DocumentCreateOptions) (domain.Document, error) {
	if !validDocumentTypes[opts.Type] {
		return domain.Document{}, ValidationError{Field: "type", Reason: "unknown value " + opts.Type}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetTransactionTx(ctx, tx, opts.TransactionID); err != nil {
		return domain.Document{}, err
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	d := domain.Document{
		ID:            "DOC-" + uuid.NewString(),
		TransactionID: opts.TransactionID,
		Type:          opts.Type,
		Status:        "pending_upload",
		FileName:      opts.FileName,
		UploadedBy:    opts.UploadedBy,
		CreatedAt:     nowStr,
	}
	if opts.FileName != nil && *opts.FileName != "" {
		d.Status = "uploaded"
		d.UploadedAt = &nowStr
	}
	if err := e.Repo.InsertDocumentTx(ctx, tx, d); err != nil {
		return domain.Document{}, fmt.Errorf("insert document: %w", err)
	}
	if err := e.writer().Append(ctx, tx, "document.registered", d.TransactionID, "document", d.ID, opts.ActorID, events.EventPayload{
		"type":   d.Type,
		"status": d.Status,
	}); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	return d, nil
}

func (e Engine) SetDocumentStatus(ctx context.Context, id, status string, validationPassed *bool, actorID string) (domain.Document, error) {
	if !validDocumentStatuses[status] {
		return domain.Document{}, ValidationError{Field: "status", Reason: "unknown value " + status}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, err
	}
	from := d.Status
	d.Status = status
	if validationPassed != nil {
		d.ValidationPassed = validationPassed
	}
	if status == "uploaded" && d.UploadedAt == nil {
		uploaded := e.now().UTC().Format(time.RFC3339)
		d.UploadedAt = &uploaded
	}
	if err := e.Repo.UpdateDocumentTx(ctx, tx, d); err != nil {
		return domain.Document{}, err
	}
	if err := e.writer().Append(ctx, tx, "document.status.changed", d.TransactionID, "document", d.ID, actorID, events.EventPayload{
		"from": from,
		"to":   status,
	}); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	return d, nil
}

// StageStatus is one row of a progress report's per-stage breakdown.
type StageStatus struct {
	Stage     string  `json:"stage"`
	Status    string  `json:"status" enum:"completed,current,pending"`
	EnteredAt *string `json:"entered_at,omitempty" format:"date-time"`
}

// ProgressReport summarizes how far along a transaction is.
type ProgressReport struct {
	TransactionID        string        `json:"transaction_id"`
	CurrentStage         string        `json:"current_stage"`
	StageIndex           int           `json:"stage_index"`
	StageCount           int           `json:"stage_count"`
	PercentComplete      int           `json:"percent_complete"`
	Stages               []StageStatus `json:"stages"`
	TasksTotal           int           `json:"tasks_total"`
	TasksCompleted       int           `json:"tasks_completed"`
	TaskPercentComplete  int           `json:"task_percent_complete"`
	DaysInCurrentStage   int           `json:"days_in_current_stage"`
	EstimatedDaysToClose int           `json:"estimated_days_to_close"`
}

func (e Engine) Progress(ctx context.Context, id string) (ProgressReport, error) {
	t, err := e.Repo.GetTransaction(ctx, id)
	if err != nil {
		return ProgressReport{}, err
	}
	current := stage.Stage(t.CurrentStage)
	idx := stage.Index(current)

	entered := map[string]string{}
	for _, h := range t.StageHistory {
		if h.Event != "" || h.EnteredAt == "" {
			continue
		}
		if _, seen := entered[h.Stage]; !seen {
			entered[h.Stage] = h.EnteredAt
		}
	}
	report := ProgressReport{
		TransactionID:   t.ID,
		CurrentStage:    t.CurrentStage,
		StageIndex:      idx,
		StageCount:      stage.Count(),
		PercentComplete: stage.Progress(current),
	}
	for i, s := range stage.All() {
		st := StageStatus{Stage: string(s)}
		switch {
		case i < idx:
			st.Status = "completed"
		case i == idx:
			st.Status = "current"
		default:
			st.Status = "pending"
		}
		if at, ok := entered[string(s)]; ok {
			st.EnteredAt = &at
		}
		report.Stages = append(report.Stages, st)
	}

	byStatus, err := e.Repo.CountTasksByStatus(ctx, id)
	if err != nil {
		return ProgressReport{}, err
	}
	for _, n := range byStatus {
		report.TasksTotal += n
	}
	report.TasksCompleted = byStatus["completed"]
	if report.TasksTotal > 0 {
		report.TaskPercentComplete = int(float64(report.TasksCompleted) / float64(report.TasksTotal) * 100)
	}

	if started, err := time.Parse(time.RFC3339, t.StageStartedAt); err == nil {
		report.DaysInCurrentStage = int(e.now().UTC().Sub(started).Hours() / 24)
	}
	if !stage.Terminal(current) {
		report.EstimatedDaysToClose = stage.RemainingDays(current)
	}
	return report, nil
}
