package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"deedflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const transactionColumns = `id,property_address,property_type,property_sqft,property_bedrooms,property_bathrooms,property_year_built,
purchase_price,down_payment,loan_amount,
earnest_money_amount,earnest_money_status,earnest_money_deposited_at,earnest_money_cleared_at,
funds_verified,funds_verified_at,funds_verified_by,
current_stage,stage_history,stage_started_at,
created_at,estimated_closing_date,actual_closing_date,
buyer_id,seller_id,buyer_agent_id,seller_agent_id,loan_officer_id,title_officer_id,
notes,priority`

func scanTransaction(s scanner) (domain.Transaction, error) {
	var t domain.Transaction
	var propertyType, emDepositedAt, emClearedAt, fundsVerifiedAt, fundsVerifiedBy sql.NullString
	var actualClosing, buyerID, sellerID, buyerAgentID, sellerAgentID, loanOfficerID, titleOfficerID, notes sql.NullString
	var sqft, bedrooms, yearBuilt sql.NullInt64
	var bathrooms, downPayment, loanAmount, emAmount sql.NullFloat64
	var fundsVerified int
	var history string
	err := s.Scan(&t.ID, &t.PropertyAddress, &propertyType, &sqft, &bedrooms, &bathrooms, &yearBuilt,
		&t.PurchasePrice, &downPayment, &loanAmount,
		&emAmount, &t.EarnestMoneyStatus, &emDepositedAt, &emClearedAt,
		&fundsVerified, &fundsVerifiedAt, &fundsVerifiedBy,
		&t.CurrentStage, &history, &t.StageStartedAt,
		&t.CreatedAt, &t.EstimatedClosingDate, &actualClosing,
		&buyerID, &sellerID, &buyerAgentID, &sellerAgentID, &loanOfficerID, &titleOfficerID,
		&notes, &t.Priority)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.PropertyType = stringPtr(propertyType)
	t.PropertySqft = intPtr(sqft)
	t.PropertyBedrooms = intPtr(bedrooms)
	t.PropertyBathrooms = floatPtr(bathrooms)
	t.PropertyYearBuilt = intPtr(yearBuilt)
	t.DownPayment = floatPtr(downPayment)
	t.LoanAmount = floatPtr(loanAmount)
	t.EarnestMoneyAmount = floatPtr(emAmount)
	t.EarnestMoneyDepositedAt = stringPtr(emDepositedAt)
	t.EarnestMoneyClearedAt = stringPtr(emClearedAt)
	t.FundsVerified = fundsVerified != 0
	t.FundsVerifiedAt = stringPtr(fundsVerifiedAt)
	t.FundsVerifiedBy = stringPtr(fundsVerifiedBy)
	t.ActualClosingDate = stringPtr(actualClosing)
	t.BuyerID = stringPtr(buyerID)
	t.SellerID = stringPtr(sellerID)
	t.BuyerAgentID = stringPtr(buyerAgentID)
	t.SellerAgentID = stringPtr(sellerAgentID)
	t.LoanOfficerID = stringPtr(loanOfficerID)
	t.TitleOfficerID = stringPtr(titleOfficerID)
	if notes.Valid {
		t.Notes = notes.String
	}
	if history != "" {
		if err := json.Unmarshal([]byte(history), &t.StageHistory); err != nil {
			return t, fmt.Errorf("decode stage history for %s: %w", t.ID, err)
		}
	}
	return t, nil
}

func (r Repo) InsertTransactionTx(ctx context.Context, tx *sql.Tx, t domain.Transaction) error {
	history, err := json.Marshal(t.StageHistory)
	if err != nil {
		return fmt.Errorf("encode stage history: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO transactions(`+transactionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.PropertyAddress, nullableStringPtr(t.PropertyType), nullableIntPtr(t.PropertySqft), nullableIntPtr(t.PropertyBedrooms), nullableFloatPtr(t.PropertyBathrooms), nullableIntPtr(t.PropertyYearBuilt),
		t.PurchasePrice, nullableFloatPtr(t.DownPayment), nullableFloatPtr(t.LoanAmount),
		nullableFloatPtr(t.EarnestMoneyAmount), t.EarnestMoneyStatus, nullableStringPtr(t.EarnestMoneyDepositedAt), nullableStringPtr(t.EarnestMoneyClearedAt),
		boolInt(t.FundsVerified), nullableStringPtr(t.FundsVerifiedAt), nullableStringPtr(t.FundsVerifiedBy),
		t.CurrentStage, string(history), t.StageStartedAt,
		t.CreatedAt, t.EstimatedClosingDate, nullableStringPtr(t.ActualClosingDate),
		nullableStringPtr(t.BuyerID), nullableStringPtr(t.SellerID), nullableStringPtr(t.BuyerAgentID), nullableStringPtr(t.SellerAgentID), nullableStringPtr(t.LoanOfficerID), nullableStringPtr(t.TitleOfficerID),
		nullable(t.Notes), t.Priority)
	return err
}

func (r Repo) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	return scanTransaction(r.DB.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id=?`, id))
}

func (r Repo) GetTransactionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Transaction, error) {
	return scanTransaction(tx.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id=?`, id))
}

type TransactionFilters struct {
	Stage           string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTransactions(ctx context.Context, f TransactionFilters) ([]domain.Transaction, error) {
	var clauses []string
	var args []any
	if f.Stage != "" {
		clauses = append(clauses, "current_stage=?")
		args = append(args, f.Stage)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// UpdateTransactionStageTx persists a stage advance. The WHERE clause checks
// the stage the engine read so two racing advances cannot both apply; the
// second sees zero rows affected.
func (r Repo) UpdateTransactionStageTx(ctx context.Context, tx *sql.Tx, t domain.Transaction, fromStage string) (bool, error) {
	history, err := json.Marshal(t.StageHistory)
	if err != nil {
		return false, fmt.Errorf("encode stage history: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE transactions SET current_stage=?, stage_history=?, stage_started_at=?, estimated_closing_date=?, actual_closing_date=? WHERE id=? AND current_stage=?`,
		t.CurrentStage, string(history), t.StageStartedAt, t.EstimatedClosingDate, nullableStringPtr(t.ActualClosingDate), t.ID, fromStage)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateTransactionWorkflowTx persists earnest-money and funds-verification
// fields together with the history append.
func (r Repo) UpdateTransactionWorkflowTx(ctx context.Context, tx *sql.Tx, t domain.Transaction) error {
	history, err := json.Marshal(t.StageHistory)
	if err != nil {
		return fmt.Errorf("encode stage history: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE transactions SET
earnest_money_amount=?, earnest_money_status=?, earnest_money_deposited_at=?, earnest_money_cleared_at=?,
funds_verified=?, funds_verified_at=?, funds_verified_by=?, stage_history=? WHERE id=?`,
		nullableFloatPtr(t.EarnestMoneyAmount), t.EarnestMoneyStatus, nullableStringPtr(t.EarnestMoneyDepositedAt), nullableStringPtr(t.EarnestMoneyClearedAt),
		boolInt(t.FundsVerified), nullableStringPtr(t.FundsVerifiedAt), nullableStringPtr(t.FundsVerifiedBy), string(history), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateTransactionMetaTx(ctx context.Context, tx *sql.Tx, id string, notes *string, priority string) error {
	var fields []string
	var args []any
	if notes != nil {
		fields = append(fields, "notes=?")
		args = append(args, nullable(*notes))
	}
	if priority != "" {
		fields = append(fields, "priority=?")
		args = append(args, priority)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE transactions SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTransactionTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) NextTransactionSeqTx(ctx context.Context, tx *sql.Tx, prefix string) (int, error) {
	return nextSeq(ctx, tx, "transactions", prefix)
}

// nextSeq returns one past the highest numeric suffix among surviving ids
// under the given prefix, so the allocated id can never collide with an
// existing row.
func nextSeq(ctx context.Context, tx *sql.Tx, table, prefix string) (int, error) {
	var n int
	q := `SELECT COALESCE(MAX(CAST(substr(id, ?) AS INTEGER)), 0) + 1 FROM ` + table + ` WHERE id LIKE ?`
	err := tx.QueryRowContext(ctx, q, len(prefix)+1, prefix+"%").Scan(&n)
	return n, err
}

// --- tasks ---

const taskColumns = `id,transaction_id,title,description,type,assigned_to,assigned_by,assigned_at,status,priority,
due_date,started_at,is_blocking,blocked_reason,related_document_id,related_stage,
completed_at,completed_by,completion_notes,completion_data,created_at,updated_at`

func scanTask(s scanner) (domain.Task, error) {
	var t domain.Task
	var description, assignedTo, assignedBy, assignedAt, dueDate, startedAt sql.NullString
	var blockedReason, relatedDocID, relatedStage sql.NullString
	var completedAt, completedBy, completionNotes, completionData sql.NullString
	var isBlocking int
	err := s.Scan(&t.ID, &t.TransactionID, &t.Title, &description, &t.Type, &assignedTo, &assignedBy, &assignedAt, &t.Status, &t.Priority,
		&dueDate, &startedAt, &isBlocking, &blockedReason, &relatedDocID, &relatedStage,
		&completedAt, &completedBy, &completionNotes, &completionData, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	t.AssignedTo = stringPtr(assignedTo)
	if assignedBy.Valid {
		t.AssignedBy = assignedBy.String
	}
	if assignedAt.Valid {
		t.AssignedAt = assignedAt.String
	}
	t.DueDate = stringPtr(dueDate)
	t.StartedAt = stringPtr(startedAt)
	t.IsBlocking = isBlocking != 0
	t.BlockedReason = stringPtr(blockedReason)
	t.RelatedDocumentID = stringPtr(relatedDocID)
	t.RelatedStage = stringPtr(relatedStage)
	t.CompletedAt = stringPtr(completedAt)
	t.CompletedBy = stringPtr(completedBy)
	t.CompletionNotes = stringPtr(completionNotes)
	t.CompletionData = stringPtr(completionData)
	return t, nil
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.TransactionID, t.Title, nullable(t.Description), t.Type, nullableStringPtr(t.AssignedTo), nullable(t.AssignedBy), nullable(t.AssignedAt), t.Status, t.Priority,
		nullableStringPtr(t.DueDate), nullableStringPtr(t.StartedAt), boolInt(t.IsBlocking), nullableStringPtr(t.BlockedReason), nullableStringPtr(t.RelatedDocumentID), nullableStringPtr(t.RelatedStage),
		nullableStringPtr(t.CompletedAt), nullableStringPtr(t.CompletedBy), nullableStringPtr(t.CompletionNotes), nullableStringPtr(t.CompletionData), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, type=?, assigned_to=?, assigned_by=?, status=?, priority=?,
due_date=?, started_at=?, is_blocking=?, blocked_reason=?, related_document_id=?, related_stage=?,
completed_at=?, completed_by=?, completion_notes=?, completion_data=?, updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Type, nullableStringPtr(t.AssignedTo), nullable(t.AssignedBy), t.Status, t.Priority,
		nullableStringPtr(t.DueDate), nullableStringPtr(t.StartedAt), boolInt(t.IsBlocking), nullableStringPtr(t.BlockedReason), nullableStringPtr(t.RelatedDocumentID), nullableStringPtr(t.RelatedStage),
		nullableStringPtr(t.CompletedAt), nullableStringPtr(t.CompletedBy), nullableStringPtr(t.CompletionNotes), nullableStringPtr(t.CompletionData), t.UpdatedAt, t.ID)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) DeleteTaskTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type TaskFilters struct {
	TransactionID string
	Status        string
	IsBlocking    *bool
	RelatedStage  string
	AssignedTo    string
	Limit         int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.TransactionID != "" {
		clauses = append(clauses, "transaction_id=?")
		args = append(args, f.TransactionID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.IsBlocking != nil {
		clauses = append(clauses, "is_blocking=?")
		args = append(args, boolInt(*f.IsBlocking))
	}
	if f.RelatedStage != "" {
		clauses = append(clauses, "related_stage=?")
		args = append(args, f.RelatedStage)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ListBlockingTasksTx returns incomplete blocking tasks that gate the given
// stage. Tasks with no related stage gate every stage.
func (r Repo) ListBlockingTasksTx(ctx context.Context, tx *sql.Tx, transactionID, currentStage string) ([]domain.Task, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
WHERE transaction_id=? AND is_blocking=1 AND status!='completed' AND (related_stage=? OR related_stage IS NULL)
ORDER BY created_at ASC, id ASC`, transactionID, currentStage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) NextTaskSeqTx(ctx context.Context, tx *sql.Tx, prefix string) (int, error) {
	return nextSeq(ctx, tx, "tasks", prefix)
}

func (r Repo) CountTasksByStatus(ctx context.Context, transactionID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks WHERE transaction_id=? GROUP BY status`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// --- parties ---

const partyColumns = `id,name,role,email,phone,company,license_number,created_at`

func scanParty(s scanner) (domain.Party, error) {
	var p domain.Party
	var email, phone, company, license sql.NullString
	err := s.Scan(&p.ID, &p.Name, &p.Role, &email, &phone, &company, &license, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Email = stringPtr(email)
	p.Phone = stringPtr(phone)
	p.Company = stringPtr(company)
	p.LicenseNumber = stringPtr(license)
	return p, nil
}

func (r Repo) InsertPartyTx(ctx context.Context, tx *sql.Tx, p domain.Party) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO parties(`+partyColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, p.Role, nullableStringPtr(p.Email), nullableStringPtr(p.Phone), nullableStringPtr(p.Company), nullableStringPtr(p.LicenseNumber), p.CreatedAt)
	return err
}

func (r Repo) GetParty(ctx context.Context, id string) (domain.Party, error) {
	return scanParty(r.DB.QueryRowContext(ctx, `SELECT `+partyColumns+` FROM parties WHERE id=?`, id))
}

func (r Repo) ListParties(ctx context.Context, role string) ([]domain.Party, error) {
	query := `SELECT ` + partyColumns + ` FROM parties`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Party
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdatePartyTx(ctx context.Context, tx *sql.Tx, p domain.Party) error {
	res, err := tx.ExecContext(ctx, `UPDATE parties SET name=?, role=?, email=?, phone=?, company=?, license_number=? WHERE id=?`,
		p.Name, p.Role, nullableStringPtr(p.Email), nullableStringPtr(p.Phone), nullableStringPtr(p.Company), nullableStringPtr(p.LicenseNumber), p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeletePartyTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM parties WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) NextPartySeqTx(ctx context.Context, tx *sql.Tx, prefix string) (int, error) {
	return nextSeq(ctx, tx, "parties", prefix)
}

// --- documents ---

const documentColumns = `id,transaction_id,type,status,file_name,uploaded_by,uploaded_at,extracted_fields_json,validation_results_json,validation_passed,created_at`

func scanDocument(s scanner) (domain.Document, error) {
	var d domain.Document
	var fileName, uploadedBy, uploadedAt, extracted, validation sql.NullString
	var passed sql.NullInt64
	err := s.Scan(&d.ID, &d.TransactionID, &d.Type, &d.Status, &fileName, &uploadedBy, &uploadedAt, &extracted, &validation, &passed, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.FileName = stringPtr(fileName)
	d.UploadedBy = stringPtr(uploadedBy)
	d.UploadedAt = stringPtr(uploadedAt)
	d.ExtractedFieldsJSON = stringPtr(extracted)
	d.ValidationResultsJSON = stringPtr(validation)
	if passed.Valid {
		b := passed.Int64 != 0
		d.ValidationPassed = &b
	}
	return d, nil
}

func (r Repo) InsertDocumentTx(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	var passed any
	if d.ValidationPassed != nil {
		passed = boolInt(*d.ValidationPassed)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO documents(`+documentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.TransactionID, d.Type, d.Status, nullableStringPtr(d.FileName), nullableStringPtr(d.UploadedBy), nullableStringPtr(d.UploadedAt),
		nullableStringPtr(d.ExtractedFieldsJSON), nullableStringPtr(d.ValidationResultsJSON), passed, d.CreatedAt)
	return err
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	return scanDocument(r.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=?`, id))
}

func (r Repo) ListDocuments(ctx context.Context, transactionID, docType, status string) ([]domain.Document, error) {
	var clauses []string
	var args []any
	if transactionID != "" {
		clauses = append(clauses, "transaction_id=?")
		args = append(args, transactionID)
	}
	if docType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, docType)
	}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) UpdateDocumentTx(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	var passed any
	if d.ValidationPassed != nil {
		passed = boolInt(*d.ValidationPassed)
	}
	res, err := tx.ExecContext(ctx, `UPDATE documents SET status=?, file_name=?, uploaded_by=?, uploaded_at=?, extracted_fields_json=?, validation_results_json=?, validation_passed=? WHERE id=?`,
		d.Status, nullableStringPtr(d.FileName), nullableStringPtr(d.UploadedBy), nullableStringPtr(d.UploadedAt),
		nullableStringPtr(d.ExtractedFieldsJSON), nullableStringPtr(d.ValidationResultsJSON), passed, d.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// HasApprovedDocumentTx reports whether the transaction has an approved
// document of the given type.
func (r Repo) HasApprovedDocumentTx(ctx context.Context, tx *sql.Tx, transactionID, docType string) (bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT 1 FROM documents WHERE transaction_id=? AND type=? AND status='approved' LIMIT 1`, transactionID, docType)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), nil
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, transactionID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if transactionID != "" {
		clauses = append(clauses, "transaction_id=?")
		args = append(args, transactionID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,transaction_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,transaction_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

func scanEvent(s scanner) (domain.Event, error) {
	var e domain.Event
	var txnID, entityID, payload sql.NullString
	if err := s.Scan(&e.ID, &e.TS, &e.Type, &txnID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
		return e, err
	}
	if txnID.Valid {
		e.TransactionID = txnID.String
	}
	if entityID.Valid {
		e.EntityID = entityID.String
	}
	if payload.Valid {
		e.Payload = payload.String
	}
	return e, nil
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
