package domain

type Transaction struct {
	ID string `json:"id"`

	PropertyAddress   string   `json:"property_address"`
	PropertyType      *string  `json:"property_type,omitempty"`
	PropertySqft      *int     `json:"property_sqft,omitempty"`
	PropertyBedrooms  *int     `json:"property_bedrooms,omitempty"`
	PropertyBathrooms *float64 `json:"property_bathrooms,omitempty"`
	PropertyYearBuilt *int     `json:"property_year_built,omitempty"`

	PurchasePrice float64  `json:"purchase_price"`
	DownPayment   *float64 `json:"down_payment,omitempty"`
	LoanAmount    *float64 `json:"loan_amount,omitempty"`

	EarnestMoneyAmount      *float64 `json:"earnest_money_amount,omitempty"`
	EarnestMoneyStatus      string   `json:"earnest_money_status" enum:"pending,deposited,cleared,refunded,applied"`
	EarnestMoneyDepositedAt *string  `json:"earnest_money_deposited_at,omitempty" format:"date-time"`
	EarnestMoneyClearedAt   *string  `json:"earnest_money_cleared_at,omitempty" format:"date-time"`

	FundsVerified   bool    `json:"funds_verified"`
	FundsVerifiedAt *string `json:"funds_verified_at,omitempty" format:"date-time"`
	FundsVerifiedBy *string `json:"funds_verified_by,omitempty"`

	CurrentStage   string       `json:"current_stage"`
	StageHistory   []StageEntry `json:"stage_history"`
	StageStartedAt string       `json:"stage_started_at" format:"date-time"`

	CreatedAt            string  `json:"created_at" format:"date-time"`
	EstimatedClosingDate string  `json:"estimated_closing_date" format:"date-time"`
	ActualClosingDate    *string `json:"actual_closing_date,omitempty" format:"date-time"`

	BuyerID        *string `json:"buyer_id,omitempty"`
	SellerID       *string `json:"seller_id,omitempty"`
	BuyerAgentID   *string `json:"buyer_agent_id,omitempty"`
	SellerAgentID  *string `json:"seller_agent_id,omitempty"`
	LoanOfficerID  *string `json:"loan_officer_id,omitempty"`
	TitleOfficerID *string `json:"title_officer_id,omitempty"`

	Notes    string `json:"notes,omitempty"`
	Priority string `json:"priority" enum:"low,normal,high,urgent"`
}

// StageEntry is one element of a transaction's append-only stage history.
// Entries come in two shapes: stage transitions (Stage/EnteredAt set) and
// side-events such as an earnest money deposit (Event/Timestamp set, stage
// unchanged). Payload carries event-specific fields like the deposit amount.
type StageEntry struct {
	Stage         string         `json:"stage,omitempty"`
	EnteredAt     string         `json:"entered_at,omitempty" format:"date-time"`
	Notes         string         `json:"notes,omitempty"`
	ForceAdvanced bool           `json:"force_advanced,omitempty"`
	Event         string         `json:"event,omitempty"`
	Timestamp     string         `json:"timestamp,omitempty" format:"date-time"`
	Payload       map[string]any `json:"payload,omitempty"`
}

type Task struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	Type          string `json:"type" enum:"document_upload,document_sign,document_review,payment,verification,inspection,approval,notification,other"`

	AssignedTo *string `json:"assigned_to,omitempty"`
	AssignedBy string  `json:"assigned_by,omitempty"`
	AssignedAt string  `json:"assigned_at,omitempty" format:"date-time"`

	Status   string `json:"status" enum:"pending,in_progress,blocked,completed,cancelled,overdue"`
	Priority string `json:"priority" enum:"low,normal,high,critical"`

	DueDate   *string `json:"due_date,omitempty" format:"date-time"`
	StartedAt *string `json:"started_at,omitempty" format:"date-time"`

	IsBlocking    bool    `json:"is_blocking"`
	BlockedReason *string `json:"blocked_reason,omitempty"`

	RelatedDocumentID *string `json:"related_document_id,omitempty"`
	RelatedStage      *string `json:"related_stage,omitempty"`

	CompletedAt     *string `json:"completed_at,omitempty" format:"date-time"`
	CompletedBy     *string `json:"completed_by,omitempty"`
	CompletionNotes *string `json:"completion_notes,omitempty"`
	CompletionData  *string `json:"completion_data,omitempty"`

	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Party struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Role          string  `json:"role" enum:"buyer,seller,buyer_agent,seller_agent,loan_officer,title_officer,escrow_officer,closing_coordinator,inspector,appraiser"`
	Email         *string `json:"email,omitempty"`
	Phone         *string `json:"phone,omitempty"`
	Company       *string `json:"company,omitempty"`
	LicenseNumber *string `json:"license_number,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

type Document struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id"`
	Type          string `json:"type" enum:"purchase_agreement,title_report,proof_of_funds,closing_disclosure,deed,insurance_policy,inspection_report,appraisal_report,wire_receipt,id_document,other"`
	Status        string `json:"status" enum:"pending_upload,uploaded,processing,pending_review,approved,rejected,superseded"`

	FileName   *string `json:"file_name,omitempty"`
	UploadedBy *string `json:"uploaded_by,omitempty"`
	UploadedAt *string `json:"uploaded_at,omitempty" format:"date-time"`

	ExtractedFieldsJSON   *string `json:"extracted_fields_json,omitempty"`
	ValidationResultsJSON *string `json:"validation_results_json,omitempty"`
	ValidationPassed      *bool   `json:"validation_passed,omitempty"`

	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID            int64  `json:"id"`
	TS            string `json:"ts" format:"date-time"`
	Type          string `json:"type"`
	TransactionID string `json:"transaction_id,omitempty"`
	EntityKind    string `json:"entity_kind"`
	EntityID      string `json:"entity_id,omitempty"`
	ActorID       string `json:"actor_id"`
	Payload       string `json:"payload_json"`
}
