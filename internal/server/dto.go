package server

import (
	"deedflow/internal/domain"
	"deedflow/internal/engine"
)

// Request payloads

type CreateTransactionRequest struct {
	PropertyAddress   string   `json:"property_address"`
	PropertyType      *string  `json:"property_type,omitempty"`
	PropertySqft      *int     `json:"property_sqft,omitempty"`
	PropertyBedrooms  *int     `json:"property_bedrooms,omitempty"`
	PropertyBathrooms *float64 `json:"property_bathrooms,omitempty"`
	PropertyYearBuilt *int     `json:"property_year_built,omitempty"`

	PurchasePrice float64  `json:"purchase_price"`
	DownPayment   *float64 `json:"down_payment,omitempty"`
	LoanAmount    *float64 `json:"loan_amount,omitempty"`

	BuyerID        *string `json:"buyer_id,omitempty"`
	SellerID       *string `json:"seller_id,omitempty"`
	BuyerAgentID   *string `json:"buyer_agent_id,omitempty"`
	SellerAgentID  *string `json:"seller_agent_id,omitempty"`
	LoanOfficerID  *string `json:"loan_officer_id,omitempty"`
	TitleOfficerID *string `json:"title_officer_id,omitempty"`

	Notes    string `json:"notes,omitempty"`
	Priority string `json:"priority,omitempty" enum:"low,normal,high,urgent"`
}

type UpdateTransactionRequest struct {
	Notes    *string `json:"notes,omitempty"`
	Priority string  `json:"priority,omitempty" enum:"low,normal,high,urgent"`
}

type AdvanceStageRequest struct {
	Force bool   `json:"force,omitempty"`
	Notes string `json:"notes,omitempty"`
}

type DepositEarnestMoneyRequest struct {
	Amount float64 `json:"amount"`
	Notes  string  `json:"notes,omitempty"`
}

type VerifyFundsRequest struct {
	Method string `json:"method,omitempty"`
}

type CreateTaskRequest struct {
	TransactionID     string  `json:"transaction_id"`
	Title             string  `json:"title"`
	Description       string  `json:"description,omitempty"`
	Type              string  `json:"type,omitempty" enum:"document_upload,document_sign,document_review,payment,verification,inspection,approval,notification,other"`
	AssignedTo        *string `json:"assigned_to,omitempty"`
	Priority          string  `json:"priority,omitempty" enum:"low,normal,high,critical"`
	DueDate           *string `json:"due_date,omitempty" format:"date-time"`
	IsBlocking        bool    `json:"is_blocking,omitempty"`
	RelatedStage      *string `json:"related_stage,omitempty"`
	RelatedDocumentID *string `json:"related_document_id,omitempty"`
}

type UpdateTaskRequest struct {
	Title         *string `json:"title,omitempty"`
	Description   *string `json:"description,omitempty"`
	Status        *string `json:"status,omitempty" enum:"pending,in_progress,blocked,cancelled,overdue"`
	Priority      *string `json:"priority,omitempty" enum:"low,normal,high,critical"`
	AssignedTo    *string `json:"assigned_to,omitempty"`
	DueDate       *string `json:"due_date,omitempty" format:"date-time"`
	IsBlocking    *bool   `json:"is_blocking,omitempty"`
	BlockedReason *string `json:"blocked_reason,omitempty"`
}

type CompleteTaskRequest struct {
	CompletedBy     string `json:"completed_by,omitempty"`
	CompletionNotes string `json:"completion_notes,omitempty"`
	CompletionData  string `json:"completion_data,omitempty"`
}

type CreatePartyRequest struct {
	Name          string  `json:"name"`
	Role          string  `json:"role" enum:"buyer,seller,buyer_agent,seller_agent,loan_officer,title_officer,escrow_officer,closing_coordinator,inspector,appraiser"`
	Email         *string `json:"email,omitempty"`
	Phone         *string `json:"phone,omitempty"`
	Company       *string `json:"company,omitempty"`
	LicenseNumber *string `json:"license_number,omitempty"`
}

type UpdatePartyRequest struct {
	Name          *string `json:"name,omitempty"`
	Role          *string `json:"role,omitempty" enum:"buyer,seller,buyer_agent,seller_agent,loan_officer,title_officer,escrow_officer,closing_coordinator,inspector,appraiser"`
	Email         *string `json:"email,omitempty"`
	Phone         *string `json:"phone,omitempty"`
	Company       *string `json:"company,omitempty"`
	LicenseNumber *string `json:"license_number,omitempty"`
}

type RegisterDocumentRequest struct {
	TransactionID string  `json:"transaction_id"`
	Type          string  `json:"type" enum:"purchase_agreement,title_report,proof_of_funds,closing_disclosure,deed,insurance_policy,inspection_report,appraisal_report,wire_receipt,id_document,other"`
	FileName      *string `json:"file_name,omitempty"`
	UploadedBy    *string `json:"uploaded_by,omitempty"`
}

type SetDocumentStatusRequest struct {
	Status           string `json:"status" enum:"pending_upload,uploaded,processing,pending_review,approved,rejected,superseded"`
	ValidationPassed *bool  `json:"validation_passed,omitempty"`
}

// Response payloads. Entity bodies reuse the domain structs, which carry the
// wire-ready JSON tags; only composite shapes are declared here.

type TransactionListResponse struct {
	Items      []domain.Transaction `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type TransactionDetailResponse struct {
	domain.Transaction
	Tasks     []domain.Task     `json:"tasks"`
	Documents []domain.Document `json:"documents"`
	Parties   []domain.Party    `json:"parties"`
}

type TaskListResponse struct {
	Items []domain.Task `json:"items"`
}

type PartyListResponse struct {
	Items []domain.Party `json:"items"`
}

type DocumentListResponse struct {
	Items []domain.Document `json:"items"`
}

type EventListResponse struct {
	Items []domain.Event `json:"items"`
}

type apiErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func createOptionsFromRequest(req CreateTransactionRequest, actorID string) engine.TransactionCreateOptions {
	return engine.TransactionCreateOptions{
		PropertyAddress:   req.PropertyAddress,
		PropertyType:      req.PropertyType,
		PropertySqft:      req.PropertySqft,
		PropertyBedrooms:  req.PropertyBedrooms,
		PropertyBathrooms: req.PropertyBathrooms,
		PropertyYearBuilt: req.PropertyYearBuilt,
		PurchasePrice:     req.PurchasePrice,
		DownPayment:       req.DownPayment,
		LoanAmount:        req.LoanAmount,
		BuyerID:           req.BuyerID,
		SellerID:          req.SellerID,
		BuyerAgentID:      req.BuyerAgentID,
		SellerAgentID:     req.SellerAgentID,
		LoanOfficerID:     req.LoanOfficerID,
		TitleOfficerID:    req.TitleOfficerID,
		Notes:             req.Notes,
		Priority:          req.Priority,
		ActorID:           actorID,
	}
}
