package deedflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Deedflow HTTP API client.
type Client struct {
	BaseURL    string
	Actor      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Transaction represents the API transaction model (partial).
type Transaction struct {
	ID                   string   `json:"id"`
	PropertyAddress      string   `json:"property_address"`
	PurchasePrice        float64  `json:"purchase_price"`
	CurrentStage         string   `json:"current_stage"`
	Priority             string   `json:"priority"`
	EarnestMoneyStatus   string   `json:"earnest_money_status"`
	EarnestMoneyAmount   *float64 `json:"earnest_money_amount"`
	FundsVerified        bool     `json:"funds_verified"`
	EstimatedClosingDate string   `json:"estimated_closing_date"`
	ActualClosingDate    *string  `json:"actual_closing_date"`
	CreatedAt            string   `json:"created_at"`
}

// Task represents the API task model (partial).
type Task struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id"`
	Title         string `json:"title"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	IsBlocking    bool   `json:"is_blocking"`
}

// Party represents a contact record.
type Party struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Document represents a document record.
type Document struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id"`
	Type          string `json:"type"`
	Status        string `json:"status"`
}

// Event represents an audit log entry. Payload holds the event's
// payload as the JSON string the API returns; DecodePayload parses it.
type Event struct {
	ID            int64  `json:"id"`
	TS            string `json:"ts"`
	Type          string `json:"type"`
	TransactionID string `json:"transaction_id"`
	EntityKind    string `json:"entity_kind"`
	EntityID      string `json:"entity_id"`
	ActorID       string `json:"actor_id"`
	Payload       string `json:"payload_json"`
}

// DecodePayload parses the payload JSON into a map. An empty payload
// decodes to nil.
func (e Event) DecodePayload() (map[string]any, error) {
	if e.Payload == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(e.Payload), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ProgressReport summarizes a transaction's position in the pipeline.
type ProgressReport struct {
	TransactionID        string `json:"transaction_id"`
	CurrentStage         string `json:"current_stage"`
	StageIndex           int    `json:"stage_index"`
	StageCount           int    `json:"stage_count"`
	PercentComplete      int    `json:"percent_complete"`
	TasksTotal           int    `json:"tasks_total"`
	TasksCompleted       int    `json:"tasks_completed"`
	TaskPercentComplete  int    `json:"task_percent_complete"`
	DaysInCurrentStage   int    `json:"days_in_current_stage"`
	EstimatedDaysToClose int    `json:"estimated_days_to_close"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedTransactions wraps list responses with cursors.
type PaginatedTransactions struct {
	Items      []Transaction `json:"items"`
	NextCursor string        `json:"next_cursor"`
}

// CreateTransaction opens a transaction.
func (c *Client) CreateTransaction(ctx context.Context, propertyAddress string, purchasePrice float64) (Transaction, error) {
	body := map[string]any{
		"property_address": propertyAddress,
		"purchase_price":   purchasePrice,
	}
	var resp Transaction
	err := c.do(ctx, http.MethodPost, "v0/transactions", body, &resp)
	return resp, err
}

// GetTransaction fetches a transaction by id.
func (c *Client) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	var resp Transaction
	err := c.do(ctx, http.MethodGet, "v0/transactions/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListTransactions returns a page of transactions, newest first.
func (c *Client) ListTransactions(ctx context.Context, stage string, limit int, cursor string) (PaginatedTransactions, error) {
	q := url.Values{}
	if stage != "" {
		q.Set("stage", stage)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v0/transactions"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedTransactions
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AdvanceStage moves a transaction to its next stage.
func (c *Client) AdvanceStage(ctx context.Context, id, notes string, force bool) (Transaction, error) {
	body := map[string]any{"notes": notes, "force": force}
	var resp Transaction
	endpoint := fmt.Sprintf("v0/transactions/%s/advance-stage", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// DepositEarnestMoney records an earnest money deposit.
func (c *Client) DepositEarnestMoney(ctx context.Context, id string, amount float64, notes string) (Transaction, error) {
	body := map[string]any{"amount": amount, "notes": notes}
	var resp Transaction
	endpoint := fmt.Sprintf("v0/transactions/%s/deposit-earnest-money", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// VerifyFunds records buyer funds verification.
func (c *Client) VerifyFunds(ctx context.Context, id, method string) (Transaction, error) {
	body := map[string]any{"method": method}
	var resp Transaction
	endpoint := fmt.Sprintf("v0/transactions/%s/verify-funds", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Progress returns the stage and task progress report.
func (c *Client) Progress(ctx context.Context, id string) (ProgressReport, error) {
	var resp ProgressReport
	endpoint := fmt.Sprintf("v0/transactions/%s/progress", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateTask creates a task on a transaction.
func (c *Client) CreateTask(ctx context.Context, transactionID, title, taskType string, blocking bool) (Task, error) {
	body := map[string]any{
		"transaction_id": transactionID,
		"title":          title,
		"type":           taskType,
		"is_blocking":    blocking,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

// CompleteTask marks a task completed.
func (c *Client) CompleteTask(ctx context.Context, id, completedBy, notes string) (Task, error) {
	body := map[string]any{"completed_by": completedBy, "completion_notes": notes}
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/complete", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// TransactionTasks returns tasks attached to a transaction.
func (c *Client) TransactionTasks(ctx context.Context, transactionID string) ([]Task, error) {
	var resp struct {
		Items []Task `json:"items"`
	}
	endpoint := fmt.Sprintf("v0/transactions/%s/tasks", url.PathEscape(transactionID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// CreateParty registers a contact.
func (c *Client) CreateParty(ctx context.Context, name, role string) (Party, error) {
	body := map[string]any{"name": name, "role": role}
	var resp Party
	err := c.do(ctx, http.MethodPost, "v0/parties", body, &resp)
	return resp, err
}

// RegisterDocument creates a document record.
func (c *Client) RegisterDocument(ctx context.Context, transactionID, docType, fileName string) (Document, error) {
	body := map[string]any{
		"transaction_id": transactionID,
		"type":           docType,
	}
	if fileName != "" {
		body["file_name"] = fileName
	}
	var resp Document
	err := c.do(ctx, http.MethodPost, "v0/documents", body, &resp)
	return resp, err
}

// SetDocumentStatus changes a document's review status.
func (c *Client) SetDocumentStatus(ctx context.Context, id, status string) (Document, error) {
	body := map[string]any{"status": status}
	var resp Document
	endpoint := fmt.Sprintf("v0/documents/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// Events returns recent audit events, newest first.
func (c *Client) Events(ctx context.Context, limit int, transactionID string) ([]Event, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if transactionID != "" {
		q.Set("transaction_id", transactionID)
	}
	endpoint := "v0/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Actor != "" {
		req.Header.Set("X-Actor", c.Actor)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
