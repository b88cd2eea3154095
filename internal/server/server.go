package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"deedflow/internal/domain"
	"deedflow/internal/engine"
	"deedflow/internal/repo"
)

// Config carries the server dependencies.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Logger   *slog.Logger
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Deedflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema-level request validation maps to 400 bad_request;
			// 422 is reserved for workflow gating.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestLogger(logger))

	hcfg := huma.DefaultConfig("Deedflow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTransactions(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerParties(group, cfg.Engine)
	registerDocuments(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).Round(time.Microsecond).String(),
			)
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var blocked engine.BlockedByTasksError
	if errors.As(err, &blocked) {
		return newAPIError(http.StatusUnprocessableEntity, "blocked_by_tasks", err.Error(), map[string]any{
			"tasks": blocked.Tasks,
		})
	}
	var docs engine.BlockedByDocumentsError
	if errors.As(err, &docs) {
		return newAPIError(http.StatusUnprocessableEntity, "blocked_by_documents", err.Error(), map[string]any{
			"missing": docs.Missing,
		})
	}
	var invalid engine.InvalidTransitionError
	if errors.As(err, &invalid) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), nil)
	}
	var completed engine.AlreadyCompletedError
	if errors.As(err, &completed) {
		return newAPIError(http.StatusConflict, "already_completed", err.Error(), nil)
	}
	var validation engine.ValidationError
	if errors.As(err, &validation) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func actorOr(header string) string {
	if header == "" {
		return "api"
	}
	return header
}

const cursorSep = "~"

func encodeCursor(createdAt, id string) string {
	return createdAt + cursorSep + id
}

func decodeCursor(cursor string) (createdAt, id string) {
	i := strings.LastIndex(cursor, cursorSep)
	if i < 0 {
		return "", ""
	}
	return cursor[:i], cursor[i+1:]
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerTransactions(api huma.API, e engine.Engine) {
	type transactionPath struct {
		ID    string `path:"id"`
		Actor string `header:"X-Actor"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-transaction",
		Method:        http.MethodPost,
		Path:          "/transactions",
		Summary:       "Open a transaction",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Actor string                   `header:"X-Actor"`
		Body  CreateTransactionRequest `json:"body"`
	}) (*struct {
		Body domain.Transaction `json:"body"`
	}, error) {
		t, err := e.CreateTransaction(ctx, createOptionsFromRequest(input.Body, actorOr(input.Actor)))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Transaction `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-transactions",
		Method:      http.MethodGet,
		Path:        "/transactions",
		Summary:     "List transactions, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Stage  string `query:"stage"`
		Limit  int    `query:"limit" minimum:"1" maximum:"500"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body TransactionListResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit == 0 {
			limit = 50
		}
		createdAt, id := decodeCursor(input.Cursor)
		items, err := e.Repo.ListTransactions(ctx, repo.TransactionFilters{
			Stage:           input.Stage,
			Limit:           limit + 1,
			CursorCreatedAt: createdAt,
			CursorID:        id,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := TransactionListResponse{Items: items}
		if len(items) > limit {
			out.Items = items[:limit]
			last := out.Items[limit-1]
			out.NextCursor = encodeCursor(last.CreatedAt, last.ID)
		}
		return &struct {
			Body TransactionListResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-transaction",
		Method:      http.MethodGet,
		Path:        "/transactions/{id}",
		Summary:     "Fetch a transaction with tasks, documents and parties",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TransactionDetailResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTransaction(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{TransactionID: t.ID})
		if err != nil {
			return nil, handleError(err)
		}
		documents, err := e.Repo.ListDocuments(ctx, t.ID, "", "")
		if err != nil {
			return nil, handleError(err)
		}
		parties, err := transactionParties(ctx, e, t)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransactionDetailResponse `json:"body"`
		}{Body: TransactionDetailResponse{
			Transaction: t,
			Tasks:       tasks,
			Documents:   documents,
			Parties:     parties,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-transaction",
		Method:      http.MethodPatch,
		Path:        "/transactions/{id}",
		Summary:     "Update transaction notes or priority",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		transactionPath
		Body UpdateTransactionRequest `json:"body"`
	}) (*struct {
		Body domain.Transaction `json:"body"`
	}, error) {
		t, err := e.UpdateTransactionMeta(ctx, input.ID, input.Body.Notes, input.Body.Priority, actorOr(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Transaction `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-transaction",
		Method:      http.MethodDelete,
		Path:        "/transactions/{id}",
		Summary:     "Delete a transaction and its tasks and documents",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *transactionPath) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := e.DeleteTransaction(ctx, input.ID, actorOr(input.Actor)); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "deleted"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-stage",
		Method:      http.MethodPost,
		Path:        "/transactions/{id}/advance-stage",
		Summary:     "Advance a transaction to its next stage",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		transactionPath
		Body AdvanceStageRequest `json:"body"`
	}) (*struct {
		Body domain.Transaction `json:"body"`
	}, error) {
		t, err := e.AdvanceStage(ctx, input.ID, input.Body.Notes, actorOr(input.Actor), input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Transaction `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deposit-earnest-money",
		Method:      http.MethodPost,
		Path:        "/transactions/{id}/deposit-earnest-money",
		Summary:     "Record an earnest money deposit",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		transactionPath
		Body DepositEarnestMoneyRequest `json:"body"`
	}) (*struct {
		Body domain.Transaction `json:"body"`
	}, error) {
		t, err := e.DepositEarnestMoney(ctx, input.ID, input.Body.Amount, input.Body.Notes, actorOr(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Transaction `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-funds",
		Method:      http.MethodPost,
		Path:        "/transactions/{id}/verify-funds",
		Summary:     "Record buyer funds verification",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		transactionPath
		Body VerifyFundsRequest `json:"body"`
	}) (*struct {
		Body domain.Transaction `json:"body"`
	}, error) {
		t, err := e.VerifyFunds(ctx, input.ID, input.Body.Method, actorOr(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Transaction `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transaction-progress",
		Method:      http.MethodGet,
		Path:        "/transactions/{id}/progress",
		Summary:     "Progress report for a transaction",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body engine.ProgressReport `json:"body"`
	}, error) {
		report, err := e.Progress(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ProgressReport `json:"body"`
		}{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transaction-tasks",
		Method:      http.MethodGet,
		Path:        "/transactions/{id}/tasks",
		Summary:     "Tasks belonging to a transaction",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Status string `query:"status"`
	}) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetTransaction(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{TransactionID: input.ID, Status: input.Status})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: TaskListResponse{Items: tasks}}, nil
	})
}

// transactionParties resolves the transaction's party references, skipping
// dangling ones so a deleted party does not break the detail view.
func transactionParties(ctx context.Context, e engine.Engine, t domain.Transaction) ([]domain.Party, error) {
	var parties []domain.Party
	for _, ref := range []*string{t.BuyerID, t.SellerID, t.BuyerAgentID, t.SellerAgentID, t.LoanOfficerID, t.TitleOfficerID} {
		if ref == nil || *ref == "" {
			continue
		}
		p, err := e.Repo.GetParty(ctx, *ref)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		parties = append(parties, p)
	}
	return parties, nil
}

func registerTasks(api huma.API, e engine.Engine) {
	type taskPath struct {
		ID    string `path:"id"`
		Actor string `header:"X-Actor"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create a task",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Actor string            `header:"X-Actor"`
		Body  CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			TransactionID:     input.Body.TransactionID,
			Title:             input.Body.Title,
			Description:       input.Body.Description,
			Type:              input.Body.Type,
			AssignedTo:        input.Body.AssignedTo,
			Priority:          input.Body.Priority,
			DueDate:           input.Body.DueDate,
			IsBlocking:        input.Body.IsBlocking,
			RelatedStage:      input.Body.RelatedStage,
			RelatedDocumentID: input.Body.RelatedDocumentID,
			ActorID:           actorOr(input.Actor),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		TransactionID string `query:"transaction_id"`
		Status        string `query:"status"`
		AssignedTo    string `query:"assigned_to"`
		Blocking      *bool  `query:"blocking"`
		Limit         int    `query:"limit" minimum:"1" maximum:"500"`
	}) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			TransactionID: input.TransactionID,
			Status:        input.Status,
			AssignedTo:    input.AssignedTo,
			IsBlocking:    input.Blocking,
			Limit:         input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: TaskListResponse{Items: tasks}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Fetch a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update a task",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		taskPath
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.UpdateTask(ctx, input.ID, engine.TaskPatch{
			Title:         input.Body.Title,
			Description:   input.Body.Description,
			Status:        input.Body.Status,
			Priority:      input.Body.Priority,
			AssignedTo:    input.Body.AssignedTo,
			DueDate:       input.Body.DueDate,
			IsBlocking:    input.Body.IsBlocking,
			BlockedReason: input.Body.BlockedReason,
		}, actorOr(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/complete",
		Summary:     "Complete a task",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		taskPath
		Body CompleteTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.CompleteTask(ctx, input.ID, input.Body.CompletedBy, input.Body.CompletionNotes, input.Body.CompletionData, actorOr(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := e.DeleteTask(ctx, input.ID, actorOr(input.Actor)); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "deleted"}}, nil
	})
}

func registerParties(api huma.API, e engine.Engine) {
	type partyPath struct {
		ID    string `path:"id"`
		Actor string `header:"X-Actor"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-party",
		Method:        http.MethodPost,
		Path:          "/parties",
		Summary:       "Register a party",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Actor string             `header:"X-Actor"`
		Body  CreatePartyRequest `json:"body"`
	}) (*struct {
		Body domain.Party `json:"body"`
	}, error) {
		p, err := e.CreateParty(ctx, engine.PartyCreateOptions{
			Name:          input.Body.Name,
			Role:          input.Body.Role,
			Email:         input.Body.Email,
			Phone:         input.Body.Phone,
			Company:       input.Body.Company,
			LicenseNumber: input.Body.LicenseNumber,
			ActorID:       actorOr(input.Actor),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Party `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-parties",
		Method:      http.MethodGet,
		Path:        "/parties",
		Summary:     "List parties",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Role string `query:"role"`
	}) (*struct {
		Body PartyListResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListParties(ctx, input.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PartyListResponse `json:"body"`
		}{Body: PartyListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-party",
		Method:      http.MethodGet,
		Path:        "/parties/{id}",
		Summary:     "Fetch a party",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Party `json:"body"`
	}, error) {
		p, err := e.Repo.GetParty(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Party `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-party",
		Method:      http.MethodPatch,
		Path:        "/parties/{id}",
		Summary:     "Update a party",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		partyPath
		Body UpdatePartyRequest `json:"body"`
	}) (*struct {
		Body domain.Party `json:"body"`
	}, error) {
		p, err := e.UpdateParty(ctx, input.ID, engine.PartyPatch{
			Name:          input.Body.Name,
			Role:          input.Body.Role,
			Email:         input.Body.Email,
			Phone:         input.Body.Phone,
			Company:       input.Body.Company,
			LicenseNumber: input.Body.LicenseNumber,
		}, actorOr(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Party `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-party",
		Method:      http.MethodDelete,
		Path:        "/parties/{id}",
		Summary:     "Delete a party",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *partyPath) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := e.DeleteParty(ctx, input.ID, actorOr(input.Actor)); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "deleted"}}, nil
	})
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-document",
		Method:        http.MethodPost,
		Path:          "/documents",
		Summary:       "Register a document record",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Actor string                  `header:"X-Actor"`
		Body  RegisterDocumentRequest `json:"body"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		d, err := e.RegisterDocument(ctx, engine.DocumentCreateOptions{
			TransactionID: input.Body.TransactionID,
			Type:          input.Body.Type,
			FileName:      input.Body.FileName,
			UploadedBy:    input.Body.UploadedBy,
			ActorID:       actorOr(input.Actor),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/documents",
		Summary:     "List documents",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		TransactionID string `query:"transaction_id"`
		Type          string `query:"type"`
		Status        string `query:"status"`
	}) (*struct {
		Body DocumentListResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListDocuments(ctx, input.TransactionID, input.Type, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentListResponse `json:"body"`
		}{Body: DocumentListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-document",
		Method:      http.MethodGet,
		Path:        "/documents/{id}",
		Summary:     "Fetch a document record",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		d, err := e.Repo.GetDocument(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-document-status",
		Method:      http.MethodPatch,
		Path:        "/documents/{id}",
		Summary:     "Change a document's status",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID    string                   `path:"id"`
		Actor string                   `header:"X-Actor"`
		Body  SetDocumentStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		d, err := e.SetDocumentStatus(ctx, input.ID, input.Body.Status, input.Body.ValidationPassed, actorOr(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: d}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit event feed, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit         int    `query:"limit" minimum:"1" maximum:"1000"`
		TransactionID string `query:"transaction_id"`
		Type          string `query:"type"`
		EntityKind    string `query:"entity_kind"`
		EntityID      string `query:"entity_id"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit == 0 {
			limit = 100
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.TransactionID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: EventListResponse{Items: items}}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join(basePath, "openapi.json")
	return fmt.Sprintf(`<!doctype html>
<html>
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Deedflow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}
