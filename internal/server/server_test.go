package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"deedflow/internal/config"
	"deedflow/internal/db"
	"deedflow/internal/engine"
	"deedflow/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Tasks.AutoGenerate = false
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestBlockedAdvanceOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/transactions", map[string]any{
		"property_address": "42 Harbor View",
		"purchase_price":   500000,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create transaction: status %d body %s", res.StatusCode, data)
	}
	var txn struct {
		ID           string `json:"id"`
		CurrentStage string `json:"current_stage"`
		StageHistory []any  `json:"stage_history"`
	}
	if err := json.Unmarshal(data, &txn); err != nil {
		t.Fatalf("decode transaction: %v", err)
	}
	if txn.CurrentStage != "offer_accepted" || len(txn.StageHistory) != 1 {
		t.Fatalf("created transaction = %+v", txn)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"transaction_id": txn.ID,
		"title":          "Deposit earnest money",
		"type":           "payment",
		"is_blocking":    true,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: status %d body %s", res.StatusCode, data)
	}
	var task struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatal(err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/transactions/"+txn.ID+"/advance-stage", map[string]any{})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("blocked advance: status %d body %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Details struct {
				Tasks []struct {
					ID    string `json:"id"`
					Title string `json:"title"`
				} `json:"tasks"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, data)
	}
	if envelope.Error.Code != "blocked_by_tasks" {
		t.Fatalf("error code = %s", envelope.Error.Code)
	}
	if len(envelope.Error.Details.Tasks) != 1 || envelope.Error.Details.Tasks[0].ID != task.ID {
		t.Fatalf("blocking tasks = %+v", envelope.Error.Details.Tasks)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/complete", map[string]any{
		"completed_by": "buyer",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete task: status %d body %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/transactions/"+txn.ID+"/advance-stage", map[string]any{})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("advance: status %d body %s", res.StatusCode, data)
	}
	var advanced struct {
		CurrentStage string `json:"current_stage"`
		StageHistory []any  `json:"stage_history"`
	}
	if err := json.Unmarshal(data, &advanced); err != nil {
		t.Fatal(err)
	}
	if advanced.CurrentStage != "title_search_ordered" || len(advanced.StageHistory) != 2 {
		t.Fatalf("advanced transaction = %+v", advanced)
	}
}

func TestErrorTaxonomyOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/transactions/TXN-2025-999", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing transaction: status %d body %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/transactions", map[string]any{
		"property_address": "1 Short Sale Ct",
		"purchase_price":   -1,
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("negative price: status %d body %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Error.Code != "bad_request" {
		t.Fatalf("error code = %s", envelope.Error.Code)
	}

	// Drive a transaction to the terminal stage, then try once more.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/transactions", map[string]any{
		"property_address": "7 Closing Ln",
		"purchase_price":   250000,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d body %s", res.StatusCode, data)
	}
	var txn struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &txn); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 6; i++ {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/transactions/"+txn.ID+"/advance-stage", map[string]any{"force": true})
		if res.StatusCode != http.StatusOK {
			t.Fatalf("advance %d: status %d body %s", i, res.StatusCode, data)
		}
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/transactions/"+txn.ID+"/advance-stage", map[string]any{"force": true})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("terminal advance: status %d body %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Error.Code != "invalid_transition" {
		t.Fatalf("error code = %s", envelope.Error.Code)
	}
}

func TestProgressAndEventsOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/transactions", map[string]any{
		"property_address": "300 Grand Ave",
		"purchase_price":   725000,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d body %s", res.StatusCode, data)
	}
	var txn struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &txn); err != nil {
		t.Fatal(err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/transactions/"+txn.ID+"/deposit-earnest-money", map[string]any{"amount": 20000})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("deposit: status %d body %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/transactions/"+txn.ID+"/progress", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("progress: status %d body %s", res.StatusCode, data)
	}
	var report struct {
		PercentComplete int `json:"percent_complete"`
		StageIndex      int `json:"stage_index"`
	}
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatal(err)
	}
	if report.StageIndex != 0 || report.PercentComplete != 14 {
		t.Fatalf("report = %+v", report)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?transaction_id="+txn.ID, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: status %d body %s", res.StatusCode, data)
	}
	var feed struct {
		Items []struct {
			Type string `json:"type"`
		} `json:"items"`
	}
	if err := json.Unmarshal(data, &feed); err != nil {
		t.Fatal(err)
	}
	if len(feed.Items) != 2 {
		t.Fatalf("event count = %d", len(feed.Items))
	}
	if feed.Items[0].Type != "transaction.earnest_money.deposited" || feed.Items[1].Type != "transaction.created" {
		t.Fatalf("event types = %+v", feed.Items)
	}
}

func TestListTransactionsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for i := 0; i < 3; i++ {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/transactions", map[string]any{
			"property_address": "10 Maple Row",
			"purchase_price":   100000 + i,
		})
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create %d: status %d body %s", i, res.StatusCode, data)
		}
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/transactions?limit=2", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: status %d body %s", res.StatusCode, data)
	}
	var page struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
		NextCursor string `json:"next_cursor"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("page = %+v", page)
	}
	if page.Items[0].ID != "TXN-2025-003" {
		t.Fatalf("newest first violated: %+v", page.Items)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/transactions?limit=2&cursor="+page.NextCursor, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second page: status %d body %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.NextCursor != "" {
		t.Fatalf("second page = %+v", page)
	}
}
