package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"ledgerlens/internal/agent"
	"ledgerlens/internal/agent/agenttest"
	"ledgerlens/internal/cache"
	"ledgerlens/internal/capture"
	"ledgerlens/internal/chat"
	"ledgerlens/internal/core"
	"ledgerlens/internal/events"
	"ledgerlens/internal/ledger"
	"ledgerlens/internal/log"
	"ledgerlens/internal/notify"
	"ledgerlens/internal/services"
	"ledgerlens/internal/sse"
)

const testUploadLimit = 4 << 10

type testEnv struct {
	srv    *Server
	agent  *agenttest.Fake
	notify *notify.Center
	broker *sse.Broker
}

func newTestEnv(t *testing.T, tweak func(*Deps)) *testEnv {
	t.Helper()
	logger := log.New(log.Config{Output: &bytes.Buffer{}})
	fake := &agenttest.Fake{}
	broker := sse.NewBroker(time.Minute)
	t.Cleanup(broker.Close)
	center := notify.NewCenter(time.Minute, broker)
	t.Cleanup(center.Close)

	l := ledger.New()
	assets := cache.NewLRUCache[[]string](8, time.Minute)
	svc := services.NewLedgerService(services.Deps{
		Ledger:   l,
		Previews: capture.NewPreviews(time.Minute),
		Spreadsheet: services.SpreadsheetExtractor{Spreadsheet: capture.NewSpreadsheet(fake, assets,
			capture.SpreadsheetConfig{AgentID: "sheet", MaxBytes: testUploadLimit}, logger)},
		Image: capture.NewImage(fake, assets,
			capture.ImageConfig{AgentID: "ocr", MaxBytes: testUploadLimit}, logger),
		Notify:    center,
		Publisher: broker,
		Logger:    logger,
	})

	deps := Deps{
		Ledger:             svc,
		Chat:               chat.NewAssistant(fake, "chat", l, center, broker, logger),
		Notify:             center,
		Events:             broker,
		Logger:             logger,
		MaxUploadBytes:     testUploadLimit,
		RateLimitPerMinute: 1000,
	}
	if tweak != nil {
		tweak(&deps)
	}
	srv := NewServer(":0", deps)
	t.Cleanup(srv.limiter.Stop)
	return &testEnv{srv: srv, agent: fake, notify: center, broker: broker}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) upload(t *testing.T, path, filename, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(map[string][]string)
	h["Content-Disposition"] = []string{`form-data; name="file"; filename="` + filename + `"`}
	h["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
	return v
}

type viewBody struct {
	Items       []core.Expense `json:"items"`
	Total       core.Money     `json:"total"`
	TopCategory string `json:"top_category"`
	Count       int    `json:"count"`
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, path := range []string{"/healthz", "/readyz"} {
		if rr := env.do(t, http.MethodGet, path, ""); rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}

	env = newTestEnv(t, func(d *Deps) {
		d.Ready = func(context.Context) error { return errors.New("agent unreachable") }
	})
	if rr := env.do(t, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestSecurityHeadersApplied(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/api/expenses", "")
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing security headers")
	}
	if rr := env.do(t, "TRACE", "/api/expenses", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("TRACE should be rejected, got %d", rr.Code)
	}
}

func TestCreateListDeleteExpense(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/expenses", `{"amount":"12.50","category":"Food","notes":"Pizza night"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	created := decode[core.Expense](t, rr)
	if created.Amount.Cents != 1250 || created.Source != core.SourceManual || created.ID == "" {
		t.Fatalf("unexpected expense %+v", created)
	}

	rr = env.do(t, http.MethodPost, "/api/expenses", `{"amount":3,"category":"Travel"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("numeric amount: expected 201, got %d", rr.Code)
	}

	view := decode[viewBody](t, env.do(t, http.MethodGet, "/api/expenses", ""))
	if view.Count != 2 || view.Total.Cents != 1550 || view.TopCategory != "Food" {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.Items[0].Category != "Travel" {
		t.Fatalf("newest must be first, got %+v", view.Items)
	}

	view = decode[viewBody](t, env.do(t, http.MethodGet, "/api/expenses?search=pizza&category=Food", ""))
	if view.Count != 1 || view.Total.Cents != 1250 {
		t.Fatalf("filtered view wrong: %+v", view)
	}

	if rr := env.do(t, http.MethodDelete, "/api/expenses/"+created.ID, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, "/api/expenses/"+created.ID, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", rr.Code)
	}
}

func TestCreateExpenseValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	tests := []struct {
		name   string
		body   string
		status int
		field  string
	}{
		{"invalid amount", `{"amount":"abc","category":"Food"}`, http.StatusUnprocessableEntity, "amount"},
		{"zero amount", `{"amount":"0","category":"Food"}`, http.StatusUnprocessableEntity, "amount"},
		{"missing category", `{"amount":"1.00","category":"  "}`, http.StatusUnprocessableEntity, "category"},
		{"bad date", `{"amount":"1.00","category":"Food","date":"yesterday-ish"}`, http.StatusUnprocessableEntity, "date"},
		{"malformed json", `{"amount":`, http.StatusBadRequest, ""},
		{"unknown field", `{"amount":"1","category":"Food","tip":2}`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/expenses", tt.body)
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
			if tt.field != "" {
				body := decode[errResponse](t, rr)
				if body.Fields[tt.field] == "" {
					t.Fatalf("expected field error for %s, got %+v", tt.field, body)
				}
			}
		})
	}
	view := decode[viewBody](t, env.do(t, http.MethodGet, "/api/expenses", ""))
	if view.Count != 0 {
		t.Fatal("invalid input must not reach the ledger")
	}
	if n := len(env.notify.Active()); n != 0 {
		t.Fatalf("validation errors raise no banner, got %d notifications", n)
	}
}

func TestCategories(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/api/expenses", `{"amount":"1","category":"Pets"}`)

	body := decode[categoriesResponse](t, env.do(t, http.MethodGet, "/api/categories", ""))
	if len(body.Categories) != len(core.Categories) {
		t.Fatalf("unexpected categories %v", body.Categories)
	}
	if len(body.InUse) != 1 || body.InUse[0] != "Pets" {
		t.Fatalf("unexpected in-use categories %v", body.InUse)
	}
}

func TestSpreadsheetImportFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	env.agent.SendFunc = agenttest.Reply(map[string]any{"expenses": []map[string]any{
		{"amount": "19.99", "category": "Bills", "notes": "Phone"},
		{"amount": 42, "category": "Food"},
	}})

	rr := env.upload(t, "/api/imports/spreadsheet", "bank.csv", "text/csv", []byte("desc,amount\nPhone,19.99\n"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	p := decode[capture.Preview](t, rr)
	if len(p.Candidates) != 2 || p.Source != core.SourceSpreadsheet {
		t.Fatalf("unexpected preview %+v", p)
	}

	if rr := env.do(t, http.MethodGet, "/api/previews/"+p.ID, ""); rr.Code != http.StatusOK {
		t.Fatalf("get preview: %d", rr.Code)
	}

	rr = env.do(t, http.MethodPatch, "/api/previews/"+p.ID+"/candidates/1", `{"category":"Travel","amount":"40"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("edit: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	edited := decode[capture.Preview](t, rr)
	if edited.Candidates[1].Category != "Travel" || edited.Candidates[1].Amount.Cents != 4000 {
		t.Fatalf("edit not applied: %+v", edited.Candidates[1])
	}

	rr = env.do(t, http.MethodPost, "/api/previews/"+p.ID+"/confirm", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := decode[confirmResponse](t, rr); got.Committed != 2 {
		t.Fatalf("expected 2 committed, got %+v", got)
	}

	view := decode[viewBody](t, env.do(t, http.MethodGet, "/api/expenses", ""))
	if view.Count != 2 || view.Total.Cents != 5999 {
		t.Fatalf("unexpected view after confirm %+v", view)
	}
	if rr := env.do(t, http.MethodGet, "/api/previews/"+p.ID, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("confirmed preview should be gone, got %d", rr.Code)
	}
}

func TestImportErrors(t *testing.T) {
	t.Run("agent failure", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.agent.SendFunc = agenttest.Fail(agent.ErrTransport)
		rr := env.upload(t, "/api/imports/spreadsheet", "bank.csv", "text/csv", []byte("a,b\n1,2\n"))
		if rr.Code != http.StatusBadGateway {
			t.Fatalf("expected 502, got %d", rr.Code)
		}
		active := env.notify.Active()
		if len(active) != 1 || active[0].Kind != core.NotificationError {
			t.Fatalf("expected one error notification, got %+v", active)
		}
	})

	t.Run("unsupported extension", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rr := env.upload(t, "/api/imports/spreadsheet", "notes.txt", "text/plain", []byte("hello"))
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rr.Code)
		}
		if decode[errResponse](t, rr).Fields["file"] == "" {
			t.Fatal("expected file field error")
		}
		if env.agent.SendCount() != 0 || env.agent.UploadCount() != 0 {
			t.Fatal("no agent call may be made for invalid input")
		}
	})

	t.Run("file over the limit", func(t *testing.T) {
		env := newTestEnv(t, nil)
		big := bytes.Repeat([]byte("1,2\n"), testUploadLimit)
		rr := env.upload(t, "/api/imports/spreadsheet", "big.csv", "text/csv", big)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rr.Code)
		}
	})

	t.Run("missing file part", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rr := env.do(t, http.MethodPost, "/api/imports/image", `{}`)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rr.Code)
		}
	})

	t.Run("image that is not an image", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rr := env.upload(t, "/api/imports/image", "receipt.png", "image/png", []byte("not a png"))
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rr.Code)
		}
	})
}

func TestDegradedImportRequiresEdit(t *testing.T) {
	env := newTestEnv(t, nil)
	env.agent.SendFunc = agenttest.Text("I could not find any expenses")

	rr := env.upload(t, "/api/imports/spreadsheet", "odd.csv", "text/csv", []byte("???\n"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("degraded parse is still a preview, got %d", rr.Code)
	}
	p := decode[capture.Preview](t, rr)
	if len(p.Candidates) != 1 || !p.Candidates[0].Placeholder {
		t.Fatalf("expected one placeholder, got %+v", p.Candidates)
	}

	rr = env.do(t, http.MethodPost, "/api/previews/"+p.ID+"/confirm", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if decode[errResponse](t, rr).Fields["candidates[0].amount"] == "" {
		t.Fatalf("expected nested field error, got %s", rr.Body.String())
	}

	if rr := env.do(t, http.MethodDelete, "/api/previews/"+p.ID+"/candidates/0", ""); rr.Code != http.StatusOK {
		t.Fatalf("drop: %d", rr.Code)
	}
	rr = env.do(t, http.MethodPost, "/api/previews/"+p.ID+"/confirm", "")
	if rr.Code != http.StatusOK || decode[confirmResponse](t, rr).Committed != 0 {
		t.Fatalf("empty confirm should be a no-op, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestPreviewErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	env.agent.SendFunc = agenttest.Reply([]map[string]any{{"amount": 5, "category": "Food"}})
	p := decode[capture.Preview](t, env.upload(t, "/api/imports/spreadsheet", "a.csv", "text/csv", []byte("5\n")))

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"unknown preview", http.MethodGet, "/api/previews/nope", "", http.StatusNotFound},
		{"bad index", http.MethodPatch, "/api/previews/" + p.ID + "/candidates/x", `{}`, http.StatusNotFound},
		{"index out of range", http.MethodDelete, "/api/previews/" + p.ID + "/candidates/7", "", http.StatusNotFound},
		{"invalid edit", http.MethodPatch, "/api/previews/" + p.ID + "/candidates/0", `{"amount":"-3"}`, http.StatusUnprocessableEntity},
		{"cancel unknown", http.MethodDelete, "/api/previews/nope", "", http.StatusNotFound},
		{"cancel", http.MethodDelete, "/api/previews/" + p.ID, "", http.StatusNoContent},
		{"confirm cancelled", http.MethodPost, "/api/previews/" + p.ID + "/confirm", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := env.do(t, tt.method, tt.path, tt.body); rr.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestChat(t *testing.T) {
	env := newTestEnv(t, nil)
	env.agent.SendFunc = agenttest.Text("You spent 12.50 on Food.")
	env.do(t, http.MethodPost, "/api/expenses", `{"amount":"12.50","category":"Food"}`)

	rr := env.do(t, http.MethodPost, "/api/chat", `{"question":"How much on food?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decode[askResponse](t, rr)
	if body.Reply.Role != core.RoleAssistant || body.Reply.Content != "You spent 12.50 on Food." || len(body.Messages) != 2 {
		t.Fatalf("unexpected chat response %+v", body)
	}

	env.agent.SendFunc = agenttest.Fail(agent.ErrTransport)
	body = decode[askResponse](t, env.do(t, http.MethodPost, "/api/chat", `{"question":"And travel?"}`))
	if body.Reply.Content != chat.FailureReply {
		t.Fatalf("expected failure reply, got %q", body.Reply.Content)
	}
	var banners int
	for _, n := range env.notify.Active() {
		if n.Kind == core.NotificationError {
			banners++
		}
	}
	if banners != 1 {
		t.Fatalf("expected one error notification after the failed query, got %d", banners)
	}

	if rr := env.do(t, http.MethodPost, "/api/chat", `{"question":"   "}`); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty question: expected 422, got %d", rr.Code)
	}

	transcript := decode[transcriptResponse](t, env.do(t, http.MethodGet, "/api/chat", ""))
	if len(transcript.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(transcript.Messages))
	}
}

func TestNotifications(t *testing.T) {
	env := newTestEnv(t, nil)
	if body := decode[notificationsResponse](t, env.do(t, http.MethodGet, "/api/notifications", "")); len(body.Notifications) != 0 {
		t.Fatalf("expected none, got %+v", body.Notifications)
	}

	env.do(t, http.MethodPost, "/api/expenses", `{"amount":"1","category":"Food"}`)
	body := decode[notificationsResponse](t, env.do(t, http.MethodGet, "/api/notifications", ""))
	if len(body.Notifications) != 1 || body.Notifications[0].Kind != core.NotificationSuccess {
		t.Fatalf("expected a success notification, got %+v", body.Notifications)
	}

	id := body.Notifications[0].ID
	if rr := env.do(t, http.MethodDelete, "/api/notifications/"+id, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("dismiss: expected 204, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, "/api/notifications/"+id, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("dismiss again: expected 404, got %d", rr.Code)
	}
}

func TestRateLimitOnMutations(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.RateLimitPerMinute = 2 })
	for i := 0; i < 2; i++ {
		if rr := env.do(t, http.MethodPost, "/api/expenses", `{"amount":"1","category":"Food"}`); rr.Code != http.StatusCreated {
			t.Fatalf("request %d: expected 201, got %d", i, rr.Code)
		}
	}
	if rr := env.do(t, http.MethodPost, "/api/expenses", `{"amount":"1","category":"Food"}`); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/api/expenses", ""); rr.Code != http.StatusOK {
		t.Fatalf("reads are not limited, got %d", rr.Code)
	}
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.srv.Handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.broker.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	env.do(t, http.MethodPost, "/api/expenses", `{"amount":"2","category":"Food"}`)

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if sc.Text() == "event: "+string(events.ExpenseCreated) {
			return
		}
	}
	t.Fatalf("did not receive %s: %v", events.ExpenseCreated, sc.Err())
}

func TestFlattenFields(t *testing.T) {
	got := flattenFields("", validation.Errors{
		"file": errors.New("is required"),
		"candidates[1]": validation.Errors{
			"amount":   errors.New("must be a positive number"),
			"category": errors.New("cannot be blank"),
		},
	})
	want := map[string]string{
		"file":                   "is required",
		"candidates[1].amount":   "must be a positive number",
		"candidates[1].category": "cannot be blank",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: got %q, want %q", k, got[k], v)
		}
	}
}
