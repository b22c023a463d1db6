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

	"golang.org/x/crypto/bcrypt"

	"protokoll/internal/db"
	"protokoll/internal/domain"
	"protokoll/internal/engine"
	"protokoll/internal/migrate"
	"protokoll/internal/realtime"
)

type testServer struct {
	URL    string
	auth   AuthConfig
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

// bcrypt cost 4 keeps the seed fast; the hash is only checked by the
// login test.
func hashPassword(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return string(h)
}

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
	hub := realtime.NewHub(nil)
	e := engine.New(conn, hub)

	ctx := context.Background()
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin seed tx: %v", err)
	}
	seed := func(err error) {
		if err != nil {
			tx.Rollback()
			t.Fatalf("seed: %v", err)
		}
	}
	seed(e.Repo.EnsureGroup(ctx, tx, "g1", "Alpha", now))
	seed(e.Repo.EnsureGroup(ctx, tx, "g2", "Beta", now))
	seed(e.Repo.EnsureUser(ctx, tx, domain.User{ID: "alice", GroupID: "g1", Name: "Alice", Email: "alice@example.com", PasswordHash: hashPassword(t, "secret"), CreatedAt: now}))
	seed(e.Repo.EnsureUser(ctx, tx, domain.User{ID: "bob", GroupID: "g1", Name: "Bob", Email: "bob@example.com", PasswordHash: hashPassword(t, "secret"), CreatedAt: now}))
	seed(e.Repo.EnsureUser(ctx, tx, domain.User{ID: "carol", GroupID: "g2", Name: "Carol", Email: "carol@example.com", PasswordHash: hashPassword(t, "secret"), CreatedAt: now}))
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit seed: %v", err)
	}

	auth := AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour}
	handler, err := New(Config{Engine: e, Hub: hub, BasePath: "/api", Auth: auth})
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
		auth:   auth,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func (s *testServer) headersFor(t *testing.T, userID, groupID string) map[string]string {
	t.Helper()
	token, err := s.auth.IssueToken(domain.User{ID: userID, GroupID: groupID}, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
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
	for k, v := range headers {
		req.Header.Set(k, v)
	}
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

func createProtocol(t *testing.T, srv *testServer, headers map[string]string, body map[string]any) domain.Protocol {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/protocols", body, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create protocol status %d: %s", res.StatusCode, string(data))
	}
	var p domain.Protocol
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal protocol: %v", err)
	}
	return p
}

func TestLogin(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/auth/login", map[string]any{
		"email":    "alice@example.com",
		"password": "secret",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var login LoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if login.Token == "" {
		t.Fatal("expected token")
	}
	if login.User.PasswordHash != "" {
		t.Fatal("password hash leaked in response")
	}

	// The issued token authenticates subsequent requests.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/protocols", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list with login token status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/auth/login", map[string]any{
		"email":    "alice@example.com",
		"password": "wrong",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password status %d: %s", res.StatusCode, string(data))
	}
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/protocols", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", res.StatusCode)
	}
	// Health stays open.
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d, want 200", res.StatusCode)
	}
}

func TestUpdateBumpsVersionAndRecordsSnapshot(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := srv.headersFor(t, "alice", "g1")

	p := createProtocol(t, srv, alice, map[string]any{
		"meeting_date": "2026-03-02",
		"title":        "Weekly sync",
		"data":         map[string]any{"agenda": "old agenda"},
	})
	if p.Version != 1 {
		t.Fatalf("new protocol version = %d, want 1", p.Version)
	}

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/api/protocols/"+p.ID, map[string]any{
		"title": "Weekly sync (rev)",
		"data":  map[string]any{"agenda": "new agenda"},
	}, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, string(data))
	}
	var updated domain.Protocol
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("version after update = %d, want 2", updated.Version)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/protocols/"+p.ID+"/versions", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("versions status %d: %s", res.StatusCode, string(data))
	}
	var versions []domain.Version
	if err := json.Unmarshal(data, &versions); err != nil {
		t.Fatalf("unmarshal versions: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("len(versions) = %d, want 1", len(versions))
	}
	if versions[0].Version != 1 {
		t.Fatalf("snapshot version = %d, want pre-update 1", versions[0].Version)
	}
	if versions[0].Data["agenda"] != "old agenda" {
		t.Fatalf("snapshot holds %v, want the pre-update data", versions[0].Data["agenda"])
	}
}

func TestSectionUpdateRespectsLocks(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := srv.headersFor(t, "alice", "g1")

	p := createProtocol(t, srv, alice, map[string]any{
		"meeting_date": "2026-03-02",
		"title":        "Weekly sync",
		"data":         map[string]any{"agenda": "a", "notes": "n"},
	})

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/api/protocols/"+p.ID, map[string]any{
		"locked_sections": []string{"agenda"},
	}, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("lock status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/api/protocols/"+p.ID+"/sections/agenda", map[string]any{
		"content": "changed",
	}, alice)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("locked section update status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "section_locked" {
		t.Fatalf("error code = %q, want section_locked", envelope.Error.Code)
	}

	// Unlocked sections still editable.
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/api/protocols/"+p.ID+"/sections/notes", map[string]any{
		"content": "changed",
	}, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unlocked section update status %d: %s", res.StatusCode, string(data))
	}
}

func TestCrossGroupAccess(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := srv.headersFor(t, "alice", "g1")
	carol := srv.headersFor(t, "carol", "g2")

	p := createProtocol(t, srv, alice, map[string]any{
		"meeting_date": "2026-03-02",
		"title":        "Weekly sync",
	})

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/protocols/"+p.ID, nil, carol)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-group get status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/api/protocols/"+p.ID, map[string]any{"title": "hijack"}, carol)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-group update status %d: %s", res.StatusCode, string(data))
	}
	// Sub-entity routes do not reveal the protocol's existence.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/protocols/"+p.ID+"/versions", nil, carol)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-group versions status %d: %s", res.StatusCode, string(data))
	}
	// Listing is scoped to the caller's group.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/protocols", nil, carol)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var items []domain.Protocol
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("carol sees %d protocols, want 0", len(items))
	}
}

func TestFinalizeDerivesTasksAndIsTerminal(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := srv.headersFor(t, "alice", "g1")

	p := createProtocol(t, srv, alice, map[string]any{
		"meeting_date": "2026-03-02",
		"title":        "Weekly sync",
		"data": map[string]any{
			"todos": map[string]any{
				"bob": []map[string]any{
					{"title": "Book the room", "priority": "high", "deadline": "2026-03-09"},
					{"title": "   "},
					{"title": "Send minutes"},
				},
			},
		},
	})

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/protocols/"+p.ID+"/finalize", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("finalize status %d: %s", res.StatusCode, string(data))
	}
	var finalized domain.Protocol
	if err := json.Unmarshal(data, &finalized); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if finalized.Status != "finalized" {
		t.Fatalf("status = %q, want finalized", finalized.Status)
	}
	if finalized.FinalizedBy == nil || *finalized.FinalizedBy != "alice" {
		t.Fatalf("finalized_by = %v, want alice", finalized.FinalizedBy)
	}
	if finalized.Version != p.Version {
		t.Fatalf("finalize bumped version to %d", finalized.Version)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/protocols/"+p.ID+"/tasks", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("protocol tasks status %d: %s", res.StatusCode, string(data))
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("derived %d tasks, want 2 (blank title skipped)", len(tasks))
	}
	byTitle := map[string]domain.Task{}
	for _, task := range tasks {
		byTitle[task.Title] = task
	}
	booked, ok := byTitle["Book the room"]
	if !ok {
		t.Fatal("missing derived task 'Book the room'")
	}
	if booked.Priority != "high" || booked.AssignedTo == nil || *booked.AssignedTo != "bob" {
		t.Fatalf("derived task fields off: %+v", booked)
	}
	if booked.Category != "protocol-task" {
		t.Fatalf("category = %q, want protocol-task", booked.Category)
	}
	if sent := byTitle["Send minutes"]; sent.Priority != "medium" {
		t.Fatalf("default priority = %q, want medium", sent.Priority)
	}

	// Terminal: a second finalize and any further edit are rejected.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/protocols/"+p.ID+"/finalize", nil, alice)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("double finalize status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "already_finalized" {
		t.Fatalf("error code = %q, want already_finalized", envelope.Error.Code)
	}
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/api/protocols/"+p.ID, map[string]any{"title": "too late"}, alice)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("edit after finalize status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/api/protocols/"+p.ID+"/sections/todos", map[string]any{"content": "x"}, alice)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("section edit after finalize status %d: %s", res.StatusCode, string(data))
	}
}

func TestAttendeesUpsert(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := srv.headersFor(t, "alice", "g1")

	p := createProtocol(t, srv, alice, map[string]any{
		"meeting_date": "2026-03-02",
		"title":        "Weekly sync",
	})

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/api/protocols/"+p.ID+"/attendees", map[string]any{
		"attendees": []map[string]any{
			{"user_id": "alice", "attendance_type": "present"},
			{"user_id": "bob", "attendance_type": "online", "capacity_tasks": 50},
		},
	}, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("attendees status %d: %s", res.StatusCode, string(data))
	}
	var rows []domain.Attendee
	if err := json.Unmarshal(data, &rows); err != nil {
		t.Fatalf("unmarshal attendees: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}

	// Resubmitting the same user updates in place, no duplicate row.
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/api/protocols/"+p.ID+"/attendees", map[string]any{
		"attendees": []map[string]any{
			{"user_id": "bob", "attendance_type": "absent"},
		},
	}, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("attendees resubmit status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/protocols/"+p.ID, nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("detail status %d: %s", res.StatusCode, string(data))
	}
	var detail ProtocolDetailResponse
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatalf("unmarshal detail: %v", err)
	}
	if len(detail.Attendees) != 2 {
		t.Fatalf("len(attendees) = %d, want 2", len(detail.Attendees))
	}
	for _, a := range detail.Attendees {
		if a.UserID == "bob" {
			if a.AttendanceType != "absent" {
				t.Fatalf("bob attendance = %q, want absent", a.AttendanceType)
			}
			if a.CapacityTasks != 100 {
				t.Fatalf("bob capacity_tasks = %d, want default 100 after resubmit", a.CapacityTasks)
			}
		}
		if a.UserID == "alice" && a.CapacityTasks != 100 {
			t.Fatalf("alice capacity_tasks = %d, want default 100", a.CapacityTasks)
		}
	}
	if p2 := detail.Protocol; p2.Version != p.Version {
		t.Fatalf("attendance bumped version to %d", p2.Version)
	}
}

func TestCommentLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := srv.headersFor(t, "alice", "g1")
	bob := srv.headersFor(t, "bob", "g1")

	p := createProtocol(t, srv, alice, map[string]any{
		"meeting_date": "2026-03-02",
		"title":        "Weekly sync",
	})

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/protocols/"+p.ID+"/comments", map[string]any{
		"section_id": "agenda",
		"comment":    "needs a third item",
	}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add comment status %d: %s", res.StatusCode, string(data))
	}
	var c domain.Comment
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("unmarshal comment: %v", err)
	}
	if c.Resolved {
		t.Fatal("new comment already resolved")
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/api/protocols/"+p.ID+"/comments/"+c.ID+"/resolve", nil, bob)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve status %d: %s", res.StatusCode, string(data))
	}
	var resolved domain.Comment
	if err := json.Unmarshal(data, &resolved); err != nil {
		t.Fatalf("unmarshal resolved: %v", err)
	}
	if !resolved.Resolved || resolved.ResolvedBy == nil || *resolved.ResolvedBy != "bob" {
		t.Fatalf("resolved comment fields off: %+v", resolved)
	}

	// Idempotent: a second resolve keeps the first resolver.
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/api/protocols/"+p.ID+"/comments/"+c.ID+"/resolve", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("re-resolve status %d: %s", res.StatusCode, string(data))
	}
	var again domain.Comment
	_ = json.Unmarshal(data, &again)
	if again.ResolvedBy == nil || *again.ResolvedBy != "bob" {
		t.Fatalf("re-resolve changed resolver to %v", again.ResolvedBy)
	}
}

func TestTaskRoutes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := srv.headersFor(t, "alice", "g1")
	carol := srv.headersFor(t, "carol", "g2")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/tasks", map[string]any{
		"title":       "Order chairs",
		"assigned_to": "bob",
		"deadline":    "2020-01-01",
		"priority":    "high",
	}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if task.Status != "open" {
		t.Fatalf("new task status = %q, want open", task.Status)
	}

	// Past deadline and not done: shows up in the overdue filter.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/tasks?overdue=true", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("overdue list status %d: %s", res.StatusCode, string(data))
	}
	var overdue []domain.Task
	if err := json.Unmarshal(data, &overdue); err != nil {
		t.Fatalf("unmarshal overdue: %v", err)
	}
	if len(overdue) != 1 {
		t.Fatalf("overdue count = %d, want 1", len(overdue))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/api/tasks/"+task.ID+"/status", map[string]any{
		"status":           "done",
		"completion_notes": "delivered Friday",
	}, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status update %d: %s", res.StatusCode, string(data))
	}
	var done domain.Task
	if err := json.Unmarshal(data, &done); err != nil {
		t.Fatalf("unmarshal done: %v", err)
	}
	if done.CompletedAt == nil || done.CompletionNotes != "delivered Friday" {
		t.Fatalf("completion fields off: %+v", done)
	}

	// Cross-group callers cannot touch the task.
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/api/tasks/"+task.ID, map[string]any{"title": "hijack"}, carol)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-group task update status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/api/tasks/"+task.ID, nil, alice)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/tasks/"+task.ID, nil, alice)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status %d", res.StatusCode)
	}
}

func TestActivityFeed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := srv.headersFor(t, "alice", "g1")

	p := createProtocol(t, srv, alice, map[string]any{
		"meeting_date": "2026-03-02",
		"title":        "Weekly sync",
	})
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/protocols/"+p.ID+"/finalize", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("finalize status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/activity", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("activity status %d: %s", res.StatusCode, string(data))
	}
	var entries []domain.ActivityLog
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("unmarshal activity: %v", err)
	}
	actions := map[string]bool{}
	for _, entry := range entries {
		actions[entry.Action] = true
	}
	if !actions["created"] || !actions["finalized"] {
		t.Fatalf("activity actions = %v, want created and finalized", actions)
	}
}
