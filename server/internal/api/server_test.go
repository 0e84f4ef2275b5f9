package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"backpack-tutor/server/internal/catalog"
	"backpack-tutor/server/internal/config"
	"backpack-tutor/server/internal/model"
	"backpack-tutor/server/internal/retriever"
	"backpack-tutor/server/internal/session"
	"backpack-tutor/server/internal/timeline"
	"backpack-tutor/server/internal/tutor"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testCatalog() *catalog.Catalog {
	return catalog.New([]catalog.Module{
		{
			ModuleID: "algebra-1",
			Name:     "Linear Equations",
			Goals: []model.LearningGoal{
				{ID: "g1", Description: "Understand what makes an equation linear", Order: 1},
			},
			Passages: []model.Passage{
				{Text: "A linear equation has variables raised only to the first power.", SourceRef: "ch1"},
			},
		},
		{ModuleID: "empty-mod", Name: "Empty Module"},
	})
}

func newTestServer(mock *tutor.MockLLMClient) *Server {
	return newTestServerWithStore(mock, session.NewInMemoryStore())
}

func newTestServerWithStore(mock *tutor.MockLLMClient, store session.Store) *Server {
	cfg := &config.Config{
		Tutor: config.TutorConfig{
			ResolutionThreshold: 0.7,
			MaxStarterQuestions: 5,
			MaxContextPassages:  5,
		},
		Retriever: config.RetrieverConfig{MaxResults: 4},
	}
	cat := testCatalog()
	engine := tutor.New(cfg, store, timeline.NewInMemoryStore(), cat, mock, retriever.NewKeywordRetriever(cat), time.Now)
	return NewServer(cfg, cat, engine)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func createSession(t *testing.T, handler http.Handler, moduleID string) model.CreateSessionResponse {
	t.Helper()
	w := doJSON(t, handler, http.MethodPost, "/api/sessions", model.CreateSessionRequest{ModuleID: moduleID})
	if w.Code != http.StatusOK {
		t.Fatalf("create session: status %d body %s", w.Code, w.Body.String())
	}
	var resp model.CreateSessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestHealthz(t *testing.T) {
	handler := newTestServer(tutor.NewMockLLMClient()).Routes()
	w := doJSON(t, handler, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
}

func TestListModules(t *testing.T) {
	handler := newTestServer(tutor.NewMockLLMClient()).Routes()
	w := doJSON(t, handler, http.MethodGet, "/api/modules", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}

	var modules []moduleSummary
	if err := json.Unmarshal(w.Body.Bytes(), &modules); err != nil {
		t.Fatal(err)
	}
	if len(modules) != 2 {
		t.Fatalf("expected 2 modules, got %d", len(modules))
	}
	if modules[0].ModuleID != "algebra-1" || modules[0].GoalCount != 1 {
		t.Errorf("unexpected first module: %+v", modules[0])
	}
}

func TestCreateSessionEndpoint(t *testing.T) {
	handler := newTestServer(tutor.NewMockLLMClient()).Routes()
	resp := createSession(t, handler, "algebra-1")

	if resp.SessionID == "" || resp.TotalGoals != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if !strings.Contains(resp.FirstMessage, "**Question 1:**") {
		t.Errorf("expected first question in message: %s", resp.FirstMessage)
	}
}

func TestCreateSessionErrors(t *testing.T) {
	handler := newTestServer(tutor.NewMockLLMClient()).Routes()

	w := doJSON(t, handler, http.MethodPost, "/api/sessions", model.CreateSessionRequest{ModuleID: "nope"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown module: expected 404, got %d", w.Code)
	}

	w = doJSON(t, handler, http.MethodPost, "/api/sessions", model.CreateSessionRequest{ModuleID: "empty-mod"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty module: expected 422, got %d", w.Code)
	}

	w = doJSON(t, handler, http.MethodPost, "/api/sessions", model.CreateSessionRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing module_id: expected 400, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed json: expected 400, got %d", rec.Code)
	}
}

func TestRespondFlow(t *testing.T) {
	mock := tutor.NewMockLLMClient()
	mock.QuestionTexts = []string{"Only question?"}
	mock.Scores = []float64{0.9}
	handler := newTestServer(mock).Routes()

	resp := createSession(t, handler, "algebra-1")

	w := doJSON(t, handler, http.MethodPost, "/api/sessions/"+resp.SessionID+"/respond",
		model.RespondRequest{Message: "variables only to the first power"})
	if w.Code != http.StatusOK {
		t.Fatalf("respond: status %d body %s", w.Code, w.Body.String())
	}

	var result model.TurnResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Phase != model.TurnPhaseSessionComplete {
		t.Errorf("expected session_complete, got %s", result.Phase)
	}

	// 终态后的 respond → 409。
	w = doJSON(t, handler, http.MethodPost, "/api/sessions/"+resp.SessionID+"/respond",
		model.RespondRequest{Message: "more"})
	if w.Code != http.StatusConflict {
		t.Errorf("respond after complete: expected 409, got %d", w.Code)
	}

	// 总结现在可取。
	w = doJSON(t, handler, http.MethodGet, "/api/sessions/"+resp.SessionID+"/summary", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("summary: status %d", w.Code)
	}
	var summary model.SessionSummary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatal(err)
	}
	if summary.GoalsCompleted != 1 {
		t.Errorf("expected 1 goal completed, got %d", summary.GoalsCompleted)
	}
}

func TestRespondErrors(t *testing.T) {
	handler := newTestServer(tutor.NewMockLLMClient()).Routes()

	w := doJSON(t, handler, http.MethodPost, "/api/sessions/missing/respond", model.RespondRequest{Message: "hi"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown session: expected 404, got %d", w.Code)
	}

	resp := createSession(t, handler, "algebra-1")
	w = doJSON(t, handler, http.MethodPost, "/api/sessions/"+resp.SessionID+"/respond", model.RespondRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty message: expected 400, got %d", w.Code)
	}
}

// staleStore 在非首次写入时固定返回版本冲突，模拟并发 respond 输掉的一方。
type staleStore struct {
	session.Store
}

func (s *staleStore) Save(ctx context.Context, st *model.Session, expectedVersion int64) error {
	if expectedVersion > 0 {
		return session.ErrVersionConflict
	}
	return s.Store.Save(ctx, st, expectedVersion)
}

// 版本冲突 → 409 + retryable，客户端原样重试即可。
func TestRespondVersionConflict(t *testing.T) {
	store := &staleStore{Store: session.NewInMemoryStore()}
	handler := newTestServerWithStore(tutor.NewMockLLMClient(), store).Routes()

	resp := createSession(t, handler, "algebra-1")

	w := doJSON(t, handler, http.MethodPost, "/api/sessions/"+resp.SessionID+"/respond",
		model.RespondRequest{Message: "my answer"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body %s", w.Code, w.Body.String())
	}

	var body struct {
		Error     string `json:"error"`
		Retryable bool   `json:"retryable"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Retryable {
		t.Errorf("expected retryable flag, got %s", w.Body.String())
	}
}

func TestStateAndTrajectoryEndpoints(t *testing.T) {
	mock := tutor.NewMockLLMClient()
	mock.Scores = []float64{0.3}
	handler := newTestServer(mock).Routes()

	resp := createSession(t, handler, "algebra-1")
	doJSON(t, handler, http.MethodPost, "/api/sessions/"+resp.SessionID+"/respond", model.RespondRequest{Message: "guess"})

	w := doJSON(t, handler, http.MethodGet, "/api/sessions/"+resp.SessionID+"/state", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("state: status %d", w.Code)
	}
	var state model.SessionStateView
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatal(err)
	}
	if state.Phase != model.PhaseAwaitingResponse || state.GoalsCompleted != 0 {
		t.Errorf("unexpected state: %+v", state)
	}

	w = doJSON(t, handler, http.MethodGet, "/api/sessions/"+resp.SessionID+"/trajectory", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("trajectory: status %d", w.Code)
	}
	var traj model.TrajectoryView
	if err := json.Unmarshal(w.Body.Bytes(), &traj); err != nil {
		t.Fatal(err)
	}
	if len(traj.Trajectory) != 1 {
		t.Errorf("expected 1 trajectory point, got %d", len(traj.Trajectory))
	}

	// 未完成会话取总结 → 409。
	w = doJSON(t, handler, http.MethodGet, "/api/sessions/"+resp.SessionID+"/summary", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("summary before complete: expected 409, got %d", w.Code)
	}
}

// 事件流：连接后先回放既有事件。
func TestStreamReplaysEvents(t *testing.T) {
	handler := newTestServer(tutor.NewMockLLMClient()).Routes()
	resp := createSession(t, handler, "algebra-1")

	srv := httptest.NewServer(handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + resp.SessionID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	// 创建会话至少产生 goal_started 和 tutor_message 两个事件。
	types := map[string]bool{}
	for i := 0; i < 2; i++ {
		var evt model.Event
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("read event %d: %v", i, err)
		}
		types[evt.Type] = true
	}
	if !types["goal_started"] || !types["tutor_message"] {
		t.Errorf("expected goal_started and tutor_message in replay, got %v", types)
	}
}

func TestStreamUnknownSession(t *testing.T) {
	handler := newTestServer(tutor.NewMockLLMClient()).Routes()
	w := doJSON(t, handler, http.MethodGet, "/api/sessions/missing/stream", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
