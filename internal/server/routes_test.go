package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"llmcouncil/internal/config"
	"llmcouncil/internal/core"
	"llmcouncil/internal/storage"
	"llmcouncil/internal/util"
)

const testChairmanAnswer = "The council agrees: 4"

// answerInvoker answers from a fixed table keyed by model name. Models
// missing from the table fail.
type answerInvoker struct {
	mu      sync.Mutex
	answers map[string]string
	calls   int
}

func (a *answerInvoker) Invoke(ctx context.Context, spec core.ModelSpec, history []core.Message, timeout time.Duration) core.InvocationResult {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if answer, ok := a.answers[spec.Name]; ok {
		return core.Success(answer)
	}
	return core.Failuref("HTTP 404: model %s not found", spec.Name)
}

func (a *answerInvoker) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func testCouncilConfig() config.CouncilConfig {
	return config.CouncilConfig{
		Models: []core.ModelSpec{
			{Name: "llama3", URL: "http://ollama.test/api/chat"},
			{Name: "mistral", URL: "http://ollama.test/api/chat"},
			{Name: "phi3", URL: "http://ollama.test/api/chat"},
		},
		Chairman:        core.ModelSpec{Name: "llama3-chair", URL: "http://ollama.test/api/chat"},
		Timeout:         time.Second,
		ChairmanTimeout: time.Second,
	}
}

func newTestServerWithStats(t *testing.T, stats core.StatsStorage) (*Server, *answerInvoker) {
	t.Helper()
	return newTestServerWith(t, func(cfg *config.ServerConfig) {
		cfg.Stats = stats
	})
}

// newTestServerWith builds a test server after letting configure adjust the
// default configuration.
func newTestServerWith(t *testing.T, configure func(cfg *config.ServerConfig)) (*Server, *answerInvoker) {
	t.Helper()

	conversations, err := storage.NewFileConversationStore(filepath.Join(t.TempDir(), "conversations"))
	if err != nil {
		t.Fatalf("failed to create conversation store: %v", err)
	}
	invoker := &answerInvoker{answers: map[string]string{
		"llama3":       "4",
		"mistral":      "four",
		"llama3-chair": testChairmanAnswer,
	}}

	cfg := config.ServerConfig{
		Port:          "0",
		GinMode:       "test",
		ClientAPIKeys: []string{"test-key"},
		HTTPClientSettings: config.HTTPClientSettings{
			MaxIdleConns:        1,
			MaxIdleConnsPerHost: 1,
			MaxConnsPerHost:     1,
			IdleConnTimeout:     time.Second,
			TLSHandshakeTimeout: time.Second,
		},
		Council:       testCouncilConfig(),
		Stats:         storage.NewFileStatsStorage(filepath.Join(t.TempDir(), "stats.json")),
		Conversations: conversations,
		Logger:        &core.NopLogger{},
	}
	if configure != nil {
		configure(&cfg)
	}

	server, err := NewServer(cfg, WithInvoker(invoker))
	if err != nil {
		t.Fatalf("failed to create test server: %v", err)
	}
	t.Cleanup(func() {
		_ = server.Close()
		_ = conversations.Close()
	})
	return server, invoker
}

func newTestServer(t *testing.T) (*Server, *answerInvoker) {
	t.Helper()
	return newTestServerWith(t, nil)
}

func doRequest(t *testing.T, server *Server, method, path string, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set(core.HeaderContentType, core.ContentTypeJSON)
	if authed {
		req.Header.Set(core.HeaderAuthorization, core.AuthBearerPrefix+"test-key")
	}
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := util.UnmarshalJSON(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}

func createTestConversation(t *testing.T, server *Server) core.Conversation {
	t.Helper()
	w := doRequest(t, server, http.MethodPost, "/api/conversations", "{}", true)
	if w.Code != http.StatusOK {
		t.Fatalf("create conversation returned %d: %s", w.Code, w.Body.String())
	}
	var conv core.Conversation
	decodeBody(t, w, &conv)
	if conv.ID == "" || conv.Title != core.DefaultConversationTitle {
		t.Fatalf("unexpected new conversation: %+v", conv)
	}
	return conv
}

func TestServerRoutes_PublicAccess(t *testing.T) {
	server, _ := newTestServer(t)

	for _, path := range []string{"/health", "/api/stats", "/api/council"} {
		w := doRequest(t, server, http.MethodGet, path, "", false)
		if w.Code != http.StatusOK {
			t.Errorf("%s should be public, got %d", path, w.Code)
		}
	}

	w := doRequest(t, server, http.MethodGet, "/api/conversations", "", false)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("/api/conversations without key should return 401, got %d", w.Code)
	}
	w = doRequest(t, server, http.MethodPost, "/v1/council", `{"query":"hi"}`, false)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("/v1/council without key should return 401, got %d", w.Code)
	}
}

func TestServerRoutes_CouncilInfo(t *testing.T) {
	server, _ := newTestServer(t)

	w := doRequest(t, server, http.MethodGet, "/api/council", "", false)
	var info struct {
		Models   []core.ModelSpec `json:"models"`
		Chairman core.ModelSpec   `json:"chairman"`
		Timeout  float64          `json:"timeout_seconds"`
	}
	decodeBody(t, w, &info)
	if len(info.Models) != 3 || info.Models[0].Name != "llama3" || info.Chairman.Name != "llama3-chair" {
		t.Errorf("unexpected council info: %+v", info)
	}
	if info.Timeout != 1 {
		t.Errorf("timeout_seconds = %v, want 1", info.Timeout)
	}
}

func TestServerRoutes_ConversationLifecycle(t *testing.T) {
	server, _ := newTestServer(t)
	conv := createTestConversation(t, server)

	w := doRequest(t, server, http.MethodPost, "/api/conversations/"+conv.ID+"/message", `{"content":"What is 2+2?"}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("send message returned %d: %s", w.Code, w.Body.String())
	}
	var reply messageResponse
	decodeBody(t, w, &reply)
	if reply.ConversationID != conv.ID {
		t.Errorf("conversation_id = %q, want %q", reply.ConversationID, conv.ID)
	}
	if reply.Title == core.DefaultConversationTitle || reply.Title == "" {
		t.Errorf("first message should generate a title, got %q", reply.Title)
	}
	if reply.Round == nil || reply.Round.Final.Content != testChairmanAnswer {
		t.Fatalf("unexpected round: %+v", reply.Round)
	}
	if len(reply.Round.Responses) != 3 {
		t.Fatalf("expected an entry per council model, got %d", len(reply.Round.Responses))
	}
	if phi, ok := reply.Round.Responses.Get("phi3"); !ok || phi.OK() {
		t.Errorf("phi3 should be reported as failed, got %+v", phi)
	}

	w = doRequest(t, server, http.MethodGet, "/api/conversations/"+conv.ID, "", true)
	var stored core.Conversation
	decodeBody(t, w, &stored)
	if len(stored.Messages) != 2 {
		t.Fatalf("expected user and assistant messages, got %d", len(stored.Messages))
	}
	if stored.Messages[1].Round == nil || stored.Messages[1].Round.ID != reply.Round.ID {
		t.Errorf("assistant message should carry the round")
	}

	w = doRequest(t, server, http.MethodGet, "/api/conversations", "", true)
	var list []core.ConversationMetadata
	decodeBody(t, w, &list)
	if len(list) != 1 || list[0].MessageCount != 2 {
		t.Errorf("unexpected conversation list: %+v", list)
	}

	w = doRequest(t, server, http.MethodDelete, "/api/conversations/"+conv.ID, "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("delete returned %d", w.Code)
	}
	w = doRequest(t, server, http.MethodGet, "/api/conversations/"+conv.ID, "", true)
	if w.Code != http.StatusNotFound {
		t.Errorf("deleted conversation should be gone, got %d", w.Code)
	}
}

func TestServerRoutes_FollowUpKeepsTitleAndHistory(t *testing.T) {
	server, invoker := newTestServer(t)
	conv := createTestConversation(t, server)

	doRequest(t, server, http.MethodPost, "/api/conversations/"+conv.ID+"/message", `{"content":"What is 2+2?"}`, true)
	first := invoker.callCount()

	w := doRequest(t, server, http.MethodPost, "/api/conversations/"+conv.ID+"/message", `{"content":"And 3+3?"}`, true)
	var reply messageResponse
	decodeBody(t, w, &reply)

	// Three members and the chairman; no title call on follow-ups.
	if got := invoker.callCount() - first; got != 4 {
		t.Errorf("follow-up made %d calls, want 4", got)
	}
	if len(reply.Round.Query) != 3 {
		t.Errorf("follow-up should send the whole history, got %+v", reply.Round.Query)
	}
}

func TestServerRoutes_MessageErrors(t *testing.T) {
	server, _ := newTestServer(t)
	conv := createTestConversation(t, server)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown conversation", "/api/conversations/missing/message", `{"content":"hi"}`, http.StatusNotFound},
		{"empty content", "/api/conversations/" + conv.ID + "/message", `{"content":"  "}`, http.StatusBadRequest},
		{"malformed body", "/api/conversations/" + conv.ID + "/message", `{"content":`, http.StatusBadRequest},
		{"stream unknown conversation", "/api/conversations/missing/message/stream", `{"content":"hi"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, server, http.MethodPost, tt.path, tt.body, true)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestServerRoutes_StreamEmitsStagesInOrder(t *testing.T) {
	server, _ := newTestServer(t)
	conv := createTestConversation(t, server)

	w := doRequest(t, server, http.MethodPost, "/api/conversations/"+conv.ID+"/message/stream", `{"content":"What is 2+2?"}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("stream returned %d", w.Code)
	}
	if ct := w.Header().Get(core.HeaderContentType); ct != core.ContentTypeEventStream {
		t.Errorf("Content-Type = %q", ct)
	}

	body := w.Body.String()
	want := []string{
		core.EventStage1Start,
		core.EventStage1Complete,
		core.EventStage3Start,
		core.EventStage3Complete,
		core.EventTitleComplete,
		core.EventComplete,
	}
	last := -1
	for _, event := range want {
		idx := strings.Index(body, core.StreamEventPrefix+event+"\n")
		if idx < 0 {
			t.Fatalf("missing %s event in stream:\n%s", event, body)
		}
		if idx < last {
			t.Errorf("%s arrived out of order", event)
		}
		last = idx
	}
	if strings.Contains(body, core.StreamEventPrefix+core.EventError) {
		t.Errorf("unexpected error event:\n%s", body)
	}
	if !strings.Contains(body, testChairmanAnswer) {
		t.Error("stage3_complete should carry the chairman answer")
	}

	w = doRequest(t, server, http.MethodGet, "/api/conversations/"+conv.ID, "", true)
	var stored core.Conversation
	decodeBody(t, w, &stored)
	if len(stored.Messages) != 2 {
		t.Errorf("streamed round should be persisted, got %d messages", len(stored.Messages))
	}
}

func TestServerRoutes_StreamEmitsPeerReview(t *testing.T) {
	server, invoker := newTestServerWith(t, func(cfg *config.ServerConfig) {
		cfg.Council.PeerReview = true
	})
	conv := createTestConversation(t, server)

	w := doRequest(t, server, http.MethodPost, "/api/conversations/"+conv.ID+"/message/stream", `{"content":"What is 2+2?"}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("stream returned %d", w.Code)
	}

	body := w.Body.String()
	want := []string{
		core.EventStage1Complete,
		core.EventStage2Start,
		core.EventStage2Complete,
		core.EventStage3Start,
	}
	last := -1
	for _, event := range want {
		idx := strings.Index(body, core.StreamEventPrefix+event+"\n")
		if idx < 0 {
			t.Fatalf("missing %s event in stream:\n%s", event, body)
		}
		if idx < last {
			t.Errorf("%s arrived out of order", event)
		}
		last = idx
	}
	if !strings.Contains(body, `"label_to_model"`) {
		t.Errorf("stage2_complete should carry the label mapping:\n%s", body)
	}

	// 3 members + 3 reviewers + chairman + title.
	if got := invoker.callCount(); got != 8 {
		t.Errorf("invoker calls = %d, want 8", got)
	}

	w = doRequest(t, server, http.MethodGet, "/api/conversations/"+conv.ID, "", true)
	var stored core.Conversation
	decodeBody(t, w, &stored)
	if len(stored.Messages) != 2 || stored.Messages[1].Round == nil || stored.Messages[1].Round.Review == nil {
		t.Fatalf("stored round should keep the peer review: %+v", stored.Messages)
	}
	if got := stored.Messages[1].Round.Review.LabelToModel["Response A"]; got != "llama3" {
		t.Errorf("Response A = %q, want llama3", got)
	}
}

// titleCheckingStore records whether title_complete had already reached the
// client when the first round was saved.
type titleCheckingStore struct {
	core.ConversationStore
	recorder *httptest.ResponseRecorder

	mu          sync.Mutex
	saves       int
	titleEarly  bool
	savedTitles []string
}

func (s *titleCheckingStore) SaveConversation(ctx context.Context, conv *core.Conversation) error {
	s.mu.Lock()
	s.saves++
	if strings.Contains(s.recorder.Body.String(), core.StreamEventPrefix+core.EventTitleComplete) {
		s.titleEarly = true
	}
	s.savedTitles = append(s.savedTitles, conv.Title)
	s.mu.Unlock()
	return s.ConversationStore.SaveConversation(ctx, conv)
}

func TestServerRoutes_TitleCompleteFollowsSave(t *testing.T) {
	w := httptest.NewRecorder()
	var store *titleCheckingStore
	server, _ := newTestServerWith(t, func(cfg *config.ServerConfig) {
		store = &titleCheckingStore{ConversationStore: cfg.Conversations, recorder: w}
		cfg.Conversations = store
	})
	conv := createTestConversation(t, server)

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/"+conv.ID+"/message/stream",
		strings.NewReader(`{"content":"What is 2+2?"}`))
	req.Header.Set(core.HeaderContentType, core.ContentTypeJSON)
	req.Header.Set(core.HeaderAuthorization, core.AuthBearerPrefix+"test-key")
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("stream returned %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, core.StreamEventPrefix+core.EventTitleComplete+"\n") {
		t.Fatalf("missing title_complete event:\n%s", body)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.saves != 1 {
		t.Fatalf("saves = %d, want 1", store.saves)
	}
	if store.titleEarly {
		t.Error("title_complete was written before the conversation was saved")
	}
	if store.savedTitles[0] != testChairmanAnswer {
		t.Errorf("saved title = %q, want %q", store.savedTitles[0], testChairmanAnswer)
	}
}

func TestServerRoutes_StatelessCouncil(t *testing.T) {
	server, _ := newTestServer(t)

	w := doRequest(t, server, http.MethodPost, "/v1/council", `{"query":"What is 2+2?"}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("/v1/council returned %d: %s", w.Code, w.Body.String())
	}
	var round core.CouncilRound
	decodeBody(t, w, &round)
	if round.State != core.RoundComplete || round.Final.Content != testChairmanAnswer {
		t.Errorf("unexpected round: %+v", round)
	}

	w = doRequest(t, server, http.MethodPost, "/v1/council",
		`{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"},{"role":"user","content":"2+2?"}]}`, true)
	decodeBody(t, w, &round)
	if len(round.Query) != 3 {
		t.Errorf("messages should be passed through, got %+v", round.Query)
	}

	w = doRequest(t, server, http.MethodPost, "/v1/council", `{}`, true)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty history should return 400, got %d", w.Code)
	}
	w = doRequest(t, server, http.MethodPost, "/v1/council", `{"messages":[{"role":"robot","content":"hi"}]}`, true)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid role should return 400, got %d", w.Code)
	}

	w = doRequest(t, server, http.MethodGet, "/api/stats", "", false)
	var stats struct {
		Rounds struct {
			Total int64 `json:"total"`
		} `json:"rounds"`
	}
	decodeBody(t, w, &stats)
	if stats.Rounds.Total != 2 {
		t.Errorf("expected 2 recorded rounds, got %d", stats.Rounds.Total)
	}
}

type spyStorage struct {
	mu       sync.Mutex
	saveCall int
	lastStat core.RequestStats
}

func (s *spyStorage) SaveStats(stats *core.RequestStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saveCall++
	if stats != nil {
		s.lastStat = *stats
		s.lastStat.RequestHistory = append([]core.RequestRecord(nil), stats.RequestHistory...)
	}
	return nil
}

func (s *spyStorage) LoadStats() (*core.RequestStats, error) {
	return &core.RequestStats{}, nil
}

func (s *spyStorage) Close() error {
	return nil
}

func (s *spyStorage) snapshot() (int, core.RequestStats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	statsCopy := s.lastStat
	statsCopy.RequestHistory = append([]core.RequestRecord(nil), s.lastStat.RequestHistory...)
	return s.saveCall, statsCopy
}

func TestServerClose_PersistsBufferedMetrics(t *testing.T) {
	st := &spyStorage{}
	server, _ := newTestServerWithStats(t, st)

	server.metricsService.RecordInvocation("llama3", core.StageCouncil, true, 10*time.Millisecond)
	server.metricsService.RecordInvocation("mistral", core.StageCouncil, false, 20*time.Millisecond)

	beforeSaves, beforeStats := st.snapshot()
	if beforeStats.TotalRequests != 1 {
		t.Fatalf("only the first record should be persisted before close, got total=%d", beforeStats.TotalRequests)
	}

	if err := server.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	afterSaves, afterStats := st.snapshot()
	if afterSaves <= beforeSaves {
		t.Fatalf("close should persist once more, saves %d -> %d", beforeSaves, afterSaves)
	}
	if afterStats.TotalRequests != 2 {
		t.Fatalf("close should persist every invocation, got total=%d", afterStats.TotalRequests)
	}
	if len(afterStats.RequestHistory) != 2 {
		t.Fatalf("close should persist the full history, got history=%d", len(afterStats.RequestHistory))
	}
}

func TestServerClose_Idempotent(t *testing.T) {
	server, _ := newTestServer(t)

	if err := server.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := server.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
}

func TestNewServer_RejectsBadCouncil(t *testing.T) {
	cfg := config.ServerConfig{
		GinMode:       "test",
		Council:       config.CouncilConfig{Timeout: time.Second},
		Stats:         &spyStorage{},
		Conversations: &storage.FileConversationStore{},
		Logger:        &core.NopLogger{},
	}
	if _, err := NewServer(cfg, WithInvoker(&answerInvoker{})); err == nil {
		t.Fatal("empty roster should be rejected")
	}
}
