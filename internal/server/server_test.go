package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/notestream/internal/config"
	"github.com/MrWong99/notestream/internal/health"
	"github.com/MrWong99/notestream/internal/models"
	"github.com/MrWong99/notestream/internal/notegen"
	"github.com/MrWong99/notestream/internal/notestore"
	"github.com/MrWong99/notestream/internal/session"
	"github.com/MrWong99/notestream/pkg/note"
	"github.com/MrWong99/notestream/pkg/provider/llm"
	"github.com/MrWong99/notestream/pkg/provider/llm/mock"
)

// marqueeModel answers every request with one marquee block holding the
// batch text.
func marqueeModel() *mock.Provider {
	return &mock.Provider{CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		prompt := req.Messages[len(req.Messages)-1].Content
		batch := prompt[strings.LastIndex(prompt, "Transcript:\n")+len("Transcript:\n"):]
		batch = batch[:strings.Index(batch, "\n\n")]
		body, err := json.Marshal(map[string]any{
			"contentBlocks": []any{map[string]any{
				"kind":    "marquee",
				"content": []any{map[string]any{"content": []string{batch}}},
			}},
		})
		if err != nil {
			return nil, err
		}
		return &llm.CompletionResponse{Content: string(body), FinishReason: "stop"}, nil
	}}
}

type fixture struct {
	srv   *httptest.Server
	store notestore.Store
	model *mock.Provider
}

func newFixture(t *testing.T, keyed bool) *fixture {
	t.Helper()
	key := ""
	if keyed {
		key = "sk-test"
	}
	registry := models.NewRegistry([]models.Model{{Name: "GPT-4o", ID: "gpt-4o", IsOpenAI: true, APIKey: key}})
	model := marqueeModel()
	gen := notegen.New(models.NewProviders(func(models.Model) (llm.Provider, error) { return model, nil }))

	store := notestore.NewMemoryStore()
	sessions := session.NewManager(
		config.PipelineConfig{BatchSize: 3, SlidingWindowSize: 50, MaxAttempts: 2, AttemptTimeout: time.Second},
		session.Deps{Store: store, Models: registry, Processor: gen},
	)
	s := New(Options{
		Store:    store,
		Sessions: sessions,
		Health:   health.New(health.Ping("store", store), health.ModelConfigured(registry)),
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = sessions.Close(context.Background())
	})
	return &fixture{srv: srv, store: store, model: model}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (f *fixture) createNote(t *testing.T) note.Note {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/v1/notes", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[note.Note](t, resp)
}

// ─── REST ────────────────────────────────────────────────────────────────────

func TestNotes_CRUD(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)

	resp := f.do(t, http.MethodPost, "/v1/notes", createRequest{Title: "Planning", Color: "teal"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[note.Note](t, resp)
	assert.Equal(t, "Planning", created.Title)
	assert.Equal(t, "teal", created.Color)
	assert.NotEmpty(t, created.ID)

	other := f.createNote(t)
	assert.Equal(t, note.DefaultColor, other.Color)

	resp = f.do(t, http.MethodGet, "/v1/notes/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Planning", decode[note.Note](t, resp).Title)

	resp = f.do(t, http.MethodGet, "/v1/notes", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]note.Note](t, resp), 2)

	resp = f.do(t, http.MethodDelete, "/v1/notes/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = f.do(t, http.MethodGet, "/v1/notes/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = f.do(t, http.MethodDelete, "/v1/notes/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNotes_CreateRejectsUnknownColor(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	resp := f.do(t, http.MethodPost, "/v1/notes", createRequest{Color: "chartreuse"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode[errorResponse](t, resp).Error, "chartreuse")
}

func TestTranscript_FinalReturnsNote(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	n := f.createNote(t)
	path := "/v1/notes/" + n.ID + "/transcript"

	resp := f.do(t, http.MethodPost, path, transcriptRequest{Text: "hello"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.False(t, decode[submitResponse](t, resp).Batched)

	resp = f.do(t, http.MethodPost, path, transcriptRequest{Text: "hello there team"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	sub := decode[submitResponse](t, resp)
	assert.True(t, sub.Batched)
	assert.NotZero(t, sub.Seq)

	resp = f.do(t, http.MethodPost, path, transcriptRequest{Text: "hello there team lets wrap", Final: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	final := decode[submitResponse](t, resp)
	require.NotNil(t, final.Note)
	require.Len(t, final.Note.Content, 2)
	assert.Equal(t, []string{"hello there team"}, final.Note.Content[0].Marquees[0].Content)
	assert.Equal(t, []string{"lets wrap"}, final.Note.Content[1].Marquees[0].Content)
	assert.Zero(t, final.Pending)
}

func TestTranscript_UnknownNote(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	resp := f.do(t, http.MethodPost, "/v1/notes/nope/transcript", transcriptRequest{Text: "a b c"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTranscript_BadBody(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	n := f.createNote(t)
	resp := f.do(t, http.MethodPost, "/v1/notes/"+n.ID+"/transcript", map[string]any{"transcript": "wrong field"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRetry(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	n := f.createNote(t)

	resp := f.do(t, http.MethodPost, "/v1/notes/"+n.ID+"/retry", retryRequest{Text: " "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/notes/"+n.ID+"/retry", retryRequest{Text: "resend this"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		got, err := f.store.Get(context.Background(), n.ID)
		return err == nil && len(got.Content) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestReset(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	n := f.createNote(t)
	resp := f.do(t, http.MethodPost, "/v1/notes/"+n.ID+"/reset", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)

	resp := f.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "a missing model key is advisory")
	body := decode[map[string]any](t, resp)
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["store"])
	assert.Contains(t, checks["model"], "warn:")

	resp = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// ─── websocket ───────────────────────────────────────────────────────────────

func dial(t *testing.T, f *fixture, noteID string) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/notes/" + noteID + "/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn, ctx
}

// readUntil reads frames until one of type typ arrives and returns every
// frame read.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for {
		var m map[string]any
		require.NoError(t, wsjson.Read(ctx, conn, &m))
		frames = append(frames, m)
		if m["type"] == typ {
			return frames
		}
	}
}

func TestStream_TranscriptToStopped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	n := f.createNote(t)
	conn, ctx := dial(t, f, n.ID)

	require.NoError(t, wsjson.Write(ctx, conn, clientMessage{Type: msgTranscript, Text: "one two three"}))
	require.NoError(t, wsjson.Write(ctx, conn, clientMessage{Type: msgTranscript, Text: "one two three four"}))
	require.NoError(t, wsjson.Write(ctx, conn, clientMessage{Type: msgStop}))

	frames := readUntil(t, ctx, conn, msgStopped)
	var blocks []string
	for _, fr := range frames {
		if fr["type"] == string(session.EventBlocks) {
			b := fr["blocks"].([]any)[0].(map[string]any)
			item := b["content"].([]any)[0].(map[string]any)
			blocks = append(blocks, item["content"].([]any)[0].(string))
		}
	}
	assert.Equal(t, []string{"one two three", "four"}, blocks, "stopped must follow every batch")

	got, err := f.store.Get(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Len(t, got.Content, 2)
}

func TestStream_NoModelFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	n := f.createNote(t)
	conn, ctx := dial(t, f, n.ID)

	require.NoError(t, wsjson.Write(ctx, conn, clientMessage{Type: msgTranscript, Text: "nobody set a key"}))
	frames := readUntil(t, ctx, conn, string(session.EventFailed))
	failed := frames[len(frames)-1]
	assert.Equal(t, true, failed["needsModel"])
	assert.Equal(t, "nobody set a key", failed["text"])
	assert.Empty(t, f.model.Calls())
}

func TestStream_UnknownMessage(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	n := f.createNote(t)
	conn, ctx := dial(t, f, n.ID)

	require.NoError(t, wsjson.Write(ctx, conn, clientMessage{Type: "dance"}))
	frames := readUntil(t, ctx, conn, msgError)
	assert.Contains(t, frames[len(frames)-1]["error"], "dance")

	require.NoError(t, wsjson.Write(ctx, conn, clientMessage{Type: msgReset}))
	frames = readUntil(t, ctx, conn, string(session.EventReset))
	assert.Equal(t, n.ID, frames[len(frames)-1]["noteId"])
}

func TestStream_UnknownNote(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/notes/missing/stream"
	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServe_StopsWithContext(t *testing.T) {
	t.Parallel()
	store := notestore.NewMemoryStore()
	s := New(Options{Store: store, Sessions: session.NewManager(config.PipelineConfig{}, session.Deps{Store: store})})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx, "127.0.0.1:0") }()
	cancel()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
