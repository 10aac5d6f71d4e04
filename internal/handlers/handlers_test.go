package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lehigh-university-libraries/cookbook/internal/artifacts"
	"github.com/lehigh-university-libraries/cookbook/internal/catalog"
	"github.com/lehigh-university-libraries/cookbook/internal/models"
	"github.com/lehigh-university-libraries/cookbook/internal/storage"
)

type sent struct {
	kind   string // text, photo, document
	chatID int64
	body   string // text, caption or empty
	path   string
	format models.TextFormat
}

type recordingMessenger struct {
	mu      sync.Mutex
	sent    []sent
	failAll error
}

func (m *recordingMessenger) record(s sent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return m.failAll
	}
	m.sent = append(m.sent, s)
	return nil
}

func (m *recordingMessenger) SendText(_ context.Context, chatID int64, text string, format models.TextFormat) error {
	return m.record(sent{kind: "text", chatID: chatID, body: text, format: format})
}

func (m *recordingMessenger) SendPhoto(_ context.Context, chatID int64, path, caption string, format models.TextFormat) error {
	return m.record(sent{kind: "photo", chatID: chatID, body: caption, path: path, format: format})
}

func (m *recordingMessenger) SendDocument(_ context.Context, chatID int64, path string) error {
	return m.record(sent{kind: "document", chatID: chatID, path: path})
}

func (m *recordingMessenger) last(t *testing.T) sent {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	return m.sent[len(m.sent)-1]
}

type fakeArtifacts struct {
	documents []int64
	images    []int64
	imageErr  error
	docErr    error
}

func (f *fakeArtifacts) DocumentFor(_ context.Context, rec models.Record) (string, error) {
	if f.docErr != nil {
		return "", f.docErr
	}
	f.documents = append(f.documents, rec.ID)
	return "/tmp/pdfs/" + rec.Name + ".pdf", nil
}

func (f *fakeArtifacts) ImageFor(_ context.Context, rec models.Record) (string, error) {
	if f.imageErr != nil {
		return "", f.imageErr
	}
	f.images = append(f.images, rec.ID)
	return "/tmp/images/" + rec.Name + "-000.png", nil
}

type fixture struct {
	handler   *Handler
	sessions  *storage.SessionStore
	artifacts *fakeArtifacts
	messenger *recordingMessenger
	catalog   *catalog.Store
}

func newFixture(t *testing.T, entries ...catalog.Entry) *fixture {
	t.Helper()
	store, err := catalog.Open(catalog.MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.Load(context.Background(), staticSource(entries))
	require.NoError(t, err)

	f := &fixture{
		sessions:  storage.New(),
		artifacts: &fakeArtifacts{},
		messenger: &recordingMessenger{},
		catalog:   store,
	}
	f.handler = New(f.sessions, store, f.artifacts, f.messenger)
	return f
}

type staticSource []catalog.Entry

func (s staticSource) Entries() ([]catalog.Entry, error) { return s, nil }

func (f *fixture) do(t *testing.T, chatID int64, intent models.Intent) error {
	t.Helper()
	return f.handler.Handle(context.Background(), models.Request{ID: "test", ChatID: chatID, Intent: intent})
}

func numbered(n int) []catalog.Entry {
	entries := make([]catalog.Entry, n)
	for i := range entries {
		entries[i] = catalog.Entry{Name: fmt.Sprintf("Recipe %d", i+1), Start: i + 1, End: i + 1}
	}
	return entries
}

func TestHelp(t *testing.T) {
	f := newFixture(t, numbered(1)...)

	require.NoError(t, f.do(t, 1, models.IntentHelp))
	msg := f.messenger.last(t)
	assert.Equal(t, "text", msg.kind)
	assert.True(t, strings.HasPrefix(msg.body, "These commands are supported:"))
	for _, c := range Commands() {
		assert.Contains(t, msg.body, "/"+string(c.Intent))
	}
	assert.Equal(t, models.StateStart, f.sessions.Get(1).State)
}

func TestNextVisitsEveryRecipeOnce(t *testing.T) {
	const size = 6
	f := newFixture(t, numbered(size)...)

	seen := map[int64]bool{}
	for i := 0; i < size; i++ {
		require.NoError(t, f.do(t, 1, models.IntentNext))
		session := f.sessions.Get(1)
		require.Equal(t, models.StateBrowsing, session.State)
		require.Len(t, session.History, i+1)

		last, _ := session.Last()
		assert.False(t, seen[last], "recipe %d shown twice", last)
		seen[last] = true
	}
	assert.Len(t, seen, size)

	require.NoError(t, f.do(t, 1, models.IntentNext))
	assert.Equal(t, exhaustedText, f.messenger.last(t).body)
	assert.Equal(t, models.StateStart, f.sessions.Get(1).State)
}

func TestNewStartsFreshCycle(t *testing.T) {
	f := newFixture(t, numbered(1)...)

	require.NoError(t, f.do(t, 1, models.IntentNew))
	// next would be exhausted, new starts over
	require.NoError(t, f.do(t, 1, models.IntentNew))

	session := f.sessions.Get(1)
	assert.Equal(t, models.StateBrowsing, session.State)
	assert.Equal(t, []int64{1}, session.History)
}

func TestAcceptFromStart(t *testing.T) {
	f := newFixture(t, numbered(2)...)

	require.NoError(t, f.do(t, 1, models.IntentAccept))
	msg := f.messenger.last(t)
	assert.Equal(t, guidanceText, msg.body)
	assert.Equal(t, models.StateStart, f.sessions.Get(1).State)
	assert.Empty(t, f.artifacts.documents)
}

func TestAcceptTargetsMostRecent(t *testing.T) {
	f := newFixture(t, numbered(4)...)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.do(t, 1, models.IntentNext))
	}
	last, ok := f.sessions.Get(1).Last()
	require.True(t, ok)

	require.NoError(t, f.do(t, 1, models.IntentAccept))
	assert.Equal(t, []int64{last}, f.artifacts.documents)

	msg := f.messenger.last(t)
	assert.Equal(t, "document", msg.kind)
	assert.Equal(t, fmt.Sprintf("/tmp/pdfs/Recipe %d.pdf", last), msg.path)

	session := f.sessions.Get(1)
	assert.Equal(t, models.StateStart, session.State)
	assert.Empty(t, session.History)
}

func TestRenderPictureAndText(t *testing.T) {
	f := newFixture(t, catalog.Entry{Name: "Mac_n_cheese", Start: 1, End: 1, HasPicture: true})

	require.NoError(t, f.do(t, 1, models.IntentNew))
	msg := f.messenger.last(t)
	assert.Equal(t, "photo", msg.kind)
	assert.Equal(t, "/tmp/images/Mac_n_cheese-000.png", msg.path)
	assert.Equal(t, "*Mac\\_n\\_cheese*"+hintText, msg.body)
	assert.Equal(t, models.FormatMarkdownV2, msg.format)

	g := newFixture(t, catalog.Entry{Name: "Soup", Start: 1, End: 2, HasPicture: false})
	require.NoError(t, g.do(t, 1, models.IntentNew))
	msg = g.messenger.last(t)
	assert.Equal(t, "text", msg.kind)
	assert.Equal(t, "*Soup*"+hintText, msg.body)
	assert.Empty(t, g.artifacts.images)
}

func TestImageFailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, catalog.Entry{Name: "Cake", Start: 3, End: 5, HasPicture: true})
	f.artifacts.imageErr = &artifacts.ToolError{Tool: "pdfimages", ExitCode: 99, Stderr: "Syntax Error: secret detail"}

	err := f.do(t, 1, models.IntentNext)
	require.ErrorIs(t, err, artifacts.ErrToolFailed)

	msg := f.messenger.last(t)
	assert.Equal(t, failureText, msg.body)
	assert.NotContains(t, msg.body, "secret detail")
	assert.Equal(t, models.StateStart, f.sessions.Get(1).State)

	// retry works once the tool recovers
	f.artifacts.imageErr = nil
	require.NoError(t, f.do(t, 1, models.IntentNext))
	assert.Equal(t, models.StateBrowsing, f.sessions.Get(1).State)
}

func TestAcceptFailureKeepsSelection(t *testing.T) {
	f := newFixture(t, numbered(2)...)
	require.NoError(t, f.do(t, 1, models.IntentNext))
	before := f.sessions.Get(1)

	f.artifacts.docErr = fmt.Errorf("%w: pdftk", artifacts.ErrToolUnavailable)
	err := f.do(t, 1, models.IntentAccept)
	require.ErrorIs(t, err, artifacts.ErrToolUnavailable)

	assert.Equal(t, failureText, f.messenger.last(t).body)
	assert.Equal(t, before.History, f.sessions.Get(1).History)
}

func TestAcceptUnknownRecordIsDataIntegrityError(t *testing.T) {
	f := newFixture(t, numbered(1)...)
	f.sessions.Set(models.Session{ChatID: 1, State: models.StateBrowsing, History: []int64{42}})

	err := f.do(t, 1, models.IntentAccept)
	require.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Equal(t, failureText, f.messenger.last(t).body)
	assert.Equal(t, []int64{42}, f.sessions.Get(1).History)
}

func TestSessionsAreIndependent(t *testing.T) {
	f := newFixture(t, numbered(2)...)

	require.NoError(t, f.do(t, 1, models.IntentNext))
	require.NoError(t, f.do(t, 1, models.IntentNext))
	require.NoError(t, f.do(t, 2, models.IntentNext))

	assert.Len(t, f.sessions.Get(1).History, 2)
	assert.Len(t, f.sessions.Get(2).History, 1)
}

func TestSoupAndCakeScenario(t *testing.T) {
	f := newFixture(t,
		catalog.Entry{Name: "Soup", Start: 1, End: 2, HasPicture: false},
		catalog.Entry{Name: "Cake", Start: 3, End: 5, HasPicture: true},
	)

	shownAs := func(msg sent) string {
		switch msg.kind {
		case "text":
			require.Equal(t, "*Soup*"+hintText, msg.body)
			return "Soup"
		case "photo":
			require.Equal(t, "*Cake*"+hintText, msg.body)
			return "Cake"
		}
		t.Fatalf("unexpected message kind %q", msg.kind)
		return ""
	}

	require.NoError(t, f.do(t, 1, models.IntentNew))
	first := shownAs(f.messenger.last(t))

	require.NoError(t, f.do(t, 1, models.IntentNext))
	second := shownAs(f.messenger.last(t))
	assert.NotEqual(t, first, second)

	require.NoError(t, f.do(t, 1, models.IntentNext))
	assert.Equal(t, exhaustedText, f.messenger.last(t).body)
	assert.Equal(t, models.StateStart, f.sessions.Get(1).State)

	require.NoError(t, f.do(t, 1, models.IntentAccept))
	assert.Equal(t, guidanceText, f.messenger.last(t).body)
	assert.Equal(t, models.StateStart, f.sessions.Get(1).State)
}

func TestSendFailureReported(t *testing.T) {
	f := newFixture(t, numbered(1)...)
	f.messenger.failAll = errors.New("network down")

	err := f.do(t, 1, models.IntentNext)
	assert.Error(t, err)
	assert.Equal(t, models.StateStart, f.sessions.Get(1).State)
}

func TestUnknownIntent(t *testing.T) {
	f := newFixture(t, numbered(1)...)
	assert.Error(t, f.do(t, 1, models.Intent("dance")))
}

func TestEscapeMarkdown(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Soup", "Soup"},
		{"A_B", "A\\_B"},
		{"Crème brûlée", "Crème brûlée"},
		{"Pie (apple) v2.0!", "Pie \\(apple\\) v2\\.0\\!"},
		{"_*[]()~`>#+-=|{}.!", "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, EscapeMarkdown(tt.in))
		})
	}
}

func TestSessionRoutes(t *testing.T) {
	f := newFixture(t, numbered(2)...)
	require.NoError(t, f.do(t, 5, models.IntentNext))

	r := chi.NewRouter()
	r.Get("/api/sessions", f.handler.HandleSessions)
	r.HandleFunc("/api/sessions/{chatID}", f.handler.HandleSessionDetail)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"chat_id":5`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/5", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"browsing"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/sessions/5", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/5", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
