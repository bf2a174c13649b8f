package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/session-scribe/internal/jobs"
	"github.com/yourusername/session-scribe/internal/storage"
)

type stubService struct {
	submitReq   jobs.SubmitRequest
	submitGuild string
	submitRes   jobs.SubmitResult
	submitErr   error

	job       jobs.Job
	err       error
	list      []jobs.Job
	subscribe []jobs.Target
}

func (s *stubService) Submit(ctx context.Context, guildID string, req jobs.SubmitRequest) (jobs.SubmitResult, error) {
	s.submitGuild = guildID
	s.submitReq = req
	return s.submitRes, s.submitErr
}

func (s *stubService) Status(guildID, jobID string) (jobs.Job, error) { return s.job, s.err }
func (s *stubService) List(guildID string) []jobs.Job                 { return s.list }
func (s *stubService) Cancel(guildID, jobID string) (jobs.Job, error) { return s.job, s.err }

func (s *stubService) Subscribe(guildID, jobID string, target jobs.Target) error {
	if s.err != nil {
		return s.err
	}
	s.subscribe = append(s.subscribe, target)
	return nil
}

func newTestEngine(t *testing.T, svc Service, root string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(svc, storage.NewLocal(root), nil).Register(router.Group("/api"))
	return router
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSubmitDefaultsToGuildSession(t *testing.T) {
	root := t.TempDir()
	svc := &stubService{submitRes: jobs.SubmitResult{JobID: "job-1", Created: true, Status: jobs.StatusQueued}}
	router := newTestEngine(t, svc, root)

	rec := doJSON(router, http.MethodPost, "/api/guilds/42/transcriptions", map[string]any{
		"diarization": true,
		"notify":      map[string]string{"channelId": "c1", "userId": "u1"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decode(t, rec)
	require.Equal(t, "job-1", body["jobId"])
	require.Equal(t, true, body["subscribed"])
	require.Equal(t, "42", svc.submitGuild)
	require.Equal(t, filepath.Join(root, "42", storage.AudioFileName), svc.submitReq.AudioPath)
	require.NotNil(t, svc.submitReq.Diarization)
	require.True(t, *svc.submitReq.Diarization)
	require.Equal(t, []jobs.Target{{ChannelID: "c1", UserID: "u1"}}, svc.subscribe)
}

func TestSubmitDuplicateReturnsOK(t *testing.T) {
	root := t.TempDir()
	svc := &stubService{submitRes: jobs.SubmitResult{JobID: "job-1", Created: false, Status: jobs.StatusRunning}}
	router := newTestEngine(t, svc, root)

	audio := filepath.Join(root, "42", "take2.wav")
	rec := doJSON(router, http.MethodPost, "/api/guilds/42/transcriptions", map[string]any{"audioPath": audio})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, audio, svc.submitReq.AudioPath)
}

func TestSubmitRejectsPathsOutsideGuild(t *testing.T) {
	root := t.TempDir()
	cases := map[string]map[string]any{
		"other guild audio":    {"audioPath": filepath.Join(root, "99", storage.AudioFileName)},
		"traversal":            {"audioPath": filepath.Join(root, "42", "..", "99", storage.AudioFileName)},
		"outside root":         {"audioPath": "/etc/passwd"},
		"other guild metadata": {"metadataPath": filepath.Join(root, "99", storage.MetadataFileName)},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &stubService{}
			router := newTestEngine(t, svc, root)

			rec := doJSON(router, http.MethodPost, "/api/guilds/42/transcriptions", body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, "INVALID_INPUT", decode(t, rec)["code"])
			require.Empty(t, svc.submitGuild, "Submit must not be called")
		})
	}
}

func TestSubmitRejectsBadBody(t *testing.T) {
	router := newTestEngine(t, &stubService{}, t.TempDir())
	req := httptest.NewRequest(http.MethodPost, "/api/guilds/42/transcriptions", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_INPUT", decode(t, rec)["code"])
}

func TestErrorMapping(t *testing.T) {
	cases := map[string]struct {
		err  error
		want int
		code string
	}{
		"not found":   {err: &jobs.Error{Code: jobs.CodeNotFound, Message: "job x not found"}, want: http.StatusNotFound, code: "NOT_FOUND"},
		"conflict":    {err: &jobs.Error{Code: jobs.CodeConflict, Message: "running"}, want: http.StatusConflict, code: "CONFLICT"},
		"invalid":     {err: &jobs.Error{Code: jobs.CodeInvalidInput, Message: "bad"}, want: http.StatusBadRequest, code: "INVALID_INPUT"},
		"unavailable": {err: &jobs.Error{Code: jobs.CodeUnavailable, Message: "shutting down"}, want: http.StatusServiceUnavailable, code: "UNAVAILABLE"},
		"internal":    {err: context.DeadlineExceeded, want: http.StatusInternalServerError, code: "INTERNAL_ERROR"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			router := newTestEngine(t, &stubService{err: tc.err}, t.TempDir())

			for _, r := range []struct{ method, path string }{
				{http.MethodGet, "/api/guilds/g/transcriptions/x"},
				{http.MethodPost, "/api/guilds/g/transcriptions/x/cancel"},
			} {
				rec := doJSON(router, r.method, r.path, nil)
				require.Equal(t, tc.want, rec.Code, r.path)
				require.Equal(t, tc.code, decode(t, rec)["code"])
			}
		})
	}
}

func TestSubscribeRequiresChannel(t *testing.T) {
	svc := &stubService{}
	router := newTestEngine(t, svc, t.TempDir())

	rec := doJSON(router, http.MethodPost, "/api/guilds/g/transcriptions/j/subscribe", map[string]string{"userId": "u"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(router, http.MethodPost, "/api/guilds/g/transcriptions/j/subscribe", map[string]string{"channelId": "c"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.subscribe, 1)
}

func TestListAndStatus(t *testing.T) {
	svc := &stubService{
		job:  jobs.Job{ID: "j1", GuildID: "g", Status: jobs.StatusCompleted, ResultPath: "/t.json"},
		list: []jobs.Job{{ID: "j2"}, {ID: "j1"}},
	}
	router := newTestEngine(t, svc, t.TempDir())

	rec := doJSON(router, http.MethodGet, "/api/guilds/g/transcriptions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode(t, rec)["jobs"], 2)

	rec = doJSON(router, http.MethodGet, "/api/guilds/g/transcriptions/j1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, "completed", body["status"])
	require.Equal(t, "/t.json", body["resultPath"])
}
