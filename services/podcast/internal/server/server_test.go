package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"podpdf/internal/ratelimit"
	"podpdf/pkg/domain"
	"podpdf/pkg/podcast"
	"podpdf/pkg/wav"
	"podpdf/services/podcast/internal/app"
)

const testScript = `{"title":"Cells","summary":"All about cells.","chapters":[{"title":"Intro","summary":"s","content":"Welcome to the show.","durationEstimate":"2 mins"},{"title":"Membranes","summary":"s","content":"Membranes keep things in.","durationEstimate":"3 mins"}]}`

type stubGenerator struct{ reply string }

func (g stubGenerator) GenerateText(context.Context, string, string) (string, error) {
	return g.reply, nil
}

type stubSpeech struct{ err error }

func (s stubSpeech) SynthesizeSpeech(context.Context, string, string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return make([]byte, 10), nil
}

func newTestServer(t *testing.T, cfg Config, speech stubSpeech) *httptest.Server {
	t.Helper()
	orch, err := podcast.New(podcast.Config{Generator: stubGenerator{reply: testScript}, Speech: speech})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	cfg.App, err = app.New(app.Config{Orchestrator: orch})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, body string, out any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp
}

func upload(t *testing.T, url, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = fw.Write([]byte(content))
	_ = mw.Close()
	resp, err := http.Post(url, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return resp
}

func createSession(t *testing.T, base string) domain.Session {
	t.Helper()
	var sess domain.Session
	if resp := doJSON(t, http.MethodPost, base+"/sessions", "", &sess); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status %d", resp.StatusCode)
	}
	return sess
}

func TestHealthAndVoices(t *testing.T) {
	ts := newTestServer(t, Config{}, stubSpeech{})
	if resp := doJSON(t, http.MethodGet, ts.URL+"/healthz", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
	var voices voicesResponse
	resp := doJSON(t, http.MethodGet, ts.URL+"/voices", "", &voices)
	if resp.StatusCode != http.StatusOK || len(voices.Voices) != 5 || len(voices.Emotions) != 6 {
		t.Fatalf("voices = %+v", voices)
	}
	if voices.DefaultVoice != domain.VoicePuck || voices.ArchiveEnabled {
		t.Fatalf("voices = %+v", voices)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestPodcastFlow(t *testing.T) {
	ts := newTestServer(t, Config{}, stubSpeech{})
	sess := createSession(t, ts.URL)
	base := ts.URL + "/sessions/" + sess.ID

	resp := upload(t, base+"/document", "notes.txt", "Cells are the unit of life.")
	var loaded domain.Session
	_ = json.NewDecoder(resp.Body).Decode(&loaded)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || loaded.Script == nil || len(loaded.Script.Chapters) != 2 {
		t.Fatalf("upload status %d session %+v", resp.StatusCode, loaded)
	}

	var player app.Player
	resp = doJSON(t, http.MethodPost, base+"/chapters/1/audio", "", &player)
	if resp.StatusCode != http.StatusOK || player.CurrentChapter != 1 || !player.Playing {
		t.Fatalf("select status %d player %+v", resp.StatusCode, player.Session)
	}
	if !strings.HasPrefix(player.AudioSrc, "data:audio/wav;base64,") {
		t.Fatalf("audioSrc = %.40q", player.AudioSrc)
	}

	wavResp, err := http.Get(base + "/chapters/1/audio.wav")
	if err != nil {
		t.Fatalf("get wav: %v", err)
	}
	data, _ := io.ReadAll(wavResp.Body)
	wavResp.Body.Close()
	if wavResp.Header.Get("Content-Type") != "audio/wav" || len(data) != 54 {
		t.Fatalf("wav content-type %q len %d", wavResp.Header.Get("Content-Type"), len(data))
	}
	if _, _, err := wav.Decode(data); err != nil {
		t.Fatalf("decode wav: %v", err)
	}

	resp = doJSON(t, http.MethodPatch, base+"/settings", `{"emotion":"Curious"}`, &player)
	if resp.StatusCode != http.StatusOK || player.Emotion != domain.EmotionCurious || !player.AudioLoaded {
		t.Fatalf("settings status %d player %+v", resp.StatusCode, player.Session)
	}

	var bookmark domain.Bookmark
	resp = doJSON(t, http.MethodPost, base+"/bookmarks", `{"timestamp":12.5,"note":"remember"}`, &bookmark)
	if resp.StatusCode != http.StatusCreated || bookmark.ChapterIndex != 1 {
		t.Fatalf("bookmark status %d %+v", resp.StatusCode, bookmark)
	}

	var list struct {
		Items []domain.Bookmark `json:"items"`
		Count int               `json:"count"`
	}
	doJSON(t, http.MethodGet, base+"/bookmarks", "", &list)
	if list.Count != 1 || list.Items[0].ID != bookmark.ID {
		t.Fatalf("bookmarks = %+v", list)
	}

	var jump jumpResponse
	resp = doJSON(t, http.MethodPost, base+"/bookmarks/"+bookmark.ID+"/jump", "", &jump)
	if resp.StatusCode != http.StatusOK || jump.SeekTo != 12.5 || jump.CurrentChapter != 1 {
		t.Fatalf("jump status %d %+v", resp.StatusCode, jump)
	}

	var rate domain.Session
	doJSON(t, http.MethodPost, base+"/playback-rate", "", &rate)
	if rate.PlaybackRate != 1.25 {
		t.Fatalf("playbackRate = %v", rate.PlaybackRate)
	}

	resp = doJSON(t, http.MethodPost, base+"/playback", `{"type":"pause"}`, &player)
	if resp.StatusCode != http.StatusOK || player.Playing {
		t.Fatalf("pause status %d player %+v", resp.StatusCode, player.Session)
	}

	var prefetch map[string]int
	if resp := doJSON(t, http.MethodPost, base+"/prefetch", "", &prefetch); resp.StatusCode != http.StatusOK || prefetch["chapters"] != 2 {
		t.Fatalf("prefetch status %d %v", resp.StatusCode, prefetch)
	}

	if resp := doJSON(t, http.MethodDelete, base+"/bookmarks/"+bookmark.ID, "", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete bookmark status %d", resp.StatusCode)
	}
	if resp := doJSON(t, http.MethodDelete, base, "", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete session status %d", resp.StatusCode)
	}
}

func TestErrorResponses(t *testing.T) {
	ts := newTestServer(t, Config{}, stubSpeech{err: podcast.ErrAudioGeneration})
	sess := createSession(t, ts.URL)
	base := ts.URL + "/sessions/" + sess.ID

	cases := []struct {
		method, path, body string
		status             int
		code               string
	}{
		{http.MethodGet, "/sessions/nope", "", http.StatusNotFound, "SESSION_NOT_FOUND"},
		{http.MethodPost, "/sessions/" + sess.ID + "/chapters/0/audio", "", http.StatusConflict, "NO_SCRIPT"},
		{http.MethodPost, "/sessions/" + sess.ID + "/chapters/x/audio", "", http.StatusBadRequest, "CHAPTER_OUT_OF_RANGE"},
		{http.MethodPatch, "/sessions/" + sess.ID + "/settings", `{"voice":"Robot"}`, http.StatusBadRequest, "INVALID_VOICE"},
		{http.MethodPatch, "/sessions/" + sess.ID + "/settings", `{}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{http.MethodPost, "/sessions/" + sess.ID + "/playback", `{"type":"play"}`, http.StatusConflict, "AUDIO_NOT_LOADED"},
		{http.MethodPost, "/sessions/" + sess.ID + "/bookmarks", `{"note":"x"}`, http.StatusBadRequest, "INVALID_TIMESTAMP"},
		{http.MethodPost, "/sessions/" + sess.ID + "/chapters/0/archive", "", http.StatusNotImplemented, "ARCHIVE_DISABLED"},
		{http.MethodPost, "/sessions/" + sess.ID + "/playback", `not json`, http.StatusBadRequest, "INVALID_JSON"},
	}
	for _, tc := range cases {
		var body errorResponse
		resp := doJSON(t, tc.method, ts.URL+tc.path, tc.body, &body)
		if resp.StatusCode != tc.status || body.Code != tc.code {
			t.Fatalf("%s %s = %d %+v, want %d %s", tc.method, tc.path, resp.StatusCode, body, tc.status, tc.code)
		}
		if body.RequestID == "" || body.RequestID != resp.Header.Get("X-Request-Id") {
			t.Fatalf("error body requestId %q does not match header", body.RequestID)
		}
	}

	resp := upload(t, base+"/document", "notes.txt", "Some text.")
	resp.Body.Close()
	var body errorResponse
	resp = doJSON(t, http.MethodPost, base+"/chapters/0/audio", "", &body)
	if resp.StatusCode != http.StatusBadGateway || body.Code != "PODCAST_AUDIO_FAILED" {
		t.Fatalf("audio failure = %d %+v", resp.StatusCode, body)
	}
}

func TestUploadValidation(t *testing.T) {
	ts := newTestServer(t, Config{AllowedExtensions: []string{"txt"}, MaxUploadBytes: 1 << 20}, stubSpeech{})
	sess := createSession(t, ts.URL)
	base := ts.URL + "/sessions/" + sess.ID

	resp := upload(t, base+"/document", "slides.pptx", "x")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unsupported type status %d", resp.StatusCode)
	}

	resp = upload(t, base+"/document", "empty.txt", "   ")
	var body errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity || body.Code != "PODCAST_EXTRACTION_FAILED" {
		t.Fatalf("empty upload = %d %+v", resp.StatusCode, body)
	}

	resp, err := http.Post(base+"/document", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-multipart status %d", resp.StatusCode)
	}
}

func TestUploadRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := ratelimit.NewFixedWindowLimiter(ratelimit.Config{
		RedisAddr: mr.Addr(),
		Prefix:    "test:upload",
		Limit:     1,
		Window:    time.Minute,
	})
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	ts := newTestServer(t, Config{UploadLimiter: limiter}, stubSpeech{})
	sess := createSession(t, ts.URL)
	url := ts.URL + "/sessions/" + sess.ID + "/document"

	resp1 := upload(t, url, "a.txt", "first document")
	resp1.Body.Close()
	if resp1.StatusCode != http.StatusOK {
		t.Fatalf("first upload expected 200, got %d", resp1.StatusCode)
	}
	resp2 := upload(t, url, "b.txt", "second document")
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second upload expected 429, got %d", resp2.StatusCode)
	}
	if resp2.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestUploadRateLimitLocal(t *testing.T) {
	limiter, err := ratelimit.NewLocalLimiter(1, time.Hour)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	ts := newTestServer(t, Config{UploadLimiter: limiter}, stubSpeech{})
	sess := createSession(t, ts.URL)
	url := ts.URL + "/sessions/" + sess.ID + "/document"

	resp := upload(t, url, "a.txt", "first document")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first upload expected 200, got %d", resp.StatusCode)
	}
	resp = upload(t, url, "b.txt", "second document")
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") != "3600" {
		t.Fatalf("second upload: status %d retry-after %q", resp.StatusCode, resp.Header.Get("Retry-After"))
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, Config{}, stubSpeech{})
	resp := doJSON(t, http.MethodPut, ts.URL+"/sessions", "", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("PUT /sessions status %d", resp.StatusCode)
	}
}
