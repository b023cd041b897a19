package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"cdlabel/internal/discogs"
	"cdlabel/internal/label"
	u "cdlabel/internal/utils"
)

// fakeLookup is a canned Discogs client.
type fakeLookup struct {
	rel       *discogs.Release
	err       error
	cover     []byte
	coverErr  error
	lookups   atomic.Int64
	coverHits atomic.Int64
}

func (f *fakeLookup) Lookup(ctx context.Context, query string) (*discogs.Release, error) {
	f.lookups.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.rel, nil
}

func (f *fakeLookup) CoverImage(ctx context.Context, rel *discogs.Release) ([]byte, error) {
	f.coverHits.Add(1)
	if f.coverErr != nil {
		return nil, f.coverErr
	}
	return f.cover, nil
}

func testCfg(t *testing.T) u.Config {
	t.Helper()
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	cfg := u.LoadConfig()
	cfg.Cache.PDFCacheEnabled = false
	return cfg
}

func fakeRelease(coverURL string) *discogs.Release {
	return &discogs.Release{
		ID:     123,
		Artist: "Ozzy Osbourne",
		Title:  "Blizzard Of Ozz",
		Discs: []discogs.Disc{{
			Number: 1,
			Tracks: []discogs.Track{
				{Position: "1", Title: "I Don't Know", Number: 1, Overall: 1},
				{Position: "2", Title: "Crazy Train", Number: 2, Overall: 2},
			},
		}},
		CoverURL: coverURL,
	}
}

func newTestApp(svc *LabelService) *fiber.App {
	app := fiber.New()
	app.Post("/v1/label", svc.HandleGenerate)
	app.Get("/v1/label", svc.HandleGenerateQuery)
	return app
}

func newTestService(cfg u.Config, fake *fakeLookup, rdb *redis.Client) *LabelService {
	return &LabelService{
		Config:   &cfg,
		Redis:    rdb,
		Lookup:   fake,
		Composer: label.NewComposer(cfg.Label),
	}
}

func TestHandleGenerate_EmptyInputNoUpstreamCall(t *testing.T) {
	fake := &fakeLookup{rel: fakeRelease("")}
	app := newTestApp(newTestService(testCfg(t), fake, nil))

	req := httptest.NewRequest("POST", "/v1/label", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, _ := app.Test(req)

	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for empty input, got %d", resp.StatusCode)
	}
	if n := fake.lookups.Load(); n != 0 {
		t.Fatalf("expected no upstream call, got %d", n)
	}
}

func TestHandleGenerate_Success(t *testing.T) {
	fake := &fakeLookup{rel: fakeRelease("")}
	app := newTestApp(newTestService(testCfg(t), fake, nil))

	form := "url=" + "https%3A%2F%2Fwww.discogs.com%2Frelease%2F123-Ozzy"
	req := httptest.NewRequest("POST", "/v1/label", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("expected application/pdf, got %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "jukebox_labels.pdf") {
		t.Fatalf("unexpected content disposition %q", cd)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(body, []byte("%PDF")) {
		t.Fatal("response body is not a PDF")
	}
	if !bytes.Contains(body, []byte("Blizzard Of Ozz")) {
		t.Error("PDF does not contain the album title")
	}
}

func TestHandleGenerate_JSONBody(t *testing.T) {
	fake := &fakeLookup{rel: fakeRelease("")}
	app := newTestApp(newTestService(testCfg(t), fake, nil))

	req := httptest.NewRequest("POST", "/v1/label",
		strings.NewReader(`{"url": "https://www.discogs.com/release/123-Ozzy"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 for JSON body, got %d", resp.StatusCode)
	}
}

func TestHandleGenerateQuery_NotFound(t *testing.T) {
	fake := &fakeLookup{err: discogs.ErrNotFound}
	app := newTestApp(newTestService(testCfg(t), fake, nil))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/label?query=nope", nil), -1)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHandleGenerateQuery_UpstreamFailure(t *testing.T) {
	fake := &fakeLookup{err: fmt.Errorf("%w: Discogs returned HTTP 503", discogs.ErrUpstream)}
	app := newTestApp(newTestService(testCfg(t), fake, nil))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/label?query=ozzy", nil), -1)
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
}

func TestHandleGenerateQuery_SearchWithoutToken(t *testing.T) {
	fake := &fakeLookup{err: discogs.ErrNoAuth}
	app := newTestApp(newTestService(testCfg(t), fake, nil))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/label?query=ozzy", nil), -1)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandleGenerate_CoverFetchFailureStillRenders(t *testing.T) {
	fake := &fakeLookup{
		rel:      fakeRelease("https://img/cover.jpg"),
		coverErr: errors.New("image host down"),
	}
	app := newTestApp(newTestService(testCfg(t), fake, nil))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/label?url=123", nil), -1)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 despite cover failure, got %d", resp.StatusCode)
	}
	if fake.coverHits.Load() != 1 {
		t.Fatal("expected one cover fetch attempt")
	}
}

func TestHandleGenerate_FilenameValidation(t *testing.T) {
	fake := &fakeLookup{rel: fakeRelease("")}
	app := newTestApp(newTestService(testCfg(t), fake, nil))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/label?url=123&filename=../../etc.pdf", nil), -1)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for path traversal filename, got %d", resp.StatusCode)
	}

	resp, _ = app.Test(httptest.NewRequest("GET", "/v1/label?url=123&filename=labels.txt", nil), -1)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for non-pdf filename, got %d", resp.StatusCode)
	}

	resp, _ = app.Test(httptest.NewRequest("GET", "/v1/label?url=123&filename=my_labels.pdf", nil), -1)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 for valid filename, got %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "my_labels.pdf") {
		t.Fatalf("unexpected content disposition %q", cd)
	}
}

func TestHandleGenerate_CacheHitSkipsLookup(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testCfg(t)
	cfg.Cache.PDFCacheEnabled = true

	fake := &fakeLookup{rel: fakeRelease("")}
	app := newTestApp(newTestService(cfg, fake, rdb))

	var bodies [][]byte
	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/v1/label?url=123", nil), -1)
		if err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, resp.StatusCode)
		}
		body, _ := io.ReadAll(resp.Body)
		bodies = append(bodies, body)
	}

	if n := fake.lookups.Load(); n != 1 {
		t.Fatalf("expected exactly one upstream lookup, got %d", n)
	}
	if !bytes.Equal(bodies[0], bodies[1]) {
		t.Fatal("cached response differs from rendered response")
	}
}

func TestHandleGenerate_PDFSizeLimit(t *testing.T) {
	cfg := testCfg(t)
	cfg.Limits.MaxPDFBytes = 64

	fake := &fakeLookup{rel: fakeRelease("")}
	app := newTestApp(newTestService(cfg, fake, nil))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/label?url=123", nil), -1)
	if resp.StatusCode != fiber.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized PDF, got %d", resp.StatusCode)
	}
}

func TestHandleGenerate_IndependentResponses(t *testing.T) {
	cfg := testCfg(t)

	relA := fakeRelease("")
	relB := fakeRelease("")
	relB.Title = "Diary Of A Madman"

	appA := newTestApp(newTestService(cfg, &fakeLookup{rel: relA}, nil))
	appB := newTestApp(newTestService(cfg, &fakeLookup{rel: relB}, nil))

	respA, _ := appA.Test(httptest.NewRequest("GET", "/v1/label?url=123", nil), -1)
	respB, _ := appB.Test(httptest.NewRequest("GET", "/v1/label?url=456", nil), -1)

	bodyA, _ := io.ReadAll(respA.Body)
	bodyB, _ := io.ReadAll(respB.Body)

	if !bytes.Contains(bodyA, []byte("Blizzard Of Ozz")) {
		t.Error("first response missing its own title")
	}
	if !bytes.Contains(bodyB, []byte("Diary Of A Madman")) {
		t.Error("second response missing its own title")
	}
	if bytes.Contains(bodyB, []byte("Blizzard Of Ozz")) {
		t.Error("state leaked between requests")
	}
}
