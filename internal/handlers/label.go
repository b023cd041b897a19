package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"cdlabel/internal/discogs"
	"cdlabel/internal/label"
	u "cdlabel/internal/utils"
)

const defaultFilename = "jukebox_labels.pdf"

var filenameRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// Lookup is the slice of the Discogs client the handler depends on. Tests
// substitute a fake.
type Lookup interface {
	Lookup(ctx context.Context, query string) (*discogs.Release, error)
	CoverImage(ctx context.Context, rel *discogs.Release) ([]byte, error)
}

// LabelRequestParams holds validated input parameters.
type LabelRequestParams struct {
	Query    string
	Filename string
	Opts     label.Options
}

// LabelService bundles configuration and dependencies for label generation.
type LabelService struct {
	Config   *u.Config
	Redis    *redis.Client
	Lookup   Lookup
	Composer *label.Composer
}

// NewLabelService creates a new LabelService instance.
func NewLabelService(cfg u.Config, rdb *redis.Client) *LabelService {
	return &LabelService{
		Config:   &cfg, // convert value to pointer
		Redis:    rdb,
		Lookup:   discogs.NewClient(cfg.Discogs, cfg.Limits.MaxImageBytes),
		Composer: label.NewComposer(cfg.Label),
	}
}

// HandleGenerate accepts a form or JSON body and streams the label PDF back.
func (svc *LabelService) HandleGenerate(c *fiber.Ctx) error {
	params, err := svc.extractBodyParams(c)
	if err != nil {
		return err
	}
	return svc.processLabelGeneration(c, params)
}

// HandleGenerateQuery is the query-parameter variant of HandleGenerate, so a
// label link can be shared or bookmarked.
func (svc *LabelService) HandleGenerateQuery(c *fiber.Ctx) error {
	query := c.Query("url")
	if query == "" {
		query = c.Query("query")
	}
	params, err := svc.validateParams(query, c.Query("filename"))
	if err != nil {
		return err
	}
	return svc.processLabelGeneration(c, params)
}

func (svc *LabelService) extractBodyParams(c *fiber.Ctx) (*LabelRequestParams, error) {
	query := c.FormValue("url")
	if query == "" {
		query = c.FormValue("query")
	}
	filename := c.FormValue("filename")

	if query == "" && c.Is("json") {
		var body struct {
			URL      string `json:"url"`
			Query    string `json:"query"`
			Filename string `json:"filename"`
		}
		if err := c.BodyParser(&body); err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid JSON body")
		}
		query = body.URL
		if query == "" {
			query = body.Query
		}
		filename = body.Filename
	}

	return svc.validateParams(query, filename)
}

func (svc *LabelService) validateParams(query, filename string) (*LabelRequestParams, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, "No Discogs URL or search term provided")
	}

	if filename == "" {
		filename = defaultFilename
	} else {
		if !strings.HasSuffix(filename, ".pdf") {
			return nil, fiber.NewError(fiber.StatusBadRequest, "Filename must end with .pdf")
		}
		if !filenameRe.MatchString(filename) {
			return nil, fiber.NewError(fiber.StatusBadRequest, "Filename contains invalid characters")
		}
	}

	return &LabelRequestParams{
		Query:    query,
		Filename: filename,
		Opts:     label.OptionsFromConfig(svc.Config.Label),
	}, nil
}

// processLabelGeneration handles caching, lookup and PDF rendering.
func (svc *LabelService) processLabelGeneration(c *fiber.Ctx, params *LabelRequestParams) error {
	cacheKey := computeLabelCacheKey(params)

	// Try to serve from Redis cache
	if svc.Redis != nil && svc.Config.Cache.PDFCacheEnabled {
		if cached, err := getCachedPDF(c, svc.Redis, cacheKey, params.Filename); err == nil && cached != nil {
			return c.Send(cached)
		}
	}

	ctx := c.Context()
	rel, err := svc.Lookup.Lookup(ctx, params.Query)
	if err != nil {
		return mapLookupError(err)
	}

	// Artwork is best-effort: a release without (fetchable) cover art still
	// gets its label.
	var cover []byte
	if rel.CoverURL != "" {
		cover, err = svc.Lookup.CoverImage(ctx, rel)
		if err != nil {
			u.Warn("Cover art unavailable, continuing without it",
				"release_id", rel.ID, "error", err.Error())
			cover = nil
		}
	}

	pdfBuf, err := svc.Composer.Render(rel, cover, params.Opts)
	if err != nil {
		u.Error("Label rendering failed", "release_id", rel.ID, "error", err.Error())
		return fiber.NewError(fiber.StatusInternalServerError, "Label rendering failed")
	}

	if len(pdfBuf) > svc.Config.Limits.MaxPDFBytes {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, "PDF exceeds allowed size")
	}

	if svc.Redis != nil && svc.Config.Cache.PDFCacheEnabled {
		setCachedPDF(c, svc.Redis, cacheKey, pdfBuf, svc.Config.Cache.PDFCacheTTL)
	}

	requestID := c.Get("X-Request-ID")
	u.Info("Label PDF generated",
		"query", params.Query, "discs", len(rel.Discs), "tracks", rel.TrackCount(),
		"request_id", requestID)

	c.Set("Content-Type", "application/pdf")
	c.Set("Content-Disposition", "attachment; filename="+params.Filename)
	return c.Send(pdfBuf)
}

func mapLookupError(err error) error {
	switch {
	case errors.Is(err, discogs.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "No matching release found")
	case errors.Is(err, discogs.ErrNoAuth):
		return fiber.NewError(fiber.StatusBadRequest,
			"Free-text search needs a configured Discogs token; paste a release URL instead")
	default:
		u.Error("Discogs lookup failed", "error", err.Error())
		return fiber.NewError(fiber.StatusBadGateway, "Discogs lookup failed")
	}
}

// computeLabelCacheKey creates a SHA256-based cache key over everything that
// influences the rendered bytes.
func computeLabelCacheKey(params *LabelRequestParams) string {
	h := sha256.New()
	h.Write([]byte(params.Query))
	fmt.Fprintf(h, "%v%v%v%v",
		params.Opts.AlternateRows, params.Opts.ShowTitleBG,
		params.Opts.ShowRuler, params.Opts.StripBrackets)
	return "labelcache:" + hex.EncodeToString(h.Sum(nil))
}

// getCachedPDF attempts to retrieve a cached PDF from Redis.
func getCachedPDF(c *fiber.Ctx, rdb *redis.Client, key, filename string) ([]byte, error) {
	ctxRedis, cancel := context.WithTimeout(c.Context(), 1*time.Second)
	defer cancel()

	cached, err := rdb.Get(ctxRedis, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		u.Warn("Redis read failed", "error", err)
		return nil, err
	}

	u.Info("Label PDF cache hit", "key", key)
	c.Set("Content-Type", "application/pdf")
	c.Set("Content-Disposition", "attachment; filename="+filename)
	return cached, nil
}

// setCachedPDF stores a rendered PDF in Redis.
func setCachedPDF(c *fiber.Ctx, rdb *redis.Client, key string, data []byte, ttl time.Duration) {
	ctxRedis, cancel := context.WithTimeout(c.Context(), 1*time.Second)
	defer cancel()

	if ttl <= 0 {
		ttl = 1 * time.Minute
	}

	if err := rdb.Set(ctxRedis, key, data, ttl).Err(); err != nil {
		u.Warn("Redis write failed", "error", err)
	}
}
