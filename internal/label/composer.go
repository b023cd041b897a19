// Package label lays CD jewel-case insert strips out on A4 pages. Geometry
// is millimetre-based: each disc of a release becomes one 74x109 mm strip,
// four strips to a page, with dashed crop marks for cutting.
package label

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-pdf/fpdf"

	"cdlabel/internal/discogs"
	u "cdlabel/internal/utils"
)

// Options are the per-request layout switches carried over from the
// command-line front-end.
type Options struct {
	AlternateRows bool
	ShowTitleBG   bool
	ShowRuler     bool
	StripBrackets bool
}

// OptionsFromConfig derives the default Options from the label configuration.
func OptionsFromConfig(cfg u.LabelConfig) Options {
	return Options{
		AlternateRows: cfg.AlternateRows,
		ShowTitleBG:   cfg.ShowTitleBG,
		ShowRuler:     cfg.ShowRuler,
		StripBrackets: cfg.StripBrackets,
	}
}

// Composer renders releases into printable label PDFs. It holds only
// configuration and is safe to share across requests; all mutable layout
// state lives in the per-call fpdf document.
type Composer struct {
	cfg u.LabelConfig
}

// NewComposer returns a Composer for the given strip geometry.
func NewComposer(cfg u.LabelConfig) *Composer {
	return &Composer{cfg: cfg}
}

const (
	pageOriginX = 10.0
	pageOriginY = 10.0
	cropWing    = 5.0
)

// Render produces the label PDF for a release. cover may be nil; when it is
// present but cannot be decoded the strips render without artwork rather
// than failing the request. Discs beyond four continue onto further pages.
func (c *Composer) Render(rel *discogs.Release, cover []byte, opts Options) ([]byte, error) {
	if rel == nil || len(rel.Discs) == 0 {
		return nil, errors.New("release has no discs to lay out")
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(false)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetMargins(pageOriginX, pageOriginY, pageOriginX)
	pdf.SetDrawColor(0, 0, 0)
	pdf.SetTextColor(0, 0, 0)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	haveCover := false
	var coverW, coverH int
	if len(cover) > 0 {
		jpg, w, h, err := prepareCover(cover)
		if err != nil {
			u.Warn("Cover image unusable, rendering without artwork", "error", err.Error())
		} else {
			imgOpts := fpdf.ImageOptions{ImageType: "JPG"}
			pdf.RegisterImageOptionsReader("cover", imgOpts, bytes.NewReader(jpg))
			haveCover = true
			coverW, coverH = w, h
		}
	}

	for i, disc := range rel.Discs {
		if i%4 == 0 {
			pdf.AddPage()
		}
		quad := i % 4
		x := pageOriginX + float64(quad%2)*c.cfg.StripWidth
		y := pageOriginY + float64(quad/2)*c.cfg.StripHeight
		c.drawStrip(pdf, tr, rel, disc, x, y, haveCover, coverW, coverH, opts)
	}

	// Checked against a physical ruler: printer drivers love to rescale.
	if opts.ShowRuler {
		c.drawRuler(pdf, pageOriginX, pageOriginY+2*c.cfg.StripHeight+10, c.cfg.StripWidth)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render label PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Composer) drawStrip(
	pdf *fpdf.Fpdf,
	tr func(string) string,
	rel *discogs.Release,
	disc discogs.Disc,
	x, y float64,
	haveCover bool,
	coverW, coverH int,
	opts Options,
) {
	cfg := c.cfg
	c.cropMarks(pdf, x, y)

	contentX := x + cfg.Margin
	contentW := cfg.StripWidth - 2*cfg.Margin
	curY := y + cfg.Margin

	if opts.ShowTitleBG {
		c.titleBackground(pdf, x, y)
	}

	size := c.fitFontSize(pdf, tr(rel.Title), contentW, cfg.AlbumFontSize, "B")
	curY += c.writeTextBox(pdf, tr, rel.Title, contentX, curY, contentW, size, "B")

	size = c.fitFontSize(pdf, tr(rel.Artist), contentW, cfg.ArtistFontSize, "B")
	curY += c.writeTextBox(pdf, tr, rel.Artist, contentX, curY, contentW, size, "B")

	if haveCover {
		curY = c.placeCover(pdf, contentX, curY, contentW, y, coverW, coverH)
	}

	curY += cfg.Margin
	availH := y + cfg.StripHeight - cfg.Margin - curY
	if availH <= 0 || len(disc.Tracks) == 0 {
		return
	}
	maxTrackH := availH / float64(len(disc.Tracks))

	for ti, t := range disc.Tracks {
		if opts.AlternateRows && ti%2 == 1 {
			pdf.SetFillColor(255, 255, 200)
		} else {
			pdf.SetFillColor(255, 255, 255)
		}

		text := fmt.Sprintf("%02d %s", t.Number, t.Title)
		if opts.StripBrackets {
			text = discogs.StripBrackets(text)
		}

		tsize := c.fitFontSize(pdf, tr(text), contentW, cfg.TrackFontSize, "")
		pdf.SetFont(cfg.Font, "", tsize)
		_, unitSize := pdf.GetFontSize()
		lineH := math.Min(unitSize*1.2, maxTrackH)

		pdf.SetXY(contentX, curY)
		pdf.CellFormat(contentW, lineH, tr(text), "", 1, "L", opts.AlternateRows, 0, "")
		curY += lineH
	}
}

// placeCover centres the artwork inside a fixed square under the artist line
// and returns the new cursor position. The square is skipped entirely when
// the track list would no longer fit under it.
func (c *Composer) placeCover(pdf *fpdf.Fpdf, contentX, curY, contentW, stripY float64, coverW, coverH int) float64 {
	side := c.cfg.CoverSize
	if curY+side+c.cfg.Margin > stripY+c.cfg.StripHeight/2 {
		return curY
	}

	w, h := side, side
	if coverW > coverH {
		h = side * float64(coverH) / float64(coverW)
	} else if coverH > coverW {
		w = side * float64(coverW) / float64(coverH)
	}

	imgX := contentX + (contentW-w)/2
	imgY := curY + (side-h)/2
	pdf.ImageOptions("cover", imgX, imgY, w, h, false, fpdf.ImageOptions{ImageType: "JPG"}, 0, "")
	return curY + side
}

// fitFontSize shrinks the font in half-point steps until the text fits the
// column or the minimum size is reached. The text must already be translated
// for the current code page.
func (c *Composer) fitFontSize(pdf *fpdf.Fpdf, text string, maxWidth, initial float64, style string) float64 {
	size := initial
	pdf.SetFont(c.cfg.Font, style, size)
	for pdf.GetStringWidth(text) > maxWidth && size > c.cfg.MinFontSize {
		size -= 0.5
		pdf.SetFont(c.cfg.Font, style, size)
	}
	return size
}

// writeTextBox word-wraps text into the column, settles on the smallest font
// size any wrapped line needs, writes the lines centred and returns the
// height consumed.
func (c *Composer) writeTextBox(
	pdf *fpdf.Fpdf,
	tr func(string) string,
	text string,
	x, y, maxWidth, size float64,
	style string,
) float64 {
	pdf.SetFont(c.cfg.Font, style, size)

	var lines []string
	var cur []string
	for _, word := range strings.Fields(text) {
		test := strings.Join(append(append([]string(nil), cur...), word), " ")
		if len(cur) == 0 || pdf.GetStringWidth(tr(test)) <= maxWidth {
			cur = append(cur, word)
		} else {
			lines = append(lines, strings.Join(cur, " "))
			cur = []string{word}
		}
	}
	if len(cur) > 0 {
		lines = append(lines, strings.Join(cur, " "))
	}

	for _, line := range lines {
		fitted := c.fitFontSize(pdf, tr(line), maxWidth, size, style)
		if fitted < size {
			size = fitted
		}
	}
	if size < c.cfg.MinFontSize {
		size = c.cfg.MinFontSize
	}

	pdf.SetFont(c.cfg.Font, style, size)
	_, unitSize := pdf.GetFontSize()
	lineH := unitSize * 1.2

	curY := y
	for _, line := range lines {
		pdf.SetXY(x, curY)
		pdf.CellFormat(maxWidth, lineH, tr(line), "", 1, "C", false, 0, "")
		curY += lineH
	}
	return curY - y
}

// cropMarks draws dashed cutting guides just outside every strip corner.
func (c *Composer) cropMarks(pdf *fpdf.Fpdf, x, y float64) {
	w, h := c.cfg.StripWidth, c.cfg.StripHeight
	pdf.SetDashPattern([]float64{1, 1}, 0)

	pdf.Line(x, y, x-cropWing, y)
	pdf.Line(x, y, x, y-cropWing)
	pdf.Line(x+w, y, x+w+cropWing, y)
	pdf.Line(x+w, y, x+w, y-cropWing)
	pdf.Line(x, y+h, x-cropWing, y+h)
	pdf.Line(x, y+h, x, y+h+cropWing)
	pdf.Line(x+w, y+h, x+w+cropWing, y+h)
	pdf.Line(x+w, y+h, x+w, y+h+cropWing)

	pdf.SetDashPattern([]float64{}, 0)
}

func (c *Composer) titleBackground(pdf *fpdf.Fpdf, x, y float64) {
	const bgMargin = 2.0
	pdf.SetFillColor(255, 230, 128)
	pdf.Rect(x-bgMargin, y+bgMargin, c.cfg.StripWidth+2*bgMargin, 15-2*bgMargin, "F")
}

// drawRuler draws a line with mm tick marks, long ticks every centimetre.
func (c *Composer) drawRuler(pdf *fpdf.Fpdf, x, y, width float64) {
	pdf.Line(x, y, x+width, y)
	for mm := 0.0; mm <= width; mm++ {
		tick := 1.0
		if math.Mod(mm, 10) == 0 {
			tick = 3.0
		}
		pdf.Line(x+mm, y, x+mm, y+tick)
	}
}
