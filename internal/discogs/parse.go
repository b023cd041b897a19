package discogs

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	releaseURLRe = regexp.MustCompile(`discogs\.com/(release|master)/(\d+)`)
	parenRe      = regexp.MustCompile(`\([^)]*\)`)
	digitsRe     = regexp.MustCompile(`\d+`)
)

// ExtractID pulls the kind ("release" or "master") and numeric ID out of a
// Discogs URL. Returns an error for anything that is not a release or master
// URL.
func ExtractID(rawurl string) (string, int64, error) {
	m := releaseURLRe.FindStringSubmatch(rawurl)
	if m == nil {
		return "", 0, fmt.Errorf("not a Discogs release or master URL: %q", rawurl)
	}
	id, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid Discogs ID in %q: %w", rawurl, err)
	}
	return m[1], id, nil
}

// CleanName removes Discogs' parenthesised decorations, most importantly the
// "(2)" style disambiguation suffix appended to artist names.
func CleanName(s string) string {
	return strings.TrimSpace(parenRe.ReplaceAllString(s, ""))
}

// StripBrackets removes bracketed remarks from a track title so long credits
// do not blow up the column width.
func StripBrackets(s string) string {
	return strings.TrimSpace(parenRe.ReplaceAllString(s, ""))
}

// parsePosition turns a Discogs position string into disc, track and overall
// numbers. Three formats occur in the wild:
//
//   - "2-5": disc 2, track 5. Overall numbering leaves a 100-track gap per
//     disc so sorting stays stable even for sloppy tracklists.
//   - "A1", "B2": LP side positions. These roll a single counter across the
//     lettered sides and are treated as one disc.
//   - "7" (or "Track 7"): plain numeric, disc 1.
//
// Rows that produce track 0 are index or heading rows and get skipped by the
// caller.
func parsePosition(pos string, letters map[string]int) (disc, num, overall int) {
	if strings.Contains(pos, "-") {
		parts := strings.SplitN(pos, "-", 2)
		d, errD := strconv.Atoi(strings.TrimSpace(parts[0]))
		t, errT := strconv.Atoi(strings.TrimSpace(parts[1]))
		if errD == nil && errT == nil {
			return d, t, (d-1)*100 + t
		}
	}

	if pos != "" && isLetter(pos[0]) {
		letter := strings.ToUpper(pos[:1])
		if _, ok := letters[letter]; !ok {
			letters[letter] = maxValue(letters) + 1
		} else {
			letters[letter]++
		}
		n := maxValue(letters)
		return 1, n, n
	}

	if m := digitsRe.FindString(pos); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			return 1, n, n
		}
	}
	return 1, 0, 0
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func maxValue(m map[string]int) int {
	max := 0
	for _, v := range m {
		if v > max {
			max = v
		}
	}
	return max
}

// normalizeRelease converts the raw API payload into the per-disc Release
// model: heading rows dropped, tracks grouped by disc and ordered, cover URL
// selected (primary image preferred).
func normalizeRelease(raw *apiRelease) *Release {
	rel := &Release{
		ID:    raw.ID,
		Title: strings.TrimSpace(raw.Title),
	}
	if len(raw.Artists) > 0 {
		rel.Artist = CleanName(raw.Artists[0].Name)
	}
	rel.CoverURL = pickCoverURL(raw.Images)

	byDisc := make(map[int]*Disc)
	letters := make(map[string]int)
	for _, t := range raw.Tracklist {
		if t.Type != "" && t.Type != "track" {
			continue
		}
		disc, num, overall := parsePosition(t.Position, letters)
		if num == 0 && overall == 0 {
			continue
		}
		d, ok := byDisc[disc]
		if !ok {
			d = &Disc{Number: disc}
			byDisc[disc] = d
		}
		d.Tracks = append(d.Tracks, Track{
			Position: t.Position,
			Title:    strings.TrimSpace(t.Title),
			Duration: t.Duration,
			Disc:     disc,
			Number:   num,
			Overall:  overall,
		})
	}

	for _, d := range byDisc {
		sort.SliceStable(d.Tracks, func(i, j int) bool {
			return d.Tracks[i].Overall < d.Tracks[j].Overall
		})
		rel.Discs = append(rel.Discs, *d)
	}
	sort.Slice(rel.Discs, func(i, j int) bool {
		return rel.Discs[i].Number < rel.Discs[j].Number
	})
	return rel
}

func pickCoverURL(images []apiImage) string {
	for _, img := range images {
		if img.Type == "primary" && img.URI != "" {
			return img.URI
		}
	}
	for _, img := range images {
		if img.URI != "" {
			return img.URI
		}
	}
	return ""
}
