package discogs

// Track is one playable row of a release tracklist. Number is the position
// within its disc, Overall orders tracks across all discs of the release.
type Track struct {
	Position string
	Title    string
	Duration string
	Disc     int
	Number   int
	Overall  int
}

// Disc groups the tracks that share one physical disc.
type Disc struct {
	Number int
	Tracks []Track
}

// Release is the normalized, per-request view of a Discogs release. It is
// immutable once built and never outlives the request that created it.
type Release struct {
	ID       int64
	Artist   string
	Title    string
	Discs    []Disc
	CoverURL string
}

// TrackCount returns the number of playable tracks across all discs.
func (r *Release) TrackCount() int {
	n := 0
	for _, d := range r.Discs {
		n += len(d.Tracks)
	}
	return n
}

// The following structures decode the Discogs JSON API responses. Only the
// fields this application reads, nothing more.

type apiRelease struct {
	ID        int64       `json:"id"`
	Title     string      `json:"title"`
	Artists   []apiArtist `json:"artists"`
	Tracklist []apiTrack  `json:"tracklist"`
	Images    []apiImage  `json:"images"`
}

type apiArtist struct {
	Name string `json:"name"`
}

type apiTrack struct {
	Position string `json:"position"`
	Type     string `json:"type_"`
	Title    string `json:"title"`
	Duration string `json:"duration"`
}

type apiImage struct {
	Type   string `json:"type"`
	URI    string `json:"uri"`
	URI150 string `json:"uri150"`
}

type apiMaster struct {
	ID          int64 `json:"id"`
	MainRelease int64 `json:"main_release"`
}

type apiSearchPage struct {
	Results []apiSearchResult `json:"results"`
}

type apiSearchResult struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
}
