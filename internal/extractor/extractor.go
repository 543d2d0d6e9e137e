// Package extractor turns raw scraped content into candidate acestream
// identifiers. Extraction is a pure function of its input: re-running it on
// the same content yields the same result, which lets callers restart an
// interrupted scrape without bookkeeping.
package extractor

import (
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// FormatHint tells Extract how to interpret the content blob.
type FormatHint int

const (
	FormatAuto     FormatHint = iota // detect from content
	FormatPage                       // free-form page (HTML or text)
	FormatPlaylist                   // M3U/M3U8 listing
)

// Identifier is one extracted candidate. RawID is a 40-char lowercase hex
// hash; Name and the tvg fields are best-effort metadata recovered from the
// surrounding content.
type Identifier struct {
	RawID        string
	Name         string
	Group        string
	Logo         string
	TVGID        string
	TVGName      string
	SourceURL    string
	DiscoveredAt time.Time
}

// Recorder receives non-fatal extraction anomalies. A nil Recorder is valid.
type Recorder interface {
	Anomaly(message string, details map[string]string)
}

var (
	protoRe  = regexp.MustCompile(`acestream://([0-9a-fA-F]{40})`)
	queryRe  = regexp.MustCompile(`(?:\?|&|&amp;)(?:id|pid|stream_id|acestream_id)=([0-9a-fA-F]{40})`)
	streamRe = regexp.MustCompile(`getstream\?id=([0-9a-fA-F]{40})`)
	attrRe   = regexp.MustCompile(`([\w-]+)="([^"]*)"`)
)

// DetectFormat classifies content as playlist or page.
func DetectFormat(content string) FormatHint {
	head := strings.TrimSpace(content)
	if strings.HasPrefix(head, "#EXTM3U") || strings.Contains(head, "#EXTINF:") {
		return FormatPlaylist
	}
	return FormatPage
}

type Extractor struct {
	rec Recorder
	log *slog.Logger
}

func New(rec Recorder) *Extractor {
	return &Extractor{rec: rec, log: slog.Default().With("component", "extractor")}
}

// Extract applies the pattern rules to content and returns the identifiers
// found, first occurrence winning on duplicates. It never fails: malformed
// input yields an empty slice and, when a Recorder is attached, one anomaly.
func (e *Extractor) Extract(content string, hint FormatHint, sourceURL string) []Identifier {
	if strings.TrimSpace(content) == "" {
		e.anomaly("empty content", sourceURL)
		return nil
	}
	if hint == FormatAuto {
		hint = DetectFormat(content)
	}
	now := time.Now()
	var found []Identifier
	if hint == FormatPlaylist {
		found = e.extractPlaylist(content)
	} else {
		found = e.extractPage(content)
	}
	if len(found) == 0 {
		e.anomaly("no identifiers in content", sourceURL)
		return nil
	}
	for i := range found {
		found[i].SourceURL = sourceURL
		found[i].DiscoveredAt = now
	}
	return found
}

// extractPlaylist walks M3U lines, carrying EXTINF metadata forward onto the
// next entry URL.
func (e *Extractor) extractPlaylist(content string) []Identifier {
	seen := make(map[string]bool)
	var out []Identifier
	var pending Identifier
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "#EXTINF:"):
			pending = Identifier{}
			info := line[len("#EXTINF:"):]
			for _, m := range attrRe.FindAllStringSubmatch(info, -1) {
				switch m[1] {
				case "group-title":
					pending.Group = m[2]
				case "tvg-logo":
					pending.Logo = m[2]
				case "tvg-id":
					pending.TVGID = m[2]
				case "tvg-name":
					pending.TVGName = m[2]
				}
			}
			// display name follows the last comma
			if i := strings.LastIndex(info, ","); i >= 0 {
				pending.Name = strings.TrimSpace(info[i+1:])
			}
		case strings.HasPrefix(line, "#"):
			// other directives carry nothing we need
		case line != "":
			id := firstID(line)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			entry := pending
			entry.RawID = id
			out = append(out, entry)
			pending = Identifier{}
		}
	}
	return out
}

var anyIDRe = regexp.MustCompile(
	`acestream://([0-9a-fA-F]{40})` +
		`|getstream\?id=([0-9a-fA-F]{40})` +
		`|(?:\?|&|&amp;)(?:id|pid|stream_id|acestream_id)=([0-9a-fA-F]{40})`)

// extractPage scans HTML/text content in document order. Anchor-wrapped
// links contribute their link text as the candidate name; bare matches are
// kept with an empty name.
func (e *Extractor) extractPage(content string) []Identifier {
	// names recovered from anchors, keyed by id
	names := make(map[string]Identifier)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err == nil {
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			id := firstID(href)
			if id == "" {
				return
			}
			if _, ok := names[id]; ok {
				return
			}
			name := strings.TrimSpace(s.Text())
			if name == "" {
				name, _ = s.Attr("title")
				name = strings.TrimSpace(name)
			}
			names[id] = Identifier{Name: name, Group: nearestGroup(s)}
		})
	}

	seen := make(map[string]bool)
	var out []Identifier
	for _, m := range anyIDRe.FindAllStringSubmatch(content, -1) {
		id := strings.ToLower(firstGroup(m))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		entry := names[id]
		entry.RawID = id
		out = append(out, entry)
	}
	return out
}

func firstGroup(m []string) string {
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

// nearestGroup looks for a grouping label above the link: the text of the
// closest preceding heading.
func nearestGroup(s *goquery.Selection) string {
	h := s.Closest("li,div,td,p").PrevAll().Filter("h1,h2,h3,h4").First()
	return strings.TrimSpace(h.Text())
}

// firstID returns the lowercased 40-hex id embedded in text, or "".
func firstID(text string) string {
	for _, re := range []*regexp.Regexp{protoRe, streamRe, queryRe} {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.ToLower(m[1])
		}
	}
	return ""
}

func (e *Extractor) anomaly(msg, sourceURL string) {
	e.log.Debug("extraction anomaly", "reason", msg, "source", sourceURL)
	if e.rec != nil {
		e.rec.Anomaly(msg, map[string]string{"source": sourceURL})
	}
}
