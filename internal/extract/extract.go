// Package extract decodes finalized agent replies: it unescapes a fixed set
// of HTML entities, pulls embedded visualization markers out of the text,
// and collects image references from both tag and bare-URL notations.
package extract

import (
	"regexp"
	"strings"

	"github.com/procurelabs/spachat/internal/domain"
)

var (
	// Markers are matched case-insensitively, span lines, and are
	// non-greedy. An opening marker with no matching close is left as
	// literal text.
	codeRe     = regexp.MustCompile(`(?is)\[CODE_START\](.*?)\[CODE_END\]`)
	execRe     = regexp.MustCompile(`(?is)\[EXEC_START\](.*?)\[EXEC_END\]`)
	imageTagRe = regexp.MustCompile(`(?is)\[IMAGE\](.*?)\[/IMAGE\]`)

	// webImageTagRe is the stricter form used during streaming: only
	// web-scheme URLs are revealed progressively.
	webImageTagRe = regexp.MustCompile(`(?is)\[IMAGE\](https?://.*?)\[/IMAGE\]`)

	// bareImageRe matches naked URLs ending in a known image extension,
	// optionally with query parameters.
	bareImageRe = regexp.MustCompile(`(?i)https?://[^\s<>"']+\.(?:jpg|jpeg|png|gif|webp|svg)(?:\?[^\s<>"']*)?`)
)

// entityPairs is the fixed entity set. &amp; is decoded last so that
// double-encoded ampersands from the backend collapse by exactly one level
// per pass instead of cascading.
var entityPairs = []struct{ from, to string }{
	{"&#39;", "'"},
	{"&quot;", `"`},
	{"&lt;", "<"},
	{"&gt;", ">"},
	{"&amp;", "&"},
}

// Result is the output of Decode.
type Result struct {
	// CleanText is the display text with all marker spans removed and
	// surrounding whitespace trimmed.
	CleanText string
	// Images holds every image reference found, first-seen order,
	// duplicates removed.
	Images []string
	// Visualization is non-nil when the reply carried at least one of the
	// code, exec, or image markers.
	Visualization *domain.Visualization
}

// Decode transforms a raw reply body into display text plus a structured
// visualization payload. It is pure and deterministic; calling it on
// already-clean text is a no-op.
func Decode(raw string) Result {
	text := decodeEntities(raw)

	var images []string
	seen := make(map[string]bool)
	add := func(url string) {
		if url == "" || seen[url] {
			return
		}
		seen[url] = true
		images = append(images, url)
	}

	for _, m := range imageTagRe.FindAllStringSubmatch(text, -1) {
		add(strings.TrimSpace(m[1]))
	}
	for _, url := range bareImageRe.FindAllString(text, -1) {
		add(normalizeBareURL(url))
	}

	codeMatch := codeRe.FindStringSubmatch(text)
	execMatch := execRe.FindStringSubmatch(text)
	hasImageTag := imageTagRe.MatchString(text)

	if codeMatch == nil && execMatch == nil && !hasImageTag {
		return Result{CleanText: strings.TrimSpace(text), Images: images}
	}

	viz := &domain.Visualization{Images: images}
	if codeMatch != nil {
		viz.Code = strings.TrimSpace(codeMatch[1])
	}
	if execMatch != nil {
		viz.ExecStatus = strings.TrimSpace(execMatch[1])
	}

	clean := codeRe.ReplaceAllString(text, "")
	clean = execRe.ReplaceAllString(clean, "")
	clean = imageTagRe.ReplaceAllString(clean, "")

	return Result{
		CleanText:     strings.TrimSpace(clean),
		Images:        images,
		Visualization: viz,
	}
}

// StreamImages returns the web-scheme image URLs embedded as [IMAGE] tags in
// a partially accumulated reply. Used for progressive reveal while chunks
// are still arriving.
func StreamImages(text string) []string {
	matches := webImageTagRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		urls = append(urls, strings.TrimSpace(m[1]))
	}
	return urls
}

func decodeEntities(s string) string {
	for _, p := range entityPairs {
		s = strings.ReplaceAll(s, p.from, p.to)
	}
	return s
}

// normalizeBareURL undoes two escaping artifacts observed in bare URLs the
// backend emits: literal "&amp;" between query parameters and "%29" where a
// closing parenthesis belongs.
func normalizeBareURL(url string) string {
	url = strings.ReplaceAll(url, "&amp;", "&")
	url = strings.ReplaceAll(url, "%29", ")")
	return url
}
