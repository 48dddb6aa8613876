package downloader

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Geergon/media-relay-bot/internal/media"
)

var (
	ErrNoMedia       = errors.New("no media link found")
	ErrBackendFailed = errors.New("backend reported failure")
)

// Link is a media URL discovered on a page or in an API response.
type Link struct {
	URL      string
	Kind     media.Kind
	Manifest bool
}

var (
	unicodeEscapeRe = regexp.MustCompile(`\\u([0-9a-fA-F]{4})`)
	mediaURLRe      = regexp.MustCompile(`https?://[^\s"'<>\\]+?\.(?:mp4|webm|m4a|mp3|m3u8)(?:\?[^\s"'<>\\]*)?`)
)

// Unescape decodes the JSON and HTML escaping commonly found around URLs
// embedded in scripts: \/, \uXXXX and HTML entities.
func Unescape(s string) string {
	s = unicodeEscapeRe.ReplaceAllStringFunc(s, func(m string) string {
		r, err := strconv.ParseUint(m[2:], 16, 32)
		if err != nil {
			return m
		}
		return string(rune(r))
	})
	s = strings.ReplaceAll(s, `\/`, "/")
	return html.UnescapeString(s)
}

// classify guesses what a link points at from its path extension, falling
// back to hint.
func classify(rawURL string, hint media.Kind) Link {
	l := Link{URL: rawURL, Kind: hint}
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".m3u8":
		l.Manifest = true
	case ".mp3", ".m4a", ".aac", ".opus", ".ogg":
		l.Kind = media.Audio
	case ".mp4", ".webm", ".mov", ".mkv":
		l.Kind = media.Video
	case ".jpg", ".jpeg", ".png", ".webp":
		l.Kind = media.Photo
	}
	if l.Kind == "" {
		l.Kind = media.Video
	}
	return l
}

func resolve(base *url.URL, ref string) (string, bool) {
	ref = strings.TrimSpace(Unescape(ref))
	if ref == "" || strings.HasPrefix(ref, "javascript:") || strings.HasPrefix(ref, "#") {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.String(), true
}

type linkSet struct {
	seen  map[string]bool
	links []Link
}

func (s *linkSet) add(l Link) {
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if s.seen[l.URL] {
		return
	}
	s.seen[l.URL] = true
	s.links = append(s.links, l)
}

// ExtractHTML finds media links in an HTML document. loose also accepts
// anchors that only look like download buttons, which is what converter
// sites render.
func ExtractHTML(body, baseURL string, loose bool) []Link {
	base, _ := url.Parse(baseURL)
	var set linkSet

	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(body)); err == nil {
		doc.Find(`meta[property="og:video"], meta[property="og:video:url"], meta[property="og:video:secure_url"]`).Each(func(_ int, s *goquery.Selection) {
			if u, ok := resolve(base, s.AttrOr("content", "")); ok {
				set.add(classify(u, media.Video))
			}
		})
		doc.Find(`meta[property="og:audio"]`).Each(func(_ int, s *goquery.Selection) {
			if u, ok := resolve(base, s.AttrOr("content", "")); ok {
				set.add(classify(u, media.Audio))
			}
		})
		doc.Find("video[src], video source[src], audio[src], audio source[src]").Each(func(_ int, s *goquery.Selection) {
			hint := media.Video
			if goquery.NodeName(s) == "audio" || s.ParentFiltered("audio").Length() > 0 {
				hint = media.Audio
			}
			if u, ok := resolve(base, s.AttrOr("src", "")); ok {
				set.add(classify(u, hint))
			}
		})
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href := s.AttrOr("href", "")
			u, ok := resolve(base, href)
			if !ok {
				return
			}
			l := classify(u, "")
			direct := l.Manifest || strings.Contains(strings.ToLower(u), ".mp4") || strings.Contains(strings.ToLower(u), ".mp3") ||
				strings.Contains(strings.ToLower(u), ".m4a") || strings.Contains(strings.ToLower(u), ".webm")
			text := strings.ToLower(s.Text() + " " + href)
			if !direct && !(loose && strings.Contains(text, "download")) {
				return
			}
			if strings.Contains(text, "audio") || strings.Contains(text, "mp3") {
				l.Kind = media.Audio
			}
			set.add(l)
		})
		doc.Find(`meta[property="og:image"]`).Each(func(_ int, s *goquery.Selection) {
			if u, ok := resolve(base, s.AttrOr("content", "")); ok {
				set.add(classify(u, media.Photo))
			}
		})
	}

	for _, m := range mediaURLRe.FindAllString(Unescape(body), -1) {
		set.add(classify(m, ""))
	}
	return set.links
}

var (
	audioKeys = []string{"audio", "music", "mp3", "audio_url"}
	videoKeys = []string{"url", "download", "download_url", "downloadUrl", "hdplay", "play", "wmplay", "video", "link", "mp4"}
	nestKeys  = []string{"data", "result", "formats", "media", "medias"}
)

const maxJSONDepth = 6

// ExtractJSON walks a converter API response. It returns ErrBackendFailed when
// the payload carries an explicit error and ErrNoMedia when nothing usable is in
// it. A body that is not JSON at all is reported through the returned bool.
func ExtractJSON(body, baseURL string, kind media.Kind) ([]Link, bool, error) {
	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return nil, false, nil
	}
	base, _ := url.Parse(baseURL)
	var set linkSet
	if err := walkJSON(v, base, kind, "", &set, 0); err != nil {
		return nil, true, err
	}
	if len(set.links) == 0 {
		return nil, true, ErrNoMedia
	}
	return set.links, true, nil
}

func jsonFailure(m map[string]any) error {
	if ok, isBool := m["success"].(bool); isBool && !ok {
		return fmt.Errorf("%w: %v", ErrBackendFailed, firstNonEmpty(m["message"], m["msg"], m["error"]))
	}
	switch e := m["error"].(type) {
	case string:
		if e != "" {
			return fmt.Errorf("%w: %s", ErrBackendFailed, e)
		}
	case bool:
		if e {
			return fmt.Errorf("%w: %v", ErrBackendFailed, firstNonEmpty(m["message"], m["msg"]))
		}
	}
	if code, ok := m["code"].(float64); ok && code != 0 && code != 200 {
		return fmt.Errorf("%w: code %v: %v", ErrBackendFailed, code, firstNonEmpty(m["msg"], m["message"]))
	}
	return nil
}

func firstNonEmpty(vals ...any) any {
	for _, v := range vals {
		if v != nil && v != "" {
			return v
		}
	}
	return "unknown error"
}

func typeHint(m map[string]any) media.Kind {
	for _, k := range []string{"type", "mimeType", "mime_type", "ext", "quality"} {
		s, _ := m[k].(string)
		s = strings.ToLower(s)
		switch {
		case strings.Contains(s, "audio"), s == "mp3", s == "m4a":
			return media.Audio
		case strings.Contains(s, "video"), s == "mp4":
			return media.Video
		case strings.Contains(s, "image"):
			return media.Photo
		}
	}
	return ""
}

func walkJSON(v any, base *url.URL, kind media.Kind, hint media.Kind, set *linkSet, depth int) error {
	if depth > maxJSONDepth {
		return nil
	}
	switch t := v.(type) {
	case map[string]any:
		if err := jsonFailure(t); err != nil {
			return err
		}
		if h := typeHint(t); h != "" {
			hint = h
		}
		keys := videoKeys
		if kind == media.Audio {
			keys = append(append([]string{}, audioKeys...), videoKeys...)
		}
		for _, k := range keys {
			val, ok := t[k]
			if !ok {
				continue
			}
			h := hint
			for _, a := range audioKeys {
				if k == a {
					h = media.Audio
				}
			}
			if err := walkJSON(val, base, kind, h, set, depth+1); err != nil {
				return err
			}
		}
		for _, k := range nestKeys {
			if val, ok := t[k]; ok {
				if err := walkJSON(val, base, kind, hint, set, depth+1); err != nil {
					return err
				}
			}
		}
	case []any:
		for _, item := range t {
			if err := walkJSON(item, base, kind, hint, set, depth+1); err != nil {
				return err
			}
		}
	case string:
		if !strings.HasPrefix(t, "http") && !strings.HasPrefix(t, "/") {
			return nil
		}
		if u, ok := resolve(base, t); ok {
			set.add(classify(u, hint))
		}
	}
	return nil
}

// PickLink chooses the link to fetch for kind. Direct files of the right kind
// win over manifests unless preferManifest is set; an audio request may be
// served from a manifest since the remuxer can drop the video track.
func PickLink(links []Link, kind media.Kind, preferManifest bool) (Link, bool) {
	var direct, manifest *Link
	for i := range links {
		l := &links[i]
		switch {
		case l.Manifest:
			if manifest == nil {
				manifest = l
			}
		case direct == nil && kind.Accepts(l.Kind):
			direct = l
		}
	}
	if preferManifest && manifest != nil {
		return *manifest, true
	}
	if direct != nil {
		return *direct, true
	}
	if manifest != nil && kind != media.Photo {
		return *manifest, true
	}
	return Link{}, false
}
