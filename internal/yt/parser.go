package yt

import (
	"regexp"
	"strings"
)

// Platform is a site with a dedicated URL pattern and, optionally, a cookie
// file for logged-in extraction.
type Platform struct {
	Name    string
	Cookies string
	re      *regexp.Regexp
}

var platforms = []Platform{
	{"YouTube", "cookiesYT.txt", regexp.MustCompile(`((?:https?:)?\/\/)?((?:www|m|music)\.)?((?:youtube\.com|youtu\.be))(\/(?:[\w\-]+\?v=|embed\/|shorts\/|live\/|v\/)?)([\w\-]+)(\S+)?`)},
	{"TikTok", "cookiesTT.txt", regexp.MustCompile(`((http(s)?:\/\/)?(www\.|m\.|vm\.|vt\.)?tiktok\.com\/((h5\/share\/usr\/|v\/|@[A-Za-z0-9_\-\.]+\/(video|photo)\/|embed\/|trending\?shareId=|share\/user\/|t\/)?[A-Za-z0-9_\-]+\/?)(\?\S*)?)`)},
	{"Instagram", "cookiesINSTA.txt", regexp.MustCompile(`https?:\/\/(www\.)?instagram\.com\/(reel|reels|p|tv|stories)\/[A-Za-z0-9_\-\.\/]+`)},
	{"Twitter", "cookiesX.txt", regexp.MustCompile(`https?:\/\/(www\.|mobile\.)?(twitter|x)\.com\/[A-Za-z0-9_]+\/status\/\d+\S*`)},
	{"Facebook", "cookiesFB.txt", regexp.MustCompile(`https?:\/\/(www\.|m\.|web\.)?(facebook\.com|fb\.watch)\/\S+`)},
	{"Reddit", "", regexp.MustCompile(`https?:\/\/(www\.|old\.)?(reddit\.com|redd\.it)\/\S+`)},
	{"Vimeo", "", regexp.MustCompile(`https?:\/\/(www\.|player\.)?vimeo\.com\/\S+`)},
	{"SoundCloud", "", regexp.MustCompile(`https?:\/\/(www\.|m\.|on\.)?soundcloud\.(com|app\.goo\.gl)\/\S+`)},
	{"Pinterest", "", regexp.MustCompile(`https?:\/\/([a-z]+\.)?(pinterest\.[a-z.]+|pin\.it)\/\S+`)},
	{"Twitch", "", regexp.MustCompile(`https?:\/\/(www\.|clips\.|m\.)?twitch\.tv\/\S+`)},
}

var anyURLRe = regexp.MustCompile(`https?://[^\s<>"']+`)

// DetectPlatform matches url against the known platforms.
func DetectPlatform(url string) (Platform, bool) {
	for _, p := range platforms {
		if p.re.MatchString(url) {
			return p, true
		}
	}
	return Platform{}, false
}

// ExtractURL finds the URL to download in a chat message. Known platform links
// win over the first generic link.
func ExtractURL(text string) (url string, platform string, ok bool) {
	for _, p := range platforms {
		if m := p.re.FindString(text); m != "" {
			if !strings.HasPrefix(m, "http") {
				m = "https://" + strings.TrimPrefix(m, "//")
			}
			return strings.TrimRight(m, ".,;!)"), p.Name, true
		}
	}
	if m := anyURLRe.FindString(text); m != "" {
		return strings.TrimRight(m, ".,;!)"), "", true
	}
	return "", "", false
}
