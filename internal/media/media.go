package media

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

type Kind string

const (
	Video    Kind = "video"
	Audio    Kind = "audio"
	Photo    Kind = "photo"
	Document Kind = "document"
)

const (
	B  = 1
	KB = 1024 * B
	MB = 1024 * KB
	GB = 1024 * MB
)

// MinFileSize is the smallest download accepted as real media. Smaller files are
// almost always error pages or placeholders.
const MinFileSize = 1 * KB

var ErrUnknownKind = errors.New("unknown media kind")

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Video, Audio, Photo, Document:
		return k, nil
	case "":
		return Video, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Extensions lists the file extensions a kind is expected to produce, most
// preferred first. Document accepts anything and returns nil.
func (k Kind) Extensions() []string {
	switch k {
	case Video:
		return []string{".mp4", ".mkv", ".webm", ".mov", ".avi"}
	case Audio:
		return []string{".mp3", ".m4a", ".opus", ".ogg", ".aac", ".webm"}
	case Photo:
		return []string{".jpg", ".jpeg", ".png", ".webp"}
	}
	return nil
}

// DefaultExt is the extension used when a kind has to be written without a hint.
func (k Kind) DefaultExt() string {
	switch k {
	case Audio:
		return ".mp3"
	case Photo:
		return ".jpg"
	case Document:
		return ".bin"
	}
	return ".mp4"
}

// Accepts reports whether a file of kind got satisfies a request for k.
func (k Kind) Accepts(got Kind) bool {
	return k == Document || got == "" || k == got
}

// KindFromPath guesses the kind from the file extension; video wins ties
// (.webm belongs to both families).
func KindFromPath(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	for _, k := range []Kind{Video, Audio, Photo} {
		for _, e := range k.Extensions() {
			if e == ext {
				return k
			}
		}
	}
	return Document
}

// DownloadResult is the outcome of one acquisition. Path is an exclusively owned
// temporary file: whoever holds the result deletes it.
type DownloadResult struct {
	Success  bool
	Path     string
	Kind     Kind
	Strategy string
	Err      error
}

func Failed(err error) DownloadResult {
	return DownloadResult{Err: err}
}

func Succeeded(path string, kind Kind) DownloadResult {
	return DownloadResult{Success: true, Path: path, Kind: kind}
}

type Transport string

const (
	StandardAPI        Transport = "standard_api"
	HighCapacityClient Transport = "high_capacity_client"
	NoTransport        Transport = "none"
)

type DeliveryOutcome struct {
	OK        bool
	Transport Transport
	Err       error
}

// Attempt records one strategy run of the download chain. It only feeds logs.
type Attempt struct {
	Strategy  string
	StartedAt time.Time
	Duration  time.Duration
	Outcome   string
	Err       error
}
