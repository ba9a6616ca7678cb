package capture

import (
	"time"

	"github.com/lumipay/kycscan/pkg/imgutil"
)

// Artifact is an encoded still image produced by a capture attempt.
// It is replaced wholesale on retake and handed off exactly once at
// submission time.
type Artifact struct {
	Data       []byte
	MIME       string
	Width      int
	Height     int
	CapturedAt time.Time
}

// Empty reports whether no capture has produced this artifact yet.
func (a Artifact) Empty() bool {
	return len(a.Data) == 0
}

// DataURL renders the artifact as a base64 data URL for submission payloads.
func (a Artifact) DataURL() string {
	return imgutil.DataURL(a.MIME, a.Data)
}
