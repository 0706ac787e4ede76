package headless

import (
	"bytes"
	"strings"
)

// Detector decides when a plainly fetched page must be rendered in a browser.
type Detector struct {
	// BodyLengthThreshold bounds the size of pages judged by script density.
	BodyLengthThreshold int
}

// NewDetector creates a Detector. A zero threshold defaults to 2 KiB.
func NewDetector(threshold int) *Detector {
	if threshold <= 0 {
		threshold = 2048
	}
	return &Detector{BodyLengthThreshold: threshold}
}

var appShellMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-app"),
}

// NeedsRendering reports whether body looks like a client-rendered shell.
func (d *Detector) NeedsRendering(body []byte) bool {
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < d.BodyLengthThreshold && scriptHeavy(body) {
		return true
	}
	for _, marker := range appShellMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptHeavy reports whether script elements cover a quarter of the page.
func scriptHeavy(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	covered := 0
	for pos := 0; pos < total; {
		rel := strings.Index(lower[pos:], "<script")
		if rel == -1 {
			break
		}
		start := pos + rel
		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			covered += total - start
			break
		}
		contentStart := start + tagEnd + 1
		end := total
		if closeAt := strings.Index(lower[contentStart:], "</script>"); closeAt != -1 {
			end = contentStart + closeAt + len("</script>")
		}
		covered += end - start
		pos = end
	}
	return covered > 0 && covered*100/total >= 25
}
