// Package agent drives the tracker from a scripted stream of page activity,
// standing in for the browser runtime.
package agent

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Step operations.
const (
	OpLoad     = "load"
	OpRoute    = "route"
	OpClick    = "click"
	OpScroll   = "scroll"
	OpError    = "error"
	OpHidden   = "hidden"
	OpVisible  = "visible"
	OpOffline  = "offline"
	OpOnline   = "online"
	OpUnload   = "unload"
	OpConsent  = "consent"
	OpCustom   = "custom"
	OpPerf     = "perf"
	OpViewport = "viewport"
	OpDNT      = "dnt"
	OpWait     = "wait"
)

var knownOps = map[string]bool{
	OpLoad: true, OpRoute: true, OpClick: true, OpScroll: true, OpError: true,
	OpHidden: true, OpVisible: true, OpOffline: true, OpOnline: true, OpUnload: true,
	OpConsent: true, OpCustom: true, OpPerf: true, OpViewport: true, OpDNT: true, OpWait: true,
}

// Step is one line of an activity script. Fields other than Op are read
// only by the operations that need them.
type Step struct {
	Op string `json:"op"`

	URL      string `json:"url,omitempty"`
	Title    string `json:"title,omitempty"`
	Referrer string `json:"referrer,omitempty"`

	Target string         `json:"target,omitempty"`
	Type   string         `json:"type,omitempty"`
	Data   map[string]any `json:"data,omitempty"`

	X              int `json:"x,omitempty"`
	Y              int `json:"y,omitempty"`
	Width          int `json:"width,omitempty"`
	Height         int `json:"height,omitempty"`
	DocumentHeight int `json:"documentHeight,omitempty"`

	Message string `json:"message,omitempty"`
	Source  string `json:"source,omitempty"`
	Line    int    `json:"line,omitempty"`

	Timings map[string]float64 `json:"timings,omitempty"`
	Grant   bool               `json:"grant,omitempty"`
	Value   string             `json:"value,omitempty"`
	Ms      int                `json:"ms,omitempty"`
}

// ParseScript reads JSON-lines steps. Blank lines and lines starting with
// '#' are skipped.
func ParseScript(r io.Reader) ([]Step, error) {
	var steps []Step
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(line)))
		dec.DisallowUnknownFields()
		var st Step
		if err := dec.Decode(&st); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		st.Op = strings.ToLower(strings.TrimSpace(st.Op))
		if !knownOps[st.Op] {
			return nil, fmt.Errorf("line %d: unknown op %q", lineNo, st.Op)
		}
		steps = append(steps, st)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return steps, nil
}
