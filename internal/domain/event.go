package domain

import "time"

// Event type tags produced by the page-lifecycle triggers. Producers may use
// any other non-empty tag.
const (
	TypePageView    = "pageview"
	TypeClick       = "click"
	TypeScrollDepth = "scroll_depth"
	TypeError       = "error"
	TypeVisibility  = "visibility"
	TypePerformance = "performance"
	TypeCustom      = "custom"
)

// UTMKeys is the fixed set of campaign parameters copied from the page URL.
var UTMKeys = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content"}

func IsUTMKey(k string) bool {
	for _, u := range UTMKeys {
		if u == k {
			return true
		}
	}
	return false
}

type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type ScrollOffset struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// EventRecord is an immutable snapshot of one observed occurrence. Page
// context fields are nil when they could not be read at enqueue time.
type EventRecord struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Timestamp     time.Time         `json:"timestamp"`
	SessionID     string            `json:"sessionId"`
	VisitorID     string            `json:"visitorId"`
	SiteID        string            `json:"siteId"`
	URL           *string           `json:"url"`
	Path          *string           `json:"path"`
	Title         *string           `json:"title"`
	Referrer      *string           `json:"referrer"`
	Language      *string           `json:"language"`
	Timezone      *string           `json:"timezone"`
	Viewport      *Viewport         `json:"viewport"`
	ScrollOffset  *ScrollOffset     `json:"scrollOffset"`
	UTMParameters map[string]string `json:"utmParameters"`
	ReferrerTrail []string          `json:"referrerTrail"`
	Payload       map[string]any    `json:"payload"`
}

// Batch is the collector wire document.
type Batch struct {
	Events []EventRecord `json:"events"`
}

// Validation constraints applied by the collector.
const (
	MaxTypeLen          = 128
	MaxIDLen            = 128
	MaxURLLen           = 2048
	MaxTitleLen         = 1024
	MaxReferrerTrailLen = 5
	DefaultClockSkew    = 5 * time.Minute
)
