package core

import (
	"fmt"
	"time"
)

// Namespace separates article-level narratives from statement-level ones.
// Narratives in different namespaces are never merged or matched.
type Namespace string

const (
	NamespaceArticle   Namespace = "article"
	NamespaceStatement Namespace = "statement"
)

// Article is a news item as handed over by the ingestion side.
type Article struct {
	ID          string     `json:"id"`                    // Unique identifier for the article
	SourceID    string     `json:"source_id"`             // Publisher identifier
	PublishedAt time.Time  `json:"published_at"`          // Publication timestamp
	Title       string     `json:"title"`                 // Headline
	RawText     string     `json:"raw_text"`              // Body text, may contain markup
	Language    string     `json:"language"`              // ISO language tag
	Fingerprint string     `json:"fingerprint"`           // Hash of the normalized text
	Embedding   *Embedding `json:"embedding,omitempty"`   // Attached once generated
	SummaryRef  string     `json:"summary_ref,omitempty"` // Key of the compressed payload that covers this article
}

// Embedding is a fixed-dimension vector produced by a specific model version.
type Embedding struct {
	Vector       []float64 `json:"vector"`
	ModelVersion string    `json:"model_version"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// Statement is a single claim extracted from an article.
type Statement struct {
	ID          string     `json:"id"`
	ArticleID   string     `json:"article_id"`
	SourceID    string     `json:"source_id"`
	PublishedAt time.Time  `json:"published_at"`
	Actor       string     `json:"actor"`
	Action      string     `json:"action"`
	Reason      string     `json:"reason,omitempty"`
	Consequence string     `json:"consequence,omitempty"`
	Text        string     `json:"text"`
	Confidence  float64    `json:"confidence"`
	Fingerprint string     `json:"fingerprint"`
	Embedding   *Embedding `json:"embedding,omitempty"`
}

// Document is the uniform unit the clustering machinery works on. It is
// built from either an Article or a Statement at the pipeline boundary.
type Document struct {
	ID          string
	SourceID    string
	Text        string
	Fingerprint string
	PublishedAt time.Time
	Vector      []float64
}

// CompressedPayload is the bounded representative text for a group of documents.
type CompressedPayload struct {
	Text             string   `json:"text"`
	MemberIDs        []string `json:"member_ids"` // Sorted
	MedoidID         string   `json:"medoid_id"`
	KeyTerms         []string `json:"key_terms,omitempty"`
	TokenEstimate    int      `json:"token_estimate"`
	CompressionRatio float64  `json:"compression_ratio"` // Output tokens / input tokens
	Degraded         bool     `json:"degraded"`          // True when only the medoid survived
}

// Cluster is a window-scoped group of documents. It only lives for one
// clustering pass before being linked onto a Narrative or discarded.
type Cluster struct {
	ID                string    `json:"id"`
	Window            Window    `json:"window"`
	MemberIDs         []string  `json:"member_ids"`
	Centroid          []float64 `json:"centroid"`
	Coherence         float64   `json:"coherence"`
	Diversity         float64   `json:"diversity"`
	UniqueSources     int       `json:"unique_sources"`
	NearDuplicateRate float64   `json:"near_duplicate_rate"`
	UniqueDates       int       `json:"unique_dates"`
}

// Size returns the number of members.
func (c Cluster) Size() int { return len(c.MemberIDs) }

// NarrativeStatus is the persisted lifecycle state of a narrative.
type NarrativeStatus string

const (
	StatusActive  NarrativeStatus = "active"
	StatusDormant NarrativeStatus = "dormant"
)

// NarrativeLink records the cluster a narrative absorbed in one window.
type NarrativeLink struct {
	Window       Window    `json:"window"`
	ClusterID    string    `json:"cluster_id"`
	MemberIDs    []string  `json:"member_ids"`
	Size         int       `json:"size"`
	Coherence    float64   `json:"coherence"`
	Diversity    float64   `json:"diversity"`
	Similarity   float64   `json:"similarity"`  // Match similarity, 1 for the founding cluster
	DriftAngle   float64   `json:"drift_angle"` // Radians between pre-update and cluster centroids
	Significance float64   `json:"significance"`
	Payload      string    `json:"payload"` // Compressed text, reused for report retries
	Centroid     []float64 `json:"centroid"`
}

// Narrative is a storyline tracked across windows.
type Narrative struct {
	ID                 string          `json:"id"`
	Namespace          Namespace       `json:"namespace"`
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	Status             NarrativeStatus `json:"status"`
	SupportCount       int             `json:"support_count"`        // Total items ever linked
	UniqueSourcesCount int             `json:"unique_sources_count"` // Distinct sources ever linked
	Sources            []string        `json:"sources"`
	Coherence          float64         `json:"coherence"` // Latest window
	Diversity          float64         `json:"diversity"` // Latest window
	Centroid           []float64       `json:"centroid"`
	Links              []NarrativeLink `json:"links"`
	InactiveWindows    int             `json:"inactive_windows"`
	PendingReports     []Window        `json:"pending_reports,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Drift              DriftState      `json:"drift"`
}

// Clone returns a deep copy so window processing can mutate narratives
// without touching committed state.
func (n *Narrative) Clone() *Narrative {
	c := *n
	c.Sources = append([]string(nil), n.Sources...)
	c.Centroid = append([]float64(nil), n.Centroid...)
	c.Links = append([]NarrativeLink(nil), n.Links...)
	c.PendingReports = append([]Window(nil), n.PendingReports...)
	c.Drift = n.Drift.clone()
	return &c
}

// LastLink returns the most recent link, if any.
func (n *Narrative) LastLink() (NarrativeLink, bool) {
	if len(n.Links) == 0 {
		return NarrativeLink{}, false
	}
	return n.Links[len(n.Links)-1], true
}

// LinkFor returns the link recorded for the given window.
func (n *Narrative) LinkFor(w Window) (NarrativeLink, bool) {
	for i := len(n.Links) - 1; i >= 0; i-- {
		if n.Links[i].Window.ID == w.ID {
			return n.Links[i], true
		}
	}
	return NarrativeLink{}, false
}

// HasPendingReport reports whether a report for w is awaiting retry.
func (n *Narrative) HasPendingReport(w Window) bool {
	for _, p := range n.PendingReports {
		if p.ID == w.ID {
			return true
		}
	}
	return false
}

// DriftState carries what the drift classifier needs between windows.
// It is persisted with the narrative but is not a narrative status.
type DriftState struct {
	Series     []SignificancePoint `json:"series"`
	Peak       float64             `json:"peak"`
	Declining  bool                `json:"declining"`
	Unresolved bool                `json:"unresolved"` // Last point still awaits its lookahead
}

func (d DriftState) clone() DriftState {
	d.Series = append([]SignificancePoint(nil), d.Series...)
	return d
}

// SignificancePoint is one window's significance for a narrative.
type SignificancePoint struct {
	Window     Window   `json:"window"`
	Value      float64  `json:"value"`
	DriftAngle float64  `json:"drift_angle"`
	Linked     bool     `json:"linked"`
	MemberIDs  []string `json:"member_ids,omitempty"`
	Emerged    bool     `json:"emerged"`
}

// EventType is the closed set of drift labels.
type EventType int

const (
	EventNone EventType = iota
	EventEmergence
	EventShift
	EventPeak
	EventDecline
)

func (t EventType) String() string {
	switch t {
	case EventNone:
		return "none"
	case EventEmergence:
		return "emergence"
	case EventShift:
		return "shift"
	case EventPeak:
		return "peak"
	case EventDecline:
		return "decline"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(s string) (EventType, error) {
	switch s {
	case "none":
		return EventNone, nil
	case "emergence":
		return EventEmergence, nil
	case "shift":
		return EventShift, nil
	case "peak":
		return EventPeak, nil
	case "decline":
		return EventDecline, nil
	}
	return EventNone, fmt.Errorf("unknown event type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t EventType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *EventType) UnmarshalText(b []byte) error {
	v, err := ParseEventType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// TimelineEvent is an append-only drift event. At most one exists per
// narrative per window.
type TimelineEvent struct {
	ID            string    `json:"id"`
	NarrativeID   string    `json:"narrative_id"`
	Namespace     Namespace `json:"namespace"`
	Type          EventType `json:"type"`
	Window        Window    `json:"window"`
	EventDate     time.Time `json:"event_date"` // Window end
	Significance  float64   `json:"significance"`
	Description   string    `json:"description"`
	LinkedItemIDs []string  `json:"linked_item_ids"`
}

// WeeklyReport is the generated summary for one narrative in one window.
type WeeklyReport struct {
	ID          string    `json:"id"`
	NarrativeID string    `json:"narrative_id"`
	Window      Window    `json:"window"`
	Summary     string    `json:"summary"`
	Model       string    `json:"model"`
	CreatedAt   time.Time `json:"created_at"`
}

// CacheKind tags what a cache entry holds.
type CacheKind string

const (
	CacheEmbedding  CacheKind = "embedding"
	CacheCompressed CacheKind = "compressed"
	CacheResponse   CacheKind = "response"
)

// CacheEntry is an immutable ledger record.
type CacheEntry struct {
	Key       string    `json:"key"`
	Kind      CacheKind `json:"kind"`
	Vector    []float64 `json:"vector,omitempty"`
	Text      string    `json:"text,omitempty"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Cost      float64   `json:"cost"`
}
