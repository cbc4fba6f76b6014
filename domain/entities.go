package domain

import "time"

// HealthStatus is a Site's observed reachability state.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// CrawlFrequency tags how often a Site should be rescheduled.
type CrawlFrequency string

const (
	FrequencyDaily   CrawlFrequency = "daily"
	FrequencyWeekly  CrawlFrequency = "weekly"
	FrequencyMonthly CrawlFrequency = "monthly"
)

// Politeness bundles the rate-limiting parameters a crawler must honor for
// a Site.
type Politeness struct {
	MinRequestDelay time.Duration `json:"min_request_delay"`
	MaxConcurrent   int           `json:"max_concurrent"`
	UserAgent       string        `json:"user_agent"`
	RetryCount      int           `json:"retry_count"`
	RetryDelay      time.Duration `json:"retry_delay"`
}

// Monitoring bundles a Site's scheduling state.
type Monitoring struct {
	Active             bool           `json:"active"`
	Frequency          CrawlFrequency `json:"frequency"`
	LastCrawlTime      *time.Time     `json:"last_crawl_time,omitempty"`
	NextScheduledCrawl *time.Time     `json:"next_scheduled_crawl,omitempty"`
	DisabledReason     string         `json:"disabled_reason,omitempty"`
}

// Site is a configured crawl target with a stable base URL and politeness
// parameters.
type Site struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	BaseURL         string       `json:"base_url"`
	AllowedDomains  []string     `json:"allowed_domains"`
	StartURLs       []string     `json:"start_urls"`
	AllowPatterns   []string     `json:"allow_patterns"`
	DenyPatterns    []string     `json:"deny_patterns"`
	Politeness      Politeness   `json:"politeness"`
	Monitoring      Monitoring   `json:"monitoring"`
	Tags            []string     `json:"tags"`
	HealthStatus    HealthStatus `json:"health_status"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// ProcessingStatus is a Page's position in its processing lifecycle.
type ProcessingStatus string

const (
	PageStatusPending    ProcessingStatus = "pending"
	PageStatusProcessing ProcessingStatus = "processing"
	PageStatusProcessed  ProcessingStatus = "processed"
	PageStatusFailed     ProcessingStatus = "failed"
)

// Redirect records one hop a page's fetch followed.
type Redirect struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

// PageMetadata is the faceted subset of page attributes a content index
// exposes for filtering.
type PageMetadata struct {
	Author          string   `json:"author,omitempty"`
	PublicationDate string   `json:"publication_date,omitempty"`
	Language        string   `json:"language,omitempty"`
	WordCount       int      `json:"word_count"`
	ReadingTime     int      `json:"reading_time"`
	Keywords        []string `json:"keywords,omitempty"`
}

// PageVersion is one historical snapshot of a page's content.
type PageVersion struct {
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Page is one crawled URL belonging to a Site.
type Page struct {
	ID               string           `json:"id"`
	SiteID           string           `json:"site_id"`
	URL              string           `json:"url"`
	Title            string           `json:"title"`
	Content          string           `json:"content"`
	ContentHash      string           `json:"content_hash"`
	Author           string           `json:"author,omitempty"`
	PublishedDate    *time.Time       `json:"published_date,omitempty"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	ProcessingInfo   map[string]any   `json:"processing_info,omitempty"`
	RedirectHistory  []Redirect       `json:"redirect_history,omitempty"`
	Metadata         PageMetadata     `json:"metadata"`
	Versions         []PageVersion    `json:"versions,omitempty"`
	LastModified     time.Time        `json:"last_modified"`
	ProcessedAt      *time.Time       `json:"processed_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// SessionStatus is a CrawlSession's lifecycle state.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionAborted   SessionStatus = "aborted"
	SessionFailed    SessionStatus = "failed"
)

// SessionStats is the aggregate progress a CrawlSession accumulates.
type SessionStats struct {
	PagesDiscovered int64         `json:"pages_discovered"`
	PagesCrawled    int64         `json:"pages_crawled"`
	PagesFailed     int64         `json:"pages_failed"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	ErrorsCount     int64         `json:"errors_count"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         *time.Time    `json:"end_time,omitempty"`
	DurationSeconds float64       `json:"duration_seconds"`
}

// CrawlSession is one execution of a site's crawl.
type CrawlSession struct {
	ID           string         `json:"id"`
	SiteID       string         `json:"site_id"`
	Status       SessionStatus  `json:"status"`
	ConfigSnap   map[string]any `json:"config_snapshot,omitempty"`
	Stats        SessionStats   `json:"stats"`
	WorkerID     string         `json:"worker_id,omitempty"`
	AbortReason  string         `json:"abort_reason,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	LastUpdate   time.Time      `json:"last_update"`
}

// TaskStatus is a ProcessingTask's lifecycle state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// ProcessingTask is a unit of asynchronous work dequeued by priority.
type ProcessingTask struct {
	ID            string         `json:"id"`
	TaskType      string         `json:"task_type"`
	Priority      int            `json:"priority"` // 1..5, higher = more urgent
	Payload       map[string]any `json:"payload"`
	Status        TaskStatus     `json:"status"`
	ScheduledAt   time.Time      `json:"scheduled_at"`
	WorkerID      string         `json:"worker_id,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	FailedAt      *time.Time     `json:"failed_at,omitempty"`
	RetryCount    int            `json:"retry_count"`
	MaxRetries    int            `json:"max_retries"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	Dependencies  []string       `json:"dependencies,omitempty"`
	Result        map[string]any `json:"result,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ChangeType is what happened to a page.
type ChangeType string

const (
	ChangeNew      ChangeType = "new"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// ChangeSeverity is an editorial weight assigned to a ContentChange.
type ChangeSeverity string

const (
	SeverityMinor    ChangeSeverity = "minor"
	SeverityMajor    ChangeSeverity = "major"
	SeverityCritical ChangeSeverity = "critical"
)

// ChangePriority is the notification-ordering priority derived for a
// ContentChange. Distinct from ProcessingTask.Priority by design — see
// spec Open Questions.
type ChangePriority string

const (
	ChangePriorityLow      ChangePriority = "low"
	ChangePriorityMedium   ChangePriority = "medium"
	ChangePriorityHigh     ChangePriority = "high"
	ChangePriorityCritical ChangePriority = "critical"
)

// ContentChange is a durable change event for a page.
type ContentChange struct {
	ID               string         `json:"id"`
	PageID           string         `json:"page_id"`
	SiteID           string         `json:"site_id"`
	ChangeType       ChangeType     `json:"change_type"`
	PreviousHash     string         `json:"previous_hash,omitempty"`
	NewHash          string         `json:"new_hash,omitempty"`
	URL              string         `json:"url"`
	Title            string         `json:"title"`
	Severity         ChangeSeverity `json:"severity,omitempty"`
	Priority         ChangePriority `json:"priority"`
	DetectedAt       time.Time      `json:"detected_at"`
	NotificationSent bool           `json:"notification_sent"`
	NotifiedAt       *time.Time     `json:"notified_at,omitempty"`
	Context          map[string]any `json:"context,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// AlertSeverity orders Alert urgency for display and escalation.
type AlertSeverity string

const (
	AlertInfo     AlertSeverity = "info"
	AlertLow      AlertSeverity = "low"
	AlertMedium   AlertSeverity = "medium"
	AlertHigh     AlertSeverity = "high"
	AlertCritical AlertSeverity = "critical"
)

// alertSeverityRank maps severity to a descending sort weight; higher is
// more urgent.
var alertSeverityRank = map[AlertSeverity]int{
	AlertCritical: 5,
	AlertHigh:     4,
	AlertMedium:   3,
	AlertLow:      2,
	AlertInfo:     1,
}

// Rank returns this severity's sort weight, higher meaning more urgent.
func (s AlertSeverity) Rank() int { return alertSeverityRank[s] }

// AlertStatus is an Alert's lifecycle state.
type AlertStatus string

const (
	AlertActive   AlertStatus = "active"
	AlertResolved AlertStatus = "resolved"
)

// Alert is an operational signal deduplicated by fingerprint.
type Alert struct {
	ID               string         `json:"id"`
	AlertType        string         `json:"alert_type"`
	Severity         AlertSeverity  `json:"severity"`
	Title            string         `json:"title"`
	Message          string         `json:"message"`
	SiteID           string         `json:"site_id,omitempty"`
	SourceComponent  string         `json:"source_component"`
	Context          map[string]any `json:"context,omitempty"`
	Status           AlertStatus    `json:"status"`
	Fingerprint      string         `json:"fingerprint"`
	OccurrenceCount  int            `json:"occurrence_count"`
	FirstSeen        time.Time      `json:"first_seen"`
	LastSeen         time.Time      `json:"last_seen"`
	ResolvedAt       *time.Time     `json:"resolved_at,omitempty"`
	Resolution       string         `json:"resolution,omitempty"`
	EscalatedAt      *time.Time     `json:"escalated_at,omitempty"`
	NotificationSent bool           `json:"notification_sent"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// AlertSuppression is an active suppression window for an alert_type.
type AlertSuppression struct {
	AlertType       string    `json:"alert_type"`
	SuppressedUntil time.Time `json:"suppressed_until"`
}

// ContentIndex is a page's searchable payload, 1:1 with Page.
type ContentIndex struct {
	ID            string            `json:"id"`
	PageID        string            `json:"page_id"`
	SearchContent string            `json:"search_content"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	IndexedAt     time.Time         `json:"indexed_at"`
	ContentHash   string            `json:"content_hash"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// SiteMap is a recorded sitemap snapshot. Purely passive.
type SiteMap struct {
	ID         string    `json:"id"`
	SiteID     string    `json:"site_id"`
	URL        string    `json:"url"`
	LastParsed time.Time `json:"last_parsed"`
	URLs       []string  `json:"urls"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AuthorWork is a philosophical work bound to a page.
type AuthorWork struct {
	ID                string   `json:"id"`
	AuthorName        string   `json:"author_name"`
	WorkTitle         string   `json:"work_title"`
	PublicationYear   int      `json:"publication_year"` // astronomical year
	IsBCE             bool     `json:"is_bce"`            // presentation hint only
	SiteID            string   `json:"site_id"`
	PageID            string   `json:"page_id"`
	WorkID            string   `json:"work_id,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
