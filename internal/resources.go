package internal

import "time"

// Format is the physical/electronic manifestation of an Edition.
type Format string

const (
	FormatHardcover Format = "hardcover"
	FormatPaperback Format = "paperback"
	FormatEbook     Format = "ebook"
	FormatUnknown   Format = "unknown"
)

// Gender is a best-effort classification surfaced by some providers.
// Absence is always represented as GenderUnknown, never an empty string.
type Gender string

const (
	GenderMale      Gender = "male"
	GenderFemale    Gender = "female"
	GenderNonBinary Gender = "non_binary"
	GenderOther     Gender = "other"
	GenderUnknown   Gender = "unknown"
)

// Author is a canonical, provider-independent person record.
type Author struct {
	Name           string `json:"name"`
	BirthDate      string `json:"birthDate,omitempty"`
	Biography      string `json:"biography,omitempty"`
	Gender         Gender `json:"gender"`
	CulturalRegion string `json:"culturalRegion,omitempty"`
}

// Edition is a canonical, provider-independent manifestation of a Work.
type Edition struct {
	ISBN            string   `json:"isbn,omitempty"`
	ISBNList        []string `json:"isbnList,omitempty"`
	Publisher       string   `json:"publisher,omitempty"`
	PublicationYear int      `json:"publicationYear,omitempty"`
	Format          Format   `json:"format"`
	CoverURL        string   `json:"coverUrl,omitempty"`
	PrimaryProvider string   `json:"primaryProvider"`
}

// Work is a canonical, provider-independent logical book.
//
// Synthetic is true when the record was derived from a single provider's
// edition without a matching true work record; downstream consumers
// de-duplicate synthetic works by ISBN instead of trusting work identity.
type Work struct {
	Title                string    `json:"title"`
	SubjectTags          []string  `json:"subjectTags"`
	Description          string    `json:"description,omitempty"`
	FirstPublicationYear int       `json:"firstPublicationYear,omitempty"`
	Authors              []Author  `json:"authors"`
	Editions             []Edition `json:"editions"`
	Synthetic            bool      `json:"synthetic"`
	PrimaryProvider      string    `json:"primaryProvider"`
	Contributors         []string  `json:"contributors"`
	GoogleBooksVolumeIDs []string  `json:"googleBooksVolumeIds,omitempty"`
	OpenLibraryWorkIDs   []string  `json:"openLibraryWorkIds,omitempty"`
	ISBNdbIDs            []string  `json:"isbndbIds,omitempty"`
	QualityScore         float64   `json:"qualityScore"`
}

// EnrichedRecord is the unit returned by the enrichment engine's EnrichOne.
type EnrichedRecord struct {
	Work     Work      `json:"work"`
	Editions []Edition `json:"editions,omitempty"`
	Authors  []Author  `json:"authors,omitempty"`
}

// NormalizedResponse is what every provider client and normalizer produces.
type NormalizedResponse struct {
	Works    []Work
	Editions []Edition
	Authors  []Author
}

// Empty reports whether the response carries no records at all.
func (n NormalizedResponse) Empty() bool {
	return len(n.Works) == 0 && len(n.Editions) == 0 && len(n.Authors) == 0
}

// ProviderMeta carries provenance for a provider call, independent of the
// normalized payload itself.
type ProviderMeta struct {
	Provider   string        `json:"provider"`
	Cached     bool          `json:"cached"`
	Latency    time.Duration `json:"-"`
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
}

// PipelineKind enumerates the background pipelines a Job can run.
type PipelineKind string

const (
	PipelineBatchEnrichment PipelineKind = "batch_enrichment"
	PipelineAIScan          PipelineKind = "ai_scan"
	PipelineBatchAIScan     PipelineKind = "batch_ai_scan"
	PipelineCSVImport       PipelineKind = "csv_import"
)

// JobStatus enumerates the Job state machine's nodes.
type JobStatus string

const (
	JobInitializing JobStatus = "initializing"
	JobReady        JobStatus = "ready"
	JobProcessing   JobStatus = "processing"
	JobComplete     JobStatus = "complete"
	JobFailed       JobStatus = "failed"
	JobCanceled     JobStatus = "canceled"
)

// Terminal reports whether a JobStatus is one of the DAG's sink states.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobComplete, JobFailed, JobCanceled:
		return true
	default:
		return false
	}
}

// PhotoStatus enumerates a batch-scan Photo's per-item lifecycle.
type PhotoStatus string

const (
	PhotoQueued     PhotoStatus = "queued"
	PhotoProcessing PhotoStatus = "processing"
	PhotoComplete   PhotoStatus = "complete"
	PhotoError      PhotoStatus = "error"
)

// Photo is the batch-scan sub-entity tracked per uploaded image.
type Photo struct {
	Index        int         `json:"index"`
	Status       PhotoStatus `json:"status"`
	BooksFound   int         `json:"booksFound"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
}

// AuthToken binds a rotating, job-scoped credential to a Job.
type AuthToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// JobState is the full persisted/observable state of a Job, returned by
// Snapshot and serialized to the durable job store.
type JobState struct {
	ID              string       `json:"id"`
	Pipeline        PipelineKind `json:"pipeline"`
	Status          JobStatus    `json:"status"`
	Total           int          `json:"total"`
	Processed       int          `json:"processed"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	Result          any          `json:"result,omitempty"`
	Version         int64        `json:"version"`
	Token           string       `json:"token,omitempty"`
	TokenExpiresAt  time.Time    `json:"tokenExpiresAt,omitempty"`
	Photos          []Photo      `json:"photos,omitempty"`
	CancelRequested bool         `json:"cancelRequested"`
	StagedInput     []byte       `json:"-"`
}

// CacheEntry is the value stored in both cache tiers.
type CacheEntry struct {
	Payload        []byte        `json:"payload"`
	StoredAt       time.Time     `json:"storedAt"`
	TTL            time.Duration `json:"ttl"`
	SourceProvider string        `json:"sourceProvider"`
	QualityScore   float64       `json:"qualityScore"`
}
