package docs

// Document status values; CLOSED blocks non-privileged saves.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// VersionRetention caps how many content snapshots are kept per document.
const VersionRetention = 50

// RoomPrefix namespaces document rooms apart from workspace rooms in the
// shared broadcast hub.
const RoomPrefix = "textdoc:"

// ValidLanguages is the syntax-highlighting whitelist for documents.
var ValidLanguages = map[string]struct{}{
	"plaintext":  {},
	"javascript": {},
	"python":     {},
	"html":       {},
	"css":        {},
	"markdown":   {},
	"xml":        {},
	"sql":        {},
	"json":       {},
}

// Document is a shared plain-text document under optimistic concurrency
// control. Version increases by exactly one per committed save.
type Document struct {
	ID         string  `gorm:"column:id;primaryKey;size:190;not null"`
	Title      string  `gorm:"column:title;size:190;not null"`
	Language   string  `gorm:"column:language;size:32;not null;default:plaintext"`
	Status     string  `gorm:"column:status;size:16;not null;default:OPEN"`
	Version    int64   `gorm:"column:version;not null;default:1"`
	CreatedBy  string  `gorm:"column:created_by;size:190;not null"`
	ClosedBy   *string `gorm:"column:closed_by;size:190"`
	ClosedAtS  *int64  `gorm:"column:closed_at_s"`
	CreatedAtS int64   `gorm:"column:created_at_s;not null"`
	UpdatedAtS int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "text_documents"
}

// DocumentContent is one full content snapshot at a version.
type DocumentContent struct {
	ID         string `gorm:"column:id;primaryKey;size:190;not null"`
	DocumentID string `gorm:"column:document_id;size:190;not null;uniqueIndex:idx_doc_contents_version,priority:1"`
	Version    int64  `gorm:"column:version;not null;uniqueIndex:idx_doc_contents_version,priority:2"`
	Content    string `gorm:"column:content;type:text;not null"`
	UpdatedBy  string `gorm:"column:updated_by;size:190;not null"`
	UpdatedAtS int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (DocumentContent) TableName() string {
	return "text_document_contents"
}

// DocumentChangeLog is the append-only save history shown to users.
type DocumentChangeLog struct {
	ID          string `gorm:"column:id;primaryKey;size:190;not null"`
	DocumentID  string `gorm:"column:document_id;size:190;not null;index:idx_doc_changes_doc"`
	UserID      string `gorm:"column:user_id;size:190;not null"`
	Version     int64  `gorm:"column:version;not null"`
	ContentSize int    `gorm:"column:content_size;not null"`
	ChangedAtS  int64  `gorm:"column:changed_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (DocumentChangeLog) TableName() string {
	return "text_document_change_logs"
}
