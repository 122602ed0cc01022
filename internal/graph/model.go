package graph

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// NodeType enumerates the supported node kinds.
type NodeType string

const (
	NodeTypePerson   NodeType = "person"
	NodeTypeCompany  NodeType = "company"
	NodeTypeGroup    NodeType = "group"
	NodeTypeLocation NodeType = "location"
)

// Provenance marks whether a record came from a direct user action or from ingestion.
type Provenance string

const (
	ProvenanceUser Provenance = "user"
	ProvenanceAI   Provenance = "ai"
)

// EventTypeNote is the conventional event type for free-form notes.
const EventTypeNote = "note"

const maxIdentifierLength = 190

var (
	// ErrValidation marks input rejected before any side effect.
	ErrValidation = errors.New("graph: validation failed")
	// ErrNotFound indicates that a referenced record does not exist.
	ErrNotFound = errors.New("graph: record not found")

	colorHexPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

// ParseNodeType validates a raw node type. An empty value yields nil (unset).
func ParseNodeType(raw string) (*NodeType, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return nil, nil
	}
	switch NodeType(trimmed) {
	case NodeTypePerson, NodeTypeCompany, NodeTypeGroup, NodeTypeLocation:
		value := NodeType(trimmed)
		return &value, nil
	default:
		return nil, fmt.Errorf("%w: unknown node type %q", ErrValidation, raw)
	}
}

// ValidateColorHex ensures the value is a #rrggbb color.
func ValidateColorHex(value string) error {
	if !colorHexPattern.MatchString(value) {
		return fmt.Errorf("%w: malformed color %q", ErrValidation, value)
	}
	return nil
}

func validateID(kind, rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty %s id", ErrValidation, kind)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: %s id exceeds %d characters", ErrValidation, kind, maxIdentifierLength)
	}
	return trimmed, nil
}

// NormalizeLabel is the case-folded form labels are matched on.
// Folding happens here rather than in SQL because LOWER and LIKE only fold ASCII on SQLite.
func NormalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// Node is an entity in the relationship graph.
type Node struct {
	ID            string         `gorm:"column:id;primaryKey;size:190" json:"id"`
	Label         string         `gorm:"column:label;size:512;not null;index" json:"label"`
	LabelKey      string         `gorm:"column:label_key;size:512;not null;default:'';index" json:"-"`
	Type          *NodeType      `gorm:"column:type;size:32;index" json:"type"`
	ColorHexLight string         `gorm:"column:color_hex_light;size:7;not null" json:"colorHexLight"`
	ColorHexDark  string         `gorm:"column:color_hex_dark;size:7;not null" json:"colorHexDark"`
	ImageMediaID  *string        `gorm:"column:image_media_id;size:190" json:"imageMediaId"`
	Archived      bool           `gorm:"column:archived;not null;default:false" json:"archived"`
	AddedBy       Provenance     `gorm:"column:added_by;size:16;not null" json:"addedBy"`
	Metadata      datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time      `gorm:"column:created_at;not null;index" json:"createdAt"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Node) TableName() string {
	return "nodes"
}

// Link is an undirected edge stored with node_a_id < node_b_id.
type Link struct {
	ID        string    `gorm:"column:id;primaryKey;size:190" json:"id"`
	NodeAID   string    `gorm:"column:node_a_id;size:190;not null;uniqueIndex:idx_links_pair,priority:1" json:"nodeAId"`
	NodeBID   string    `gorm:"column:node_b_id;size:190;not null;uniqueIndex:idx_links_pair,priority:2;index" json:"nodeBId"`
	Roles     []Role    `gorm:"many2many:link_roles" json:"roles"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Link) TableName() string {
	return "links"
}

// Role annotates a link.
type Role struct {
	ID   string `gorm:"column:id;primaryKey;size:190" json:"id"`
	Slug string `gorm:"column:slug;size:190;not null;uniqueIndex" json:"slug"`
	Name string `gorm:"column:name;size:190;not null" json:"name"`
}

// TableName provides the explicit table binding for GORM.
func (Role) TableName() string {
	return "roles"
}

// Event is a timestamped record attached to one node.
type Event struct {
	ID          string     `gorm:"column:id;primaryKey;size:190" json:"id"`
	NodeID      string     `gorm:"column:node_id;size:190;not null;index" json:"nodeId"`
	Type        string     `gorm:"column:type;size:64;not null" json:"type"`
	Description *string    `gorm:"column:description;type:text" json:"description"`
	AddedBy     Provenance `gorm:"column:added_by;size:16;not null;index" json:"addedBy"`
	Tags        []Tag      `gorm:"many2many:event_tags" json:"tags"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null;index" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "events"
}

// EventMedia joins an event to a media record.
type EventMedia struct {
	EventID   string    `gorm:"column:event_id;primaryKey;size:190" json:"eventId"`
	MediaID   string    `gorm:"column:media_id;primaryKey;size:190;index" json:"mediaId"`
	Visible   bool      `gorm:"column:visible;not null" json:"visible"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (EventMedia) TableName() string {
	return "event_media"
}

// Media stores content-addressed binary payloads.
type Media struct {
	ID          string    `gorm:"column:id;primaryKey;size:190" json:"id"`
	MimeType    string    `gorm:"column:mime_type;size:190;not null" json:"mimeType"`
	Kind        string    `gorm:"column:kind;size:16;not null" json:"kind"`
	ByteSize    int64     `gorm:"column:byte_size;not null" json:"byteSize"`
	SHA256      string    `gorm:"column:sha256;size:64;not null;uniqueIndex" json:"sha256"`
	ImageWidth  *int      `gorm:"column:image_width" json:"imageWidth"`
	ImageHeight *int      `gorm:"column:image_height" json:"imageHeight"`
	Data        []byte    `gorm:"column:data;not null" json:"-"`
	CreatedAt   time.Time `gorm:"column:created_at;not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Media) TableName() string {
	return "media"
}

// Tag labels events.
type Tag struct {
	ID   string `gorm:"column:id;primaryKey;size:190" json:"id"`
	Slug string `gorm:"column:slug;size:190;not null;uniqueIndex" json:"slug"`
	Name string `gorm:"column:name;size:190;not null" json:"name"`
}

// TableName provides the explicit table binding for GORM.
func (Tag) TableName() string {
	return "tags"
}

// Models lists every persisted type for schema migration.
func Models() []any {
	return []any{&Node{}, &Role{}, &Link{}, &Tag{}, &Event{}, &Media{}, &EventMedia{}}
}
