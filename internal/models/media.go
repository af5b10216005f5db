// -----------------------------------------------------------------------
// Media entities synced from the external server API
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// Item types as reported by the media server. Only the catalog subset is
// eligible for embedding generation.
const (
	ItemTypeMovie   = "Movie"
	ItemTypeSeries  = "Series"
	ItemTypeEpisode = "Episode"
)

// EmbeddingEligibleTypes is the catalog-item subset the embedding worker
// selects from.
var EmbeddingEligibleTypes = []string{ItemTypeMovie, ItemTypeSeries, ItemTypeEpisode}

// MediaKey builds the storage key for a per-server entity. External IDs are
// only unique within one server, so every synced entity is keyed by both.
func MediaKey(serverID, externalID string) string {
	return fmt.Sprintf("%s:%s", serverID, externalID)
}

// MediaUser is a user account on a managed server.
type MediaUser struct {
	Key      string `badgerhold:"key" json:"-"`
	ID       string `json:"id"`
	ServerID string `badgerhold:"index" json:"server_id"`
	Name     string `json:"name"`
	IsAdmin  bool   `json:"is_admin"`

	LastLoginDate    *time.Time `json:"last_login_date,omitempty"`
	LastActivityDate *time.Time `json:"last_activity_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MediaLibrary is a virtual folder / library on a managed server. Item
// listing is scoped by library, so the sync pipeline iterates these.
type MediaLibrary struct {
	Key            string `badgerhold:"key" json:"-"`
	ID             string `json:"id"`
	ServerID       string `badgerhold:"index" json:"server_id"`
	Name           string `json:"name"`
	CollectionType string `json:"collection_type,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Person is one cast or crew credit on an item.
type Person struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
	Type string `json:"type,omitempty"` // Actor, Director, Writer, ...
}

// MediaItem is one catalog entry. The embedding fields (Embedding,
// Processed) are owned by the embedding worker; metadata upserts must
// preserve them.
type MediaItem struct {
	Key       string `badgerhold:"key" json:"-"`
	ID        string `json:"id"`
	ServerID  string `badgerhold:"index" json:"server_id"`
	LibraryID string `json:"library_id,omitempty"`

	Name            string     `json:"name"`
	OriginalTitle   string     `json:"original_title,omitempty"`
	Type            string     `badgerhold:"index" json:"type"`
	SeriesName      string     `json:"series_name,omitempty"`
	Overview        string     `json:"overview,omitempty"`
	Genres          []string   `json:"genres,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	ProductionYear  int        `json:"production_year,omitempty"`
	PremiereDate    *time.Time `json:"premiere_date,omitempty"`
	CommunityRating float64    `json:"community_rating,omitempty"`
	OfficialRating  string     `json:"official_rating,omitempty"`
	Studios         []string   `json:"studios,omitempty"`
	RuntimeMinutes  int        `json:"runtime_minutes,omitempty"`
	People          []Person   `json:"people,omitempty"`

	Embedding []float32 `json:"-"`
	Processed bool      `badgerhold:"index" json:"processed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsEmbeddingEligible reports whether the item's type is in the catalog
// subset the embedding worker handles.
func (i *MediaItem) IsEmbeddingEligible() bool {
	for _, t := range EmbeddingEligibleTypes {
		if i.Type == t {
			return true
		}
	}
	return false
}

// ActivityEntry is one entry from the server's activity log.
type ActivityEntry struct {
	Key      string `badgerhold:"key" json:"-"`
	ID       string `json:"id"`
	ServerID string `badgerhold:"index" json:"server_id"`
	UserID   string `json:"user_id,omitempty"`
	ItemID   string `json:"item_id,omitempty"`

	Name     string    `json:"name"`
	Type     string    `json:"type,omitempty"`
	Severity string    `json:"severity,omitempty"`
	Date     time.Time `json:"date"`

	CreatedAt time.Time `json:"created_at"`
}
