package mediaserver

import "time"

// Wire types for the Emby-compatible REST API. Field casing follows the
// server's JSON, which is PascalCase throughout.

// SystemInfo is the server identity returned by /System/Info.
type SystemInfo struct {
	ID              string `json:"Id"`
	ServerName      string `json:"ServerName"`
	Version         string `json:"Version"`
	OperatingSystem string `json:"OperatingSystem"`
}

// User is one account from /Users.
type User struct {
	ID               string     `json:"Id"`
	Name             string     `json:"Name"`
	LastLoginDate    *time.Time `json:"LastLoginDate,omitempty"`
	LastActivityDate *time.Time `json:"LastActivityDate,omitempty"`
	Policy           UserPolicy `json:"Policy"`
}

// UserPolicy carries the account flags this system reads.
type UserPolicy struct {
	IsAdministrator bool `json:"IsAdministrator"`
}

// Library is one virtual folder from /Library/VirtualFolders.
type Library struct {
	ItemID         string `json:"ItemId"`
	Name           string `json:"Name"`
	CollectionType string `json:"CollectionType,omitempty"`
}

// NameRef is the {Name, Id} shape the API uses for studios and similar
// reference lists.
type NameRef struct {
	Name string `json:"Name"`
}

// Person is one cast or crew credit on an item.
type Person struct {
	Name string `json:"Name"`
	Role string `json:"Role,omitempty"`
	Type string `json:"Type,omitempty"`
}

// UserData is the per-user playback state attached to items in user-scoped
// queries.
type UserData struct {
	Played         bool       `json:"Played"`
	PlayCount      int        `json:"PlayCount"`
	LastPlayedDate *time.Time `json:"LastPlayedDate,omitempty"`
}

// Item is one catalog entry from the /Items family of endpoints.
type Item struct {
	ID              string     `json:"Id"`
	Name            string     `json:"Name"`
	OriginalTitle   string     `json:"OriginalTitle,omitempty"`
	Type            string     `json:"Type"`
	SeriesName      string     `json:"SeriesName,omitempty"`
	Overview        string     `json:"Overview,omitempty"`
	Genres          []string   `json:"Genres,omitempty"`
	Tags            []string   `json:"Tags,omitempty"`
	ProductionYear  int        `json:"ProductionYear,omitempty"`
	PremiereDate    *time.Time `json:"PremiereDate,omitempty"`
	CommunityRating float64    `json:"CommunityRating,omitempty"`
	OfficialRating  string     `json:"OfficialRating,omitempty"`
	Studios         []NameRef  `json:"Studios,omitempty"`
	RunTimeTicks    int64      `json:"RunTimeTicks,omitempty"`
	People          []Person   `json:"People,omitempty"`
	UserData        *UserData  `json:"UserData,omitempty"`
}

// The server reports runtimes in 100ns ticks.
const ticksPerMinute = 600_000_000

// RuntimeMinutes converts the reported tick count to whole minutes.
func (i *Item) RuntimeMinutes() int {
	return int(i.RunTimeTicks / ticksPerMinute)
}

// StudioNames flattens the studio references to their names.
func (i *Item) StudioNames() []string {
	if len(i.Studios) == 0 {
		return nil
	}
	names := make([]string, 0, len(i.Studios))
	for _, s := range i.Studios {
		if s.Name != "" {
			names = append(names, s.Name)
		}
	}
	return names
}

// Activity is one entry from /System/ActivityLog/Entries. The server keys
// these with a numeric ID.
type Activity struct {
	ID       int64     `json:"Id"`
	Name     string    `json:"Name"`
	Type     string    `json:"Type,omitempty"`
	Severity string    `json:"Severity,omitempty"`
	Date     time.Time `json:"Date"`
	UserID   string    `json:"UserId,omitempty"`
	ItemID   string    `json:"ItemId,omitempty"`
}

// itemsResponse is the paged envelope for item queries.
type itemsResponse struct {
	Items            []Item `json:"Items"`
	TotalRecordCount int    `json:"TotalRecordCount"`
}

// activityResponse is the paged envelope for the activity log.
type activityResponse struct {
	Items            []Activity `json:"Items"`
	TotalRecordCount int        `json:"TotalRecordCount"`
}
