package embeddings

import (
	"strconv"
	"strings"

	"github.com/ternarybob/specto/internal/models"
)

// Credits are capped so a long cast list cannot drown out the descriptive
// fields in the embedded text.
const (
	maxCastCredits = 15
	maxCrewCredits = 10
)

// BuildItemText renders the metadata an item's vector is derived from, one
// labeled line per populated field. An item with no descriptive metadata
// yields an empty string and is skipped without calling the provider.
func BuildItemText(item *models.MediaItem) string {
	var lines []string
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, label+": "+value)
		}
	}

	add("Title", item.Name)
	if !strings.EqualFold(item.OriginalTitle, item.Name) {
		add("Original title", item.OriginalTitle)
	}
	add("Series", item.SeriesName)
	add("Overview", item.Overview)
	add("Genres", strings.Join(item.Genres, ", "))
	add("Tags", strings.Join(item.Tags, ", "))
	if item.ProductionYear > 0 {
		add("Year", strconv.Itoa(item.ProductionYear))
	}
	if item.PremiereDate != nil {
		add("Premiered", item.PremiereDate.UTC().Format("2006-01-02"))
	}
	if item.CommunityRating > 0 {
		add("Community rating", strconv.FormatFloat(item.CommunityRating, 'f', 1, 64))
	}
	add("Official rating", item.OfficialRating)
	add("Studios", strings.Join(item.Studios, ", "))
	if item.RuntimeMinutes > 0 {
		add("Runtime", strconv.Itoa(item.RuntimeMinutes)+" minutes")
	}
	cast, crew := creditLines(item.People)
	add("Cast", cast)
	add("Crew", crew)

	if len(lines) == 0 {
		return ""
	}
	// The type label alone carries no signal, so it only joins real content.
	if item.Type != "" {
		lines = append([]string{"Type: " + item.Type}, lines...)
	}
	return strings.Join(lines, "\n")
}

func creditLines(people []models.Person) (string, string) {
	var cast, crew []string
	for _, person := range people {
		if person.Name == "" {
			continue
		}
		switch person.Type {
		case "Actor", "GuestStar":
			if len(cast) >= maxCastCredits {
				continue
			}
			if person.Role != "" {
				cast = append(cast, person.Name+" as "+person.Role)
			} else {
				cast = append(cast, person.Name)
			}
		default:
			if len(crew) >= maxCrewCredits {
				continue
			}
			if person.Type != "" {
				crew = append(crew, person.Name+" ("+person.Type+")")
			} else {
				crew = append(crew, person.Name)
			}
		}
	}
	return strings.Join(cast, ", "), strings.Join(crew, ", ")
}
