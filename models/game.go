// Package models defines data structures for the scraper.
package models

import "time"

// Field defaults applied whenever the storefront markup does not yield a value.
const (
	DefaultText  = "N/A"
	DefaultSize  = "0 MB"
	DefaultPrice = "Free"
	Yes          = "Yes"
	No           = "No"
)

// CSVHeader is the fixed column order of every tabular output.
var CSVHeader = []string{
	"Developer Name",
	"Game Name",
	"Ratings",
	"Size",
	"Age Limit",
	"Price",
	"Genre",
	"Game Center Integ",
	"Achievement",
	"Leaderboard",
}

// GameRecord is one extracted application page.
type GameRecord struct {
	DeveloperName         string `csv:"Developer Name" json:"developer_name"`
	GameName              string `csv:"Game Name" json:"game_name"`
	Rating                string `csv:"Ratings" json:"rating"`
	Size                  string `csv:"Size" json:"size"`
	AgeLimit              string `csv:"Age Limit" json:"age_limit"`
	Price                 string `csv:"Price" json:"price"`
	Genre                 string `csv:"Genre" json:"genre"`
	GameCenterIntegration string `csv:"Game Center Integ" json:"game_center_integration"`
	Achievement           string `csv:"Achievement" json:"achievement"`
	Leaderboard           string `csv:"Leaderboard" json:"leaderboard"`

	RatingCount  string    `csv:"-" json:"rating_count"`
	URL          string    `csv:"-" json:"url"`
	DeveloperURL string    `csv:"-" json:"developer_url,omitempty"`
	ScrapedAt    time.Time `csv:"-" json:"scraped_at"`
}

// NewGameRecord returns a record for pageURL with every field defaulted.
func NewGameRecord(pageURL string) GameRecord {
	return GameRecord{
		DeveloperName:         DefaultText,
		GameName:              DefaultText,
		Rating:                DefaultText,
		Size:                  DefaultSize,
		AgeLimit:              DefaultText,
		Price:                 DefaultPrice,
		Genre:                 DefaultText,
		GameCenterIntegration: No,
		Achievement:           No,
		Leaderboard:           No,
		RatingCount:           DefaultText,
		URL:                   pageURL,
	}
}

// Row returns the CSV values in CSVHeader order.
func (g *GameRecord) Row() []string {
	return []string{
		g.DeveloperName,
		g.GameName,
		g.Rating,
		g.Size,
		g.AgeLimit,
		g.Price,
		g.Genre,
		g.GameCenterIntegration,
		g.Achievement,
		g.Leaderboard,
	}
}

// DeveloperResolution is the developer identity found on an application page.
// An empty URL means the page did not link a developer catalog.
type DeveloperResolution struct {
	Name string
	URL  string
}

// Found reports whether the page linked a developer catalog.
func (d DeveloperResolution) Found() bool {
	return d.URL != ""
}

// YesNo renders a flag the way the CSV output expects it.
func YesNo(v bool) string {
	if v {
		return Yes
	}
	return No
}
