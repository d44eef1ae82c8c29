// Package parser turns storefront markup into game records and application links.
package parser

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-appstore/models"
)

// ValidateGame ensures the record can be written and deduplicated.
func ValidateGame(g *models.GameRecord) error {
	if g == nil {
		return fmt.Errorf("game is nil")
	}
	if strings.TrimSpace(g.URL) == "" {
		return fmt.Errorf("game missing source url for %s", g.GameName)
	}
	return nil
}

// NormalizeRecord collapses whitespace in every field and restores the
// default of any field left blank.
func NormalizeRecord(g *models.GameRecord) {
	if g == nil {
		return
	}
	defaults := models.NewGameRecord(g.URL)
	fields := []struct {
		value    *string
		fallback string
	}{
		{&g.DeveloperName, defaults.DeveloperName},
		{&g.GameName, defaults.GameName},
		{&g.Rating, defaults.Rating},
		{&g.Size, defaults.Size},
		{&g.AgeLimit, defaults.AgeLimit},
		{&g.Price, defaults.Price},
		{&g.Genre, defaults.Genre},
		{&g.GameCenterIntegration, defaults.GameCenterIntegration},
		{&g.Achievement, defaults.Achievement},
		{&g.Leaderboard, defaults.Leaderboard},
		{&g.RatingCount, defaults.RatingCount},
	}
	for _, f := range fields {
		*f.value = cleanText(*f.value)
		if *f.value == "" {
			*f.value = f.fallback
		}
	}
}

// IsFreeToPlay reports whether the displayed price contains "Free".
func IsFreeToPlay(g *models.GameRecord) bool {
	if g == nil {
		return false
	}
	return strings.Contains(g.Price, "Free")
}

// Partition splits records into free-to-play and paid games, keeping order.
func Partition(records []models.GameRecord) (free, paid []models.GameRecord) {
	for i := range records {
		if IsFreeToPlay(&records[i]) {
			free = append(free, records[i])
		} else {
			paid = append(paid, records[i])
		}
	}
	return free, paid
}
