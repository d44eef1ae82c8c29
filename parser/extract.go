package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-appstore/models"
)

const (
	sizeLabel      = "Size"
	ageRatingLabel = "Age Rating"
	priceLabel     = "Price"
)

var ageRatingExpr = regexp.MustCompile(`\d+\+`)

// ExtractGame pulls a GameRecord out of an application page. It never fails:
// anything the markup does not provide keeps its default value.
func ExtractGame(doc *goquery.Document, schema MarkupSchema) (models.GameRecord, models.DeveloperResolution) {
	var dev models.DeveloperResolution
	if doc == nil {
		return models.NewGameRecord(""), dev
	}
	if schema == nil {
		schema = DefaultSchema()
	}

	pageURL := ""
	if doc.Url != nil {
		pageURL = doc.Url.String()
	}
	record := models.NewGameRecord(pageURL)

	setText(&record.GameName, doc.Find(schema.Title()).First())
	setText(&record.Rating, doc.Find(schema.RatingAverage()).First())
	setText(&record.RatingCount, doc.Find(schema.RatingCount()).First())
	setText(&record.Genre, doc.Find(schema.InfoDefinition()).First())

	if identity := doc.Find(schema.Identity()).First(); identity.Length() > 0 {
		dev.Name = cleanText(identity.Text())
		if href, ok := identity.Attr("href"); ok {
			dev.URL = ResolveURL(doc.Url, href)
		}
		if dev.Name != "" {
			record.DeveloperName = dev.Name
		}
		record.DeveloperURL = dev.URL
	}

	doc.Find(schema.InfoItem()).Each(func(_ int, item *goquery.Selection) {
		applyInfoItem(&record, strippedText(item))
	})

	applySupports(&record, doc.Find(schema.Supports()))

	return record, dev
}

// applyInfoItem reads one information-list entry. An entry is matched by its
// label and the value is whatever follows the label.
func applyInfoItem(record *models.GameRecord, text string) {
	if value, ok := valueAfter(text, sizeLabel); ok && value != "" {
		record.Size = value
	}
	if value, ok := valueAfter(text, ageRatingLabel); ok {
		if age := ageRatingExpr.FindString(value); age != "" {
			record.AgeLimit = age
		}
	}
	if value, ok := valueAfter(text, priceLabel); ok && value != "" {
		record.Price = value
	}
}

func applySupports(record *models.GameRecord, blocks *goquery.Selection) {
	if blocks.Length() == 0 {
		return
	}
	text := strings.ToLower(blocks.Text())

	achievements := strings.Contains(text, "achievements")
	leaderboards := strings.Contains(text, "leaderboards")
	integration := achievements || leaderboards || strings.Contains(text, "game center")

	record.GameCenterIntegration = models.YesNo(integration)
	record.Achievement = models.YesNo(achievements)
	record.Leaderboard = models.YesNo(leaderboards)
}

func setText(dst *string, sel *goquery.Selection) {
	if sel.Length() == 0 {
		return
	}
	if text := cleanText(sel.Text()); text != "" {
		*dst = text
	}
}
