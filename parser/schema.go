package parser

// MarkupSchema maps each semantic field of a storefront page to the CSS
// selector that locates it. Swapping the schema is how a markup change on the
// storefront is absorbed without touching extraction logic.
type MarkupSchema interface {
	Title() string
	Identity() string
	RatingAverage() string
	RatingCount() string
	InfoItem() string
	InfoDefinition() string
	Supports() string
	DeveloperSection() string
	FeaturedItem() string
}

// SelectorSchema is the configurable MarkupSchema. Blank fields fall back to
// the DefaultSchema selector.
type SelectorSchema struct {
	TitleSelector            string `yaml:"title"`
	IdentitySelector         string `yaml:"identity"`
	RatingAverageSelector    string `yaml:"rating_average"`
	RatingCountSelector      string `yaml:"rating_count"`
	InfoItemSelector         string `yaml:"info_item"`
	InfoDefinitionSelector   string `yaml:"info_definition"`
	SupportsSelector         string `yaml:"supports"`
	DeveloperSectionSelector string `yaml:"developer_section"`
	FeaturedItemSelector     string `yaml:"featured_item"`
}

var _ MarkupSchema = SelectorSchema{}

// DefaultSchema returns the selectors of the apps.apple.com web storefront.
func DefaultSchema() SelectorSchema {
	return SelectorSchema{
		TitleSelector:            "h1.product-header__title",
		IdentitySelector:         "h2.product-header__identity a",
		RatingAverageSelector:    "span.we-customer-ratings__averages__display",
		RatingCountSelector:      "p.we-customer-ratings__count",
		InfoItemSelector:         "dl.information-list div.information-list__item",
		InfoDefinitionSelector:   "dl.information-list span.information-list__item__definition",
		SupportsSelector:         "div.supports-list__item__copy",
		DeveloperSectionSelector: "section.l-content-width.section.section--bordered",
		FeaturedItemSelector:     "a.we-product-collection__item",
	}
}

func pick(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func (s SelectorSchema) Title() string {
	return pick(s.TitleSelector, DefaultSchema().TitleSelector)
}

func (s SelectorSchema) Identity() string {
	return pick(s.IdentitySelector, DefaultSchema().IdentitySelector)
}

func (s SelectorSchema) RatingAverage() string {
	return pick(s.RatingAverageSelector, DefaultSchema().RatingAverageSelector)
}

func (s SelectorSchema) RatingCount() string {
	return pick(s.RatingCountSelector, DefaultSchema().RatingCountSelector)
}

func (s SelectorSchema) InfoItem() string {
	return pick(s.InfoItemSelector, DefaultSchema().InfoItemSelector)
}

func (s SelectorSchema) InfoDefinition() string {
	return pick(s.InfoDefinitionSelector, DefaultSchema().InfoDefinitionSelector)
}

func (s SelectorSchema) Supports() string {
	return pick(s.SupportsSelector, DefaultSchema().SupportsSelector)
}

func (s SelectorSchema) DeveloperSection() string {
	return pick(s.DeveloperSectionSelector, DefaultSchema().DeveloperSectionSelector)
}

func (s SelectorSchema) FeaturedItem() string {
	return pick(s.FeaturedItemSelector, DefaultSchema().FeaturedItemSelector)
}
