package extraction

// Event is one concert occurrence read off a poster.
type Event struct {
	Venue    string `json:"venue"`
	Location string `json:"location"`
	Date     string `json:"date"`
	Upcoming bool   `json:"upcoming"`
}

// Metadata is the structured payload extracted from a poster image.
type Metadata struct {
	BandNames []string `json:"bandNames"`
	Events    []Event  `json:"events"`
	Slug      string   `json:"slug"`
}

// HasContent reports whether the extraction produced anything usable. A
// poster without band names and without a slug cannot be committed.
func (m Metadata) HasContent() bool {
	return len(m.BandNames) > 0 && m.Slug != ""
}
