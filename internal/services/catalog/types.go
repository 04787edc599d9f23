package catalog

// Artist is the subset of a catalog artist record the enrichment pipeline
// consumes.
type Artist struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Genres []string `json:"genres"`
	URL    string   `json:"url"`
}

// Playlist is the reference returned by playlist creation.
type Playlist struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Token is a catalog credential pair with its declared lifetime in seconds.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
}

// Profile is a catalog account profile snapshot.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Country     string `json:"country"`
}
