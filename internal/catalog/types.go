package catalog

// Channel is one catalog entry the scanner resolves.
type Channel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	GroupTitle string `json:"group_title,omitempty"`
	LogoURL    string `json:"logo_url,omitempty"`
}
