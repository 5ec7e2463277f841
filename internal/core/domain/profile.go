package domain

// Profile is the candidate profile postings are screened against. Loaded
// from config at startup, immutable afterwards.
type Profile struct {
	Skills          []string
	Summary         string
	ExcludeKeywords []string
}
