package store

// Account is a user's Google account row as written by the web app that links
// calendars. ExpiresAt is unix seconds.
type Account struct {
	UserID       string
	RefreshToken string
	AccessToken  string
	ExpiresAt    int64
}
