package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"gitea.jw6.us/james/guildcal/internal/log"
	"gitea.jw6.us/james/guildcal/internal/metrics"
	"gitea.jw6.us/james/guildcal/internal/model"
	"gitea.jw6.us/james/guildcal/internal/store"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ErrRefreshFailed marks a user whose access token could not be renewed.
var ErrRefreshFailed = errors.New("token refresh failed")

// CalendarScope is requested by the web app when a user links a calendar.
const CalendarScope = "https://www.googleapis.com/auth/calendar.events"

// Accounts is the persistence the supplier needs.
type Accounts interface {
	ListLinked(ctx context.Context) ([]store.Account, error)
	UpdateToken(ctx context.Context, userID, accessToken string, expiresAt int64) error
}

// Supplier hands out fresh access tokens for every linked user.
type Supplier struct {
	accounts Accounts
	oauth    *oauth2.Config
	skew     time.Duration
	client   *http.Client
	now      func() time.Time
}

type Option func(*Supplier)

// WithHTTPClient sets the client used for token endpoint calls.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Supplier) { s.client = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Supplier) { s.now = now }
}

// NewSupplier builds a Supplier against Google's token endpoint, or tokenURL
// when set.
func NewSupplier(accounts Accounts, clientID, clientSecret, tokenURL string, skew time.Duration, opts ...Option) *Supplier {
	endpoint := google.Endpoint
	if tokenURL != "" {
		endpoint = oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams}
	}
	s := &Supplier{
		accounts: accounts,
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{CalendarScope},
		},
		skew:   skew,
		client: http.DefaultClient,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LinkedUsers returns a credential for every linked account, refreshing
// tokens that expire within the skew window. Accounts whose refresh fails are
// left out of the result and logged.
func (s *Supplier) LinkedUsers(ctx context.Context) ([]model.Credential, error) {
	accounts, err := s.accounts.ListLinked(ctx)
	if err != nil {
		return nil, fmt.Errorf("list linked accounts: %w", err)
	}

	slots := make([]*model.Credential, len(accounts))
	var wg sync.WaitGroup
	for i, acct := range accounts {
		wg.Add(1)
		go func(i int, acct store.Account) {
			defer wg.Done()
			cred, err := s.credential(ctx, acct)
			if err != nil {
				log.Error("dropping user for this run", err, "user_id", acct.UserID)
				return
			}
			slots[i] = cred
		}(i, acct)
	}
	wg.Wait()

	creds := make([]model.Credential, 0, len(slots))
	for _, c := range slots {
		if c != nil {
			creds = append(creds, *c)
		}
	}
	metrics.SetLinkedUsers(len(creds))
	return creds, nil
}

func (s *Supplier) credential(ctx context.Context, acct store.Account) (*model.Credential, error) {
	expiry := time.Unix(acct.ExpiresAt, 0)
	if acct.AccessToken != "" && !expiry.Before(s.now().Add(s.skew)) {
		return &model.Credential{UserID: acct.UserID, AccessToken: acct.AccessToken, Expiry: expiry}, nil
	}

	tok, err := s.refresh(ctx, acct.RefreshToken)
	metrics.ObserveTokenRefresh(err)
	if err != nil {
		return nil, err
	}

	expiresAt := tok.Expiry.Unix()
	if err := s.accounts.UpdateToken(ctx, acct.UserID, tok.AccessToken, expiresAt); err != nil {
		// The token is still good for this run.
		log.Error("persist refreshed token", err, "user_id", acct.UserID)
	}
	log.Debug("refreshed access token", "user_id", acct.UserID, "expires_at", expiresAt)
	return &model.Credential{UserID: acct.UserID, AccessToken: tok.AccessToken, Expiry: tok.Expiry}, nil
}

func (s *Supplier) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", ErrRefreshFailed)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	// An already expired token forces the source to hit the endpoint.
	src := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	if tok.AccessToken == "" || tok.Expiry.IsZero() {
		return nil, fmt.Errorf("%w: response lacks access_token or expires_in", ErrRefreshFailed)
	}
	return tok, nil
}
