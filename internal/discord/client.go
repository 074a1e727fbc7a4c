package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"gitea.jw6.us/james/guildcal/internal/log"
	"gitea.jw6.us/james/guildcal/internal/model"
	"gitea.jw6.us/james/guildcal/internal/recurrence"
)

// ErrEventNotFound is returned by GetEvent for unknown or deleted events.
var ErrEventNotFound = errors.New("scheduled event not found")

var errNotFound = errors.New("not found")

// DefaultAPIURL is the versioned REST base.
const DefaultAPIURL = "https://discord.com/api/v10"

// Client reads a guild's scheduled events over the REST API.
type Client struct {
	baseURL string
	guildID string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Client authenticated as a bot. An empty baseURL selects
// DefaultAPIURL.
func NewClient(baseURL, guildID, token string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		guildID: guildID,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		// The global bot limit is 50 requests per second.
		limiter: rate.NewLimiter(rate.Limit(40), 10),
	}
}

// ListEvents returns the guild's current scheduled events as a snapshot.
func (c *Client) ListEvents(ctx context.Context) (model.Snapshot, error) {
	var raw []ScheduledEvent
	if err := c.get(ctx, "/guilds/"+c.guildID+"/scheduled-events", &raw); err != nil {
		return nil, fmt.Errorf("list scheduled events: %w", err)
	}

	snap := make(model.Snapshot, 0, len(raw))
	for _, se := range raw {
		snap = append(snap, c.toModel(se))
	}
	log.Debug("fetched scheduled events", "guild_id", c.guildID, "count", len(snap))
	return snap, nil
}

// GetEvent returns one event together with its lifecycle status.
func (c *Client) GetEvent(ctx context.Context, id string) (model.Event, model.Status, error) {
	var se ScheduledEvent
	if err := c.get(ctx, "/guilds/"+c.guildID+"/scheduled-events/"+id, &se); err != nil {
		if errors.Is(err, errNotFound) {
			return model.Event{}, 0, ErrEventNotFound
		}
		return model.Event{}, 0, fmt.Errorf("get scheduled event %s: %w", id, err)
	}
	return c.toModel(se), se.Status, nil
}

func (c *Client) toModel(se ScheduledEvent) model.Event {
	ev := model.Event{
		ID:          se.ID,
		Name:        se.Name,
		Description: se.Description,
		StartTime:   se.ScheduledStartTime,
		EndTime:     se.ScheduledEndTime,
		CreatorID:   se.CreatorID,
		URL:         EventURL(c.guildID, se.ID),
	}
	if se.EntityMetadata != nil {
		ev.Location = se.EntityMetadata.Location
	}
	if se.RecurrenceRule != nil {
		rule, err := recurrence.Translate(se.RecurrenceRule)
		if err != nil {
			log.Error("dropping untranslatable recurrence", err, "event_id", se.ID)
		} else if rule != "" {
			ev.Recurrence = &rule
		}
	}
	return ev
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("rate limited, retry after %ss", resp.Header.Get("Retry-After"))
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
