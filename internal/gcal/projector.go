// Package gcal projects mirrored events into linked users' Google calendars.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"gitea.jw6.us/james/guildcal/internal/model"
)

// DefaultDuration is used for events without an end time.
const DefaultDuration = time.Hour

// Config controls where and how entries are written.
type Config struct {
	CalendarID string
	// TimeZone is the IANA zone written on start and end.
	TimeZone string
	Timeout  time.Duration
	// Endpoint overrides the API base URL.
	Endpoint string
}

// Projector writes events into one calendar per credential.
type Projector struct {
	cfg Config
}

func NewProjector(cfg Config) *Projector {
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	if cfg.TimeZone == "" {
		cfg.TimeZone = "UTC"
	}
	return &Projector{cfg: cfg}
}

// Upsert creates the entry, or updates it when the id already exists.
// Entries the user deleted in the UI still exist as cancelled and are
// revived by the update.
func (p *Projector) Upsert(ctx context.Context, cred model.Credential, ev model.Event) error {
	srv, err := p.service(ctx, cred)
	if err != nil {
		return err
	}

	body := p.body(ev)
	_, err = srv.Events.Insert(p.cfg.CalendarID, body).Context(ctx).Do()
	if err == nil {
		return nil
	}
	if !hasStatus(err, http.StatusConflict) {
		return fmt.Errorf("insert calendar event %s: %w", ev.ID, err)
	}
	if _, err := srv.Events.Update(p.cfg.CalendarID, ev.ID, body).Context(ctx).Do(); err != nil {
		return fmt.Errorf("update calendar event %s: %w", ev.ID, err)
	}
	return nil
}

// Remove deletes the entry. Entries that are already gone count as removed.
func (p *Projector) Remove(ctx context.Context, cred model.Credential, id string) error {
	srv, err := p.service(ctx, cred)
	if err != nil {
		return err
	}

	err = srv.Events.Delete(p.cfg.CalendarID, id).Context(ctx).Do()
	if err == nil || hasStatus(err, http.StatusGone) || hasStatus(err, http.StatusNotFound) {
		return nil
	}
	return fmt.Errorf("delete calendar event %s: %w", id, err)
}

func (p *Projector) service(ctx context.Context, cred model.Credential) (*calendar.Service, error) {
	client := &http.Client{
		Timeout: p.cfg.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.AccessToken, TokenType: "Bearer"}),
			Base:   http.DefaultTransport,
		},
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if p.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(p.cfg.Endpoint))
	}
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar service for %s: %w", cred.UserID, err)
	}
	return srv, nil
}

func (p *Projector) body(ev model.Event) *calendar.Event {
	body := &calendar.Event{
		Id:      ev.ID,
		Status:  "confirmed",
		Summary: ev.Name,
		Start: &calendar.EventDateTime{
			DateTime: ev.StartTime.Format(time.RFC3339),
			TimeZone: p.cfg.TimeZone,
		},
		End: &calendar.EventDateTime{
			DateTime: ev.End(DefaultDuration).Format(time.RFC3339),
			TimeZone: p.cfg.TimeZone,
		},
	}
	if ev.Description != nil {
		body.Description = *ev.Description
	}
	if ev.Location != nil {
		body.Location = *ev.Location
	}
	if ev.Recurrence != nil {
		body.Recurrence = []string{*ev.Recurrence}
	}
	if ev.URL != "" {
		body.Source = &calendar.EventSource{Title: ev.Name, Url: ev.URL}
	}
	return body
}

func hasStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}
