// Package google reports busy time from a user's primary Google Calendar.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/providers"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/storage"
)

const providerName = "google"

type TokenStore interface {
	Token(ctx context.Context, userID, provider string) ([]byte, error)
	SaveToken(ctx context.Context, userID, provider string, token []byte) error
}

type Provider struct {
	oauthCfg   *oauth2.Config
	tokens     TokenStore
	calendarID string
	apiOpts    []option.ClientOption
	logger     *slog.Logger
}

type Option func(*Provider)

// WithCalendarID queries a calendar other than "primary".
func WithCalendarID(id string) Option {
	return func(p *Provider) {
		if id != "" {
			p.calendarID = id
		}
	}
}

// WithClientOptions appends Calendar API client options, e.g. an endpoint override.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(p *Provider) { p.apiOpts = append(p.apiOpts, opts...) }
}

// NewProvider builds the provider from an OAuth client credentials file
// (the "installed" or "web" JSON downloaded from the Google console).
func NewProvider(credJSON []byte, tokens TokenStore, logger *slog.Logger, opts ...Option) (*Provider, error) {
	cfg, err := googleoauth.ConfigFromJSON(credJSON, calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("google: parsing credentials file: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{
		oauthCfg:   cfg,
		tokens:     tokens,
		calendarID: "primary",
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Provider) Source() model.BusySource { return model.SourceGoogle }

func (p *Provider) FetchBusy(ctx context.Context, userID string, start, end time.Time) ([]interval.Interval, error) {
	svc, err := p.calendarSvc(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: start.Format(time.RFC3339),
		TimeMax: end.Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: p.calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}

	cal, ok := resp.Calendars[p.calendarID]
	if !ok {
		return nil, fmt.Errorf("google: calendar %q missing from free/busy response", p.calendarID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("google: free/busy for %q: %s", p.calendarID, cal.Errors[0].Reason)
	}

	out := make([]interval.Interval, 0, len(cal.Busy))
	for _, b := range cal.Busy {
		s, err := time.Parse(time.RFC3339, b.Start)
		if err != nil {
			p.logger.Debug("google busy period skipped", "user_id", userID, "start", b.Start, "err", err)
			continue
		}
		e, err := time.Parse(time.RFC3339, b.End)
		if err != nil {
			p.logger.Debug("google busy period skipped", "user_id", userID, "end", b.End, "err", err)
			continue
		}
		out = append(out, interval.Interval{Start: s, End: e})
	}
	return out, nil
}

func (p *Provider) calendarSvc(ctx context.Context, userID string) (*calendar.Service, error) {
	raw, err := p.tokens.Token(ctx, userID, providerName)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, providers.ErrNoCredential
		}
		return nil, fmt.Errorf("google: loading token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("google: decoding token: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, providers.ErrNoCredential
	}

	src := &persistingSource{
		ctx:    ctx,
		base:   p.oauthCfg.TokenSource(ctx, &tok),
		tokens: p.tokens,
		userID: userID,
		last:   tok.AccessToken,
		logger: p.logger,
	}
	client := oauth2.NewClient(ctx, src)
	opts := append([]option.ClientOption{option.WithHTTPClient(client)}, p.apiOpts...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google: creating calendar service: %w", err)
	}
	return svc, nil
}

// persistingSource writes refreshed tokens back to the store.
type persistingSource struct {
	ctx    context.Context
	base   oauth2.TokenSource
	tokens TokenStore
	userID string
	logger *slog.Logger

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken == s.last {
		return tok, nil
	}
	s.last = tok.AccessToken
	raw, err := json.Marshal(tok)
	if err == nil {
		err = s.tokens.SaveToken(s.ctx, s.userID, providerName, raw)
	}
	if err != nil {
		s.logger.Warn("google token refresh not persisted", "user_id", s.userID, "err", err)
	}
	return tok, nil
}

func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden) {
		return fmt.Errorf("%w: %v", providers.ErrCredentialRejected, err)
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return fmt.Errorf("%w: %v", providers.ErrCredentialRejected, err)
	}
	return fmt.Errorf("google: free/busy query: %w", err)
}
