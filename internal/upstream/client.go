// Package upstream implements the read-path client for the PerfectGym
// ClientPortal2 API: per-user cookie sessions, the snapshot fetcher, and the
// calendar-filter catalog source. Everything upstream-shaped (pagination,
// response quirks) stays behind this package; the rest of the core only sees
// normalized ClassInstance records.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"sync"
	"time"

	"classwatch/internal/classes"
	"classwatch/pkg/logx"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/74.0.3729.169 Safari/537.36"

// ClubInfo carries the static attributes of a monitored club.
type ClubInfo struct {
	Name     string
	Location *time.Location
}

// Config configures the upstream client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration // per HTTP call
	UserAgent string
	Retry     Policy

	// DefaultLocation is the club-local zone used when a club has no
	// explicit override. Clubs may override per entry.
	DefaultLocation *time.Location
	Clubs           map[classes.ClubID]ClubInfo
}

type Client struct {
	cfg Config
	log logx.Logger
}

func NewClient(cfg Config, log logx.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("upstream base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.DefaultLocation == nil {
		cfg.DefaultLocation = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, log: log}, nil
}

func (c *Client) location(club classes.ClubID) *time.Location {
	if info, ok := c.cfg.Clubs[club]; ok && info.Location != nil {
		return info.Location
	}
	return c.cfg.DefaultLocation
}

func (c *Client) clubName(club classes.ClubID) string {
	if info, ok := c.cfg.Clubs[club]; ok {
		return info.Name
	}
	return ""
}

// Session is one authenticated upstream session. The portal tracks auth via
// cookies, so each session owns its own jar-backed HTTP client.
type Session struct {
	c    *Client
	http *http.Client
	log  logx.Logger

	MemberID   int64
	HomeClubID classes.ClubID
}

// Login authenticates and returns a fresh session. Transient upstream
// failures (5xx, timeouts) are retried per the client's policy; credential
// rejections are not.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	s := &Session{
		c:    c,
		http: &http.Client{Jar: jar, Timeout: c.cfg.Timeout},
		log:  c.log,
	}

	body := loginRequest{RememberMe: true, Login: email, Password: password}
	err = c.cfg.Retry.Do(ctx, c.log, "login", func(ctx context.Context) error {
		var resp loginResponse
		if err := s.post(ctx, "login", "/ClientPortal2/Auth/Login", body, &resp); err != nil {
			return err
		}
		s.MemberID = resp.User.Member.ID
		s.HomeClubID = classes.ClubID(resp.User.Member.HomeClubID)
		return nil
	}, IsTransient)
	if err != nil {
		return nil, err
	}
	if s.MemberID == 0 {
		// 200 with an empty member block means the portal rejected the login
		// without a proper status code.
		return nil, &FetchError{Op: "login", Auth: true, Err: errors.New("no member in login response")}
	}
	return s, nil
}

// FetchWindow retrieves the full availability snapshot for the given clubs
// inside the lookahead window. The result is deduplicated by natural key and
// all-or-nothing: any failed request fails the whole fetch so the matcher
// never sees a partial snapshot.
func (s *Session) FetchWindow(ctx context.Context, clubs []classes.ClubID, win Window) ([]classes.ClassInstance, error) {
	var out []classes.ClassInstance
	seen := make(map[classes.InstanceKey]struct{})

	for _, club := range clubs {
		loc := s.c.location(club)
		from := win.From.In(loc)
		to := win.To.In(loc)

		// The calendar pages by day; walk the window one local day at a time.
		day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
		for !day.After(to) {
			classesForDay, err := s.dailyClasses(ctx, club, day)
			if err != nil {
				return nil, err
			}
			for _, w := range classesForDay {
				inst, err := s.normalize(w, club, loc)
				if err != nil {
					s.log.Warn("skipping malformed upstream class",
						logx.Int64("club", int64(club)), logx.Int64("class", w.ID), logx.Err(err))
					continue
				}
				if inst.Start.Before(win.From) || inst.Start.After(win.To) {
					continue
				}
				if _, dup := seen[inst.Key]; dup {
					// Duplicates inside one fetch are an upstream anomaly,
					// not expected pagination behavior.
					s.log.Warn("duplicate class instance in snapshot",
						logx.Int64("club", int64(club)), logx.String("key", string(inst.Key)))
					continue
				}
				seen[inst.Key] = struct{}{}
				out = append(out, inst)
			}
			day = day.AddDate(0, 0, 1)
		}
	}
	return out, nil
}

func (s *Session) dailyClasses(ctx context.Context, club classes.ClubID, day time.Time) ([]wireClass, error) {
	req := dailyClassesRequest{
		ClubID: int64(club),
		Date:   day.Format("2006-01-02"),
	}
	var resp dailyClassesResponse
	err := s.c.cfg.Retry.Do(ctx, s.log, "daily_classes", func(ctx context.Context) error {
		return s.post(ctx, "daily_classes", "/ClientPortal2/Classes/ClassCalendar/DailyClasses", req, &resp)
	}, IsTransient)
	if err != nil {
		return nil, err
	}
	var out []wireClass
	for _, hour := range resp.CalendarData {
		out = append(out, hour.Classes...)
	}
	return out, nil
}

func (s *Session) normalize(w wireClass, club classes.ClubID, loc *time.Location) (classes.ClassInstance, error) {
	start, err := parseStartTime(w.StartTime, loc)
	if err != nil {
		return classes.ClassInstance{}, err
	}
	dur, err := parseISODuration(w.Duration)
	if err != nil {
		s.log.Debug("unparseable class duration", logx.Int64("class", w.ID), logx.Err(err))
		dur = 0
	}
	trainerID, trainerName := w.trainerRef()

	free := w.BookingIndicator.Available
	if w.Status != statusBookable {
		// Non-bookable statuses (full, cancelled, closed sign-up) never carry
		// open spots regardless of what the indicator claims.
		free = 0
	}
	return classes.ClassInstance{
		Key:         classes.InstanceKey(strconv.FormatInt(w.ID, 10)),
		Club:        club,
		ClubName:    s.c.clubName(club),
		Zone:        w.ZoneID,
		ClassType:   w.Timetable.ID,
		ClassName:   w.Name,
		Trainer:     trainerID,
		TrainerName: trainerName,
		Start:       start,
		Duration:    dur,
		Capacity:    w.BookingIndicator.Capacity,
		FreeSpots:   free,
	}, nil
}

// CalendarFilters fetches the enumerable filter dimensions for one club.
func (s *Session) CalendarFilters(ctx context.Context, club classes.ClubID) (FilterSets, error) {
	var resp FilterSets
	err := s.c.cfg.Retry.Do(ctx, s.log, "calendar_filters", func(ctx context.Context) error {
		return s.post(ctx, "calendar_filters", "/ClientPortal2/Classes/ClassCalendar/GetCalendarFilters", calendarFiltersRequest{ClubID: int64(club)}, &resp)
	}, IsTransient)
	if err != nil {
		return FilterSets{}, err
	}
	return resp, nil
}

func (s *Session) post(ctx context.Context, op, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return &FetchError{Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.c.cfg.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return &FetchError{Op: op, Err: err}
	}
	req.Header.Set("User-Agent", s.c.cfg.UserAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := s.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &FetchError{Op: op, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &FetchError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &FetchError{Op: op, Status: resp.StatusCode, Auth: true}
	case resp.StatusCode >= 500:
		return &FetchError{Op: op, Status: resp.StatusCode, Transient: true}
	default:
		return &FetchError{Op: op, Status: resp.StatusCode}
	}
}

// ---- Session manager (credential collaborator boundary) ----

// Credentials are the upstream login credentials of one user, served by the
// external credential collaborator (storage keeps them; encryption is that
// collaborator's concern).
type Credentials struct {
	Email    string
	Password string
}

type CredentialSource interface {
	Credentials(ctx context.Context, userID int64) (Credentials, error)
}

// SessionManager caches one authenticated session per user and re-logs-in on
// demand. An auth failure for one user never affects another's session.
type SessionManager struct {
	client *Client
	creds  CredentialSource
	log    logx.Logger

	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewSessionManager(client *Client, creds CredentialSource, log logx.Logger) *SessionManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SessionManager{
		client:   client,
		creds:    creds,
		log:      log,
		sessions: make(map[int64]*Session),
	}
}

// Session returns the cached session for the user, logging in if needed.
func (m *SessionManager) Session(ctx context.Context, userID int64) (*Session, error) {
	m.mu.Lock()
	s := m.sessions[userID]
	m.mu.Unlock()
	if s != nil {
		return s, nil
	}

	creds, err := m.creds.Credentials(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("credentials for user %d: %w", userID, err)
	}
	s, err = m.client.Login(ctx, creds.Email, creds.Password)
	if err != nil {
		return nil, err
	}
	m.log.Debug("upstream session established", logx.Int64("user", userID), logx.Int64("member", s.MemberID))

	m.mu.Lock()
	m.sessions[userID] = s
	m.mu.Unlock()
	return s, nil
}

// Invalidate drops the cached session so the next call re-authenticates.
func (m *SessionManager) Invalidate(userID int64) {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
}

// Fetch retrieves the user's availability snapshot via their session. On an
// auth-expired failure the cached session is invalidated before returning, so
// the next cycle starts with a fresh login.
func (m *SessionManager) Fetch(ctx context.Context, userID int64, clubs []classes.ClubID, win Window) ([]classes.ClassInstance, error) {
	s, err := m.Session(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(clubs) == 0 {
		if s.HomeClubID == 0 {
			m.log.Warn("no clubs to fetch: filters pin none and the account has no home club",
				logx.Int64("user", userID))
			return nil, nil
		}
		// Filters that pin no club watch the user's home club.
		clubs = []classes.ClubID{s.HomeClubID}
	}
	insts, err := s.FetchWindow(ctx, clubs, win)
	if err != nil {
		if IsAuthError(err) {
			m.Invalidate(userID)
		}
		return nil, err
	}
	return insts, nil
}

// Filters fetches the calendar filter dimensions for a club using the user's
// session; the catalog service calls this on its slower refresh cadence.
func (m *SessionManager) Filters(ctx context.Context, userID int64, club classes.ClubID) (FilterSets, error) {
	s, err := m.Session(ctx, userID)
	if err != nil {
		return FilterSets{}, err
	}
	fs, err := s.CalendarFilters(ctx, club)
	if err != nil && IsAuthError(err) {
		m.Invalidate(userID)
	}
	return fs, err
}
