// Package referral registers users and credits the two-level referral bonus.
package referral

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"referbot/internal/eventbus"
	"referbot/internal/storage"
	logx "referbot/pkg/logx"
)

const (
	DefaultLevel1Bonus = 10.0
	DefaultLevel2Bonus = 2.0
)

// EventRegistered is published for every new user; Data is a Registration.
const EventRegistered = "referral.registered"

var (
	ErrSelfReferral    = errors.New("self referral")
	ErrInvalidReferrer = errors.New("invalid referral code")
	ErrUnknownReferrer = errors.New("referrer not registered")
)

type Config struct {
	Level1Bonus float64
	Level2Bonus float64
}

// Credit is one bonus paid out for a new registration.
type Credit struct {
	UserID int64
	Level  int
	Amount float64
}

type Result struct {
	Created    bool
	ReferredBy int64
	// Ignored is why a referral code was dropped, if it was.
	Ignored error
	Credits []Credit
}

// Registration is the payload of EventRegistered.
type Registration struct {
	UserID     int64
	Username   string
	ReferredBy int64
	Credits    []Credit
}

type Service struct {
	store  storage.Store
	log    logx.Logger
	events eventbus.Bus

	mu  sync.RWMutex
	cfg Config
}

func New(store storage.Store, cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, cfg: cfg, log: log}
}

// SetEvents makes Register publish EventRegistered on b. Call before use.
func (s *Service) SetEvents(b eventbus.Bus) { s.events = b }

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Bonuses returns the level 1 and level 2 amounts. Unset values use the defaults.
func (s *Service) Bonuses() (float64, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l1, l2 := s.cfg.Level1Bonus, s.cfg.Level2Bonus
	if l1 <= 0 {
		l1 = DefaultLevel1Bonus
	}
	if l2 <= 0 {
		l2 = DefaultLevel2Bonus
	}
	return l1, l2
}

// ParseReferrer reads a /start payload as a referrer id. Empty means none.
func ParseReferrer(arg string) (int64, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidReferrer, arg)
	}
	return id, nil
}

// Register records the user. A first registration with a valid, registered
// referrer credits the referrer and the referrer's own referrer. An existing
// user keeps its balance and referrer and nothing is credited.
func (s *Service) Register(ctx context.Context, userID int64, username, startArg string) (Result, error) {
	log := s.log.With(logx.Int64("user_id", userID))

	var res Result
	refID, err := ParseReferrer(startArg)
	if err != nil {
		log.Warn("referral code ignored", logx.Err(err))
		res.Ignored = err
	}

	var referrer storage.User
	switch {
	case refID == 0:
	case refID == userID:
		log.Warn("self referral ignored")
		res.Ignored = ErrSelfReferral
		refID = 0
	default:
		referrer, err = s.store.GetUser(ctx, refID)
		if errors.Is(err, storage.ErrNotFound) {
			log.Warn("referrer not registered", logx.Int64("referrer", refID))
			res.Ignored = ErrUnknownReferrer
			refID = 0
		} else if err != nil {
			return res, fmt.Errorf("lookup referrer %d: %w", refID, err)
		}
	}

	created, err := s.store.UpsertUser(ctx, userID, username, refID)
	if err != nil {
		return res, fmt.Errorf("register user %d: %w", userID, err)
	}
	res.Created = created
	if !created {
		log.Debug("user already registered")
		return res, nil
	}
	res.ReferredBy = refID
	defer func() {
		if s.events != nil {
			s.events.Publish(eventbus.Event{Type: EventRegistered, Data: Registration{
				UserID: userID, Username: username, ReferredBy: refID, Credits: res.Credits,
			}})
		}
	}()
	log.Info("user registered", logx.String("username", username), logx.Int64("referred_by", refID))
	if refID == 0 {
		return res, nil
	}

	l1, l2 := s.Bonuses()
	if err := s.store.AddBalance(ctx, refID, l1); err != nil {
		return res, fmt.Errorf("credit level 1 referrer %d: %w", refID, err)
	}
	res.Credits = append(res.Credits, Credit{UserID: refID, Level: 1, Amount: l1})
	log.Info("referral credited", logx.Int64("referrer", refID), logx.Int("level", 1), logx.Float64("amount", l1))

	up := referrer.ReferredBy
	if up == 0 || up == userID {
		return res, nil
	}
	if err := s.store.AddBalance(ctx, up, l2); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return res, nil
		}
		return res, fmt.Errorf("credit level 2 referrer %d: %w", up, err)
	}
	res.Credits = append(res.Credits, Credit{UserID: up, Level: 2, Amount: l2})
	log.Info("referral credited", logx.Int64("referrer", up), logx.Int("level", 2), logx.Float64("amount", l2))
	return res, nil
}

// Balance returns the user's balance; unknown users have 0.
func (s *Service) Balance(ctx context.Context, userID int64) (float64, error) {
	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return u.Balance, nil
}

// Link is the deep link that registers a new user under userID.
func Link(botUsername string, userID int64) string {
	return "t.me/" + strings.TrimPrefix(strings.TrimSpace(botUsername), "@") + "?start=" + strconv.FormatInt(userID, 10)
}
