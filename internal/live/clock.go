package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"schoolboard/internal/slots"
)

// Moment is a point in the school week: day 0 is Sunday, Minute counts from midnight.
type Moment struct {
	Day       int  `json:"day"`
	Minute    int  `json:"minute"`
	Simulated bool `json:"simulated"`
}

var ErrInvalidMoment = errors.New("invalid_moment")

// ParseMoment reads a day number and an "HH:MM" time, as given in query params.
func ParseMoment(day, clock string) (Moment, error) {
	d, err := strconv.Atoi(strings.TrimSpace(day))
	if err != nil || d < 0 || d > 6 {
		return Moment{}, fmt.Errorf("%w: day %q", ErrInvalidMoment, day)
	}
	minute, err := slots.ParseClock(clock)
	if err != nil || minute >= slots.MinutesPerDay {
		return Moment{}, fmt.Errorf("%w: time %q", ErrInvalidMoment, clock)
	}
	return Moment{Day: d, Minute: minute, Simulated: true}, nil
}

type Clock interface {
	Now(ctx context.Context) (Moment, error)
}

// SystemClock reads the wall clock in the school's time zone.
type SystemClock struct {
	Location *time.Location
	now      func() time.Time
}

func NewSystemClock(loc *time.Location) *SystemClock {
	if loc == nil {
		loc = time.UTC
	}
	return &SystemClock{Location: loc, now: time.Now}
}

func (c *SystemClock) Now(context.Context) (Moment, error) {
	t := c.now().In(c.Location)
	return Moment{Day: int(t.Weekday()), Minute: t.Hour()*60 + t.Minute()}, nil
}

type FixedClock Moment

func (c FixedClock) Now(context.Context) (Moment, error) {
	m := Moment(c)
	m.Simulated = true
	return m, nil
}

// OverrideStore holds an operator-set simulated time shared by every display.
type OverrideStore interface {
	Get(ctx context.Context) (Moment, bool, error)
	Set(ctx context.Context, m Moment) error
	Clear(ctx context.Context) error
}

// OverrideClock returns the stored override when one is set, else the base clock.
type OverrideClock struct {
	Base   Clock
	Source OverrideStore
}

func (c *OverrideClock) Now(ctx context.Context) (Moment, error) {
	if c.Source != nil {
		m, ok, err := c.Source.Get(ctx)
		if err != nil {
			return Moment{}, err
		}
		if ok {
			m.Simulated = true
			return m, nil
		}
	}
	return c.Base.Now(ctx)
}

type MemoryOverride struct {
	mu     sync.RWMutex
	moment *Moment
}

func NewMemoryOverride() *MemoryOverride {
	return &MemoryOverride{}
}

func (o *MemoryOverride) Get(context.Context) (Moment, bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.moment == nil {
		return Moment{}, false, nil
	}
	return *o.moment, true, nil
}

func (o *MemoryOverride) Set(_ context.Context, m Moment) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.moment = &m
	return nil
}

func (o *MemoryOverride) Clear(context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.moment = nil
	return nil
}

const clockKey = "display:clock"

type RedisOverride struct {
	client *redis.Client
}

func NewRedisOverride(client *redis.Client) *RedisOverride {
	return &RedisOverride{client: client}
}

func (o *RedisOverride) Get(ctx context.Context) (Moment, bool, error) {
	data, err := o.client.Get(ctx, clockKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Moment{}, false, nil
	}
	if err != nil {
		return Moment{}, false, err
	}
	var m Moment
	if err := json.Unmarshal(data, &m); err != nil {
		return Moment{}, false, err
	}
	return m, true, nil
}

func (o *RedisOverride) Set(ctx context.Context, m Moment) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return o.client.Set(ctx, clockKey, data, 0).Err()
}

func (o *RedisOverride) Clear(ctx context.Context) error {
	return o.client.Del(ctx, clockKey).Err()
}

// At resolves the moment to aggregate for: a request-scoped override wins over
// the clock.
func At(ctx context.Context, clock Clock, override *Moment) (Moment, error) {
	if override != nil {
		m := *override
		m.Simulated = true
		return m, nil
	}
	return clock.Now(ctx)
}
