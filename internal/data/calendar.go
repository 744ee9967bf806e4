package data

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"CareFlow/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Slot search defaults. Preferences may override them with earliest_hour,
// latest_hour and days_ahead.
const (
	defaultEarliestHour = 9
	defaultLatestHour   = 17
	defaultDaysAhead    = 14
)

// CalendarService books meetings on one shared calendar. Booked intervals
// live in a sorted set scored by start time; members are "<end unix>:<id>".
type CalendarService struct {
	rdb    *redis.Client
	cache  CacheClient
	logger *log.Helper
	now    func() time.Time
}

// NewCalendarService creates the calendar stand-in.
func NewCalendarService(d *Data, logger log.Logger) *CalendarService {
	return &CalendarService{
		rdb:    d.GetRedisClient(),
		cache:  d.GetCache(),
		logger: log.NewHelper(log.With(logger, "module", "data/calendar")),
		now:    time.Now,
	}
}

// FindSlot returns the first free hour-aligned working-hours slot, or nil
// when none exists within the search window.
func (c *CalendarService) FindSlot(ctx context.Context, attendees []string, durationMinutes int, preferences map[string]any) (*model.Slot, error) {
	if c.rdb == nil {
		return nil, errNilRedis
	}
	if len(attendees) == 0 {
		return nil, fmt.Errorf("at least one attendee is required")
	}
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("duration must be positive")
	}

	earliest := intPref(preferences, "earliest_hour", defaultEarliestHour)
	latest := intPref(preferences, "latest_hour", defaultLatestHour)
	days := intPref(preferences, "days_ahead", defaultDaysAhead)
	duration := time.Duration(durationMinutes) * time.Minute

	now := c.now().UTC()
	horizon := now.AddDate(0, 0, days)
	booked, err := c.booked(ctx, now.Add(-24*time.Hour), horizon)
	if err != nil {
		return nil, err
	}

	start := now.Truncate(time.Hour).Add(time.Hour)
	for ; start.Before(horizon); start = start.Add(time.Hour) {
		if start.Weekday() == time.Saturday || start.Weekday() == time.Sunday {
			continue
		}
		end := start.Add(duration)
		if start.Hour() < earliest || end.After(time.Date(start.Year(), start.Month(), start.Day(), latest, 0, 0, 0, time.UTC)) {
			continue
		}
		if !overlapsAny(booked, start, end) {
			return &model.Slot{Start: start, End: end}, nil
		}
	}
	return nil, nil
}

// CreateEvent books event and returns its id. The overlap check and the
// booking run in one WATCH transaction on the calendar set, so two callers
// racing for the same interval cannot both win; the loser gets
// model.ErrSlotTaken.
func (c *CalendarService) CreateEvent(ctx context.Context, event *model.CalendarEvent) (string, error) {
	if c.rdb == nil {
		return "", errNilRedis
	}
	if !event.End.After(event.Start) {
		return "", fmt.Errorf("event must end after it starts")
	}

	ev := *event
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	member := strconv.FormatInt(ev.End.Unix(), 10) + ":" + ev.ID

	const maxRetries = 3
	var err error
	for i := 0; i < maxRetries; i++ {
		err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
			booked, err := bookedBetween(ctx, tx, ev.Start.Add(-24*time.Hour), ev.End)
			if err != nil {
				return err
			}
			if overlapsAny(booked, ev.Start, ev.End) {
				return fmt.Errorf("%w: %s", model.ErrSlotTaken, ev.Start.UTC().Format(time.RFC3339))
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.ZAdd(ctx, CacheKeyCalendar, redis.Z{Score: float64(ev.Start.Unix()), Member: member})
				return nil
			})
			return err
		}, CacheKeyCalendar)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		c.logger.Debugw("msg", "calendar booking conflict, retrying", "event_id", ev.ID, "retry", i+1)
	}
	if err != nil {
		return "", fmt.Errorf("failed to book event %s: %w", ev.ID, err)
	}

	if err := c.cache.Set(ctx, BuildCacheKey(CacheKeyCalendarEvent, ev.ID), &ev, TTLCalendarEvent); err != nil {
		c.rdb.ZRem(ctx, CacheKeyCalendar, member)
		return "", err
	}
	c.logger.Debugw("msg", "calendar event booked", "event_id", ev.ID, "start", ev.Start.Format(time.RFC3339))
	return ev.ID, nil
}

type interval struct {
	start, end time.Time
}

// zRanger is satisfied by both *redis.Client and *redis.Tx.
type zRanger interface {
	ZRangeByScoreWithScores(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.ZSliceCmd
}

func (c *CalendarService) booked(ctx context.Context, from, to time.Time) ([]interval, error) {
	return bookedBetween(ctx, c.rdb, from, to)
}

func bookedBetween(ctx context.Context, rc zRanger, from, to time.Time) ([]interval, error) {
	zs, err := rc.ZRangeByScoreWithScores(ctx, CacheKeyCalendar, &redis.ZRangeBy{
		Min: strconv.FormatInt(from.Unix(), 10),
		Max: strconv.FormatInt(to.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar: %w", err)
	}
	out := make([]interval, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		endRaw, _, ok := strings.Cut(member, ":")
		if !ok {
			continue
		}
		end, err := strconv.ParseInt(endRaw, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, interval{start: time.Unix(int64(z.Score), 0).UTC(), end: time.Unix(end, 0).UTC()})
	}
	return out, nil
}

func overlapsAny(booked []interval, start, end time.Time) bool {
	for _, b := range booked {
		if start.Before(b.end) && b.start.Before(end) {
			return true
		}
	}
	return false
}

func intPref(prefs map[string]any, key string, def int) int {
	switch v := prefs[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}
