package biz

import (
	"context"
	"testing"
	"time"

	"CareFlow/internal/conf"
	"CareFlow/internal/data"
	"CareFlow/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// contestedCalendar lets another booking grab the first slot it is asked to
// book, the way a concurrent client would.
type contestedCalendar struct {
	*data.CalendarService
	contested bool
	creates   int
}

func (c *contestedCalendar) CreateEvent(ctx context.Context, event *model.CalendarEvent) (string, error) {
	c.creates++
	if !c.contested {
		c.contested = true
		if _, err := c.CalendarService.CreateEvent(ctx, &model.CalendarEvent{
			Title:    "Other client",
			Start:    event.Start,
			End:      event.End,
			ClientID: "someone-else",
		}); err != nil {
			return "", err
		}
	}
	return c.CalendarService.CreateEvent(ctx, event)
}

func TestCalendarAction_RetriesWhenSlotIsTaken(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	d, cleanup, err := data.NewData(&conf.Data{}, log.DefaultLogger, rdb, data.NewCacheClient(rdb))
	require.NoError(t, err)
	t.Cleanup(cleanup)

	records := data.NewRecordStore(d, log.DefaultLogger)
	calendar := &contestedCalendar{CalendarService: data.NewCalendarService(d, log.DefaultLogger)}
	registry := NewActionRegistry(ActionDeps{Records: records, Calendar: calendar, CoordinatorEmail: "coordinator@example.com"})

	ctx := context.Background()
	clientID, err := records.Create(ctx, model.ModuleContacts, map[string]any{"First_Name": "Ada", "Email": "ada@example.com"})
	require.NoError(t, err)
	rec, err := records.Get(ctx, model.ModuleContacts, clientID)
	require.NoError(t, err)

	out, err := registry.Execute(ctx, &ActionRequest{
		ClientID: clientID,
		Phase:    3,
		Action:   ActionDef{Name: "schedule_consultation", Kind: ActionCalendar, Priority: PriorityHigh},
		Params:   map[string]any{"duration": 60},
		Record:   rec,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calendar.creates)

	start, err := time.Parse(time.RFC3339, out["start"].(string))
	require.NoError(t, err)

	rec, err = records.Get(ctx, model.ModuleContacts, clientID)
	require.NoError(t, err)
	assert.Equal(t, out["event_id"], rec.String("Calendar_Event_ID"))

	// the booked event is the second slot, after the one the other client took
	other, err := calendar.FindSlot(ctx, []string{"x@example.com"}, 60, nil)
	require.NoError(t, err)
	require.NotNil(t, other)
	assert.True(t, other.Start.After(start))
}
