package data

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"CareFlow/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStore_CreateGet(t *testing.T) {
	d, mr := newTestData(t)
	store := NewRecordStore(d, log.DefaultLogger)
	ctx := context.Background()

	id, err := store.Create(ctx, model.ModuleContacts, map[string]any{
		"First_Name": "Ada",
		"Email":      "ada@example.com",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := store.Get(ctx, model.ModuleContacts, id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "Ada", rec.String("First_Name"))
	assert.NotEmpty(t, rec.String("Created_Time"))
	assert.Empty(t, rec.Tags)

	members, err := mr.Members(recordIndexKey(model.ModuleContacts))
	require.NoError(t, err)
	assert.Equal(t, []string{id}, members)

	missing, err := store.Get(ctx, model.ModuleContacts, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRecordStore_CreateRequiresModule(t *testing.T) {
	d, _ := newTestData(t)
	store := NewRecordStore(d, log.DefaultLogger)

	_, err := store.Create(context.Background(), "", map[string]any{})
	assert.Error(t, err)
}

func TestRecordStore_UpdateAndAddTags(t *testing.T) {
	d, _ := newTestData(t)
	store := NewRecordStore(d, log.DefaultLogger)
	ctx := context.Background()

	id, err := store.Create(ctx, model.ModuleContacts, map[string]any{"Lead_Status": "New Inquiry"})
	require.NoError(t, err)

	ok, err := store.Update(ctx, model.ModuleContacts, id, map[string]any{"Lead_Status": "Qualified", "Workflow_Phase": 2})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AddTags(ctx, model.ModuleContacts, id, []string{"vip", "vip", ""})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.AddTags(ctx, model.ModuleContacts, id, []string{"vip", "doula"})
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err := store.Get(ctx, model.ModuleContacts, id)
	require.NoError(t, err)
	assert.Equal(t, "Qualified", rec.String("Lead_Status"))
	assert.EqualValues(t, 2, rec.Fields["Workflow_Phase"])
	assert.NotEmpty(t, rec.String("Modified_Time"))
	assert.Equal(t, []string{"vip", "doula"}, rec.Tags)

	ok, err = store.Update(ctx, model.ModuleContacts, "missing", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordStore_ConcurrentUpdatesAreNotLost(t *testing.T) {
	d, _ := newTestData(t)
	store := NewRecordStore(d, log.DefaultLogger)
	ctx := context.Background()

	id, err := store.Create(ctx, model.ModuleContacts, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Update(ctx, model.ModuleContacts, id, map[string]any{fmt.Sprintf("Field_%d", i): i})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rec, err := store.Get(ctx, model.ModuleContacts, id)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		assert.Contains(t, rec.Fields, fmt.Sprintf("Field_%d", i))
	}
}

func TestRecordStore_Search(t *testing.T) {
	d, _ := newTestData(t)
	store := NewRecordStore(d, log.DefaultLogger)
	ctx := context.Background()

	a, err := store.Create(ctx, model.ModuleMatches, map[string]any{"Client_ID": "c-1", "Score": 0.9})
	require.NoError(t, err)
	_, err = store.Create(ctx, model.ModuleMatches, map[string]any{"Client_ID": "c-2", "Score": 0.7})
	require.NoError(t, err)

	found, err := store.Search(ctx, model.ModuleMatches, map[string]any{"Client_ID": "c-1"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, a, found[0].ID)

	found, err = store.Search(ctx, model.ModuleMatches, map[string]any{"Score": 0.9, "Client_ID": "c-1"})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	found, err = store.Search(ctx, model.ModuleMatches, map[string]any{"Missing": true})
	require.NoError(t, err)
	assert.Empty(t, found)

	all, err := store.Search(ctx, model.ModuleMatches, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
