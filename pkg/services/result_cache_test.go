package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

func sampleTable() *models.Table {
	t := models.NewTable("orders", "id", "name")
	t.AddRow(int64(1), "first")
	t.AddRow(int64(2), "second")
	return t
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "select * from t where id=5datatabletext", CacheKey("SELECT * FROM T WHERE id=5", models.ShapeDataTableText))
	assert.NotEqual(t, CacheKey("x", models.ShapeDataTableText), CacheKey("x", models.ShapeDataSetText))
}

func TestStatementCacheKey(t *testing.T) {
	proc := func(id int64) models.Statement {
		return models.Statement{Text: "dbo.GetOrder", Procedure: true, Parameters: []models.DatabaseParameter{
			{Name: "id", Value: id, Kind: models.KindBigInt},
		}}
	}

	inlined, ok := StatementCacheKey(models.Statement{Text: "SELECT 1"}, models.ShapeDataTableText, "")
	require.True(t, ok)
	assert.Equal(t, CacheKey("SELECT 1", models.ShapeDataTableText), inlined, "fully inlined statements keep the plain key")

	one, ok := StatementCacheKey(proc(1), models.ShapeDataTableProcedure, "")
	require.True(t, ok)
	again, _ := StatementCacheKey(proc(1), models.ShapeDataTableProcedure, "")
	two, _ := StatementCacheKey(proc(2), models.ShapeDataTableProcedure, "")
	assert.Equal(t, one, again)
	assert.NotEqual(t, one, two)

	alice, _ := StatementCacheKey(proc(1), models.ShapeDataTableProcedure, "alice")
	bob, _ := StatementCacheKey(proc(1), models.ShapeDataTableProcedure, "bob")
	assert.NotEqual(t, alice, bob)
	assert.NotEqual(t, one, alice)

	_, ok = StatementCacheKey(models.Statement{Text: "x", Parameters: []models.DatabaseParameter{
		{Name: "c", Value: make(chan int)},
	}}, models.ShapeDataTableText, "")
	assert.False(t, ok)
}

func TestResultCache_RoundTripReturnsDistinctCopies(t *testing.T) {
	c := NewResultCache(CacheOptions{})
	table := sampleTable()
	c.Put("k", table, nil)

	// the stored entry is independent of the caller's value
	table.Rows[0][1] = "mutated before get"

	got, ok := c.Get("k", time.Minute)
	require.True(t, ok)
	first := got.(*models.Table)
	assert.Equal(t, sampleTable(), first)

	first.Rows[0][1] = "mutated after get"
	first.Rows = first.Rows[:1]

	again, ok := c.Get("k", time.Minute)
	require.True(t, ok)
	second := again.(*models.Table)
	assert.Equal(t, sampleTable(), second, "content-equal")
	assert.NotSame(t, first, second, "reference-distinct")
}

func TestResultCache_DataSet(t *testing.T) {
	c := NewResultCache(CacheOptions{})
	c.Put("k", &models.DataSet{Tables: []*models.Table{sampleTable()}}, nil)

	got, ok := c.Get("k", time.Minute)
	require.True(t, ok)
	set := got.(*models.DataSet)
	set.Tables[0].Rows = nil

	again, _ := c.Get("k", time.Minute)
	assert.Len(t, again.(*models.DataSet).Tables[0].Rows, 2)
}

func TestResultCache_ElapsedPolicyExpires(t *testing.T) {
	clock := newFakeClock()
	c := NewResultCache(CacheOptions{Policy: FreshnessElapsed, Now: clock.Now})
	c.Put("k", sampleTable(), nil)

	clock.Advance(60 * time.Second)
	_, ok := c.Get("k", 60*time.Second)
	assert.True(t, ok, "fresh at exactly the ttl")

	clock.Advance(time.Second)
	_, ok = c.Get("k", 60*time.Second)
	assert.False(t, ok, "stale after the ttl")
	assert.Equal(t, 0, c.Len(), "stale entries are evicted on read")
}

func TestResultCache_LegacyPolicyNeverExpires(t *testing.T) {
	clock := newFakeClock()
	c := NewResultCache(CacheOptions{Policy: FreshnessLegacy, Now: clock.Now})
	c.Put("k", sampleTable(), nil)

	clock.Advance(24 * time.Hour)
	_, ok := c.Get("k", 60*time.Second)
	assert.True(t, ok, "fetchedAt - now is never positive, so the entry stays servable")

	assert.True(t, c.Invalidate("k"))
	_, ok = c.Get("k", 60*time.Second)
	assert.False(t, ok)
}

func TestResultCache_PutReplaces(t *testing.T) {
	clock := newFakeClock()
	c := NewResultCache(CacheOptions{Now: clock.Now})
	c.Put("k", sampleTable(), nil)

	clock.Advance(50 * time.Second)
	replacement := models.NewTable("orders", "id")
	c.Put("k", replacement, nil)

	clock.Advance(50 * time.Second)
	got, ok := c.Get("k", 60*time.Second)
	require.True(t, ok, "replacing resets fetchedAt")
	assert.Equal(t, []string{"id"}, got.(*models.Table).ColumnNames())
	assert.Equal(t, 1, c.Len())
}

func TestResultCache_MaxEntriesEvictsOldest(t *testing.T) {
	clock := newFakeClock()
	c := NewResultCache(CacheOptions{MaxEntries: 2, Now: clock.Now})
	c.Put("a", sampleTable(), nil)
	clock.Advance(time.Second)
	c.Put("b", sampleTable(), nil)
	clock.Advance(time.Second)
	c.Put("c", sampleTable(), nil)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a", time.Hour)
	assert.False(t, ok)
	_, ok = c.Get("c", time.Hour)
	assert.True(t, ok)
}

func TestResultCache_InvalidateQueryAndClear(t *testing.T) {
	c := NewResultCache(CacheOptions{})
	orders := &models.QuerySpecification{Key: "Orders"}
	c.Put("a", sampleTable(), orders)
	c.Put("b", sampleTable(), orders)
	c.Put("c", sampleTable(), &models.QuerySpecification{Key: "customers"})

	assert.Equal(t, 2, c.InvalidateQuery("ORDERS"))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 1, c.Clear())
	assert.Equal(t, 0, c.Len())
}

func TestResultCache_Stats(t *testing.T) {
	c := NewResultCache(CacheOptions{Policy: FreshnessLegacy})
	c.Put("k", sampleTable(), nil)
	c.Get("k", time.Minute)
	c.Get("missing", time.Minute)

	assert.Equal(t, CacheStats{Entries: 1, Hits: 1, Misses: 1, Policy: "legacy"}, c.Stats())
}

func TestResultCache_Concurrent(t *testing.T) {
	c := NewResultCache(CacheOptions{MaxEntries: 8})
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%10)
			c.Put(key, sampleTable(), nil)
			if got, ok := c.Get(key, time.Minute); ok {
				got.(*models.Table).Rows = nil
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 8)
}
