package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/shardmedia/pkg/shardmedia"
	repomemory "github.com/tendant/shardmedia/pkg/shardmedia/repo/memory"
)

// setupGalleryTest indexes objects captured at the given local times.
func setupGalleryTest(t *testing.T, objects map[string]time.Time) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	repo := repomemory.New()
	for name, created := range objects {
		require.NoError(t, repo.CreateObject(ctx, &shardmedia.ObjectRecord{
			Name:       name,
			CreatedAt:  created,
			AccountID:  "one",
			WrappedKey: []byte{1},
		}))
	}
	srv := httptest.NewServer(NewStreamHandler(nil, repo, nil).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func day(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.Local)
}

func names(objs []ObjectResponse) []string {
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.Name)
	}
	return out
}

func TestStreamHandler_ListObjects(t *testing.T) {
	srv := setupGalleryTest(t, map[string]time.Time{
		"old.jpg":        day(2023, time.December, 31, 9),
		"midnight.jpg":   day(2024, time.March, 2, 0),
		"clip_0000.webm": day(2024, time.March, 1, 12),
		"clip_0001.webm": day(2024, time.March, 1, 13),
		"late.jpg":       day(2024, time.March, 2, 8),
	})

	t.Run("NewestFirstWithoutTrailingChunks", func(t *testing.T) {
		resp, body := get(t, srv.URL+"/objects")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var page ObjectListResponse
		require.NoError(t, json.Unmarshal(body, &page))
		assert.Equal(t, []string{"late.jpg", "midnight.jpg", "clip_0000.webm", "old.jpg"}, names(page.Objects))
		assert.Equal(t, defaultPageSize, page.Limit)
	})

	t.Run("BeforeIsInclusiveOfMidnight", func(t *testing.T) {
		_, body := get(t, srv.URL+"/objects?before=2024-03-02")
		var page ObjectListResponse
		require.NoError(t, json.Unmarshal(body, &page))
		assert.Equal(t, []string{"midnight.jpg", "clip_0000.webm", "old.jpg"}, names(page.Objects))
	})

	t.Run("OffsetAndLimit", func(t *testing.T) {
		_, body := get(t, srv.URL+"/objects?before=2024-03-02&offset=1&limit=1")
		var page ObjectListResponse
		require.NoError(t, json.Unmarshal(body, &page))
		assert.Equal(t, []string{"clip_0000.webm"}, names(page.Objects))
		assert.Equal(t, 1, page.Offset)
		assert.Equal(t, 1, page.Limit)
	})

	t.Run("LimitIsCapped", func(t *testing.T) {
		_, body := get(t, srv.URL+"/objects?limit=100000")
		var page ObjectListResponse
		require.NoError(t, json.Unmarshal(body, &page))
		assert.Equal(t, maxPageSize, page.Limit)
	})

	for _, bad := range []string{"before=yesterday", "offset=-1", "offset=x", "limit=0"} {
		t.Run("Rejects "+bad, func(t *testing.T) {
			resp, _ := get(t, srv.URL+"/objects?"+bad)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestStreamHandler_CountObjectsByDay(t *testing.T) {
	srv := setupGalleryTest(t, map[string]time.Time{
		"old.jpg":        day(2023, time.December, 31, 9),
		"a.jpg":          day(2024, time.March, 1, 8),
		"clip_0000.webm": day(2024, time.March, 1, 12),
		"clip_0001.webm": day(2024, time.March, 1, 13),
		"b.jpg":          day(2024, time.March, 2, 8),
	})

	resp, body := get(t, srv.URL+"/objects/days")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all DayCountResponse
	require.NoError(t, json.Unmarshal(body, &all))
	assert.Equal(t, []int{2024, 2023}, all.Years)
	assert.Equal(t, []DayCount{
		{Day: "2024-03-02", Count: 1},
		{Day: "2024-03-01", Count: 2},
		{Day: "2023-12-31", Count: 1},
	}, all.Days)

	_, body = get(t, srv.URL+"/objects/days?year=2023")
	var one DayCountResponse
	require.NoError(t, json.Unmarshal(body, &one))
	assert.Equal(t, []int{2024, 2023}, one.Years)
	assert.Equal(t, []DayCount{{Day: "2023-12-31", Count: 1}}, one.Days)

	resp, _ = get(t, srv.URL+"/objects/days?year=soon")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
