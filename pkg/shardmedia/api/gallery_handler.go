package api

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/render"

	"github.com/tendant/shardmedia/pkg/shardmedia"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	dayScanPageSize = 1000
)

// ObjectListResponse is one gallery page, newest first.
type ObjectListResponse struct {
	Objects []ObjectResponse `json:"objects"`
	Offset  int              `json:"offset"`
	Limit   int              `json:"limit"`
}

// DayCount is the number of viewable objects captured on one day.
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// DayCountResponse summarizes the archive per day, with every year present.
type DayCountResponse struct {
	Years []int      `json:"years"`
	Days  []DayCount `json:"days"`
}

// ListObjects serves GET /objects?before=&offset=&limit=
//
// Only viewable units are listed: images and the head chunk of each video.
func (h *StreamHandler) ListObjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := shardmedia.ListObjectsRequest{
		NewestFirst:        true,
		SkipTrailingChunks: true,
		Limit:              defaultPageSize,
		AccountID:          q.Get("account"),
	}

	if raw := q.Get("before"); raw != "" {
		before, err := shardmedia.ParseDate(raw)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		req.CreatedBefore = &before
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			h.writeError(w, r, http.StatusBadRequest, "invalid offset")
			return
		}
		req.Offset = offset
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			h.writeError(w, r, http.StatusBadRequest, "invalid limit")
			return
		}
		req.Limit = min(limit, maxPageSize)
	}

	records, err := h.repo.ListObjects(r.Context(), req)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list objects",
			"request_id", RequestID(r.Context()), "err", err)
		h.writeError(w, r, http.StatusInternalServerError, "failed to list objects")
		return
	}

	resp := ObjectListResponse{Objects: make([]ObjectResponse, 0, len(records)), Offset: req.Offset, Limit: req.Limit}
	for _, record := range records {
		resp.Objects = append(resp.Objects, newObjectResponse(record))
	}
	render.JSON(w, r, resp)
}

// CountObjectsByDay serves GET /objects/days?year=
//
// Years always covers the whole archive; days is narrowed to year when set.
func (h *StreamHandler) CountObjectsByDay(w http.ResponseWriter, r *http.Request) {
	year := 0
	if raw := r.URL.Query().Get("year"); raw != "" {
		y, err := strconv.Atoi(raw)
		if err != nil || y <= 0 {
			h.writeError(w, r, http.StatusBadRequest, "invalid year")
			return
		}
		year = y
	}

	counts := make(map[string]int)
	years := make(map[int]struct{})
	req := shardmedia.ListObjectsRequest{SkipTrailingChunks: true, Limit: dayScanPageSize}
	for {
		records, err := h.repo.ListObjects(r.Context(), req)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "failed to count objects",
				"request_id", RequestID(r.Context()), "err", err)
			h.writeError(w, r, http.StatusInternalServerError, "failed to count objects")
			return
		}
		for _, record := range records {
			created := record.CreatedAt.In(time.Local)
			years[created.Year()] = struct{}{}
			if year == 0 || created.Year() == year {
				counts[created.Format(time.DateOnly)]++
			}
		}
		if len(records) < req.Limit {
			break
		}
		req.Offset += len(records)
	}

	resp := DayCountResponse{Years: make([]int, 0, len(years)), Days: make([]DayCount, 0, len(counts))}
	for y := range years {
		resp.Years = append(resp.Years, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(resp.Years)))
	for day, n := range counts {
		resp.Days = append(resp.Days, DayCount{Day: day, Count: n})
	}
	sort.Slice(resp.Days, func(i, j int) bool { return resp.Days[i].Day > resp.Days[j].Day })
	render.JSON(w, r, resp)
}
