// Package rollup holds the aggregate row model shared by the pipeline
// outputs: sparse per-category edit counts, bounding boxes, the weekly
// chapter rollup behind activity.json and the country ranking export.
package rollup

import (
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"
)

// Count is one category subtotal. A category is absent when both the new
// and the edited count are zero; absent counts are omitted from JSON
// payloads and ignored by Add.
type Count struct {
	New    int64
	Edited int64
	Valid  bool
}

func NewCount(new, edited int64) Count {
	if new == 0 && edited == 0 {
		return Count{}
	}
	return Count{New: new, Edited: edited, Valid: true}
}

// CountFromNull builds a Count from nullable query results. The aggregation
// queries emit NULL for both columns of an absent category.
func CountFromNull(new, edited sql.NullInt64) Count {
	if !new.Valid && !edited.Valid {
		return Count{}
	}
	return NewCount(new.Int64, edited.Int64)
}

func (c Count) IsZero() bool {
	return !c.Valid
}

func (c Count) Total() int64 {
	return c.New + c.Edited
}

// Add is null-safe: adding an absent count is a no-op, adding any present
// count yields a present sum.
func (c Count) Add(o Count) Count {
	if !o.Valid {
		return c
	}
	if !c.Valid {
		return o
	}
	return Count{New: c.New + o.New, Edited: c.Edited + o.Edited, Valid: true}
}

type countJSON struct {
	New    int64 `json:"new"`
	Edited int64 `json:"edited"`
}

func (c Count) MarshalJSON() ([]byte, error) {
	if !c.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(countJSON{New: c.New, Edited: c.Edited})
}

func (c *Count) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*c = Count{}
		return nil
	}
	var v countJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*c = NewCount(v.New, v.Edited)
	return nil
}

// BBox is a lon/lat envelope.
type BBox struct {
	MinLon, MinLat float64
	MaxLon, MaxLat float64
	Valid          bool
}

func NewBBox(minLon, minLat, maxLon, maxLat float64) BBox {
	return BBox{MinLon: minLon, MinLat: minLat, MaxLon: maxLon, MaxLat: maxLat, Valid: true}
}

// Union grows the envelope: min of all mins, max of all maxes.
func (b BBox) Union(o BBox) BBox {
	if !o.Valid {
		return b
	}
	if !b.Valid {
		return o
	}
	r := b
	if o.MinLon < r.MinLon {
		r.MinLon = o.MinLon
	}
	if o.MinLat < r.MinLat {
		r.MinLat = o.MinLat
	}
	if o.MaxLon > r.MaxLon {
		r.MaxLon = o.MaxLon
	}
	if o.MaxLat > r.MaxLat {
		r.MaxLat = o.MaxLat
	}
	return r
}

// WeeklyRow is one entry of the activity.json payload.
type WeeklyRow struct {
	ChapterID  int64  `json:"chapter_id"`
	Chapter    string `json:"chapter"`
	Country    string `json:"country,omitempty"`
	Week       string `json:"week"`
	Mappers    int64  `json:"mappers"`
	Changesets int64  `json:"changesets"`
	Buildings  Count  `json:"buildings,omitzero"`
	Highways   Count  `json:"highways,omitzero"`
	Amenities  Count  `json:"amenities,omitzero"`
	Features   Count  `json:"features,omitzero"`
	Other      int64  `json:"other"`
}

// Validate checks the numeric invariants of a weekly row: present categories
// are nonzero, and other is the feature count minus the named categories and
// never negative. A violation points at a double count upstream.
func (r *WeeklyRow) Validate() error {
	for _, c := range []struct {
		name  string
		count Count
	}{
		{"buildings", r.Buildings},
		{"highways", r.Highways},
		{"amenities", r.Amenities},
		{"features", r.Features},
	} {
		if c.count.Valid && c.count.Total() == 0 {
			return errors.Errorf("empty %s subtotal present in %s/%s", c.name, r.Chapter, r.Week)
		}
	}
	want := r.Features.Total() - r.Buildings.Total() - r.Highways.Total() - r.Amenities.Total()
	if r.Other != want {
		return errors.Errorf("other count %d does not match %d in %s/%s",
			r.Other, want, r.Chapter, r.Week)
	}
	if r.Other < 0 {
		return errors.Errorf("negative other count %d in %s/%s", r.Other, r.Chapter, r.Week)
	}
	return nil
}

// Activity is the published JSON summary. It depends only on the pinned
// partition's data, so re-runs for the same partition are byte-identical.
type Activity struct {
	Partition string      `json:"partition"`
	Chapters  []WeeklyRow `json:"chapters"`
}

func (a *Activity) Validate() error {
	for i := range a.Chapters {
		if err := a.Chapters[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
