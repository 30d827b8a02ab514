// Package preview reads recent minutely changeset replication diffs and
// reports roster activity that is not yet visible in the weekly ORC
// partitions. It is a live approximation of the daily rollup: changeset and
// edit counts per member and day, without the category subtotals that need
// element history.
package preview

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	osm "github.com/omniscale/go-osm"
	osmchangeset "github.com/omniscale/go-osm/parser/changeset"
	replchangeset "github.com/omniscale/go-osm/replication/changeset"
	"github.com/pkg/errors"

	"github.com/youthmappers/mapactivity/duckdb"
	"github.com/youthmappers/mapactivity/log"
	"github.com/youthmappers/mapactivity/rollup"
)

const (
	// DefaultReplicationURL is the public minutely changeset feed.
	DefaultReplicationURL = "https://planet.openstreetmap.org/replication/changesets/"
	// DefaultBackfill is the number of minutely sequences to read, counted
	// back from the current sequence.
	DefaultBackfill = 60
)

type Config struct {
	ReplicationURL string
	CacheDir       string
	Backfill       int
	Output         string
}

// Day is the aggregated activity of a single member on a single UTC day.
// Bbox is the union of the changeset extents, [minlon, minlat, maxlon,
// maxlat], and is absent when no changeset carried an extent.
type Day struct {
	UID        int64       `json:"uid"`
	Username   string      `json:"username,omitempty"`
	Chapter    string      `json:"chapter,omitempty"`
	Day        string      `json:"day"`
	Changesets int64       `json:"changesets"`
	NumChanges int64       `json:"num_changes"`
	Bbox       *[4]float64 `json:"bbox,omitempty"`
}

type Report struct {
	Replication string    `json:"replication"`
	First       int       `json:"first_sequence"`
	Last        int       `json:"last_sequence"`
	Generated   time.Time `json:"generated"`
	Days        []Day     `json:"days"`
}

// Run downloads and parses the most recent changeset sequences and
// aggregates the changesets of known members. members maps OSM uids to
// roster entries, see duckdb.Roster. Changesets appear in every sequence
// that touches them; later states supersede earlier ones.
func Run(ctx context.Context, members map[int64]duckdb.Member, conf Config) (*Report, error) {
	defer log.Step("Previewing recent changesets")()

	if conf.ReplicationURL == "" {
		conf.ReplicationURL = DefaultReplicationURL
	}
	if conf.Backfill <= 0 {
		conf.Backfill = DefaultBackfill
	}

	current, err := replchangeset.CurrentSequence(conf.ReplicationURL)
	if err != nil {
		return nil, errors.Wrapf(err, "reading current sequence from %s", conf.ReplicationURL)
	}
	first := firstSequence(current, conf.Backfill)
	log.Printf("[info] reading changeset sequences %d-%d from %s", first, current, conf.ReplicationURL)

	changesets := make(chan osm.Changeset, 64)
	byID := make(map[int64]osm.Changeset)
	done := make(chan struct{})
	go func() {
		defer close(done)
		collect(changesets, members, byID)
	}()

	dl := replchangeset.NewDownloader(
		filepath.Join(conf.CacheDir, "changesets"),
		conf.ReplicationURL,
		first,
		time.Minute,
	)
	last := first - 1
	var runErr error
	for seq := range dl.Sequences() {
		if seq.Error != nil {
			// The downloader would retry the same sequence forever. A
			// bounded preview aborts instead.
			runErr = errors.Wrapf(seq.Error, "downloading changeset sequence %d", seq.Sequence)
			break
		}
		if err := parseFile(ctx, seq.Filename, changesets); err != nil {
			runErr = err
			break
		}
		last = seq.Sequence
		if seq.Sequence >= current {
			break
		}
	}
	dl.Stop()
	close(changesets)
	<-done
	if runErr != nil {
		return nil, runErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{
		Replication: conf.ReplicationURL,
		First:       first,
		Last:        last,
		Generated:   time.Now().UTC(),
		Days:        days(byID, members),
	}
	log.Printf("[info] preview found %d changesets from roster members", len(byID))
	return report, nil
}

func firstSequence(current, backfill int) int {
	first := current - backfill + 1
	if first < 1 {
		first = 1
	}
	return first
}

// collect keeps the latest state of each changeset of a known member.
func collect(changesets <-chan osm.Changeset, members map[int64]duckdb.Member, byID map[int64]osm.Changeset) {
	for cs := range changesets {
		if _, ok := members[int64(cs.UserID)]; !ok {
			continue
		}
		byID[cs.ID] = cs
	}
}

func parseFile(ctx context.Context, filename string, changesets chan osm.Changeset) error {
	f, err := os.Open(filename)
	if err != nil {
		return errors.Wrapf(err, "opening changeset file %s", filename)
	}
	defer f.Close()
	parser, err := osmchangeset.NewGZIP(f, osmchangeset.Config{
		Changesets: changesets,
		KeepOpen:   true,
	})
	if err != nil {
		return errors.Wrapf(err, "parsing %s", filename)
	}
	if err := parser.Parse(ctx); err != nil {
		return errors.Wrapf(err, "parsing %s", filename)
	}
	return nil
}

// days groups deduplicated changesets by member and UTC day of creation.
func days(byID map[int64]osm.Changeset, members map[int64]duckdb.Member) []Day {
	type key struct {
		uid int64
		day string
	}
	type group struct {
		changesets int64
		numChanges int64
		bbox       rollup.BBox
	}
	grouped := make(map[key]*group)
	for _, cs := range byID {
		k := key{uid: int64(cs.UserID), day: cs.CreatedAt.UTC().Format("2006-01-02")}
		g := grouped[k]
		if g == nil {
			g = &group{}
			grouped[k] = g
		}
		g.changesets++
		g.numChanges += int64(cs.NumChanges)
		if cs.MaxExtent != ([4]float64{}) {
			ext := cs.MaxExtent
			g.bbox = g.bbox.Union(rollup.NewBBox(ext[0], ext[1], ext[2], ext[3]))
		}
	}

	result := make([]Day, 0, len(grouped))
	for k, g := range grouped {
		d := Day{
			UID:        k.uid,
			Day:        k.day,
			Changesets: g.changesets,
			NumChanges: g.numChanges,
		}
		if m, ok := members[k.uid]; ok {
			d.Username = m.Username
			d.Chapter = m.Chapter
		}
		if g.bbox.Valid {
			d.Bbox = &[4]float64{g.bbox.MinLon, g.bbox.MinLat, g.bbox.MaxLon, g.bbox.MaxLat}
		}
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Day != result[j].Day {
			return result[i].Day < result[j].Day
		}
		return result[i].UID < result[j].UID
	})
	return result
}

// Write stores the report as JSON, to stdout if filename is empty.
func (r *Report) Write(filename string) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshalling preview report")
	}
	b = append(b, '\n')
	if filename == "" {
		_, err := os.Stdout.Write(b)
		return err
	}
	tmp := filename + "~"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return errors.Wrap(err, "writing preview report")
	}
	if err := os.Rename(tmp, filename); err != nil {
		return errors.Wrap(err, "renaming preview report")
	}
	return nil
}
