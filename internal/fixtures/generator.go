package fixtures

import (
	"cmp"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/simgrid/paddock/internal/adapters/repository"
	"github.com/simgrid/paddock/internal/domain/features"
	"github.com/simgrid/paddock/internal/domain/meta"
	"github.com/simgrid/paddock/internal/domain/model"
)

// Ranges of the synthetic population.
const (
	ratingMin    = 1200.0
	ratingSpread = 2400.0
	safetyMin    = 1.5
	safetySpread = 3.4
	paceNoise    = 300.0
	ratingStep   = 8.0
	lapBase      = 95.0
	lapSpread    = 45.0
	firstSession = 1000
)

var (
	seriesNames  = []string{"GT3 Sprint", "Prototype Cup", "Touring Challenge", "Formula Regional", "Endurance Masters"}
	trackNames   = []string{"Spa", "Monza", "Suzuka", "Road Atlanta", "Brands Hatch", "Interlagos", "Watkins Glen"}
	vehicleNames = []string{"Falcon", "Kestrel", "Mistral", "Sirocco", "Tempest", "Vortex", "Zephyr", "Bora"}
)

type driver struct {
	id     int64
	rating float64
	safety float64
	// preferred vehicle index per series
	prefers []int
}

type slot struct {
	series int
	start  time.Time
}

type entry struct {
	d       *driver
	vehicle int
	pace    float64
}

// Generate builds a dataset according to cfg. Drivers' ratings evolve from
// session to session, so every driver history is internally consistent.
func Generate(cfg Config) (repository.Dataset, error) {
	if err := cfg.Validate(); err != nil {
		return repository.Dataset{}, err
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	start := cfg.Start.UTC()
	patch := start.Add(time.Duration(cfg.PatchDay) * 24 * time.Hour)

	var ds repository.Dataset
	for s := range cfg.Series {
		ds.Series = append(ds.Series, repository.Series{ID: seriesID(s), Name: pick(seriesNames, s, "Series")})
		if cfg.PatchDay > 0 {
			ds.Patches = append(ds.Patches, repository.Patch{
				SeriesID: seriesID(s),
				Date:     patch,
				Note:     fmt.Sprintf("%s performance increased", vehicleName(s, 0)),
			})
		}
	}

	drivers := make([]*driver, cfg.Drivers)
	for i := range drivers {
		d := &driver{
			id:      int64(i + 1),
			rating:  math.Round(ratingMin + rng.Float64()*ratingSpread),
			safety:  meta.Round(safetyMin + rng.Float64()*safetySpread),
			prefers: make([]int, cfg.Series),
		}
		for s := range d.prefers {
			d.prefers[s] = rng.IntN(cfg.Vehicles)
		}
		drivers[i] = d
	}
	laps := make([]float64, cfg.Tracks)
	for t := range laps {
		laps[t] = lapBase + rng.Float64()*lapSpread
	}

	// Interleave the series so ratings evolve in start-time order.
	span := time.Duration(cfg.Days) * 24 * time.Hour
	step := span / time.Duration(cfg.Sessions)
	slots := make([]slot, 0, cfg.Series*cfg.Sessions)
	for s := range cfg.Series {
		offset := step * time.Duration(s) / time.Duration(cfg.Series)
		for i := range cfg.Sessions {
			slots = append(slots, slot{series: s, start: start.Add(offset + step*time.Duration(i)).Truncate(time.Minute)})
		}
	}
	slices.SortStableFunc(slots, func(a, b slot) int { return a.start.Compare(b.start) })

	for i, sl := range slots {
		sessionID := int64(firstSession + i)
		track := rng.IntN(cfg.Tracks)
		boosted := cfg.PatchDay > 0 && !sl.start.Before(patch)

		field := make([]entry, 0, cfg.FieldSize)
		for _, idx := range rng.Perm(len(drivers))[:cfg.FieldSize] {
			d := drivers[idx]
			vehicle := d.prefers[sl.series]
			if boosted && rng.Float64() < cfg.SwitchRate {
				vehicle = 0
			}
			pace := d.rating + rng.NormFloat64()*paceNoise
			if boosted && vehicle == 0 {
				pace += cfg.Boost
			}
			field = append(field, entry{d: d, vehicle: vehicle, pace: pace})
		}

		ratings := make([]*float64, len(field))
		for j, e := range field {
			ratings[j] = model.Ptr(e.d.rating)
		}
		sof := features.EstimateSOF(ratings)
		grid := gridOrder(field)

		slices.SortStableFunc(field, func(a, b entry) int { return cmp.Compare(b.pace, a.pace) })
		ds.Sessions = append(ds.Sessions, model.RaceSession{
			SessionID:       sessionID,
			SeriesID:        seriesID(sl.series),
			TrackID:         int64(track + 1),
			TrackName:       pick(trackNames, track, "Track"),
			StartTime:       sl.start,
			StrengthOfField: sof,
		})

		finish := 0
		for _, e := range field {
			d := e.d
			r := model.ParticipantResult{
				SessionID:        sessionID,
				DriverID:         d.id,
				VehicleID:        vehicleID(sl.series, e.vehicle),
				VehicleName:      vehicleName(sl.series, e.vehicle),
				StartingPosition: model.Ptr(grid[d.id]),
				RatingBefore:     model.Ptr(d.rating),
				SafetyBefore:     model.Ptr(d.safety),
				Incidents:        model.Ptr(incidents(rng, d.safety)),
			}
			var delta float64
			if rng.Float64() < cfg.DNFRate {
				delta = -ratingStep * float64(cfg.FieldSize) / 2
			} else {
				finish++
				r.FinishPosition = model.Ptr(finish)
				r.BestLapTime = model.Ptr(meta.Round(laps[track] * (1 + (ratingMin+ratingSpread-d.rating)/40000) * (1 + rng.Float64()*0.01)))
				delta = ratingStep * (float64(cfg.FieldSize+1)/2 - float64(finish))
			}
			d.rating = math.Max(ratingMin/2, math.Round(d.rating+delta))
			d.safety = meta.Round(math.Min(4.99, math.Max(1, d.safety+0.05-0.02*float64(*r.Incidents))))
			r.RatingAfter = model.Ptr(d.rating)
			r.SafetyAfter = model.Ptr(d.safety)
			ds.Results = append(ds.Results, r)
		}
	}
	return ds, nil
}

// gridOrder qualifies the field by rating.
func gridOrder(field []entry) map[int64]int {
	order := slices.Clone(field)
	slices.SortStableFunc(order, func(a, b entry) int { return cmp.Compare(b.d.rating, a.d.rating) })
	grid := make(map[int64]int, len(order))
	for i, e := range order {
		grid[e.d.id] = i + 1
	}
	return grid
}

// incidents draws a small count, higher for lower safety ratings.
func incidents(rng *rand.Rand, safety float64) int {
	mean := math.Max(0.5, 6-safety*1.2)
	n := int(math.Round(mean + rng.NormFloat64()*1.5))
	return max(n, 0)
}

func seriesID(s int) int64 { return int64(s + 1) }

func vehicleID(series, v int) int64 { return int64((series+1)*100 + v + 1) }

func vehicleName(series, v int) string {
	return pick(vehicleNames, (series*3+v)%len(vehicleNames), "Vehicle") + fmt.Sprintf(" %d", series+1)
}

func pick(names []string, i int, fallback string) string {
	if i < len(names) {
		return names[i]
	}
	return fmt.Sprintf("%s %d", fallback, i+1)
}
