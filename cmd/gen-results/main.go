// Command gen-results writes a synthetic race results dataset, optionally
// importing it into PostgreSQL.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/simgrid/paddock/internal/adapters/repository"
	"github.com/simgrid/paddock/internal/fixtures"
	"github.com/simgrid/paddock/pkg/logger"
)

const importTimeout = 5 * time.Minute

func main() {
	def := fixtures.DefaultConfig()
	var (
		output     = flag.String("output", "data/results.json", "Dataset file to write")
		dsn        = flag.String("database-url", "", "Also import into this PostgreSQL database")
		seed       = flag.Uint64("seed", def.Seed, "Random seed; the same seed gives the same dataset")
		series     = flag.Int("series", def.Series, "Number of series")
		tracks     = flag.Int("tracks", def.Tracks, "Number of tracks")
		vehicles   = flag.Int("vehicles", def.Vehicles, "Vehicles per series")
		drivers    = flag.Int("drivers", def.Drivers, "Number of drivers")
		sessions   = flag.Int("sessions", def.Sessions, "Sessions per series")
		fieldSize  = flag.Int("field-size", def.FieldSize, "Drivers per session")
		days       = flag.Int("days", def.Days, "Days covered by the dataset, ending today")
		start      = flag.String("start", "", "First day (YYYY-MM-DD); overrides the default of today minus -days")
		patchDay   = flag.Int("patch-day", def.PatchDay, "Day of the BoP patch after the first day; 0 for none")
		boost      = flag.Float64("boost", def.Boost, "Pace edge of the boosted vehicle after the patch")
		switchRate = flag.Float64("switch-rate", def.SwitchRate, "Chance a driver switches to the boosted vehicle")
		dnfRate    = flag.Float64("dnf-rate", def.DNFRate, "Chance a participant does not finish")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.Get()
	ctx := context.Background()

	cfg := fixtures.Config{
		Seed:       *seed,
		Series:     *series,
		Tracks:     *tracks,
		Vehicles:   *vehicles,
		Drivers:    *drivers,
		Sessions:   *sessions,
		FieldSize:  *fieldSize,
		Days:       *days,
		PatchDay:   *patchDay,
		Boost:      *boost,
		SwitchRate: *switchRate,
		DNFRate:    *dnfRate,
		Start:      time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -*days),
	}
	if *start != "" {
		t, err := time.Parse(time.DateOnly, *start)
		if err != nil {
			log.Fatal(ctx, "invalid -start", logger.String("start", *start), logger.Error(err))
		}
		cfg.Start = t
	}

	ds, err := fixtures.Generate(cfg)
	if err != nil {
		log.Fatal(ctx, "generating dataset failed", logger.Error(err))
	}
	if err := repository.SaveDataset(*output, ds); err != nil {
		log.Fatal(ctx, "writing dataset failed", logger.String("output", *output), logger.Error(err))
	}
	log.Info(ctx, "dataset written",
		logger.String("output", *output),
		logger.Int("sessions", len(ds.Sessions)),
		logger.Int("results", len(ds.Results)),
		logger.Int("patches", len(ds.Patches)),
		logger.Any("seed", cfg.Seed),
	)

	if *dsn == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, importTimeout)
	defer cancel()

	store, err := repository.Connect(ctx, *dsn, repository.WithLogger(log.Named("postgres")))
	if err != nil {
		log.Fatal(ctx, "connecting to postgres failed", logger.Error(err))
	}
	defer func() { _ = store.Close() }()
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(ctx, "migration failed", logger.Error(err))
	}
	if err := store.Import(ctx, ds); err != nil {
		log.Fatal(ctx, "import failed", logger.Error(err))
	}
	log.Info(ctx, "dataset imported into postgres")
}
