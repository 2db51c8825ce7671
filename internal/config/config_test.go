package config_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/simgrid/paddock/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.Store, convey.ShouldEqual, config.StoreFile)
			convey.So(cfg.ThresholdPct, convey.ShouldEqual, 20.0)
			convey.So(cfg.RatingBandWidth, convey.ShouldEqual, 100)
			convey.So(cfg.RecentWindowSize, convey.ShouldEqual, 5)
			convey.So(cfg.WindowDays, convey.ShouldEqual, 7)
			convey.So(cfg.CacheTTL(), convey.ShouldEqual, time.Minute)
			convey.So(cfg.DBBreakerFailures, convey.ShouldEqual, 5)
			convey.So(cfg.BreakerCooldown(), convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs the service cannot run with", t, func() {
		cases := map[string]func(*config.Config){
			"empty addr":             func(c *config.Config) { c.Addr = "" },
			"unknown store":          func(c *config.Config) { c.Store = "redis" },
			"file store no path":     func(c *config.Config) { c.ResultsFile = "" },
			"postgres without dsn":   func(c *config.Config) { c.Store = config.StorePostgres },
			"zero band width":        func(c *config.Config) { c.RatingBandWidth = 0 },
			"zero recent window":     func(c *config.Config) { c.RecentWindowSize = 0 },
			"negative window days":   func(c *config.Config) { c.WindowDays = -1 },
			"history below window":   func(c *config.Config) { c.HistoryLimit = 3 },
			"negative rate limit":    func(c *config.Config) { c.RateLimitPerMinute = -1 },
			"negative warm workers":  func(c *config.Config) { c.WarmWorkers = -2 },
			"negative breaker trips": func(c *config.Config) { c.DBBreakerFailures = -1 },
		}

		for _, mutate := range cases {
			cfg := config.New()
			mutate(cfg)
			err := cfg.Validate()
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		}
	})

	convey.Convey("Given a postgres config with a DSN", t, func() {
		cfg := config.New()
		cfg.Store = config.StorePostgres
		cfg.DatabaseURL = "postgres://localhost/paddock?sslmode=disable"

		convey.So(cfg.Validate(), convey.ShouldBeNil)
	})
}

func TestConfig_NormalizeThreshold(t *testing.T) {
	convey.Convey("Given caller supplied thresholds", t, func() {
		for _, bad := range []float64{0, -3, 101, math.NaN(), math.Inf(1)} {
			cfg := config.New()
			cfg.ThresholdPct = bad
			convey.So(cfg.NormalizeThreshold(), convey.ShouldBeTrue)
			convey.So(cfg.ThresholdPct, convey.ShouldEqual, config.DefaultThresholdPct)
		}

		cfg := config.New()
		cfg.ThresholdPct = 35
		convey.So(cfg.NormalizeThreshold(), convey.ShouldBeFalse)
		convey.So(cfg.ThresholdPct, convey.ShouldEqual, 35)
	})
}
