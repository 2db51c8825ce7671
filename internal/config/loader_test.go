package config_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/simgrid/paddock/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, replaced, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(replaced, convey.ShouldBeFalse)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.Store, convey.ShouldEqual, "file")
				convey.So(cfg.HistoryLimit, convey.ShouldEqual, 20)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("PADDOCK_ADDR", ":8080")
			_ = os.Setenv("PADDOCK_CACHE_TTL_SECONDS", "15")
			_ = os.Setenv("PADDOCK_THRESHOLD_PCT", "12.5")
			_ = os.Setenv("PADDOCK_WATCH_RESULTS", "false")
			_ = os.Setenv("PADDOCK_ADVISOR_RATING_GAP", "250")
			defer clearConfigEnvVars()

			cfg, _, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.CacheTTLSeconds, convey.ShouldEqual, 15)
				convey.So(cfg.ThresholdPct, convey.ShouldEqual, 12.5)
				convey.So(cfg.WatchResults, convey.ShouldBeFalse)
				convey.So(cfg.AdvisorRatingGap, convey.ShouldEqual, 250)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			tmpFile := createTempConfigFile(`
# analytics settings
addr: ":9090"
store: postgres
database_url: "postgres://paddock@localhost/paddock?sslmode=disable"
window_days: 14
rating_band_width: 250
`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("PADDOCK_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, _, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file and keep defaults elsewhere", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.Store, convey.ShouldEqual, config.StorePostgres)
				convey.So(cfg.WindowDays, convey.ShouldEqual, 14)
				convey.So(cfg.RatingBandWidth, convey.ShouldEqual, 250)
				convey.So(cfg.RecentWindowSize, convey.ShouldEqual, 5)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			tmpFile := createTempConfigFile(`
addr: ":9090"
window_days: 14
`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("PADDOCK_CONFIG", tmpFile)
			_ = os.Setenv("PADDOCK_ADDR", ":8080")
			defer clearConfigEnvVars()

			cfg, _, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.WindowDays, convey.ShouldEqual, 14)
			})
		})

		convey.Convey("When the threshold is out of range", func() {
			_ = os.Setenv("PADDOCK_THRESHOLD_PCT", "250")
			defer clearConfigEnvVars()

			cfg, replaced, err := config.Load(ctx)

			convey.Convey("Then the default replaces it without an error", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(replaced, convey.ShouldBeTrue)
				convey.So(cfg.ThresholdPct, convey.ShouldEqual, config.DefaultThresholdPct)
			})
		})

		convey.Convey("When the threshold is not a number", func() {
			_ = os.Setenv("PADDOCK_THRESHOLD_PCT", "abc")
			_ = os.Setenv("PADDOCK_WINDOW_DAYS", "10")
			defer clearConfigEnvVars()

			cfg, replaced, err := config.Load(ctx)

			convey.Convey("Then the default replaces it and the rest still loads", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(replaced, convey.ShouldBeTrue)
				convey.So(cfg.ThresholdPct, convey.ShouldEqual, config.DefaultThresholdPct)
				convey.So(cfg.WindowDays, convey.ShouldEqual, 10)
			})
		})

		convey.Convey("When the file sets a non-numeric threshold", func() {
			tmpFile := createTempConfigFile("threshold_pct: lots\n")
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("PADDOCK_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, replaced, err := config.Load(ctx)

			convey.Convey("Then the default replaces it as well", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(replaced, convey.ShouldBeTrue)
				convey.So(cfg.ThresholdPct, convey.ShouldEqual, config.DefaultThresholdPct)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile("addr: [unclosed\n")
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("PADDOCK_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, _, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("PADDOCK_CONFIG", "/nonexistent/paddock.yaml")
			defer clearConfigEnvVars()

			_, _, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("PADDOCK_WINDOW_DAYS", "a week")
			defer clearConfigEnvVars()

			_, _, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When the result is invalid", func() {
			_ = os.Setenv("PADDOCK_STORE", "postgres")
			defer clearConfigEnvVars()

			_, _, err := config.Load(ctx)

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "PADDOCK_") {
			_ = os.Unsetenv(key)
		}
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "paddock-config-*.yaml")
	if err != nil {
		panic(err)
	}
	defer func() { _ = tmpFile.Close() }()

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}
	return tmpFile.Name()
}
