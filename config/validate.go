package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Tags reported by the struct-level rules below.
const (
	tagRequiredForPostgres = "required_for_postgres"
	tagNotInProduction     = "not_in_production"
	tagLimitOrder          = "default_within_max"
	tagStreamNames         = "required_for_stream"
	tagHostname            = "hostname_known"
	tagSchedule            = "interval_or_cron"
)

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New()

	// Errors name the environment variable, not the Go field.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("env")
	})

	v.RegisterStructValidation(configStructValidation, Config{})
	v.RegisterStructValidation(engineStructValidation, EngineConfig{})
	return v
}

// Validate checks if the configuration is valid. Every violation is reported,
// not just the first.
func (c *Config) Validate() error {
	err := configValidator.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("configuration errors:\n  - %s", strings.Join(msgs, "\n  - "))
}

// configStructValidation holds the rules that depend on more than one section.
func configStructValidation(sl validator.StructLevel) {
	c, ok := sl.Current().Interface().(Config)
	if !ok {
		return
	}

	switch c.Engine.Store {
	case StorePostgres:
		if c.Database.URL == "" {
			sl.ReportError(c.Database.URL, "DATABASE_URL", "URL", tagRequiredForPostgres, "")
		}
	case StoreMemory:
		if c.IsProduction() {
			sl.ReportError(c.Engine.Store, "ENGINE_STORE", "Store", tagNotInProduction, "")
		}
	}

	if c.Stream.Enabled && !c.Redis.Disabled {
		if c.Stream.Key == "" || c.Stream.Group == "" {
			sl.ReportError(c.Stream.Key, "STREAM_KEY", "Key", tagStreamNames, "")
		}
		if c.Stream.Consumer == "" {
			sl.ReportError(c.Stream.Consumer, "STREAM_CONSUMER", "Consumer", tagHostname, "")
		}
	}

	if c.Scheduler.Enabled && c.Scheduler.LeaderboardCron == "" && c.Scheduler.LeaderboardInterval <= 0 {
		sl.ReportError(c.Scheduler.LeaderboardInterval, "SCHEDULER_LEADERBOARD_INTERVAL", "LeaderboardInterval", tagSchedule, "")
	}
}

func engineStructValidation(sl validator.StructLevel) {
	e, ok := sl.Current().Interface().(EngineConfig)
	if !ok {
		return
	}
	if e.DefaultLimit > 0 && e.MaxLimit > 0 && e.DefaultLimit > e.MaxLimit {
		sl.ReportError(e.DefaultLimit, "ENGINE_DEFAULT_LIMIT", "DefaultLimit", tagLimitOrder, "")
	}
}

func describe(fe validator.FieldError) string {
	name := fe.Field()
	switch fe.Tag() {
	case "gt":
		if fe.Param() == "0" {
			return name + " must be positive"
		}
		return fmt.Sprintf("%s must be greater than %s", name, fe.Param())
	case "gte":
		if fe.Param() == "0" {
			return name + " must not be negative"
		}
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", name, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be %s", name, quoteAlternatives(fe.Param()))
	case tagRequiredForPostgres:
		return "DATABASE_URL (or DB_HOST and DB_USER) is required when ENGINE_STORE=postgres"
	case tagNotInProduction:
		return "ENGINE_STORE=memory is not allowed in production"
	case tagLimitOrder:
		return "ENGINE_DEFAULT_LIMIT must not exceed ENGINE_MAX_LIMIT"
	case tagStreamNames:
		return "STREAM_KEY and STREAM_GROUP are required when the stream is enabled"
	case tagHostname:
		return "STREAM_CONSUMER is required when the host name is unknown"
	case tagSchedule:
		return "SCHEDULER_LEADERBOARD_INTERVAL must be positive"
	default:
		return fmt.Sprintf("%s failed %q", name, fe.Tag())
	}
}

// quoteAlternatives turns a oneof parameter into `"a" or "b"`.
func quoteAlternatives(param string) string {
	opts := strings.Fields(param)
	for i, o := range opts {
		opts[i] = fmt.Sprintf("%q", o)
	}
	return strings.Join(opts, " or ")
}
