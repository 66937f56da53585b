package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	log "github.com/sirupsen/logrus"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	DefaultProductId = "-//My iCal App//EN"

	envPrefix = "ICAL_"
)

type Application struct {
	Listen        string         `koanf:"listen"`
	Frontend      Frontend       `koanf:"frontend"`
	Database      Database       `koanf:"db"`
	Calendar      Calendar       `koanf:"calendar"`
	RateLimit     RateLimit      `koanf:"ratelimit"`
	Subscriptions []Subscription `koanf:"subscriptions"`
}

type Frontend struct {
	Enabled bool   `koanf:"enabled"`
	Dir     string `koanf:"dir"`
}

type Database struct {
	// Driver is either "sqlite" or "postgres".
	Driver string `koanf:"driver"`
	// Path is the SQLite database file. ":memory:" keeps everything in memory.
	Path   string `koanf:"path"`
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	User   string `koanf:"user"`
	Pass   string `koanf:"pass"`
	Name   string `koanf:"name"`
	Schema string `koanf:"schema"`
}

type Calendar struct {
	ProductId string `koanf:"productid"`
}

// RateLimit configures the per-client request limiter of the HTTP API. A zero Rate disables it.
type RateLimit struct {
	Rate  float64 `koanf:"rate"`
	Burst int     `koanf:"burst"`
}

// Subscription is a remote or local iCalendar feed imported on a cron schedule.
type Subscription struct {
	Id       string `koanf:"id"`
	Url      string `koanf:"url"`
	Schedule string `koanf:"schedule"`
}

func Defaults() Application {
	return Application{
		Listen: ":3000",
		Frontend: Frontend{
			Enabled: true,
			Dir:     "./public",
		},
		Database: Database{
			Driver: DriverSQLite,
			Path:   "./calendar.db",
			Host:   "localhost",
			Port:   5432,
			User:   "calendar",
			Pass:   "",
			Name:   "calendar",
			Schema: "public",
		},
		Calendar: Calendar{
			ProductId: DefaultProductId,
		},
		RateLimit: RateLimit{
			Rate:  20,
			Burst: 40,
		},
	}
}

func Load(path string) (Application, error) {
	var k = koanf.New(".")

	err := k.Load(structs.Provider(Defaults(), "koanf"), nil)
	if err != nil {
		log.Errorf("error loading config from structs: %v", err)
		return Application{}, err
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if os.IsNotExist(err) {
			log.Infof("Config file not found at %s, using defaults and environment variables", path)
		} else {
			log.Errorf("error loading config from YAML: %v", err)
			return Application{}, err
		}
	} else {
		log.Infof("Loaded configuration from file: %s", path)
	}

	err = k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(k, v string) (string, any) {
			k = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(k, envPrefix)), "_", ".")
			return k, v
		},
	}), nil)
	if err != nil {
		log.Errorf("error loading config from envs: %v", err)
		return Application{}, err
	}

	var app Application
	if err := k.Unmarshal("", &app); err != nil {
		return Application{}, err
	}
	if app.Calendar.ProductId == "" {
		app.Calendar.ProductId = DefaultProductId
	}

	return app, nil
}
