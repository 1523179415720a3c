package app

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
)

// seedFile is the on-disk shape of the in-memory registry. Any format viper
// reads (yaml, json, toml) works.
type seedFile struct {
	Sources []struct {
		ID     string `mapstructure:"id"`
		Name   string `mapstructure:"name"`
		Region string `mapstructure:"region"`
	} `mapstructure:"sources"`
	Targets []struct {
		ID        string        `mapstructure:"id"`
		Region    string        `mapstructure:"region"`
		URL       string        `mapstructure:"url"`
		Name      string        `mapstructure:"name"`
		Priority  int           `mapstructure:"priority"`
		Active    *bool         `mapstructure:"active"`
		RateLimit time.Duration `mapstructure:"rate_limit"`
	} `mapstructure:"targets"`
}

// LoadSeed reads sources and targets for the in-memory registry. An empty
// path yields an empty registry. Targets are active unless stated otherwise.
func LoadSeed(path string) ([]crawler.Source, []crawler.Target, error) {
	if path == "" {
		return nil, nil, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := v.Unmarshal(&seed); err != nil {
		return nil, nil, fmt.Errorf("decode seed file: %w", err)
	}

	sources := make([]crawler.Source, 0, len(seed.Sources))
	for i, s := range seed.Sources {
		if s.ID == "" || s.Region == "" {
			return nil, nil, fmt.Errorf("seed source %d: id and region are required", i)
		}
		sources = append(sources, crawler.Source{
			ID:     s.ID,
			Name:   s.Name,
			Region: s.Region,
			Status: crawler.SourceStatusActive,
		})
	}
	targets := make([]crawler.Target, 0, len(seed.Targets))
	for i, t := range seed.Targets {
		if t.URL == "" || t.Region == "" {
			return nil, nil, fmt.Errorf("seed target %d: url and region are required", i)
		}
		id := t.ID
		if id == "" {
			id = fmt.Sprintf("target-%d", i+1)
		}
		targets = append(targets, crawler.Target{
			ID:        id,
			Region:    t.Region,
			URL:       t.URL,
			Name:      t.Name,
			Priority:  t.Priority,
			Active:    t.Active == nil || *t.Active,
			RateLimit: t.RateLimit,
		})
	}
	return sources, targets, nil
}
