package config

import (
	"fmt"
	"net/url"
	"time"
)

const (
	DefaultAddr            = ":8000"
	DefaultCacheTTL        = 5 * time.Minute
	DefaultUpstreamTimeout = 30 * time.Second

	// IPhoneUserAgent is presented to every upstream; they gate content on a mobile UA.
	IPhoneUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1"
)

type Upstreams struct {
	MPF           string `yaml:"mpf"`
	Xiaomi        string `yaml:"xiaomi"`
	D3            string `yaml:"d3"`
	D4            string `yaml:"d4"`
	ImgHost       string `yaml:"img_host"`
	WeatherMapURL string `yaml:"weathermap_url"`
	Referer       string `yaml:"referer"`
}

type Config struct {
	Addr            string        `yaml:"addr"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	RateLimit       float64       `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
	PublicBaseURL   string        `yaml:"public_base_url"`
	UserAgent       string        `yaml:"user_agent"`
	Upstreams       Upstreams     `yaml:"upstreams"`
}

func Default() Config {
	return Config{
		Addr:            DefaultAddr,
		CacheTTL:        DefaultCacheTTL,
		SweepInterval:   DefaultCacheTTL,
		UpstreamTimeout: DefaultUpstreamTimeout,
		RateLimit:       0,
		RateBurst:       20,
		UserAgent:       IPhoneUserAgent,
		Upstreams: Upstreams{
			MPF:           "https://mpf.weather.com.cn",
			Xiaomi:        "https://weatherapi.market.xiaomi.com/wtr-v3",
			D3:            "https://d3.weather.com.cn",
			D4:            "https://d4.weather.com.cn",
			ImgHost:       "https://img.weather.com.cn",
			WeatherMapURL: "https://m.weathercn.com/weatherMap.do?partner=1000001071_hfaw&language=zh-cn&id=2332685&p_source=&p_type=jump&seadId=&cpoikey=",
			Referer:       "https://m.weathercn.com/",
		},
	}
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive, got %s", c.CacheTTL)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %s", c.SweepInterval)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative, got %v", c.RateLimit)
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		return fmt.Errorf("rate_burst must be positive when rate_limit is set")
	}
	if c.PublicBaseURL != "" {
		if err := requireAbsolute("public_base_url", c.PublicBaseURL); err != nil {
			return err
		}
	}

	for name, raw := range map[string]string{
		"upstreams.mpf":            c.Upstreams.MPF,
		"upstreams.xiaomi":         c.Upstreams.Xiaomi,
		"upstreams.d3":             c.Upstreams.D3,
		"upstreams.d4":             c.Upstreams.D4,
		"upstreams.img_host":       c.Upstreams.ImgHost,
		"upstreams.weathermap_url": c.Upstreams.WeatherMapURL,
	} {
		if err := requireAbsolute(name, raw); err != nil {
			return err
		}
	}
	return nil
}

func requireAbsolute(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s must not be empty", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", name, raw)
	}
	return nil
}
