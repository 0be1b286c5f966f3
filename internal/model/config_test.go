package model

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig_Validates(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing instance", func(c *Config) { c.InstanceName = " " }},
		{"missing api url", func(c *Config) { c.APIURL = "" }},
		{"negative interval", func(c *Config) { c.JobCheckIntervalSec = -1 }},
		{"push without key", func(c *Config) {
			c.PushEnabled = true
			c.Push.Host = "h"
			c.Push.AppSecret = "s"
		}},
		{"push without host", func(c *Config) {
			c.PushEnabled = true
			c.Push.AppKey = "k"
			c.Push.AppSecret = "s"
		}},
		{"push without auth", func(c *Config) {
			c.PushEnabled = true
			c.Push.AppKey = "k"
			c.Push.Host = "h"
		}},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_IntervalFallbacks(t *testing.T) {
	var cfg Config
	assert.Equal(t, 300*time.Second, cfg.PrinterCheckInterval())
	assert.Equal(t, 120*time.Second, cfg.JobCheckInterval())
	assert.Equal(t, 15*time.Second, cfg.StatusCheckInterval())
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay())

	cfg.StatusCheckIntervalSec = 2
	assert.Equal(t, 2*time.Second, cfg.StatusCheckInterval())
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))
	_, ok := JobID(ctx)
	assert.False(t, ok)

	ctx = WithJobID(WithRequestID(ctx, "r-1"), 9)
	assert.Equal(t, "r-1", RequestID(ctx))
	id, ok := JobID(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(9), id)
}
