// Package config loads the engine configuration from the environment.
// Every timeout and threshold lives here so no call site hard-codes one.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Network
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	// Storage
	DBPath string `envconfig:"DB_PATH" default:"./data/tablematch.db"`

	// Messaging. Empty RABBIT_URL falls back to the log publisher.
	RabbitURL     string `envconfig:"RABBIT_URL" default:""`
	EventExchange string `envconfig:"EVENT_EXCHANGE" default:"tablematch.events"`

	// Matching
	GroupCapacity int     `envconfig:"GROUP_CAPACITY" default:"5"`
	MatchRadiusKm float64 `envconfig:"MATCH_RADIUS_KM" default:"1.5"`

	// Presence tiers: elapsed time since last heartbeat, fresher bound
	// inclusive. Beyond PassiveWithin a member is abandoned.
	ConnectedWithin time.Duration `envconfig:"PRESENCE_CONNECTED_WITHIN" default:"5m"`
	WaitingWithin   time.Duration `envconfig:"PRESENCE_WAITING_WITHIN" default:"30m"`
	PassiveWithin   time.Duration `envconfig:"PRESENCE_PASSIVE_WITHIN" default:"1h"`

	// Cleanup
	CleanupInterval    time.Duration `envconfig:"CLEANUP_INTERVAL" default:"2h"`
	AbandonAfter       time.Duration `envconfig:"ABANDON_AFTER" default:"24h"`
	MinEmptyAge        time.Duration `envconfig:"MIN_EMPTY_AGE" default:"10m"`
	CompleteAfter      time.Duration `envconfig:"COMPLETE_AFTER" default:"2h"`
	CompletedRetention time.Duration `envconfig:"COMPLETED_RETENTION" default:"72h"`
	TriggerTTL         time.Duration `envconfig:"TRIGGER_TTL" default:"30m"`

	// Venue assignment
	VenueSearchURL   string        `envconfig:"VENUE_SEARCH_URL" default:"http://localhost:9090/v1/venues/search"`
	VenueTimeout     time.Duration `envconfig:"VENUE_TIMEOUT" default:"4s"`
	VenueMaxAttempts int           `envconfig:"VENUE_MAX_ATTEMPTS" default:"5"`
	MeetingLeadTime  time.Duration `envconfig:"MEETING_LEAD_TIME" default:"1h"`
}

func Load() (Config, error) {
	var c Config
	err := envconfig.Process("", &c)
	return c, err
}
