package constants

import "time"

const (
	TickInterval     = 1 * time.Second
	AutosaveInterval = 5 * time.Minute
	ScheduleInterval = 30 * time.Second
)

// Coarser multiples of the battle tick.
const (
	InviteEveryTicks  = 5
	WeatherEveryTicks = 30
)

const (
	DefaultQueueDuration   = 5 * time.Minute
	DefaultPrepareDuration = 1 * time.Minute
	DefaultRunDuration     = 15 * time.Minute
	DefaultEndedDuration   = 2 * time.Minute
	DeserterCooldown       = 10 * time.Minute
	InviteTTL              = 2 * time.Minute
)

const (
	WebhookTimeout  = 5 * time.Second
	DatabaseTimeout = 5 * time.Second
	RequestTimeout  = 30 * time.Second
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
)
