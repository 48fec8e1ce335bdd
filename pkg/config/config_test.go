package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 3, cfg.BookingWindow.MaxBookings)
	assert.Equal(t, 28*24*time.Hour, cfg.BookingWindow.WindowDuration)
	assert.Equal(t, 7*24*time.Hour, cfg.BookingWindow.GracePeriod)
	assert.Equal(t, 48*time.Hour, cfg.Waitlist.InviteTTL)
	assert.False(t, cfg.Notifications.Enabled)
}

func TestFromViperOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("BOOKING_MAX_BOOKINGS", 5)
	v.Set("BOOKING_WINDOW_DURATION", "240h")
	v.Set("WAITLIST_INVITE_TTL", "not-a-duration")
	v.Set("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg := fromViper(v)
	assert.Equal(t, 5, cfg.BookingWindow.MaxBookings)
	assert.Equal(t, 240*time.Hour, cfg.BookingWindow.WindowDuration)
	assert.Equal(t, 48*time.Hour, cfg.Waitlist.InviteTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}
