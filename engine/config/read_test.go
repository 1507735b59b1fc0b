package config_test

import (
	"os"
	"strings"
	"testing"

	"github.com/soundmap/soundmap/engine/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlConfig = `
bind_port: 4000
tls:
  cert: test.pem
  key: test.key
room: plaza
feed:
  type: redis
  redis:
    host: localhost
    port: 6379
    prefix: soundmap
audio:
  ref_distance: 80
  max_distance: 400
throttle:
  interval_ms: 100
subscription:
  auto_subscribe: false
prometheus:
  access_token: secret
`

func TestReadYAML(t *testing.T) {
	var c config.Config

	config.InitConfig(&c)
	require.NoError(t, config.ReadYAML(strings.NewReader(yamlConfig), &c))

	assert.Equal(t, 4000, c.BindPort)
	assert.Equal(t, "test.pem", c.TLS.Cert)
	assert.Equal(t, "test.key", c.TLS.Key)
	assert.Equal(t, "plaza", c.Room)
	assert.Equal(t, config.FeedTypeRedis, c.Feed.Type)
	assert.Equal(t, "localhost", c.Feed.Redis.Host)
	assert.Equal(t, 6379, c.Feed.Redis.Port)
	assert.Equal(t, "soundmap", c.Feed.Redis.Prefix)
	assert.Equal(t, 80.0, c.Audio.RefDistance)
	assert.Equal(t, 400.0, c.Audio.MaxDistance)
	assert.Equal(t, 100, c.Throttle.IntervalMs)
	assert.False(t, c.Subscription.AutoSubscribe)
	assert.Equal(t, "secret", c.Prometheus.AccessToken)

	// Untouched fields keep their defaults.
	assert.Equal(t, 48000, c.Audio.SampleRate)
	assert.Equal(t, 1.0, c.Audio.RolloffFactor)
	assert.Equal(t, 50, c.Audio.SmoothingMs)
}

func TestInitConfig_Defaults(t *testing.T) {
	var c config.Config

	config.InitConfig(&c)

	assert.Equal(t, 3000, c.BindPort)
	assert.Equal(t, "default", c.Room)
	assert.Equal(t, config.FeedTypeMemory, c.Feed.Type)
	assert.Equal(t, 100.0, c.Audio.RefDistance)
	assert.Equal(t, 500.0, c.Audio.MaxDistance)
	assert.Equal(t, 50, c.Throttle.IntervalMs)
	assert.True(t, c.Subscription.AutoSubscribe)
	assert.Equal(t, 10000, c.Subscription.TimeoutMs)
	assert.Len(t, c.Transport.ICEServers, 2)
}

func TestReadFromEnv(t *testing.T) {
	var c config.Config

	config.InitConfig(&c)

	prefix := "SOUNDMAPTEST_"

	vars := map[string]string{
		"BIND_PORT":               "5000",
		"TLS_CERT":                "env.pem",
		"TLS_KEY":                 "env.key",
		"ROOM":                    "harbor",
		"FEED_TYPE":               "ws",
		"FEED_WS_URL":             "wss://feed.example.com/positions",
		"AUDIO_MAX_DISTANCE":      "750",
		"SUBSCRIPTION_AUTO_SUBSCRIBE": "false",
		"ICE_SERVER_URLS":         "stun:stun.example.com:3478",
	}

	for k, v := range vars {
		os.Setenv(prefix+k, v)
	}

	defer func() {
		for k := range vars {
			os.Unsetenv(prefix + k)
		}
	}()

	config.ReadFromEnv(prefix, &c)

	assert.Equal(t, 5000, c.BindPort)
	assert.Equal(t, "env.pem", c.TLS.Cert)
	assert.Equal(t, "env.key", c.TLS.Key)
	assert.Equal(t, "harbor", c.Room)
	assert.Equal(t, config.FeedTypeWS, c.Feed.Type)
	assert.Equal(t, "wss://feed.example.com/positions", c.Feed.WS.URL)
	assert.Equal(t, 750.0, c.Audio.MaxDistance)
	assert.False(t, c.Subscription.AutoSubscribe)

	require.Len(t, c.Transport.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.example.com:3478"}, c.Transport.ICEServers[0].URLs)
}
