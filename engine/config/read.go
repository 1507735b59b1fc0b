// Package config reads engine configuration from YAML files merged with
// environment variables. Later files override earlier ones; environment
// variables override everything.
package config

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"gopkg.in/yaml.v2"
)

func ReadFile(filename string, c *Config) error {
	f, err := os.Open(filename)
	if err != nil {
		return errors.Annotatef(err, "read config file: %s", filename)
	}

	defer f.Close()

	err = ReadYAML(f, c)

	return errors.Annotatef(err, "read yaml config: %s", filename)
}

func ReadFiles(filenames []string, c *Config) error {
	for _, filename := range filenames {
		if err := ReadFile(filename, c); err != nil {
			return errors.Trace(err)
		}
	}

	return nil
}

// InitConfig sets the defaults: memory feed, the standard rolloff radii and
// smoothing, auto-subscribe on.
func InitConfig(c *Config) {
	c.BindPort = 3000
	c.Room = "default"

	c.Feed.Type = FeedTypeMemory

	c.Audio.SampleRate = 48000
	c.Audio.RefDistance = 100
	c.Audio.MaxDistance = 500
	c.Audio.RolloffFactor = 1
	c.Audio.SmoothingMs = 50
	c.Audio.BufferMs = 100

	c.Throttle.IntervalMs = 50

	c.Subscription.AutoSubscribe = true
	c.Subscription.TimeoutMs = 10000

	c.Transport.ICEServers = []ICEServer{{
		URLs: []string{"stun:stun.l.google.com:19302"},
	}, {
		URLs: []string{"stun:global.stun.twilio.com:3478?transport=udp"},
	}}
}

func Read(filenames []string) (Config, error) {
	var c Config

	InitConfig(&c)
	err := ReadFiles(filenames, &c)
	ReadFromEnv("SOUNDMAP_", &c)

	return c, errors.Trace(err)
}

func ReadYAML(reader io.Reader, c *Config) error {
	err := yaml.NewDecoder(reader).Decode(c)

	return errors.Annotatef(err, "decode yaml")
}

func ReadFromEnv(prefix string, c *Config) {
	setEnvString(&c.BindHost, prefix+"BIND_HOST")
	setEnvInt(&c.BindPort, prefix+"BIND_PORT")
	setEnvString(&c.TLS.Cert, prefix+"TLS_CERT")
	setEnvString(&c.TLS.Key, prefix+"TLS_KEY")
	setEnvString(&c.Room, prefix+"ROOM")
	setEnvString(&c.Nickname, prefix+"NICKNAME")

	setEnvFeedType(&c.Feed.Type, prefix+"FEED_TYPE")
	setEnvString(&c.Feed.Redis.Host, prefix+"FEED_REDIS_HOST")
	setEnvInt(&c.Feed.Redis.Port, prefix+"FEED_REDIS_PORT")
	setEnvString(&c.Feed.Redis.Prefix, prefix+"FEED_REDIS_PREFIX")
	setEnvString(&c.Feed.WS.URL, prefix+"FEED_WS_URL")

	setEnvInt(&c.Audio.SampleRate, prefix+"AUDIO_SAMPLE_RATE")
	setEnvFloat(&c.Audio.RefDistance, prefix+"AUDIO_REF_DISTANCE")
	setEnvFloat(&c.Audio.MaxDistance, prefix+"AUDIO_MAX_DISTANCE")
	setEnvFloat(&c.Audio.RolloffFactor, prefix+"AUDIO_ROLLOFF_FACTOR")
	setEnvInt(&c.Audio.SmoothingMs, prefix+"AUDIO_SMOOTHING_MS")
	setEnvInt(&c.Audio.BufferMs, prefix+"AUDIO_BUFFER_MS")

	setEnvInt(&c.Throttle.IntervalMs, prefix+"THROTTLE_INTERVAL_MS")

	setEnvBool(&c.Subscription.AutoSubscribe, prefix+"SUBSCRIPTION_AUTO_SUBSCRIBE")
	setEnvInt(&c.Subscription.TimeoutMs, prefix+"SUBSCRIPTION_TIMEOUT_MS")

	if value, ok := os.LookupEnv(prefix + "ICE_SERVER_URLS"); ok {
		// Do not use the default servers, even when value is empty.
		c.Transport.ICEServers = nil

		var ice ICEServer

		setSlice(&ice.URLs, value)

		if len(ice.URLs) > 0 {
			c.Transport.ICEServers = append(c.Transport.ICEServers, ice)
		}
	}

	setEnvString(&c.Prometheus.AccessToken, prefix+"PROMETHEUS_ACCESS_TOKEN")
}

func setSlice(dest *[]string, value string) {
	for _, v := range strings.Split(value, ",") {
		if v != "" {
			*dest = append(*dest, v)
		}
	}
}

func setEnvString(dest *string, name string) {
	value := os.Getenv(name)
	if value != "" {
		*dest = value
	}
}

func setEnvInt(dest *int, name string) {
	value, err := strconv.Atoi(os.Getenv(name))
	if err == nil {
		*dest = value
	}
}

func setEnvFloat(dest *float64, name string) {
	value, err := strconv.ParseFloat(os.Getenv(name), 64)
	if err == nil {
		*dest = value
	}
}

func setEnvBool(dest *bool, name string) {
	// Only set the value when the variable is explicitly 'true' or 'false',
	// so an unset variable cannot reset a default.
	switch os.Getenv(name) {
	case "true":
		*dest = true
	case "false":
		*dest = false
	}
}

func setEnvFeedType(feedType *FeedType, name string) {
	switch FeedType(os.Getenv(name)) {
	case FeedTypeMemory:
		*feedType = FeedTypeMemory
	case FeedTypeRedis:
		*feedType = FeedTypeRedis
	case FeedTypeWS:
		*feedType = FeedTypeWS
	}
}
