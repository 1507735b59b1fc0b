package config

// FeedType selects the position feed adapter.
type FeedType string

const (
	FeedTypeMemory FeedType = "memory"
	FeedTypeRedis  FeedType = "redis"
	FeedTypeWS     FeedType = "ws"
)

type RedisConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Prefix string `yaml:"prefix"`
}

type WSConfig struct {
	URL string `yaml:"url"`
}

type FeedConfig struct {
	Type  FeedType    `yaml:"type"`
	Redis RedisConfig `yaml:"redis"`
	WS    WSConfig    `yaml:"ws"`
}

// AudioConfig holds the spatialization tunables. Durations are plain
// milliseconds so the YAML stays obvious.
type AudioConfig struct {
	SampleRate    int     `yaml:"sample_rate"`
	RefDistance   float64 `yaml:"ref_distance"`
	MaxDistance   float64 `yaml:"max_distance"`
	RolloffFactor float64 `yaml:"rolloff_factor"`
	SmoothingMs   int     `yaml:"smoothing_ms"`
	BufferMs      int     `yaml:"buffer_ms"`
}

type ThrottleConfig struct {
	IntervalMs int `yaml:"interval_ms"`
}

type SubscriptionConfig struct {
	AutoSubscribe bool `yaml:"auto_subscribe"`
	TimeoutMs     int  `yaml:"timeout_ms"`
}

type ICEServer struct {
	URLs []string `yaml:"urls"`
}

type TransportConfig struct {
	ICEServers []ICEServer `yaml:"ice_servers"`
}

type PrometheusConfig struct {
	AccessToken string `yaml:"access_token"`
}

// TLSConfig enables HTTPS on the control surface when both files are set.
type TLSConfig struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type Config struct {
	BindHost     string             `yaml:"bind_host"`
	BindPort     int                `yaml:"bind_port"`
	TLS          TLSConfig          `yaml:"tls"`
	Room         string             `yaml:"room"`
	Nickname     string             `yaml:"nickname"`
	Feed         FeedConfig         `yaml:"feed"`
	Audio        AudioConfig        `yaml:"audio"`
	Throttle     ThrottleConfig     `yaml:"throttle"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Transport    TransportConfig    `yaml:"transport"`
	Prometheus   PrometheusConfig   `yaml:"prometheus"`
}
