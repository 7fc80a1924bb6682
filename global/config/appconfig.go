package config

import "time"

// AppConfig 全部组件的配置，各组件在构造时显式接收自己的子配置
type AppConfig struct {
	Log     LogConfig     `mapstructure:"log"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Nats    NatsConfig    `mapstructure:"nats"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Hub     HubConfig     `mapstructure:"hub"`
	Ingress IngressConfig `mapstructure:"ingress"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Model   ModelConfig   `mapstructure:"model"`
	Client  ClientConfig  `mapstructure:"client"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr           string   `mapstructure:"addr"` // api 监听地址
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

type NatsConfig struct {
	Servers           []string      `mapstructure:"servers"`
	Name              string        `mapstructure:"name"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Stream            string        `mapstructure:"stream"`
	Subject           string        `mapstructure:"subject"`
	DeadLetterSubject string        `mapstructure:"deadLetterSubject"`
	Durable           string        `mapstructure:"durable"`
	AckWait           time.Duration `mapstructure:"ackWait"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"poolSize"`
}

// HubConfig 广播 hub：服务端监听 + 客户端/服务端访问地址 + 令牌签名
type HubConfig struct {
	Addr           string        `mapstructure:"addr"`
	Name           string        `mapstructure:"name"`
	Endpoint       string        `mapstructure:"endpoint"`       // REST 基地址，如 http://127.0.0.1:7080
	ClientEndpoint string        `mapstructure:"clientEndpoint"` // ws 基地址，如 ws://127.0.0.1:7080
	Secret         string        `mapstructure:"secret"`
	TokenTTL       time.Duration `mapstructure:"tokenTTL"`
	Channel        string        `mapstructure:"channel"` // redis 跨节点广播频道前缀
}

// Configured 凭据齐全才允许发布
func (h HubConfig) Configured() bool {
	return h.Endpoint != "" && h.Name != "" && h.Secret != ""
}

type IngressConfig struct {
	AckReplyEnabled bool `mapstructure:"ackReplyEnabled"`
}

type WorkerConfig struct {
	MaxConcurrentCalls int           `mapstructure:"maxConcurrentCalls"`
	PrefetchCount      int           `mapstructure:"prefetchCount"`
	MaxDeliveries      int           `mapstructure:"maxDeliveries"`
	MaxLockRenewal     time.Duration `mapstructure:"maxLockRenewal"`
	LockRenewInterval  time.Duration `mapstructure:"lockRenewInterval"`
	IdemTTL            time.Duration `mapstructure:"idemTTL"`
	Verbose            bool          `mapstructure:"verbose"`
}

type ModelConfig struct {
	GatewayURL      string        `mapstructure:"gatewayURL"`
	Token           string        `mapstructure:"token"`
	Agent           string        `mapstructure:"agent"`
	Stream          bool          `mapstructure:"stream"`
	MaxOutputTokens int           `mapstructure:"maxOutputTokens"`
	RetryAttempts   int           `mapstructure:"retryAttempts"`
	TimeoutMs       int           `mapstructure:"timeoutMs"`
	RetryBackoff    time.Duration `mapstructure:"retryBackoff"`
}

func (m ModelConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMs) * time.Millisecond
}

type ClientConfig struct {
	APIBase      string  `mapstructure:"apiBase"`
	SessionID    string  `mapstructure:"sessionId"`
	CanvasWidth  float64 `mapstructure:"canvasWidth"`
	CanvasHeight float64 `mapstructure:"canvasHeight"`
}
