package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"MotPad/tools"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// 部署环境沿用的变量名 -> 配置键
var legacyEnv = map[string]string{
	"ingress.ackReplyEnabled":   "MOT_ACK_REPLY_ENABLED",
	"worker.verbose":            "MOT_WORKER_VERBOSE",
	"worker.maxConcurrentCalls": "MAX_CONCURRENT_CALLS",
	"worker.prefetchCount":      "PREFETCH_COUNT",
	"model.gatewayURL":          "OPENCLAW_GATEWAY_URL",
	"model.token":               "OPENCLAW_GATEWAY_TOKEN",
	"model.agent":               "OPENCLAW_AGENT",
	"model.stream":              "OPENCLAW_STREAM",
	"model.maxOutputTokens":     "OPENCLAW_MAX_OUTPUT_TOKENS",
	"model.retryAttempts":       "OPENCLAW_RETRY_ATTEMPTS",
	"model.timeoutMs":           "OPENCLAW_TIMEOUT_MS",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("http.addr", ":7071")
	v.SetDefault("http.allowedOrigins", []string{"*"})

	v.SetDefault("nats.servers", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("nats.name", "motpad")
	v.SetDefault("nats.user", "")
	v.SetDefault("nats.password", "")
	v.SetDefault("nats.stream", "MOT")
	v.SetDefault("nats.subject", "mot.requests")
	v.SetDefault("nats.deadLetterSubject", "mot.requests.dlq")
	v.SetDefault("nats.durable", "mot-worker")
	v.SetDefault("nats.ackWait", 30*time.Second)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolSize", 10)

	v.SetDefault("hub.addr", ":7080")
	v.SetDefault("hub.name", "mot")
	v.SetDefault("hub.endpoint", "")
	v.SetDefault("hub.clientEndpoint", "")
	v.SetDefault("hub.secret", "")
	v.SetDefault("hub.tokenTTL", time.Hour)
	v.SetDefault("hub.channel", "mot:hub")

	v.SetDefault("ingress.ackReplyEnabled", true)

	v.SetDefault("worker.maxConcurrentCalls", 4)
	v.SetDefault("worker.prefetchCount", 20)
	v.SetDefault("worker.maxDeliveries", 5)
	v.SetDefault("worker.maxLockRenewal", 5*time.Minute)
	v.SetDefault("worker.lockRenewInterval", 10*time.Second)
	v.SetDefault("worker.idemTTL", 24*time.Hour)
	v.SetDefault("worker.verbose", false)

	v.SetDefault("model.gatewayURL", "http://127.0.0.1:18789")
	v.SetDefault("model.token", "")
	v.SetDefault("model.agent", "openclaw:main")
	v.SetDefault("model.stream", true)
	v.SetDefault("model.maxOutputTokens", 700)
	v.SetDefault("model.retryAttempts", 2)
	v.SetDefault("model.timeoutMs", 90000)
	v.SetDefault("model.retryBackoff", 500*time.Millisecond)

	v.SetDefault("client.apiBase", "http://127.0.0.1:7071")
	v.SetDefault("client.sessionId", "")
	v.SetDefault("client.canvasWidth", 800)
	v.SetDefault("client.canvasHeight", 600)
}

// Load 读取配置：代码默认值 < 配置文件（可选）< 环境变量（MOT_ 前缀，点号换成下划线）
func Load(path string) (AppConfig, error) {
	var cfg AppConfig

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("MOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "MOT_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return cfg, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToToggleHook(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// MustLoad reads the configuration or panics if there's an error.
func MustLoad(path string) AppConfig {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	return cfg
}

// stringToToggleHook 字符串布尔：先按 strconv 解析，失败时只有 false/0/no 视为关闭
func stringToToggleHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.String || to != reflect.Bool {
			return data, nil
		}
		s := data.(string)
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, nil
		}
		return tools.ToggleOn(s), nil
	}
}
