package api

import (
	"crypto/ed25519"
	"time"
)

type ServerConfig struct {
	// ID 這個實例的名稱，作為 consumer group 中的 consumer 名稱
	ID     string
	Auth   AuthConfig
	DB     DBConfig
	Redis  RedisConfig
	NATS   NATSConfig
	Engine EngineConfig
}

type AuthConfig struct {
	PublicKey ed25519.PublicKey
	Issuer    string
	Audience  string
}

// DBConfig Host 為空時不啟用持久化
type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

// RedisConfig Addr 為空時事件只在本地分送
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	StreamKeys    RedisStreamKeys
	ConsumerGroup string
	StreamMaxLen  int64
}

type RedisStreamKeys struct {
	Events string
}

// NATSConfig URL 為空時不使用 NATS
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

type EngineConfig struct {
	LockWait      time.Duration
	BusyRetries   uint64
	SweepInterval time.Duration
}
