package main

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"bidcore/api"
)

func ParseArgs() Args {
	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")
	pflag.String("server-id", "", "instance name used as the consumer name, random when empty")

	// auth config
	pflag.String("auth-public-key", "", "PEM encoded Ed25519 public key")
	pflag.String("auth-public-key-file", "", "path of the PEM encoded Ed25519 public key")
	pflag.String("auth-issuer", "", "")
	pflag.String("auth-audience", "", "")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "empty host disables persistence")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "public", "")

	// redis config
	pflag.String("redis-addr", "", "empty address keeps events in process")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")
	pflag.String("redis-consumer-group", "bidcore-persistence", "")
	pflag.Int64("redis-stream-max-len", 100000, "")

	// redis stream keys
	pflag.String("redis-stream-key-for-events", "bidcore-auction-events", "")

	// nats config
	pflag.String("nats-url", "", "")
	pflag.String("nats-subject-prefix", "auction.events", "")

	// engine config
	pflag.Duration("engine-lock-wait", 200*time.Millisecond, "")
	pflag.Uint64("engine-busy-retries", 3, "")
	pflag.Duration("engine-sweep-interval", time.Second, "")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("BIDCORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	serverID := viper.GetString("server-id")
	if serverID == "" {
		serverID = uuid.NewString()
	}

	// initial arguments
	return Args{
		ServerURL:     viper.GetString("server-url"),
		PublicKeyPEM:  viper.GetString("auth-public-key"),
		PublicKeyFile: viper.GetString("auth-public-key-file"),
		ServerConfig: api.ServerConfig{
			ID: serverID,
			Auth: api.AuthConfig{
				Issuer:   viper.GetString("auth-issuer"),
				Audience: viper.GetString("auth-audience"),
			},
			DB: api.DBConfig{
				User:     viper.GetString("db-user"),
				Password: viper.GetString("db-password"),
				Host:     viper.GetString("db-host"),
				Port:     viper.GetInt("db-port"),
				Database: viper.GetString("db-database"),
				Schema:   viper.GetString("db-schema"),
			},
			Redis: api.RedisConfig{
				Addr:          viper.GetString("redis-addr"),
				Password:      viper.GetString("redis-password"),
				DB:            viper.GetInt("redis-db"),
				ConsumerGroup: viper.GetString("redis-consumer-group"),
				StreamMaxLen:  viper.GetInt64("redis-stream-max-len"),
				StreamKeys: api.RedisStreamKeys{
					Events: viper.GetString("redis-stream-key-for-events"),
				},
			},
			NATS: api.NATSConfig{
				URL:           viper.GetString("nats-url"),
				SubjectPrefix: viper.GetString("nats-subject-prefix"),
			},
			Engine: api.EngineConfig{
				LockWait:      viper.GetDuration("engine-lock-wait"),
				BusyRetries:   viper.GetUint64("engine-busy-retries"),
				SweepInterval: viper.GetDuration("engine-sweep-interval"),
			},
		},
	}
}

type Args struct {
	ServerURL     string
	PublicKeyPEM  string
	PublicKeyFile string
	ServerConfig  api.ServerConfig
}

// Validate 檢查必要參數並載入驗證 access token 用的公鑰
func (args *Args) Validate() error {
	if args.ServerURL == "" {
		return errors.New("missing server url")
	}
	if args.ServerConfig.DB.Host != "" && args.ServerConfig.Redis.Addr == "" {
		return errors.New("persistence requires redis-addr")
	}
	key, err := loadPublicKey(args.PublicKeyPEM, args.PublicKeyFile)
	if err != nil {
		return err
	}
	args.ServerConfig.Auth.PublicKey = key
	return nil
}

func loadPublicKey(pemText, path string) (ed25519.PublicKey, error) {
	const op = "loadPublicKey"
	if pemText == "" && path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to read public key file, err=%w", op, err)
		}
		pemText = string(data)
	}
	if pemText == "" {
		return nil, fmt.Errorf("[%s] missing auth public key", op)
	}
	key, err := jwt.ParseEdPublicKeyFromPEM([]byte(pemText))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to parse public key, err=%w", op, err)
	}
	publicKey, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("[%s] public key is not ed25519", op)
	}
	return publicKey, nil
}
