package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"eartune-trainer/internal/config"
	"eartune-trainer/internal/credentials"
	"eartune-trainer/internal/infra/memory"
	infraredis "eartune-trainer/internal/infra/redis"
	"eartune-trainer/internal/remote"
	"github.com/redis/go-redis/v9"
)

func loadConfig(opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if opts.port != "" {
		cfg.Server.Port = opts.port
	}
	if opts.apiURL != "" {
		cfg.API.BaseURL = opts.apiURL
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// openRedis returns nil when no address is configured.
func openRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func newTokenStore(cfg config.CredentialsConfig, redisClient *redis.Client) (credentials.Store, error) {
	switch strings.ToLower(cfg.Store) {
	case "memory":
		return memory.NewTokenStore(credentials.Tokens{Access: cfg.AccessToken, Refresh: cfg.RefreshToken}), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("credentials store redis needs redis.addr")
		}
		return infraredis.NewTokenStore(redisClient, cfg.Profile), nil
	case "", "file":
		path := cfg.File
		if path == "" {
			path = credentials.DefaultPath()
		}
		return credentials.NewFileStore(path), nil
	default:
		return nil, fmt.Errorf("unknown credentials store %q", cfg.Store)
	}
}

// apiClients is everything needed to talk to the remote API as the stored user.
type apiClients struct {
	API    *remote.Client
	Auth   *remote.AuthClient
	Tokens credentials.Store
}

func newAPIClients(cfg config.Config, redisClient *redis.Client) (apiClients, error) {
	store, err := newTokenStore(cfg.Credentials, redisClient)
	if err != nil {
		return apiClients{}, err
	}
	flows, err := cfg.API.Flows()
	if err != nil {
		return apiClients{}, err
	}
	remoteCfg := remote.Config{
		BaseURL:    cfg.API.BaseURL,
		Timeout:    config.TTLDuration(cfg.API.Timeout, 0),
		Difficulty: cfg.API.Difficulty,
		Flows:      flows,
	}
	auth, err := remote.NewAuthClient(remoteCfg)
	if err != nil {
		return apiClients{}, err
	}
	source := credentials.NewSource(store, auth)
	api, err := remote.NewClient(remoteCfg, credentials.NewTransport(source, http.DefaultTransport))
	if err != nil {
		return apiClients{}, err
	}
	return apiClients{API: api, Auth: auth, Tokens: store}, nil
}

// connectAPI opens the optional redis client backing the token store and builds the
// API clients. The returned func releases the redis client.
func connectAPI(ctx context.Context, cfg config.Config) (apiClients, func(), error) {
	redisClient, err := openRedis(ctx, cfg.Redis)
	if err != nil {
		return apiClients{}, nil, err
	}
	release := func() {}
	if redisClient != nil {
		release = func() { redisClient.Close() }
	}
	clients, err := newAPIClients(cfg, redisClient)
	if err != nil {
		release()
		return apiClients{}, nil, err
	}
	return clients, release, nil
}

// explain turns credential errors into an instruction for the user.
func explain(err error) error {
	if credentials.IsMissing(err) {
		return fmt.Errorf("%w (run `eartune login` first)", err)
	}
	return err
}
