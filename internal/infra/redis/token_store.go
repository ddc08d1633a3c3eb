package redis

import (
	"context"

	"eartune-trainer/internal/credentials"
	"eartune-trainer/internal/domain"
	"github.com/redis/go-redis/v9"
)

// TokenStore keeps a profile's tokens in a hash, for bridges that act on behalf
// of one backend account:
//
//	HSET eartune:tokens:{profile} access {jwt} refresh {jwt}
type TokenStore struct {
	client  *redis.Client
	profile string
}

func NewTokenStore(client *redis.Client, profile string) *TokenStore {
	if profile == "" {
		profile = "default"
	}
	return &TokenStore{client: client, profile: profile}
}

func (s *TokenStore) Load(ctx context.Context) (credentials.Tokens, error) {
	fields, err := s.client.HGetAll(ctx, s.key()).Result()
	if err != nil && !isMiss(err) {
		return credentials.Tokens{}, err
	}
	tokens := credentials.Tokens{Access: fields["access"], Refresh: fields["refresh"]}
	if tokens.Empty() {
		return credentials.Tokens{}, domain.ErrNoCredentials
	}
	return tokens, nil
}

func (s *TokenStore) Save(ctx context.Context, tokens credentials.Tokens) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key())
	pipe.HSet(ctx, s.key(), "access", tokens.Access, "refresh", tokens.Refresh)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *TokenStore) key() string {
	return "eartune:tokens:" + s.profile
}
