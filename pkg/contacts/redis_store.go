// Package contacts reads and mutates contact state shared with the
// rest of the platform: tags and profile attributes kept in Redis.
package contacts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

// RedisStore serves tag writes and live attribute reads for condition
// evaluation. A contact with no stored profile yields an empty
// attribute map, not an error.
type RedisStore struct {
	client redis.UniversalClient
	logger *slog.Logger
}

func NewRedisStore(client redis.UniversalClient, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger.With("module", "contacts"),
	}
}

func attributesKey(identity string) string {
	return "contact:" + identity
}

func tagsKey(identity string) string {
	return "contact:" + identity + ":tags"
}

func (s *RedisStore) AddTag(ctx context.Context, identity, tag string) error {
	if err := s.client.SAdd(ctx, tagsKey(identity), tag).Err(); err != nil {
		return fmt.Errorf("failed to add tag %q to contact %s: %w", tag, identity, err)
	}

	return nil
}

func (s *RedisStore) RemoveTag(ctx context.Context, identity, tag string) error {
	if err := s.client.SRem(ctx, tagsKey(identity), tag).Err(); err != nil {
		return fmt.Errorf("failed to remove tag %q from contact %s: %w", tag, identity, err)
	}

	return nil
}

// Attributes returns the contact's profile hash. Field values are
// stored as JSON; a value that does not decode is returned as its raw
// string.
func (s *RedisStore) Attributes(ctx context.Context, identity string) (map[string]any, error) {
	raw, err := s.client.HGetAll(ctx, attributesKey(identity)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load attributes of contact %s: %w", identity, err)
	}

	attributes := make(map[string]any, len(raw))
	for field, value := range raw {
		attributes[field] = decodeValue(value)
	}

	return attributes, nil
}

// SetAttribute writes one profile field, JSON-encoded.
func (s *RedisStore) SetAttribute(ctx context.Context, identity, field string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode attribute %s of contact %s: %w", field, identity, err)
	}

	if err := s.client.HSet(ctx, attributesKey(identity), field, string(encoded)).Err(); err != nil {
		return fmt.Errorf("failed to set attribute %s of contact %s: %w", field, identity, err)
	}

	return nil
}

func decodeValue(raw string) any {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return raw
	}

	return value
}
