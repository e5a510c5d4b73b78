package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	corep "github.com/petrijr/flowstate/internal/persistence"
	"github.com/petrijr/flowstate/pkg/api"
)

// RedisStore is a DefinitionStore, InstanceStore and EventStore backed by
// Redis. It uses a simple key structure:
//
//	<prefix>def:<id>        => gob-encoded redisDefinitionPayload
//	<prefix>defname:<name>  => definition id
//	<prefix>idx:defs        => LIST of definition ids, registration order
//	<prefix>inst:<id>       => gob-encoded redisInstancePayload
//	<prefix>idx:insts       => LIST of instance ids, creation order
//	<prefix>events:<id>     => LIST of gob-encoded events
//
// Writes that check before they set run under WATCH, so a concurrent
// writer from another process aborts the transaction instead of
// overwriting.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var (
	_ corep.DefinitionStore = (*RedisStore)(nil)
	_ corep.InstanceStore   = (*RedisStore)(nil)
	_ corep.EventStore      = (*RedisStore)(nil)
)

// maxWatchRetries bounds optimistic retries for registration and
// creation. Transitions never retry; a lost race is a version mismatch.
const maxWatchRetries = 10

type redisDefinitionPayload struct {
	ID   string
	Name string
	Body []byte
}

type redisInstancePayload struct {
	ID           string
	DefinitionID string
	CurrentState string
	Version      int
	History      []api.HistoryItem
}

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "flowstate:").
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "flowstate:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisStore) keyDefinition(id string) string {
	return r.prefix + "def:" + id
}

func (r *RedisStore) keyDefinitionName(name string) string {
	return r.prefix + "defname:" + name
}

func (r *RedisStore) keyDefinitions() string {
	return r.prefix + "idx:defs"
}

func (r *RedisStore) keyInstance(id string) string {
	return r.prefix + "inst:" + id
}

func (r *RedisStore) keyInstances() string {
	return r.prefix + "idx:insts"
}

func (r *RedisStore) keyEvents(instanceID string) string {
	return r.prefix + "events:" + instanceID
}

func (r *RedisStore) SaveDefinition(ctx context.Context, def *api.Definition) error {
	body, err := corep.EncodeDefinitionBody(def)
	if err != nil {
		return err
	}
	data, err := corep.EncodeValue(redisDefinitionPayload{ID: def.ID, Name: def.Name, Body: body})
	if err != nil {
		return err
	}

	nameKey := r.keyDefinitionName(def.Name)
	defKey := r.keyDefinition(def.ID)

	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, nameKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return corep.ErrDuplicateName
		}
		n, err = tx.Exists(ctx, defKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return corep.ErrDuplicateID
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, defKey, data, 0)
			pipe.Set(ctx, nameKey, def.ID, 0)
			pipe.RPush(ctx, r.keyDefinitions(), def.ID)
			return nil
		})
		return err
	}

	return r.watchWithRetry(ctx, txf, nameKey, defKey)
}

func (r *RedisStore) watchWithRetry(ctx context.Context, txf func(*redis.Tx) error, keys ...string) error {
	for range maxWatchRetries {
		err := r.client.Watch(ctx, txf, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis: gave up after %d optimistic retries", maxWatchRetries)
}

func (r *RedisStore) GetDefinition(ctx context.Context, id string) (*api.Definition, error) {
	data, err := r.client.Get(ctx, r.keyDefinition(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, corep.ErrDefinitionNotFound
		}
		return nil, err
	}
	return decodeDefinition(data)
}

func (r *RedisStore) GetDefinitionByName(ctx context.Context, name string) (*api.Definition, error) {
	id, err := r.client.Get(ctx, r.keyDefinitionName(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, corep.ErrDefinitionNotFound
		}
		return nil, err
	}
	return r.GetDefinition(ctx, id)
}

func (r *RedisStore) ListDefinitions(ctx context.Context) ([]*api.Definition, error) {
	payloads, err := r.loadIndexed(ctx, r.keyDefinitions(), r.keyDefinition)
	if err != nil {
		return nil, err
	}
	defs := make([]*api.Definition, 0, len(payloads))
	for _, data := range payloads {
		def, err := decodeDefinition(data)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (r *RedisStore) CreateInstance(ctx context.Context, inst *api.Instance) error {
	data, err := encodeInstance(inst)
	if err != nil {
		return err
	}
	key := r.keyInstance(inst.ID)

	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return corep.ErrDuplicateID
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.RPush(ctx, r.keyInstances(), inst.ID)
			return nil
		})
		return err
	}

	return r.watchWithRetry(ctx, txf, key)
}

func (r *RedisStore) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	data, err := r.client.Get(ctx, r.keyInstance(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, corep.ErrInstanceNotFound
		}
		return nil, err
	}
	return decodeInstance(data)
}

func (r *RedisStore) ListInstances(ctx context.Context, opts api.InstanceListOptions) ([]*api.Instance, error) {
	payloads, err := r.loadIndexed(ctx, r.keyInstances(), r.keyInstance)
	if err != nil {
		return nil, err
	}
	out := make([]*api.Instance, 0, len(payloads))
	for _, data := range payloads {
		inst, err := decodeInstance(data)
		if err != nil {
			return nil, err
		}
		if opts.Matches(inst) {
			out = append(out, inst)
		}
	}
	return out, nil
}

// loadIndexed reads an id list and fetches the payloads in one MGET,
// preserving list order.
func (r *RedisStore) loadIndexed(ctx context.Context, indexKey string, key func(string) string) ([][]byte, error) {
	ids, err := r.client.LRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([][]byte, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("redis: index %s references missing key %s", indexKey, keys[i])
		}
		out = append(out, []byte(s))
	}
	return out, nil
}

func (r *RedisStore) AppendTransition(ctx context.Context, id string, expectedVersion int, toState string, item api.HistoryItem) (*api.Instance, error) {
	key := r.keyInstance(id)
	var updated *api.Instance

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return corep.ErrInstanceNotFound
			}
			return err
		}
		inst, err := decodeInstance(data)
		if err != nil {
			return err
		}
		if inst.Version != expectedVersion {
			return corep.ErrVersionMismatch
		}

		inst.CurrentStateID = toState
		inst.History = append(inst.History, item)
		inst.Version++

		next, err := encodeInstance(inst)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = inst
		return nil
	}

	err := r.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, corep.ErrVersionMismatch
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *RedisStore) AppendEvent(ctx context.Context, ev api.Event) error {
	data, err := corep.EncodeValue(ev)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, r.keyEvents(ev.InstanceID), data).Err()
}

func (r *RedisStore) ListEvents(ctx context.Context, instanceID string) ([]api.Event, error) {
	raw, err := r.client.LRange(ctx, r.keyEvents(instanceID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]api.Event, 0, len(raw))
	for _, s := range raw {
		ev, err := corep.DecodeValue[api.Event]([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func decodeDefinition(data []byte) (*api.Definition, error) {
	p, err := corep.DecodeValue[redisDefinitionPayload](data)
	if err != nil {
		return nil, err
	}
	return corep.DecodeDefinitionBody(p.ID, p.Name, p.Body)
}

func encodeInstance(inst *api.Instance) ([]byte, error) {
	return corep.EncodeValue(redisInstancePayload{
		ID:           inst.ID,
		DefinitionID: inst.DefinitionID,
		CurrentState: inst.CurrentStateID,
		Version:      inst.Version,
		History:      inst.History,
	})
}

func decodeInstance(data []byte) (*api.Instance, error) {
	p, err := corep.DecodeValue[redisInstancePayload](data)
	if err != nil {
		return nil, err
	}
	history := p.History
	if history == nil {
		history = []api.HistoryItem{}
	}
	return &api.Instance{
		ID:             p.ID,
		DefinitionID:   p.DefinitionID,
		CurrentStateID: p.CurrentState,
		Version:        p.Version,
		History:        history,
	}, nil
}
