package keyValue

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// entry is one local key. Exactly one of the value fields is in use,
// mirroring redis types. A zero expires means no TTL.
type entry struct {
	value   string
	list    []string
	hash    map[string]string
	set     map[string]struct{}
	expires time.Time
}

func (e *entry) expired() bool {
	return !e.expires.IsZero() && e.expires.Before(time.Now())
}

var mutex sync.RWMutex
var hashmap = make(map[string]*entry)

var sugar *zap.SugaredLogger
var redisClient *redis.Client
var redisCtx = context.Background()
var selfContained = true

func Setup(_sugar *zap.SugaredLogger, _redisClient *redis.Client, _selfContained bool) {
	sugar = _sugar
	redisClient = _redisClient
	selfContained = _selfContained

	if selfContained {
		go checkForLocalExpiredKeys()
	}
}

func checkForLocalExpiredKeys() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		mutex.Lock()
		for key, e := range hashmap {
			if e.expired() {
				delete(hashmap, key)
			}
		}
		mutex.Unlock()
	}
}

// localEntry returns the live entry for key, dropping it first if it
// has lapsed. Callers hold the write lock.
func localEntry(key string) (*entry, bool) {
	e, exists := hashmap[key]
	if !exists {
		return nil, false
	}
	if e.expired() {
		delete(hashmap, key)
		return nil, false
	}
	return e, true
}

func Get(key string) (string, error) {
	if selfContained {
		mutex.Lock()
		defer mutex.Unlock()

		e, exists := localEntry(key)
		if !exists {
			return "", nil
		}
		return e.value, nil
	}

	value, err := redisClient.Get(redisCtx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	} else if err != nil {
		return "", err
	}

	return value, nil
}

func GetDel(key string) (string, error) {
	if selfContained {
		mutex.Lock()
		defer mutex.Unlock()

		e, exists := localEntry(key)
		if !exists {
			return "", nil
		}
		delete(hashmap, key)
		return e.value, nil
	}

	value, err := redisClient.GetDel(redisCtx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	} else if err != nil {
		return "", err
	}

	return value, nil
}

// Set stores a string value. A zero expires means the key never lapses.
func Set(key string, value string, expires time.Duration) error {
	sugar.Debugf("Setting value of key [%s]", key)

	if selfContained {
		mutex.Lock()
		defer mutex.Unlock()

		e := &entry{value: value}
		if expires > 0 {
			e.expires = time.Now().Add(expires)
		}
		hashmap[key] = e
		return nil
	}

	return redisClient.Set(redisCtx, key, value, expires).Err()
}

// SetKeepTTL overwrites a value without touching the key's TTL, so a
// countdown armed by Expire keeps running.
func SetKeepTTL(key string, value string) error {
	if selfContained {
		mutex.Lock()
		defer mutex.Unlock()

		e, exists := localEntry(key)
		if !exists {
			hashmap[key] = &entry{value: value}
			return nil
		}
		e.value = value
		return nil
	}

	return redisClient.SetArgs(redisCtx, key, value, redis.SetArgs{KeepTTL: true}).Err()
}

func Delete(key string) error {
	sugar.Debugf("Deleting key [%s]", key)

	if selfContained {
		mutex.Lock()
		defer mutex.Unlock()

		delete(hashmap, key)
		return nil
	}

	return redisClient.Del(redisCtx, key).Err()
}

func Exists(key string) (bool, error) {
	if selfContained {
		mutex.Lock()
		defer mutex.Unlock()

		_, exists := localEntry(key)
		return exists, nil
	}

	n, err := redisClient.Exists(redisCtx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Expire arms a TTL on an existing key.
func Expire(key string, expires time.Duration) error {
	if selfContained {
		mutex.Lock()
		defer mutex.Unlock()

		e, exists := localEntry(key)
		if exists {
			e.expires = time.Now().Add(expires)
		}
		return nil
	}

	return redisClient.Expire(redisCtx, key, expires).Err()
}

// Persist clears the TTL of a key so it no longer lapses.
func Persist(key string) error {
	if selfContained {
		mutex.Lock()
		defer mutex.Unlock()

		e, exists := localEntry(key)
		if exists {
			e.expires = time.Time{}
		}
		return nil
	}

	return redisClient.Persist(redisCtx, key).Err()
}

// LPush prepends values to a list, newest first like redis.
func LPush(key string, values ...string) error {
	if selfContained {
		mutex.Lock()
		defer mutex.Unlock()

		e, exists := localEntry(key)
		if !exists {
			e = &entry{}
			hashmap[key] = e
		}
		for i := range values {
			e.list = append([]string{values[i]}, e.list...)
		}
		return nil
	}

	args := make([]interface{}, len(values))
	for i := range values {
		args[i] = values[i]
	}
	return redisClient.LPush(redisCtx, key, args...).Err()
}

// LRange returns list elements between start and stop inclusive,
// negative indexes counting from the tail, redis semantics.
func LRange(key string, start int64, stop int64) ([]string, error) {
	if selfContained {
		mutex.Lock()
		defer mutex.Unlock()

		e, exists := localEntry(key)
		if !exists {
			return nil, nil
		}

		length := int64(len(e.list))
		if start < 0 {
			start = max(length+start, 0)
		}
		if stop < 0 {
			stop = length + stop
		}
		if start >= length || stop < start {
			return nil, nil
		}
		stop = min(stop, length-1)

		return slices.Clone(e.list[start : stop+1]), nil
	}

	return redisClient.LRange(redisCtx, key, start, stop).Result()
}

// LTrim keeps only the elements between start and stop inclusive.
func LTrim(key string, start int64, stop int64) error {
	if selfContained {
		mutex.Lock()
		defer mutex.Unlock()

		e, exists := localEntry(key)
		if !exists {
			return nil
		}

		length := int64(len(e.list))
		if start < 0 {
			start = max(length+start, 0)
		}
		if stop < 0 {
			stop = length + stop
		}
		if start >= length || stop < start {
			e.list = nil
			return nil
		}
		stop = min(stop, length-1)

		e.list = slices.Clone(e.list[start : stop+1])
		return nil
	}

	return redisClient.LTrim(redisCtx, key, start, stop).Err()
}

func HSet(key string, field string, value string) error {
	if selfContained {
		mutex.Lock()
		defer mutex.Unlock()

		e, exists := localEntry(key)
		if !exists {
			e = &entry{}
			hashmap[key] = e
		}
		if e.hash == nil {
			e.hash = make(map[string]string)
		}
		e.hash[field] = value
		return nil
	}

	return redisClient.HSet(redisCtx, key, field, value).Err()
}

func HGet(key string, field string) (string, error) {
	if selfContained {
		mutex.Lock()
		defer mutex.Unlock()

		e, exists := localEntry(key)
		if !exists {
			return "", nil
		}
		return e.hash[field], nil
	}

	value, err := redisClient.HGet(redisCtx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	} else if err != nil {
		return "", err
	}

	return value, nil
}

func HGetAll(key string) (map[string]string, error) {
	if selfContained {
		mutex.Lock()
		defer mutex.Unlock()

		e, exists := localEntry(key)
		if !exists {
			return map[string]string{}, nil
		}

		all := make(map[string]string, len(e.hash))
		for field, value := range e.hash {
			all[field] = value
		}
		return all, nil
	}

	return redisClient.HGetAll(redisCtx, key).Result()
}

func HDel(key string, fields ...string) error {
	if selfContained {
		mutex.Lock()
		defer mutex.Unlock()

		e, exists := localEntry(key)
		if !exists {
			return nil
		}
		for i := range fields {
			delete(e.hash, fields[i])
		}
		if len(e.hash) == 0 {
			delete(hashmap, key)
		}
		return nil
	}

	return redisClient.HDel(redisCtx, key, fields...).Err()
}

func SAdd(key string, members ...string) error {
	if selfContained {
		mutex.Lock()
		defer mutex.Unlock()

		e, exists := localEntry(key)
		if !exists {
			e = &entry{}
			hashmap[key] = e
		}
		if e.set == nil {
			e.set = make(map[string]struct{})
		}
		for i := range members {
			e.set[members[i]] = struct{}{}
		}
		return nil
	}

	args := make([]interface{}, len(members))
	for i := range members {
		args[i] = members[i]
	}
	return redisClient.SAdd(redisCtx, key, args...).Err()
}

func SRem(key string, members ...string) error {
	if selfContained {
		mutex.Lock()
		defer mutex.Unlock()

		e, exists := localEntry(key)
		if !exists {
			return nil
		}
		for i := range members {
			delete(e.set, members[i])
		}
		if len(e.set) == 0 {
			delete(hashmap, key)
		}
		return nil
	}

	args := make([]interface{}, len(members))
	for i := range members {
		args[i] = members[i]
	}
	return redisClient.SRem(redisCtx, key, args...).Err()
}

func SMembers(key string) ([]string, error) {
	if selfContained {
		mutex.Lock()
		defer mutex.Unlock()

		e, exists := localEntry(key)
		if !exists {
			return nil, nil
		}

		members := make([]string, 0, len(e.set))
		for member := range e.set {
			members = append(members, member)
		}
		return members, nil
	}

	return redisClient.SMembers(redisCtx, key).Result()
}
