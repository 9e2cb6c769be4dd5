package keyValue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	Setup(zap.NewNop().Sugar(), nil, true)
	m.Run()
}

func TestSetGetDelete(t *testing.T) {
	require.NoError(t, Set("kv_test:a", "hello", 0))

	value, err := Get("kv_test:a")
	require.NoError(t, err)
	assert.Equal(t, "hello", value)

	require.NoError(t, Delete("kv_test:a"))

	value, err = Get("kv_test:a")
	require.NoError(t, err)
	assert.Equal(t, "", value)
}

func TestGetDel(t *testing.T) {
	require.NoError(t, Set("kv_test:b", "once", 0))

	value, err := GetDel("kv_test:b")
	require.NoError(t, err)
	assert.Equal(t, "once", value)

	value, err = GetDel("kv_test:b")
	require.NoError(t, err)
	assert.Equal(t, "", value)
}

func TestExpiry(t *testing.T) {
	require.NoError(t, Set("kv_test:c", "short lived", 50*time.Millisecond))

	value, err := Get("kv_test:c")
	require.NoError(t, err)
	assert.Equal(t, "short lived", value)

	time.Sleep(80 * time.Millisecond)

	value, err = Get("kv_test:c")
	require.NoError(t, err)
	assert.Equal(t, "", value)
}

func TestExpireAndPersist(t *testing.T) {
	require.NoError(t, Set("kv_test:d", "value", 0))
	require.NoError(t, Expire("kv_test:d", 50*time.Millisecond))
	require.NoError(t, Persist("kv_test:d"))

	time.Sleep(80 * time.Millisecond)

	value, err := Get("kv_test:d")
	require.NoError(t, err)
	assert.Equal(t, "value", value)
}

func TestListOps(t *testing.T) {
	key := "kv_test:list"
	defer Delete(key)

	require.NoError(t, LPush(key, "first"))
	require.NoError(t, LPush(key, "second"))
	require.NoError(t, LPush(key, "third"))

	// LPUSH puts the newest at the head
	values, err := LRange(key, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "second", "first"}, values)

	values, err = LRange(key, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "second"}, values)

	require.NoError(t, LTrim(key, 0, 1))
	values, err = LRange(key, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "second"}, values)
}

func TestListTrimDropsOldest(t *testing.T) {
	key := "kv_test:trim"
	defer Delete(key)

	for i := range 10 {
		require.NoError(t, LPush(key, string(rune('a'+i))))
		require.NoError(t, LTrim(key, 0, 4))
	}

	values, err := LRange(key, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"j", "i", "h", "g", "f"}, values)
}

func TestHashOps(t *testing.T) {
	key := "kv_test:hash"
	defer Delete(key)

	require.NoError(t, HSet(key, "status", "online"))
	require.NoError(t, HSet(key, "session:abc", "1"))

	value, err := HGet(key, "status")
	require.NoError(t, err)
	assert.Equal(t, "online", value)

	all, err := HGetAll(key)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"status": "online", "session:abc": "1"}, all)

	require.NoError(t, HDel(key, "session:abc"))
	all, err = HGetAll(key)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"status": "online"}, all)
}

func TestSetOps(t *testing.T) {
	key := "kv_test:set"
	defer Delete(key)

	require.NoError(t, SAdd(key, "a", "b"))
	require.NoError(t, SAdd(key, "b", "c"))

	members, err := SMembers(key)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, members)

	require.NoError(t, SRem(key, "a", "c"))
	members, err = SMembers(key)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, members)
}
