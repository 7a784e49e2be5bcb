package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type mockRedisClient struct {
	setCalls []struct {
		key   string
		value any
	}
	getMap map[string]struct {
		val string
		err error
	}
	expireKeys []string
	delKeys    []string
	scanKeys   []string
}

func (m *mockRedisClient) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.setCalls = append(m.setCalls, struct {
		key   string
		value any
	}{key, value})
	return &redis.StatusCmd{}
}
func (m *mockRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	if v, ok := m.getMap[key]; ok {
		return redis.NewStringResult(v.val, v.err)
	}
	return redis.NewStringResult("", nil)
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.expireKeys = append(m.expireKeys, key)
	return redis.NewBoolResult(true, nil)
}
func (m *mockRedisClient) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	cmd := redis.NewScanCmd(ctx, nil)
	cmd.SetVal(m.scanKeys, 0)
	cmd.SetErr(nil)
	return cmd
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	m.delKeys = append(m.delKeys, keys...)
	return redis.NewIntResult(int64(len(keys)), nil)
}

func newMock() *mockRedisClient {
	return &mockRedisClient{getMap: map[string]struct {
		val string
		err error
	}{}}
}

func TestMarkAndIsUploaded(t *testing.T) {
	client := newMock()
	m := &Mirror{client: client, log: zap.NewNop(), ttl: time.Hour}
	if err := m.MarkUploaded(context.Background(), "stream1", 1); err != nil {
		t.Errorf("MarkUploaded failed: %v", err)
	}
	client.getMap["chunk_uploaded:stream1:00001"] = struct {
		val string
		err error
	}{val: "1", err: nil}
	ok, err := m.IsUploaded(context.Background(), "stream1", 1)
	if err != nil || !ok {
		t.Errorf("IsUploaded should return true, got %v, %v", ok, err)
	}
	client.getMap["chunk_uploaded:stream1:00001"] = struct {
		val string
		err error
	}{val: "0", err: nil}
	ok, _ = m.IsUploaded(context.Background(), "stream1", 1)
	if ok {
		t.Error("IsUploaded should return false for 0")
	}
}

func TestIsUploadedNil(t *testing.T) {
	client := newMock()
	client.getMap["chunk_uploaded:stream1:00001"] = struct {
		val string
		err error
	}{val: "", err: redis.Nil}
	m := &Mirror{client: client, log: zap.NewNop()}
	ok, err := m.IsUploaded(context.Background(), "stream1", 1)
	if err != nil || ok {
		t.Errorf("IsUploaded should return false for redis.Nil, got %v, %v", ok, err)
	}
}

func TestIsUploadedError(t *testing.T) {
	client := newMock()
	client.getMap["chunk_uploaded:stream1:00001"] = struct {
		val string
		err error
	}{val: "", err: errors.New("fail")}
	m := &Mirror{client: client, log: zap.NewNop()}
	_, err := m.IsUploaded(context.Background(), "stream1", 1)
	if err == nil {
		t.Error("IsUploaded should return error")
	}
}

func TestForgetFile(t *testing.T) {
	client := newMock()
	client.scanKeys = []string{"chunk_uploaded:stream1:00000", "chunk_uploaded:stream1:00001"}
	m := &Mirror{client: client, log: zap.NewNop()}
	if err := m.ForgetFile(context.Background(), "stream1"); err != nil {
		t.Errorf("ForgetFile failed: %v", err)
	}
	if len(client.delKeys) != 2 {
		t.Errorf("expected 2 keys deleted, got %d", len(client.delKeys))
	}
}

func TestForgetFileNoKeys(t *testing.T) {
	client := newMock()
	m := &Mirror{client: client, log: zap.NewNop()}
	if err := m.ForgetFile(context.Background(), "stream1"); err != nil {
		t.Errorf("ForgetFile failed: %v", err)
	}
	if len(client.delKeys) != 0 {
		t.Errorf("expected no keys deleted, got %d", len(client.delKeys))
	}
}
