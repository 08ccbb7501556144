package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptServer answers the lock scripts as if the key were held or free.
type scriptServer struct {
	redis.Scripter
	held bool

	mu    sync.Mutex
	calls int
}

func (s *scriptServer) EvalSha(context.Context, string, []string, ...interface{}) *redis.Cmd {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.held {
		return redis.NewCmdResult(nil, redis.Nil)
	}
	return redis.NewCmdResult(int64(1), nil)
}

func TestRedis_Lock(t *testing.T) {
	tests := []struct {
		name    string
		held    bool
		ctx     func() (context.Context, context.CancelFunc)
		wantErr error
	}{
		{
			name: "free key",
			ctx:  func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) },
		},
		{
			name:    "held key without deadline gives up after the ttl",
			held:    true,
			ctx:     func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) },
			wantErr: ErrNotObtained,
		},
		{
			name: "held key with cancelled context",
			held: true,
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx, cancel
			},
			wantErr: context.Canceled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := test.NewNullLogger()
			srv := &scriptServer{held: tt.held}
			l := NewRedisFromClient(srv, 50*time.Millisecond, 5*time.Millisecond, logger)
			ctx, cancel := tt.ctx()
			defer cancel()

			start := time.Now()
			unlock, err := l.Lock(ctx, Key("supplier", "Acme"))
			assert.Less(t, time.Since(start), 2*time.Second)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, unlock)
				return
			}
			require.NoError(t, err)
			unlock()
			assert.Equal(t, 2, srv.calls, "obtain and release")
		})
	}
}
