package server

import (
	"context"
	"net"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type broker struct {
	server *Server

	sessionTotal int32    // 活跃的设备流session数目
	sessionMap   sync.Map // key: session id value: *session

	mu     sync.Mutex // 保护closed与session登记, closeAll之后不再接受新session
	closed bool
}

func (b *broker) createSession(rwc net.Conn, name string) (*session, error) {
	if b.isClosed() {
		return nil, ErrServerClosed
	}

	id := uuid.New().String()

	sess, err := newSession(
		WithSessionId(id),
		WithSessionName(name),
		WithSessionConn(rwc),
		WithSessionBroker(b),
	)
	if err != nil {
		return nil, errors.Wrap(err, "new session instance")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrServerClosed
	}
	b.sessionMap.Store(id, sess)
	atomic.AddInt32(&b.sessionTotal, 1)

	return sess, nil
}

func (b *broker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *broker) delSession(id string) {
	if _, ok := b.sessionMap.Load(id); ok {
		b.sessionMap.Delete(id)
		atomic.AddInt32(&b.sessionTotal, -1)
	}
}

func (b *broker) getSession(id string) (*session, bool) {
	v, ok := b.sessionMap.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*session), true
}

func (b *broker) getSessionTotalNumber() int32 {
	return atomic.LoadInt32(&b.sessionTotal)
}

// snapshot lists the live sessions, oldest first.
func (b *broker) snapshot() []sessionInfo {
	var infos []sessionInfo
	b.sessionMap.Range(func(k, v interface{}) bool {
		infos = append(infos, v.(*session).info())
		return true
	})

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// closeAll rejects new sessions, closes every session socket and waits for
// their demuxers to end.
func (b *broker) closeAll(ctx context.Context) error {
	var sessions []*session

	b.mu.Lock()
	b.closed = true
	b.sessionMap.Range(func(k, v interface{}) bool {
		sessions = append(sessions, v.(*session))
		return true
	})
	b.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.close(); err != nil {
			b.server.logger.Debug("close session conn", zap.String("session", sess.id), zap.Error(err))
		}
	}

	for _, sess := range sessions {
		select {
		case <-sess.demuxer.Done():
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "wait sessions")
		}
	}

	return nil
}

func newBroker(opts ...brokerOption) (*broker, error) {
	return (&broker{}).loadOptions(opts...)
}

func (b *broker) loadOptions(opts ...brokerOption) (*broker, error) {
	for _, opt := range opts {
		opt(b)
	}

	if b.server == nil {
		return nil, errBrokerServer
	}

	return b, nil
}

type brokerOption func(*broker)

func WithBrokerServer(server *Server) brokerOption {
	return func(b *broker) {
		b.server = server
	}
}

var (
	errBrokerServer = errors.New("broker belongs to server required")
)
