package ws

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeChannel records sends and close calls.
type fakeChannel struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
	full   bool
}

func (f *fakeChannel) Send(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full || f.closed {
		return false
	}
	f.sent = append(f.sent, data)
	return true
}

func (f *fakeChannel) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAttachUserSingleActiveSession(t *testing.T) {
	r := testRegistry()

	first := &fakeChannel{}
	second := &fakeChannel{}

	r.AttachUser("u-1", first)
	r.AttachUser("u-1", second)

	// The first channel is evicted and closed; routing reaches the second.
	assert.True(t, first.isClosed())
	assert.False(t, second.isClosed())

	assert.True(t, r.RouteToUser("u-1", []byte("hello")))
	assert.Equal(t, 0, first.sentCount())
	assert.Equal(t, 1, second.sentCount())

	users, _ := r.Counts()
	assert.Equal(t, 1, users)
}

func TestAttachUserSameChannelTwice(t *testing.T) {
	r := testRegistry()

	ch := &fakeChannel{}
	r.AttachUser("u-1", ch)
	r.AttachUser("u-1", ch)

	assert.False(t, ch.isClosed())
	users, _ := r.Counts()
	assert.Equal(t, 1, users)
}

func TestDetachIdempotent(t *testing.T) {
	r := testRegistry()

	ch := &fakeChannel{}
	r.AttachUser("u-1", ch)

	r.Detach(ch)
	r.Detach(ch)

	assert.False(t, r.RouteToUser("u-1", []byte("x")))
	users, _ := r.Counts()
	assert.Equal(t, 0, users)
}

func TestDetachEvictedChannelKeepsSuccessor(t *testing.T) {
	r := testRegistry()

	first := &fakeChannel{}
	second := &fakeChannel{}
	r.AttachUser("u-1", first)
	r.AttachUser("u-1", second)

	// The evicted channel's teardown must not detach the replacement.
	r.Detach(first)

	assert.True(t, r.RouteToUser("u-1", []byte("x")))
	assert.Equal(t, 1, second.sentCount())
}

func TestRouteToUserOffline(t *testing.T) {
	r := testRegistry()
	assert.False(t, r.RouteToUser("nobody", []byte("x")))
}

func TestRouteToUserFullBuffer(t *testing.T) {
	r := testRegistry()

	ch := &fakeChannel{full: true}
	r.AttachUser("u-1", ch)

	// Drop-on-full is reported but never blocks or errors.
	assert.False(t, r.RouteToUser("u-1", []byte("x")))
}

func TestBroadcastOperators(t *testing.T) {
	r := testRegistry()

	op1 := &fakeChannel{}
	op2 := &fakeChannel{}
	slow := &fakeChannel{full: true}
	user := &fakeChannel{}

	r.AttachOperator(op1)
	r.AttachOperator(op2)
	r.AttachOperator(slow)
	r.AttachUser("u-1", user)

	n := r.BroadcastOperators([]byte("activity"))
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, op1.sentCount())
	assert.Equal(t, 1, op2.sentCount())
	assert.Equal(t, 0, user.sentCount())
}

func TestBroadcastAll(t *testing.T) {
	r := testRegistry()

	op := &fakeChannel{}
	user := &fakeChannel{}
	r.AttachOperator(op)
	r.AttachUser("u-1", user)

	n := r.BroadcastAll([]byte("tick"))
	assert.Equal(t, 2, n)
}

func TestCloseAll(t *testing.T) {
	r := testRegistry()

	op := &fakeChannel{}
	user := &fakeChannel{}
	r.AttachOperator(op)
	r.AttachUser("u-1", user)

	r.CloseAll()

	assert.True(t, op.isClosed())
	assert.True(t, user.isClosed())
	users, operators := r.Counts()
	assert.Equal(t, 0, users)
	assert.Equal(t, 0, operators)
}
