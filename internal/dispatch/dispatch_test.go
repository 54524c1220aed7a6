package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pseudocoder/idelink/internal/errors"
	"github.com/pseudocoder/idelink/internal/protocol"
)

type sent struct {
	kind    protocol.Kind
	payload any
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (s *recordingSender) Send(kind protocol.Kind, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sent{kind, payload})
	return nil
}

func (s *recordingSender) all() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent(nil), s.sent...)
}

func newTestDispatcher() (*Dispatcher, *recordingSender) {
	logger, _ := logtest.NewNullLogger()
	s := &recordingSender{}
	return New(s, logger, 8), s
}

func TestDispatch_UnknownKind(t *testing.T) {
	d, s := newTestDispatcher()
	d.Register(protocol.KindOpenFiles, func(ctx context.Context, msg *protocol.Message) (any, error) {
		return protocol.OpenFilesReply{OpenFiles: []string{"/a.ts"}}, nil
	})

	err := d.Dispatch(context.Background(), &protocol.Message{Kind: "doesNotExist"})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeUnknownKind, apperrors.GetCode(err))

	// Later dispatches still work.
	require.NoError(t, d.Dispatch(context.Background(), &protocol.Message{Kind: protocol.KindOpenFiles}))
	got := s.all()
	require.Len(t, got, 1)
	assert.Equal(t, protocol.KindOpenFiles, got[0].kind)
}

func TestDispatch_NilReplySendsNothing(t *testing.T) {
	d, s := newTestDispatcher()
	called := false
	d.Register(protocol.KindHighlightCode, func(ctx context.Context, msg *protocol.Message) (any, error) {
		called = true
		return nil, nil
	})

	require.NoError(t, d.Dispatch(context.Background(), &protocol.Message{Kind: protocol.KindHighlightCode}))
	assert.True(t, called)
	assert.Empty(t, s.all())
}

func TestDispatch_HandlerErrorNotSent(t *testing.T) {
	d, s := newTestDispatcher()
	d.Register(protocol.KindSaveFile, func(ctx context.Context, msg *protocol.Message) (any, error) {
		return nil, apperrors.SurfaceNotFound("/x", nil)
	})

	err := d.Dispatch(context.Background(), &protocol.Message{Kind: protocol.KindSaveFile})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSurfaceNotFound))
	assert.Empty(t, s.all())
}

func TestDispatch_PanicIsolated(t *testing.T) {
	d, s := newTestDispatcher()
	d.Register(protocol.KindReadFile, func(ctx context.Context, msg *protocol.Message) (any, error) {
		panic("boom")
	})
	d.Register(protocol.KindUniqueID, func(ctx context.Context, msg *protocol.Message) (any, error) {
		return protocol.UniqueIDReply{UniqueID: "m1"}, nil
	})

	err := d.Dispatch(context.Background(), &protocol.Message{Kind: protocol.KindReadFile})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInternal))

	require.NoError(t, d.Dispatch(context.Background(), &protocol.Message{Kind: protocol.KindUniqueID}))
	require.Len(t, s.all(), 1)
}

func TestDispatch_SendFailure(t *testing.T) {
	d, s := newTestDispatcher()
	s.err = apperrors.ConnectionClosed()
	d.Register(protocol.KindUniqueID, func(ctx context.Context, msg *protocol.Message) (any, error) {
		return protocol.UniqueIDReply{UniqueID: "m1"}, nil
	})

	err := d.Dispatch(context.Background(), &protocol.Message{Kind: protocol.KindUniqueID})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConnectionClosed))
}

func TestRegister_TwicePanics(t *testing.T) {
	d, _ := newTestDispatcher()
	h := func(ctx context.Context, msg *protocol.Message) (any, error) { return nil, nil }
	d.Register(protocol.KindConnected, h)
	assert.Panics(t, func() { d.Register(protocol.KindConnected, h) })
	assert.ElementsMatch(t, []protocol.Kind{protocol.KindConnected}, d.Kinds())
}

func TestRun_SequentialInArrivalOrder(t *testing.T) {
	d, _ := newTestDispatcher()

	var mu sync.Mutex
	var order []string
	release := make(chan struct{})
	d.Register(protocol.KindReadFile, func(ctx context.Context, msg *protocol.Message) (any, error) {
		<-release
		mu.Lock()
		order = append(order, "readFile")
		mu.Unlock()
		return nil, nil
	})
	d.Register(protocol.KindSaveFile, func(ctx context.Context, msg *protocol.Message) (any, error) {
		mu.Lock()
		order = append(order, "saveFile")
		mu.Unlock()
		return nil, errors.New("fails but does not stop the worker")
	})
	d.Register(protocol.KindOpenFiles, func(ctx context.Context, msg *protocol.Message) (any, error) {
		mu.Lock()
		order = append(order, "openFiles")
		mu.Unlock()
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Enqueue(&protocol.Message{Kind: protocol.KindReadFile})
	d.Enqueue(&protocol.Message{Kind: protocol.KindSaveFile})
	d.Enqueue(&protocol.Message{Kind: "bogus"})
	d.Enqueue(&protocol.Message{Kind: protocol.KindOpenFiles})
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"readFile", "saveFile", "openFiles"}, order)
}

func TestStop_EndsRun(t *testing.T) {
	d, _ := newTestDispatcher()
	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()
	d.Stop()
	d.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	// Enqueue after Stop is a no-op.
	d.Enqueue(&protocol.Message{Kind: protocol.KindOpenFiles})
}
