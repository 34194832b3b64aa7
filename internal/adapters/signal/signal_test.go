package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dkeye/Slicer/internal/app/orch"
	"github.com/dkeye/Slicer/internal/core/mocks"
	"github.com/dkeye/Slicer/internal/domain"
	"github.com/dkeye/Slicer/internal/protocol"
	"github.com/dkeye/Slicer/internal/storage"
)

var mp4Fragment = append([]byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2avc1mp41"), make([]byte, 64)...)

type server struct {
	orch      *orch.Orchestrator
	prober    *mocks.MockProber
	extractor *mocks.MockExtractor
	store     *storage.FragmentStore
	url       string
}

func newServer(t *testing.T, limiter *ConnectLimiter) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctrl := gomock.NewController(t)
	store, err := storage.NewFragmentStore(afero.NewMemMapFs(), "/fragments")
	require.NoError(t, err)

	s := &server{
		prober:    mocks.NewMockProber(ctrl),
		extractor: mocks.NewMockExtractor(ctrl),
		store:     store,
	}
	s.orch = orch.New(orch.Deps{Prober: s.prober, Extractor: s.extractor, Store: store}, orch.Options{
		Source:    "video.webm",
		MaxWindow: 10,
	})
	ctl := NewStreamWSController(s.orch, Options{PingPeriod: time.Second, Limiter: limiter})

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("client_token", "test-client")
		ctl.HandleSignal(context.Background(), c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		s.orch.Shutdown()
		srv.Close()
	})
	s.url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return s
}

func (s *server) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func read(t *testing.T, ws *websocket.Conn) protocol.Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	m, err := protocol.Decode(data)
	require.NoError(t, err)
	return m
}

func write(t *testing.T, ws *websocket.Conn, m protocol.Message) {
	t.Helper()
	b, err := protocol.Encode(m)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, b))
}

func closeCodeOf(t *testing.T, ws *websocket.Conn) int {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		return ce.Code
	}
}

func (s *server) handshake(t *testing.T, ws *websocket.Conn) protocol.Ready {
	t.Helper()
	ready, ok := read(t, ws).(protocol.Ready)
	require.True(t, ok)

	s.prober.EXPECT().Probe(gomock.Any(), "video.webm").Return(&domain.Metadata{Duration: 20, Container: "webm"}, nil)
	write(t, ws, protocol.Start{Identity: ready.Identity, Credential: ready.Credential})

	probe, ok := read(t, ws).(protocol.Probe)
	require.True(t, ok)
	assert.Equal(t, 20.0, probe.Metadata.Duration)
	return ready
}

func TestSignal_FullExchange(t *testing.T) {
	s := newServer(t, nil)
	ws := s.dial(t)
	ready := s.handshake(t, ws)

	s.extractor.EXPECT().Extract(gomock.Any(), "video.webm", gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ domain.Window, dst string) error {
			return afero.WriteFile(s.store.Fs(), dst, mp4Fragment, 0o644)
		}).Times(2)

	cred := ready.Credential
	for _, w := range []domain.Window{{Start: 0, End: 10}, {Start: 10, End: 20}} {
		write(t, ws, protocol.Stream{Identity: ready.Identity, Credential: cred, Window: protocol.NewWindowMark(w)})
		frag, ok := read(t, ws).(protocol.Fragment)
		require.True(t, ok)
		assert.Equal(t, w, frag.Window.Window())
		assert.Equal(t, mp4Fragment, frag.Payload)
		assert.NotEqual(t, cred, frag.Credential)
		cred = frag.Credential
	}

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return s.orch.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSignal_RecoverableErrorKeepsConnection(t *testing.T) {
	s := newServer(t, nil)
	ws := s.dial(t)
	ready := s.handshake(t, ws)

	write(t, ws, protocol.Stream{
		Identity:   ready.Identity,
		Credential: ready.Credential,
		Window:     protocol.NewWindowMark(domain.Window{Start: 15, End: 25}),
	})
	msg, ok := read(t, ws).(protocol.Error)
	require.True(t, ok)
	assert.Equal(t, "window_invalid", msg.Code)
	assert.Equal(t, 1, s.orch.Count())
}

func TestSignal_MalformedClosesWithUnsupportedData(t *testing.T) {
	s := newServer(t, nil)
	ws := s.dial(t)
	_, ok := read(t, ws).(protocol.Ready)
	require.True(t, ok)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"action":`)))
	assert.Equal(t, websocket.CloseUnsupportedData, closeCodeOf(t, ws))
	require.Eventually(t, func() bool { return s.orch.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSignal_BadCredentialClosesWithPolicyViolation(t *testing.T) {
	s := newServer(t, nil)
	ws := s.dial(t)
	ready, ok := read(t, ws).(protocol.Ready)
	require.True(t, ok)

	write(t, ws, protocol.Start{Identity: ready.Identity, Credential: string(domain.NewCredential())})
	assert.Equal(t, websocket.ClosePolicyViolation, closeCodeOf(t, ws))
}

func TestSignal_ServerMessageFromClientIsFatal(t *testing.T) {
	s := newServer(t, nil)
	ws := s.dial(t)
	_, ok := read(t, ws).(protocol.Ready)
	require.True(t, ok)

	b, _ := json.Marshal(map[string]string{"action": "Error", "code": "internal"})
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, b))
	assert.Equal(t, websocket.ClosePolicyViolation, closeCodeOf(t, ws))
}

func TestSignal_ConnectRateLimited(t *testing.T) {
	s := newServer(t, NewConnectLimiter(0.001, 1))
	s.dial(t)

	_, resp, err := websocket.DefaultDialer.Dial(s.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 429, resp.StatusCode)
}

func TestConnectLimiter(t *testing.T) {
	var none *ConnectLimiter
	assert.True(t, none.Allow("anyone"))
	assert.Nil(t, NewConnectLimiter(0, 5))

	l := NewConnectLimiter(0.001, 2)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "limits are per client")
}

func TestCloseCode(t *testing.T) {
	assert.Equal(t, websocket.CloseNormalClosure, closeCode(nil))
	_, err := protocol.Decode([]byte("nope"))
	assert.Equal(t, websocket.CloseUnsupportedData, closeCode(err))
	assert.Equal(t, websocket.ClosePolicyViolation, closeCode(domain.ErrCredential))
	assert.Len(t, closeText(errorString(strings.Repeat("x", 300))), 123)
}

type errorString string

func (e errorString) Error() string { return string(e) }
