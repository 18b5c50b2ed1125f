package session

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/adapters"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/adapters/embeddedAdapter"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/events"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/persistence"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/testutil"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/types"
)

const waitTimeout = 2 * time.Second

type harness struct {
	session  *Session
	surface  *testutil.FakeSurface
	prefs    *memory.MemoryPersistence
	recorder *notificationRecorder

	mu        sync.Mutex
	providers map[string]interface{}
	requested []string
}

type notificationRecorder struct {
	mu  sync.Mutex
	got []events.Notification
}

func (r *notificationRecorder) record(n events.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *notificationRecorder) all() []events.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Notification, len(r.got))
	copy(out, r.got)
	return out
}

func (r *notificationRecorder) kinds() []events.Kind {
	var kinds []events.Kind
	for _, n := range r.all() {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

func newHarness(t *testing.T, cfg *Config) *harness {
	t.Helper()
	h := &harness{
		surface:   testutil.NewFakeSurface(),
		prefs:     memory.NewMemoryPersistence(),
		recorder:  &notificationRecorder{},
		providers: map[string]interface{}{},
	}
	if cfg == nil {
		cfg = &Config{Network: "devnet", Origin: "https://dapp.example"}
	}

	factory := func(name string) (interface{}, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.requested = append(h.requested, name)
		p, ok := h.providers[name]
		if !ok {
			return nil, errors.New("unknown provider")
		}
		return p, nil
	}

	s, err := New(cfg, h.surface, h.prefs, factory, zap.NewNop())
	require.NoError(t, err)
	h.session = s

	for _, kind := range []events.Kind{events.Connect, events.Disconnect, events.AccountChanged} {
		s.Subscribe(kind, h.recorder.record)
	}
	return h
}

func (h *harness) addProvider(name string, provider interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.providers[name] = provider
}

// startConnect runs Connect in the background and waits for the surface
func (h *harness) startConnect(t *testing.T, ctx context.Context) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.session.Connect(ctx)
	}()
	h.surface.WaitAttached(t, waitTimeout)
	return errCh
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("call did not return")
		return nil
	}
}

func (h *harness) connectEmbedded(t *testing.T, pk *types.PublicKey) {
	t.Helper()
	errCh := h.startConnect(t, context.Background())
	h.surface.DeliverEvent(t, types.EventConnect, types.HandshakeEventData{
		PublicKey: pk.String(),
		Adapter:   "extension",
	})
	require.NoError(t, waitErr(t, errCh))
}

// reply answers the next posted request
func (h *harness) reply(t *testing.T, method string, result interface{}, errField string) *types.OutboundEnvelope {
	t.Helper()
	env := h.surface.Poster().Next(t, waitTimeout)
	require.Equal(t, method, env.Data.Method)
	h.surface.DeliverMessage(t, testutil.ResponseMessage(t, env.Data.ID, result, errField))
	return env
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil, nil, nil, nil)
	require.Error(t, err)

	_, err = New(&Config{AccountChangePolicy: "ignore"}, testutil.NewFakeSurface(), nil, nil, nil)
	require.Error(t, err)

	s, err := New(nil, testutil.NewFakeSurface(), nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, s.State())
	assert.Nil(t, s.PublicKey())
	assert.False(t, s.Connected())
}

func TestSession_ConnectEmbedded(t *testing.T) {
	h := newHarness(t, nil)
	pk := testutil.TestPublicKey(1)

	errCh := h.startConnect(t, context.Background())
	assert.Equal(t, StateConnecting, h.session.State())
	assert.Nil(t, h.session.PublicKey())

	h.surface.DeliverEvent(t, types.EventConnect, types.HandshakeEventData{
		PublicKey: pk.String(),
		Adapter:   "extension",
	})
	require.NoError(t, waitErr(t, errCh))

	assert.Equal(t, StateConnected, h.session.State())
	assert.True(t, h.session.Connected())
	assert.True(t, h.session.PublicKey().IsEqual(pk))
	assert.Equal(t, adapters.KindEmbedded, h.session.Adapter().Kind())

	notifications := h.recorder.all()
	require.Len(t, notifications, 1)
	assert.Equal(t, events.Connect, notifications[0].Kind)
	assert.True(t, notifications[0].PublicKey.IsEqual(pk))

	pref, err := h.prefs.LoadPreference()
	require.NoError(t, err)
	require.NotNil(t, pref)
	assert.Equal(t, "extension", pref.Adapter)
	assert.Equal(t, "devnet", pref.Network)

	assert.Equal(t, 1, h.surface.Collapses())
}

func TestSession_AttachOptions(t *testing.T) {
	h := newHarness(t, &Config{Network: "testnet", Origin: "https://dapp.example"})
	require.NoError(t, h.prefs.SavePreference(persistence.NewPreferenceRecord("extension", "testnet")))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.session.Connect(ctx) }()
	opts := h.surface.WaitAttached(t, waitTimeout)

	assert.Equal(t, "testnet", opts.Network)
	assert.Equal(t, "https://dapp.example", opts.Origin)
	assert.Equal(t, "extension", opts.PreferredAdapter)
	assert.NotNil(t, opts.OnFrame)
	assert.NotNil(t, opts.OnClose)

	cancel()
	require.ErrorIs(t, waitErr(t, errCh), context.Canceled)
}

func TestSession_ConnectWhenConnectedReturnsImmediately(t *testing.T) {
	h := newHarness(t, nil)
	h.connectEmbedded(t, testutil.TestPublicKey(1))

	require.NoError(t, h.session.Connect(context.Background()))
	assert.Equal(t, 1, h.surface.Attaches())
	assert.Len(t, h.recorder.all(), 1)
}

func TestSession_ReentrantConnectJoinsAttempt(t *testing.T) {
	h := newHarness(t, nil)
	pk := testutil.TestPublicKey(2)

	first := h.startConnect(t, context.Background())

	second := make(chan error, 1)
	go func() { second <- h.session.Connect(context.Background()) }()

	// let the second caller join before the handshake completes
	require.Eventually(t, func() bool {
		return h.session.State() == StateConnecting
	}, waitTimeout, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	h.surface.DeliverEvent(t, types.EventConnect, types.HandshakeEventData{PublicKey: pk.String()})

	require.NoError(t, waitErr(t, first))
	require.NoError(t, waitErr(t, second))
	assert.Equal(t, 1, h.surface.Attaches())
	assert.Equal(t, []events.Kind{events.Connect}, h.recorder.kinds())
}

func TestSession_DisconnectEventRejectsHandshake(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.prefs.SavePreference(persistence.NewPreferenceRecord("extension", "")))

	errCh := h.startConnect(t, context.Background())
	h.surface.DeliverEvent(t, types.EventDisconnect, nil)

	err := waitErr(t, errCh)
	require.ErrorIs(t, err, types.ErrConnectRejected)

	assert.Equal(t, StateDisconnected, h.session.State())
	assert.Nil(t, h.session.PublicKey())
	assert.False(t, h.surface.Attached())
	assert.Empty(t, h.recorder.all())

	pref, err := h.prefs.LoadPreference()
	require.NoError(t, err)
	assert.Nil(t, pref)

	// a later connect event is inert
	h.surface.DeliverEvent(t, types.EventConnect, types.HandshakeEventData{PublicKey: testutil.TestPublicKey(1).String()})
	assert.Equal(t, StateDisconnected, h.session.State())
}

func TestSession_HandshakeErrorReplyRejectsConnect(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.prefs.SavePreference(persistence.NewPreferenceRecord("extension", "")))

	errCh := h.startConnect(t, context.Background())
	h.surface.DeliverMessage(t, testutil.ResponseMessage(t, types.HandshakeID, nil, `"user rejected"`))

	err := waitErr(t, errCh)
	require.ErrorIs(t, err, types.ErrTransportRejected)
	assert.Equal(t, "user rejected", err.Error())

	assert.Equal(t, StateDisconnected, h.session.State())
	assert.False(t, h.surface.Attached())
	assert.Equal(t, 1, h.surface.Detaches())
	assert.Empty(t, h.recorder.all())

	pref, err := h.prefs.LoadPreference()
	require.NoError(t, err)
	assert.Nil(t, pref)

	// the handshake can be armed again
	h.connectEmbedded(t, testutil.TestPublicKey(5))
	assert.Equal(t, StateConnected, h.session.State())
}

func TestSession_HandshakeReplyWithoutErrorWaitsForEvent(t *testing.T) {
	h := newHarness(t, nil)
	pk := testutil.TestPublicKey(6)

	errCh := h.startConnect(t, context.Background())
	h.surface.DeliverMessage(t, testutil.ResponseMessage(t, types.HandshakeID, map[string]string{"status": "ok"}, ""))
	h.surface.DeliverMessage(t, testutil.ResponseMessage(t, "unrelated", nil, `"late"`))
	assert.Equal(t, StateConnecting, h.session.State())

	h.surface.DeliverEvent(t, types.EventConnect, types.HandshakeEventData{PublicKey: pk.String()})
	require.NoError(t, waitErr(t, errCh))
	assert.True(t, h.session.PublicKey().IsEqual(pk))
}

func TestSession_ConnectResolvesOnlyIfConnectPrecedesDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	pk := testutil.TestPublicKey(3)

	errCh := h.startConnect(t, context.Background())
	h.surface.DeliverEvent(t, types.EventConnect, types.HandshakeEventData{PublicKey: pk.String()})
	h.surface.DeliverEvent(t, types.EventDisconnect, nil)

	require.NoError(t, waitErr(t, errCh))
	assert.Equal(t, StateDisconnected, h.session.State())
	assert.Equal(t, []events.Kind{events.Connect, events.Disconnect}, h.recorder.kinds())
}

func TestSession_CallerCancellationAbandonsAttempt(t *testing.T) {
	h := newHarness(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := h.startConnect(t, ctx)
	cancel()

	require.ErrorIs(t, waitErr(t, errCh), context.Canceled)
	assert.Equal(t, StateDisconnected, h.session.State())
	assert.False(t, h.surface.Attached())
	assert.Equal(t, 1, h.surface.Detaches())

	// the handshake can be armed again
	h.connectEmbedded(t, testutil.TestPublicKey(4))
	assert.Equal(t, StateConnected, h.session.State())
	assert.Equal(t, 2, h.surface.Attaches())
}

func TestSession_ConnectTimeout(t *testing.T) {
	h := newHarness(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := h.session.Connect(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateDisconnected, h.session.State())
}

func TestSession_AttachFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.surface.SetAttachError(errors.New("broker unreachable"))

	err := h.session.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unreachable")
	assert.Equal(t, StateDisconnected, h.session.State())

	h.surface.SetAttachError(nil)
	h.connectEmbedded(t, testutil.TestPublicKey(1))
}

func TestSession_InvalidConnectEventRejectsHandshake(t *testing.T) {
	h := newHarness(t, nil)

	errCh := h.startConnect(t, context.Background())
	h.surface.DeliverEvent(t, types.EventConnect, types.HandshakeEventData{PublicKey: "not-a-key"})

	err := waitErr(t, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid connect event")
	assert.Equal(t, StateDisconnected, h.session.State())
	assert.Empty(t, h.recorder.all())
}

func TestSession_ForeignChannelFramesAreInert(t *testing.T) {
	h := newHarness(t, nil)
	pk := testutil.TestPublicKey(5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := h.startConnect(t, ctx)

	msg := testutil.EventMessage(t, types.EventConnect, types.HandshakeEventData{PublicKey: pk.String()})
	h.surface.Deliver(testutil.InboundFrame(t, "someOtherWallet", msg))
	h.surface.Deliver(testutil.InboundFrame(t, types.ChannelToBridge, msg))
	h.surface.Deliver([]byte(`{"garbage":true}`))

	assert.Equal(t, StateConnecting, h.session.State())
	assert.Empty(t, h.recorder.all())

	h.surface.DeliverMessage(t, msg)
	require.NoError(t, waitErr(t, errCh))
}

func TestSession_SignBeforeConnect(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.session.SignTransaction(ctx, []byte("tx"))
	require.ErrorIs(t, err, types.ErrNotConnected)
	_, err = h.session.SignAllTransactions(ctx, [][]byte{[]byte("tx")})
	require.ErrorIs(t, err, types.ErrNotConnected)
	_, err = h.session.SignAndSendTransaction(ctx, []byte("tx"), nil)
	require.ErrorIs(t, err, types.ErrNotConnected)
	_, err = h.session.SignMessage(ctx, []byte("hello"), types.DisplayUTF8)
	require.ErrorIs(t, err, types.ErrNotConnected)
	require.ErrorIs(t, h.session.Disconnect(ctx), types.ErrNotConnected)

	assert.Empty(t, h.surface.Poster().Envelopes())
}

func TestSession_SignOperations(t *testing.T) {
	h := newHarness(t, nil)
	pk := testutil.TestPublicKey(6)
	h.connectEmbedded(t, pk)
	ctx := context.Background()

	t.Run("sign transaction", func(t *testing.T) {
		done := make(chan []byte, 1)
		go func() {
			sig, err := h.session.SignTransaction(ctx, []byte("tx"))
			assert.NoError(t, err)
			done <- sig
		}()
		env := h.reply(t, types.MethodSignTransaction, types.SignatureResult{
			PublicKey: pk.String(),
			Signature: base58.Encode([]byte("sig")),
		}, "")
		assert.Equal(t, types.ChannelToBridge, env.Channel)
		assert.Equal(t, []byte("sig"), <-done)
	})

	t.Run("sign all transactions", func(t *testing.T) {
		done := make(chan [][]byte, 1)
		go func() {
			sigs, err := h.session.SignAllTransactions(ctx, [][]byte{[]byte("a"), []byte("b")})
			assert.NoError(t, err)
			done <- sigs
		}()
		h.reply(t, types.MethodSignAllTransactions, types.SignaturesResult{
			Signatures: []string{base58.Encode([]byte("sa")), base58.Encode([]byte("sb"))},
		}, "")
		assert.Equal(t, [][]byte{[]byte("sa"), []byte("sb")}, <-done)
	})

	t.Run("sign and send transaction", func(t *testing.T) {
		done := make(chan string, 1)
		go func() {
			sig, err := h.session.SignAndSendTransaction(ctx, []byte("tx"), &types.SendOptions{SkipPreflight: true})
			assert.NoError(t, err)
			done <- sig
		}()
		h.reply(t, types.MethodSignAndSendTransaction, types.SignatureResult{Signature: "5txsig"}, "")
		assert.Equal(t, "5txsig", <-done)
	})

	t.Run("sign message", func(t *testing.T) {
		done := make(chan []byte, 1)
		go func() {
			sig, err := h.session.SignMessage(ctx, []byte("hello"), "")
			assert.NoError(t, err)
			done <- sig
		}()
		h.reply(t, types.MethodSignMessage, base58.Encode([]byte("msig")), "")
		assert.Equal(t, []byte("msig"), <-done)
	})
}

func TestSession_ConcurrentRequestsResolveById(t *testing.T) {
	h := newHarness(t, nil)
	h.connectEmbedded(t, testutil.TestPublicKey(7))

	const n = 20
	results := make(chan [2][]byte, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			msg := []byte{byte(i)}
			sig, err := h.session.SignMessage(context.Background(), msg, types.DisplayHex)
			if !assert.NoError(t, err) {
				return
			}
			results <- [2][]byte{msg, sig}
		}(i)
	}

	envs := make([]*types.OutboundEnvelope, 0, n)
	for i := 0; i < n; i++ {
		envs = append(envs, h.surface.Poster().Next(t, waitTimeout))
	}
	rand.Shuffle(len(envs), func(i, j int) { envs[i], envs[j] = envs[j], envs[i] })

	// each reply signs whatever data its request carried
	for _, env := range envs {
		raw, err := json.Marshal(env.Data.Params)
		require.NoError(t, err)
		var params struct {
			Data string `json:"data"`
		}
		require.NoError(t, json.Unmarshal(raw, &params))
		h.surface.DeliverMessage(t, testutil.ResponseMessage(t, env.Data.ID, params.Data, ""))
	}

	for i := 0; i < n; i++ {
		select {
		case r := <-results:
			assert.Equal(t, r[0], r[1])
		case <-time.After(waitTimeout):
			t.Fatal("request not resolved")
		}
	}
}

func TestSession_SignAllTransactionsCountMismatch(t *testing.T) {
	h := newHarness(t, nil)
	h.connectEmbedded(t, testutil.TestPublicKey(8))

	errCh := make(chan error, 1)
	go func() {
		_, err := h.session.SignAllTransactions(context.Background(), [][]byte{{1}, {2}, {3}})
		errCh <- err
	}()
	h.reply(t, types.MethodSignAllTransactions, types.SignaturesResult{
		Signatures: []string{base58.Encode([]byte{9})},
	}, "")

	require.ErrorIs(t, waitErr(t, errCh), types.ErrCountMismatch)
}

func TestSession_FarEndErrorIsTransportRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.connectEmbedded(t, testutil.TestPublicKey(9))

	errCh := make(chan error, 1)
	go func() {
		_, err := h.session.SignTransaction(context.Background(), []byte("tx"))
		errCh <- err
	}()
	h.reply(t, types.MethodSignTransaction, nil, `"User rejected the request"`)

	err := waitErr(t, errCh)
	require.ErrorIs(t, err, types.ErrTransportRejected)
	assert.Contains(t, err.Error(), "User rejected the request")
	assert.Equal(t, StateConnected, h.session.State())
}

func TestSession_Disconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.connectEmbedded(t, testutil.TestPublicKey(10))

	errCh := make(chan error, 1)
	go func() { errCh <- h.session.Disconnect(context.Background()) }()
	h.reply(t, types.MethodDisconnect, true, "")

	require.NoError(t, waitErr(t, errCh))
	assert.Equal(t, StateDisconnected, h.session.State())
	assert.Nil(t, h.session.PublicKey())
	assert.False(t, h.session.Connected())
	assert.Nil(t, h.session.Adapter())
	assert.False(t, h.surface.Attached())
	assert.Equal(t, []events.Kind{events.Connect, events.Disconnect}, h.recorder.kinds())

	pref, err := h.prefs.LoadPreference()
	require.NoError(t, err)
	assert.Nil(t, pref)

	require.ErrorIs(t, h.session.Disconnect(context.Background()), types.ErrNotConnected)
}

func TestSession_DisconnectClearsStateWhenFarEndFails(t *testing.T) {
	h := newHarness(t, nil)
	h.connectEmbedded(t, testutil.TestPublicKey(11))
	h.surface.Poster().SetError(errors.New("surface gone"))

	err := h.session.Disconnect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "surface gone")

	assert.Equal(t, StateDisconnected, h.session.State())
	assert.Nil(t, h.session.PublicKey())
	assert.Equal(t, []events.Kind{events.Connect, events.Disconnect}, h.recorder.kinds())
}

func TestSession_InboundDisconnectWhileConnected(t *testing.T) {
	h := newHarness(t, nil)
	h.connectEmbedded(t, testutil.TestPublicKey(12))

	errCh := make(chan error, 1)
	go func() {
		_, err := h.session.SignTransaction(context.Background(), []byte("tx"))
		errCh <- err
	}()
	h.surface.Poster().Next(t, waitTimeout)

	h.surface.DeliverEvent(t, types.EventDisconnect, nil)

	require.ErrorIs(t, waitErr(t, errCh), types.ErrBusClosed)
	assert.Equal(t, StateDisconnected, h.session.State())
	assert.Nil(t, h.session.PublicKey())
	assert.False(t, h.session.Connected())
	assert.False(t, h.surface.Attached())
	assert.Equal(t, []events.Kind{events.Connect, events.Disconnect}, h.recorder.kinds())
}

func TestSession_SurfaceClosedIsDisconnect(t *testing.T) {
	t.Run("while connected", func(t *testing.T) {
		h := newHarness(t, nil)
		h.connectEmbedded(t, testutil.TestPublicKey(13))

		h.surface.Drop(errors.New("connection reset"))

		assert.Equal(t, StateDisconnected, h.session.State())
		assert.Equal(t, []events.Kind{events.Connect, events.Disconnect}, h.recorder.kinds())
	})

	t.Run("while connecting", func(t *testing.T) {
		h := newHarness(t, nil)
		errCh := h.startConnect(t, context.Background())

		h.surface.Drop(errors.New("connection reset"))

		err := waitErr(t, errCh)
		require.ErrorIs(t, err, types.ErrConnectRejected)
		assert.Contains(t, err.Error(), "connection reset")
		assert.Empty(t, h.recorder.all())
	})
}

func TestSession_AccountChangedSwapsAdapter(t *testing.T) {
	h := newHarness(t, nil)
	oldKey := testutil.TestPublicKey(14)
	newKey := testutil.TestPublicKey(15)
	h.connectEmbedded(t, oldKey)

	oldAdapter, ok := h.session.Adapter().(*embeddedAdapter.EmbeddedAdapter)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		_, err := h.session.SignTransaction(ctx, []byte("tx"))
		errCh <- err
	}()
	pending := h.surface.Poster().Next(t, waitTimeout)

	h.surface.DeliverEvent(t, types.EventAccountChanged, types.HandshakeEventData{PublicKey: newKey.String()})

	assert.True(t, h.session.PublicKey().IsEqual(newKey))
	assert.NotSame(t, oldAdapter, h.session.Adapter())
	notifications := h.recorder.all()
	require.Len(t, notifications, 2)
	assert.Equal(t, events.AccountChanged, notifications[1].Kind)
	assert.True(t, notifications[1].PublicKey.IsEqual(newKey))

	// the reply for the old request reaches the new adapter and is ignored
	h.surface.DeliverMessage(t, testutil.ResponseMessage(t, pending.Data.ID, types.SignatureResult{
		Signature: base58.Encode([]byte("late")),
	}, ""))

	select {
	case err := <-errCh:
		t.Fatalf("request on swapped adapter settled: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, oldAdapter.Bus().Pending())

	// only the caller's own context releases it
	cancel()
	require.ErrorIs(t, waitErr(t, errCh), context.Canceled)

	// the new adapter signs normally
	done := make(chan error, 1)
	go func() {
		_, err := h.session.SignTransaction(context.Background(), []byte("tx2"))
		done <- err
	}()
	h.reply(t, types.MethodSignTransaction, types.SignatureResult{Signature: base58.Encode([]byte("s"))}, "")
	require.NoError(t, waitErr(t, done))
}

func TestSession_AccountChangedWithoutKey(t *testing.T) {
	t.Run("notify policy", func(t *testing.T) {
		h := newHarness(t, nil)
		pk := testutil.TestPublicKey(16)
		h.connectEmbedded(t, pk)

		h.surface.DeliverEvent(t, types.EventAccountChanged, nil)

		notifications := h.recorder.all()
		require.Len(t, notifications, 2)
		assert.Equal(t, events.AccountChanged, notifications[1].Kind)
		assert.Nil(t, notifications[1].PublicKey)
		assert.Equal(t, StateConnected, h.session.State())
		assert.True(t, h.session.PublicKey().IsEqual(pk))
	})

	t.Run("disconnect policy", func(t *testing.T) {
		h := newHarness(t, &Config{AccountChangePolicy: AccountChangeDisconnect})
		h.connectEmbedded(t, testutil.TestPublicKey(17))

		h.surface.DeliverEvent(t, types.EventAccountChanged, types.HandshakeEventData{})

		assert.Equal(t, []events.Kind{events.Connect, events.AccountChanged, events.Disconnect}, h.recorder.kinds())
		assert.Equal(t, StateDisconnected, h.session.State())
		assert.Nil(t, h.session.PublicKey())
		assert.False(t, h.surface.Attached())
	})
}

func TestSession_LayoutRequests(t *testing.T) {
	h := newHarness(t, nil)
	h.connectEmbedded(t, testutil.TestPublicKey(18))

	h.surface.DeliverMessage(t, &types.InboundMessage{
		Type:       types.MessageTypeResize,
		ResizeMode: types.ResizeModeCoordinates,
		Params:     json.RawMessage(`{"top":10,"left":20}`),
	})
	h.surface.DeliverEvent(t, types.EventCollapse, nil)

	resizes := h.surface.Resizes()
	require.Len(t, resizes, 1)
	assert.Equal(t, types.ResizeModeCoordinates, resizes[0].Mode)
	assert.JSONEq(t, `{"top":10,"left":20}`, string(resizes[0].Params))
	// one collapse from the handshake, one requested
	assert.Equal(t, 2, h.surface.Collapses())
	assert.Equal(t, StateConnected, h.session.State())
}

func TestSession_ReconnectAfterDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.connectEmbedded(t, testutil.TestPublicKey(19))
	h.surface.DeliverEvent(t, types.EventDisconnect, nil)
	require.Equal(t, StateDisconnected, h.session.State())

	errCh := make(chan error, 1)
	go func() { errCh <- h.session.Connect(context.Background()) }()
	opts := h.surface.WaitAttached(t, waitTimeout)
	assert.Empty(t, opts.PreferredAdapter)

	pk := testutil.TestPublicKey(20)
	h.surface.DeliverEvent(t, types.EventConnect, types.HandshakeEventData{PublicKey: pk.String(), Adapter: "mobile"})
	require.NoError(t, waitErr(t, errCh))
	assert.True(t, h.session.PublicKey().IsEqual(pk))

	pref, err := h.prefs.LoadPreference()
	require.NoError(t, err)
	assert.Equal(t, "mobile", pref.Adapter)
}
