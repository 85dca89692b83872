package actor

import (
	"sync"
	"testing"
	"time"

	"dyson2mqtt/internal/core/domain"
	"dyson2mqtt/internal/util"
	"dyson2mqtt/internal/util/actorutil"
	"dyson2mqtt/pkg/dyson"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeTransport struct {
	mu           sync.Mutex
	connectErr   error
	connected    bool
	disconnected bool
	handler      dyson.MessageHandler
	published    []fakePublish
	onLost       func(error)
}

type fakePublish struct {
	topic   string
	payload []byte
}

func (t *fakeTransport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		return t.connectErr
	}
	t.connected = true
	return nil
}

func (t *fakeTransport) Subscribe(topic string, handler dyson.MessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
	return nil
}

func (t *fakeTransport) Publish(topic string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return dyson.ErrNotConnected
	}
	t.published = append(t.published, fakePublish{topic: topic, payload: payload})
	return nil
}

func (t *fakeTransport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	t.disconnected = true
}

func (t *fakeTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *fakeTransport) publishCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.published)
}

func (t *fakeTransport) lastPublished() fakePublish {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.published[len(t.published)-1]
}

func (t *fakeTransport) deliver(topic string, payload []byte) {
	t.mu.Lock()
	handler := t.handler
	t.mu.Unlock()
	if handler != nil {
		handler(topic, payload)
	}
}

// scriptedProvider hands out one fake transport per connect attempt, with
// a scripted error per attempt. Past the script, attempts succeed.
type scriptedProvider struct {
	mu         sync.Mutex
	script     []error
	transports []*fakeTransport
}

func (p *scriptedProvider) provide(_ dyson.DeviceIdentity, _ string, opts dyson.TransportOptions) dyson.Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if len(p.transports) < len(p.script) {
		err = p.script[len(p.transports)]
	}
	t := &fakeTransport{connectErr: err, onLost: opts.OnConnectionLost}
	p.transports = append(p.transports, t)
	return t
}

func (p *scriptedProvider) attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.transports)
}

func (p *scriptedProvider) transport(i int) *fakeTransport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transports[i]
}

func (p *scriptedProvider) current() *fakeTransport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transports[len(p.transports)-1]
}

func testIdentity(t *testing.T) dyson.DeviceIdentity {
	cfg := util.LoadTestConfig()
	identity, err := cfg.Devices[0].Resolve()
	if err != nil {
		t.Fatal(err)
	}
	return identity
}

func spawnSession(t *testing.T, provider *scriptedProvider, maxAttempts uint) (*actor.ActorSystem, *actor.RootContext, *actor.PID, *eventstream.EventStream) {
	cfg := util.LoadTestConfig()
	cfg.Session.MaxConnectAttempts = maxAttempts
	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	es := &eventstream.EventStream{}

	identity := testIdentity(t)

	props := actor.PropsFromProducer(func() actor.Actor {
		act, err := NewDeviceSessionActor(cfg.Session, identity, cfg.Devices[0].Host, es, provider.provide, logger)
		if err != nil {
			t.Error(err)
		}
		return act
	})
	pid := as.Root.Spawn(props)
	return as, as.Root, pid, es
}

func waitForStatus(t *testing.T, context *actor.RootContext, pid *actor.PID, want domain.SessionStatus, timeout time.Duration) domain.GetDeviceStateResponse {
	deadline := time.Now().Add(timeout)
	var last domain.GetDeviceStateResponse
	for time.Now().Before(deadline) {
		result, err := context.RequestFuture(pid, domain.GetDeviceStateRequest{}, 2*time.Second).Result()
		if err == nil {
			last = result.(domain.GetDeviceStateResponse)
			if last.Status == want {
				return last
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("session never reached status %s, last %s", want, last.Status)
	return last
}

func TestDeviceSessionConnectsAfterRetries(t *testing.T) {

	assert := assert.New(t)

	provider := &scriptedProvider{script: []error{dyson.ErrUnreachable, dyson.ErrUnreachable, dyson.ErrUnreachable}}
	as, context, pid, _ := spawnSession(t, provider, 5)

	resp := waitForStatus(t, context, pid, domain.SessionConnected, 5*time.Second)
	assert.Equal(resp.Serial, "AB12CD", "serial")
	assert.Equal(resp.Type, dyson.DeviceTypeTP07, "device type")

	assert.Equal(4, provider.attempts(), "three failures then success")
	// every stale transport torn down before the next attempt
	for i := 0; i < 3; i++ {
		assert.True(provider.transport(i).disconnected, "stale transport torn down")
	}
	// connect requests full state and environmental data
	assert.Equal(2, provider.current().publishCount(), "initial state requests")

	context.Stop(pid)
	as.Shutdown()
}

func TestDeviceSessionFailsAfterMaxAttempts(t *testing.T) {

	assert := assert.New(t)

	provider := &scriptedProvider{script: []error{
		dyson.ErrUnreachable, dyson.ErrUnreachable, dyson.ErrUnreachable, dyson.ErrUnreachable, dyson.ErrUnreachable,
	}}
	as, context, pid, _ := spawnSession(t, provider, 3)

	waitForStatus(t, context, pid, domain.SessionFailed, 5*time.Second)
	assert.Equal(3, provider.attempts(), "stops at max attempts")

	// a failed session refuses commands
	result, err := context.RequestFuture(pid, domain.DeviceCommandRequest{
		Feature: dyson.FeaturePower,
		Value:   dyson.Bool(true),
	}, 2*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	cmdResp := result.(domain.DeviceCommandResponse)
	assert.ErrorIs(cmdResp.GetResponseError(), dyson.ErrNotConnected, "command refused while failed")

	// explicit reset restarts the connect loop with a cleared counter
	provider.mu.Lock()
	provider.script = provider.script[:3]
	provider.mu.Unlock()
	_, err = context.RequestFuture(pid, domain.ResetSessionRequest{}, 2*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, context, pid, domain.SessionConnected, 5*time.Second)

	context.Stop(pid)
	as.Shutdown()
}

func TestDeviceSessionAuthRejectedIsTerminal(t *testing.T) {

	assert := assert.New(t)

	provider := &scriptedProvider{script: []error{dyson.ErrAuthRejected}}
	as, context, pid, _ := spawnSession(t, provider, 5)

	waitForStatus(t, context, pid, domain.SessionFailed, 5*time.Second)
	// no retry on a credential rejection
	assert.Equal(1, provider.attempts(), "single attempt")

	context.Stop(pid)
	as.Shutdown()
}

func TestDeviceSessionCommandValidation(t *testing.T) {

	assert := assert.New(t)

	provider := &scriptedProvider{}
	as, context, pid, _ := spawnSession(t, provider, 5)

	waitForStatus(t, context, pid, domain.SessionConnected, 5*time.Second)
	transport := provider.current()
	baseline := transport.publishCount()

	// out of range: rejected before the transport
	result, err := context.RequestFuture(pid, domain.DeviceCommandRequest{
		Feature: dyson.FeatureFanSpeed,
		Value:   dyson.Int(11),
	}, 2*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	resp := result.(domain.DeviceCommandResponse)
	assert.ErrorIs(resp.GetResponseError(), dyson.ErrValueOutOfRange, "fan speed 11 rejected")
	assert.Equal(baseline, transport.publishCount(), "nothing published for invalid command")

	// in range: encoded and published
	result, err = context.RequestFuture(pid, domain.DeviceCommandRequest{
		Feature: dyson.FeatureFanSpeed,
		Value:   dyson.Int(5),
	}, 2*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	resp = result.(domain.DeviceCommandResponse)
	assert.False(resp.HasResponseError(), "fan speed 5 accepted")
	assert.Equal(baseline+1, transport.publishCount(), "command published")
	last := transport.lastPublished()
	assert.Contains(string(last.payload), "STATE-SET", "state set message")
	assert.Contains(string(last.payload), "0005", "padded fan speed")
	assert.Contains(string(last.payload), "LAPP", "app mode reason")

	context.Stop(pid)
	as.Shutdown()
}

func TestDeviceSessionInboundMerge(t *testing.T) {

	assert := assert.New(t)

	provider := &scriptedProvider{}
	as, context, pid, es := spawnSession(t, provider, 5)

	var mu sync.Mutex
	var stateEvents []domain.DeviceStateChangedEvent
	sub := es.Subscribe(func(evt any) {
		if e, ok := evt.(domain.DeviceStateChangedEvent); ok {
			mu.Lock()
			stateEvents = append(stateEvents, e)
			mu.Unlock()
		}
	})
	defer es.Unsubscribe(sub)

	waitForStatus(t, context, pid, domain.SessionConnected, 5*time.Second)
	transport := provider.current()

	identity := testIdentity(t)
	transport.deliver(identity.StatusTopic(), []byte(`{
		"msg": "CURRENT-STATE",
		"time": "2026-01-01T10:00:00Z",
		"product-state": {
			"fpwr": "ON",
			"auto": "OFF",
			"oson": "OION",
			"fnsp": "0004",
			"nmod": "OFF"
		}
	}`))

	deadline := time.Now().Add(3 * time.Second)
	var snapshot dyson.Snapshot
	for time.Now().Before(deadline) {
		result, err := context.RequestFuture(pid, domain.GetDeviceStateRequest{}, 2*time.Second).Result()
		if err == nil {
			snapshot = result.(domain.GetDeviceStateResponse).Snapshot
			if snapshot.Len() > 0 {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
	}

	power, ok := snapshot.Field(dyson.FeaturePower)
	assert.True(ok, "power present")
	assert.True(power.AsBool(), "power on")
	oson, _ := snapshot.Field(dyson.FeatureOscillation)
	assert.True(oson.AsBool(), "oscillation on")
	speed, _ := snapshot.Field(dyson.FeatureFanSpeed)
	assert.Equal(4, speed.AsInt(), "fan speed")

	// a second identical report changes nothing and emits no event
	before := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(stateEvents)
	}()
	transport.deliver(identity.StatusTopic(), []byte(`{
		"msg": "CURRENT-STATE",
		"time": "2026-01-01T10:00:05Z",
		"product-state": {
			"fpwr": "ON",
			"auto": "OFF",
			"oson": "OION",
			"fnsp": "0004",
			"nmod": "OFF"
		}
	}`))
	time.Sleep(300 * time.Millisecond)
	after := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(stateEvents)
	}()
	assert.Equal(before, after, "idempotent replay emits no change event")

	context.Stop(pid)
	as.Shutdown()
}

func TestDeviceSessionConnectionLostReconnects(t *testing.T) {

	assert := assert.New(t)

	provider := &scriptedProvider{}
	as, context, pid, _ := spawnSession(t, provider, 5)

	waitForStatus(t, context, pid, domain.SessionConnected, 5*time.Second)
	first := provider.current()

	first.onLost(dyson.ErrUnreachable)

	waitForStatus(t, context, pid, domain.SessionConnected, 5*time.Second)
	assert.True(provider.attempts() >= 2, "reconnected on a fresh transport")
	assert.True(first.disconnected, "lost transport torn down")

	context.Stop(pid)
	as.Shutdown()
}
