package actor

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"dyson2mqtt/internal/config"
	"dyson2mqtt/internal/core/domain"
	. "dyson2mqtt/internal/util/actorutil"
	"dyson2mqtt/pkg/dyson"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// TransportProvider builds the transport for one connection attempt. Tests
// swap it for a fake.
type TransportProvider func(identity dyson.DeviceIdentity, host string, opts dyson.TransportOptions) dyson.Transport

// DeviceSessionActor owns one device session end to end: transport
// lifecycle, inbound decode + merge, outbound commands. Device firmware
// keeps half-open connections in a small pool, so every reconnect tears the
// previous transport down first and reconnect pacing stays on this side.
type DeviceSessionActor struct {
	ActorWithStates
	scheduler    *scheduler.TimerScheduler
	stash        *Stash
	session      config.SessionConfig
	identity     dyson.DeviceIdentity
	host         string
	codec        *dyson.Codec
	snapshot     dyson.Snapshot
	transport    dyson.Transport
	generation   int
	newTransport TransportProvider
	eventStream  *eventstream.EventStream
	status       domain.SessionStatus
	attempts     uint

	logger *zap.Logger
}

type sessionEstablished struct {
	generation int
}

type sessionConnectFailed struct {
	generation int
	err        error
}

type inboundMessage struct {
	generation int
	topic      string
	payload    []byte
}

type connectionLost struct {
	generation int
	err        error
}

type connectTick struct {
}

type pollTick struct {
}

type commandPublished struct {
	replyTo *actor.PID
	feature dyson.FeatureFlag
	err     error
}

func NewDeviceSessionActor(sessionCfg config.SessionConfig, identity dyson.DeviceIdentity, host string,
	eventStream *eventstream.EventStream, provider TransportProvider, logger *zap.Logger) (*DeviceSessionActor, error) {

	codec, err := dyson.NewCodec(identity.Type)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		provider = dyson.NewMQTTTransport
	}
	act := &DeviceSessionActor{
		session:      sessionCfg,
		identity:     identity,
		host:         host,
		codec:        codec,
		snapshot:     dyson.NewSnapshot(identity.Serial),
		newTransport: provider,
		eventStream:  eventStream,
		status:       domain.SessionDisconnected,
		stash:        &Stash{},
		logger:       ActorLogger(domain.DeviceActorId(identity.Serial), logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(DSStartingState{actor: act})
	return act, nil
}

func (state *DeviceSessionActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

func (state *DeviceSessionActor) setStatus(status domain.SessionStatus) {
	if status == state.status {
		return
	}
	prev := state.status
	state.status = status
	state.logger.Info("session status", zap.String("from", prev.String()), zap.String("to", status.String()))
	if state.eventStream != nil {
		state.eventStream.Publish(domain.SessionStatusChangedEvent{
			Serial:   state.identity.Serial,
			Previous: prev,
			Current:  status,
			At:       time.Now(),
		})
	}
}

// teardownTransport drops the current transport and bumps the generation so
// callbacks from the dead transport get ignored.
func (state *DeviceSessionActor) teardownTransport() dyson.Transport {
	old := state.transport
	state.transport = nil
	state.generation++
	return old
}

// backoffDelay is exponential on the consecutive failure count, bounded by
// the configured maximum, with jitter in the upper half of the window.
func (state *DeviceSessionActor) backoffDelay() time.Duration {
	minD := time.Duration(state.session.BackoffMinMillis) * time.Millisecond
	maxD := time.Duration(state.session.BackoffMaxMillis) * time.Millisecond
	d := minD
	for i := uint(1); i < state.attempts && d < maxD; i++ {
		d *= 2
	}
	if d > maxD {
		d = maxD
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(half)+1))
}

func (state *DeviceSessionActor) connectTimeout() time.Duration {
	return time.Duration(state.session.ConnectTimeoutMillis) * time.Millisecond
}

func (state *DeviceSessionActor) commandTimeout() time.Duration {
	return time.Duration(state.session.CommandTimeoutMillis) * time.Millisecond
}

func (state *DeviceSessionActor) pollInterval() time.Duration {
	return time.Duration(state.session.PollIntervalMillis) * time.Millisecond
}

// startConnect opens a fresh transport off the actor loop: teardown of the
// stale handle, connect, status topic subscribe, initial state and
// environmental requests.
func (state *DeviceSessionActor) startConnect(ctx actor.Context) {
	old := state.teardownTransport()
	gen := state.generation
	self := ctx.Self()
	root := ctx.ActorSystem().Root

	transport := state.newTransport(state.identity, state.host, dyson.TransportOptions{
		ConnectTimeout: state.connectTimeout(),
		RequestTimeout: state.commandTimeout(),
		OnConnectionLost: func(err error) {
			root.Send(self, connectionLost{generation: gen, err: err})
		},
	})
	state.transport = transport

	statusTopic := state.identity.StatusTopic()
	commandTopic := state.identity.CommandTopic()
	stateReq := state.codec.EncodeStateRequest()
	envReq := state.codec.EncodeTelemetryRequest()

	NewBackgroundTask(ctx, func() (*sessionEstablished, error) {
		if old != nil {
			old.Disconnect()
		}
		if err := transport.Connect(); err != nil {
			return nil, err
		}
		if err := transport.Subscribe(statusTopic, func(topic string, payload []byte) {
			root.Send(self, inboundMessage{generation: gen, topic: topic, payload: payload})
		}); err != nil {
			transport.Disconnect()
			return nil, err
		}
		if err := transport.Publish(commandTopic, stateReq); err != nil {
			transport.Disconnect()
			return nil, err
		}
		if err := transport.Publish(commandTopic, envReq); err != nil {
			transport.Disconnect()
			return nil, err
		}
		return &sessionEstablished{generation: gen}, nil
	}).OnError(func(err error) {
		root.Send(self, sessionConnectFailed{generation: gen, err: err})
	}).PipeTo(ctx.Self())
}

func (state *DeviceSessionActor) respondNotConnected(ctx actor.Context, msg domain.DeviceCommandRequest) {
	ForRequest(msg).Respond(ctx, domain.DeviceCommandResponse{
		ActorResponseMixIn: domain.ActorResponseMixIn{
			ResponseError: fmt.Errorf("%w: session is %s", dyson.ErrNotConnected, state.status),
		},
		Serial:  state.identity.Serial,
		Feature: msg.Feature,
	})
}

func (state *DeviceSessionActor) respondState(ctx actor.Context, msg domain.GetDeviceStateRequest) {
	ForRequest(msg).Respond(ctx, domain.GetDeviceStateResponse{
		Serial:   state.identity.Serial,
		Type:     state.identity.Type,
		Status:   state.status,
		Snapshot: state.snapshot,
	})
}

func (state *DeviceSessionActor) respondHealth(ctx actor.Context, healthy bool) {
	ctx.Respond(domain.ActorHealthResponse{
		Id:      domain.DeviceActorId(state.identity.Serial),
		Healthy: healthy,
		State:   state.status.String(),
	})
}

// handleInbound decodes a device report and merges it into the snapshot.
// Undecodable payloads are logged and dropped, never fatal.
func (state *DeviceSessionActor) handleInbound(ctx actor.Context, msg inboundMessage) {
	if msg.generation != state.generation {
		return
	}
	event, err := state.codec.Decode(msg.payload)
	if err != nil {
		state.logger.Warn("undecodable device message", zap.String("topic", msg.topic), zap.Error(err))
		return
	}
	profile := state.codec.Profile()
	merged, changed := dyson.Merge(profile, state.snapshot, event)
	state.snapshot = merged

	switch ev := event.(type) {
	case dyson.StateEvent:
		if len(ev.Dropped) > 0 {
			state.logger.Debug("dropped fields outside capability profile", zap.Strings("fields", ev.Dropped))
		}
		if len(changed) > 0 && state.eventStream != nil {
			state.eventStream.Publish(domain.DeviceStateChangedEvent{
				Serial:   state.identity.Serial,
				Type:     state.identity.Type,
				Changed:  changed,
				Snapshot: state.snapshot,
			})
		}
	case dyson.TelemetryEvent:
		if state.eventStream != nil {
			state.eventStream.Publish(domain.DeviceTelemetryEvent{
				Serial:      state.identity.Serial,
				Type:        state.identity.Type,
				At:          ev.At,
				Readings:    ev.Readings,
				Unavailable: ev.Unavailable,
			})
		}
	}
}

// Starting state

type DSStartingState struct {
	ActorState
	actor *DeviceSessionActor
}

func (state DSStartingState) Name() string {
	return "starting"
}

func (state DSStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("device@starting started")
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		state.actor.Become(DSConnectingState{actor: state.actor}.OnEnter(ctx))
	case *actor.Restarting:
	default:
		state.actor.logger.Debug("device@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Connecting state

type DSConnectingState struct {
	ActorState
	actor *DeviceSessionActor
}

func (state DSConnectingState) Name() string {
	return "connecting"
}

func (state DSConnectingState) OnEnter(ctx actor.Context) DSConnectingState {
	if state.actor.attempts == 0 {
		state.actor.setStatus(domain.SessionConnecting)
	} else {
		state.actor.setStatus(domain.SessionReconnecting)
	}
	state.actor.startConnect(ctx)
	return state
}

func (state DSConnectingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case sessionEstablished:
		if msg.generation != state.actor.generation {
			return
		}
		state.actor.logger.Info("device connected", zap.String("host", state.actor.host))
		state.actor.attempts = 0
		state.actor.setStatus(domain.SessionConnected)
		state.actor.Become(DSConnectedState{actor: state.actor}.OnEnter(ctx))
		state.actor.stash.UnstashAll(ctx)
	case sessionConnectFailed:
		if msg.generation != state.actor.generation {
			return
		}
		state.actor.handleConnectFailure(ctx, msg.err)
	case domain.DeviceCommandRequest:
		state.actor.respondNotConnected(ctx, msg)
	case domain.GetDeviceStateRequest:
		state.actor.respondState(ctx, msg)
	case domain.ActorHealthRequest:
		state.actor.respondHealth(ctx, true)
	case inboundMessage:
		// the status subscription can deliver before sessionEstablished
		state.actor.handleInbound(ctx, msg)
	case *actor.Stopping:
		state.actor.shutdown()
	case *actor.Restarting:
		state.actor.shutdown()
	case connectionLost, connectTick, pollTick:
	default:
		state.actor.logger.Debug("device@connecting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

func (state *DeviceSessionActor) handleConnectFailure(ctx actor.Context, err error) {
	if errors.Is(err, dyson.ErrAuthRejected) {
		// wrong credential, retrying cannot help
		state.logger.Error("device rejected credentials", zap.Error(err))
		state.teardownTransport()
		state.setStatus(domain.SessionFailed)
		state.Become(DSFailedState{actor: state})
		state.stash.UnstashAll(ctx)
		return
	}
	state.attempts++
	state.logger.Warn("device unreachable", zap.Uint("attempt", state.attempts), zap.Error(err))
	if state.session.MaxConnectAttempts > 0 && state.attempts >= state.session.MaxConnectAttempts {
		state.logger.Error("giving up after consecutive failed connect attempts", zap.Uint("attempts", state.attempts))
		state.teardownTransport()
		state.setStatus(domain.SessionFailed)
		state.Become(DSFailedState{actor: state})
		state.stash.UnstashAll(ctx)
		return
	}
	delay := state.backoffDelay()
	state.logger.Info("scheduling reconnect", zap.Duration("delay", delay))
	state.scheduler.RequestOnce(delay, ctx.Self(), connectTick{})
	state.setStatus(domain.SessionReconnecting)
	state.Become(DSBackoffState{actor: state})
}

// Backoff state, waiting for the reconnect timer

type DSBackoffState struct {
	ActorState
	actor *DeviceSessionActor
}

func (state DSBackoffState) Name() string {
	return "backoff"
}

func (state DSBackoffState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case connectTick:
		state.actor.Become(DSConnectingState{actor: state.actor}.OnEnter(ctx))
	case domain.DeviceCommandRequest:
		state.actor.respondNotConnected(ctx, msg)
	case domain.GetDeviceStateRequest:
		state.actor.respondState(ctx, msg)
	case domain.ActorHealthRequest:
		state.actor.respondHealth(ctx, true)
	case domain.ResetSessionRequest:
		state.actor.attempts = 0
		ForRequest(msg).Respond(ctx, domain.ResetSessionResponse{Serial: state.actor.identity.Serial})
		state.actor.Become(DSConnectingState{actor: state.actor}.OnEnter(ctx))
	case *actor.Stopping:
		state.actor.shutdown()
	case *actor.Restarting:
		state.actor.shutdown()
	case connectionLost, inboundMessage, pollTick:
	case sessionEstablished, sessionConnectFailed:
	default:
		state.actor.logger.Debug("device@backoff ignore", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Connected state

type DSConnectedState struct {
	ActorState
	actor *DeviceSessionActor
}

func (state DSConnectedState) Name() string {
	return "connected"
}

func (state DSConnectedState) OnEnter(ctx actor.Context) DSConnectedState {
	if state.actor.pollInterval() > 0 {
		state.actor.scheduler.RequestOnce(state.actor.pollInterval(), ctx.Self(), pollTick{})
	}
	return state
}

func (state DSConnectedState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case inboundMessage:
		state.actor.handleInbound(ctx, msg)
	case domain.DeviceCommandRequest:
		state.actor.publishCommand(ctx, msg)
	case domain.GetDeviceStateRequest:
		state.actor.respondState(ctx, msg)
	case domain.RefreshDeviceStateRequest:
		state.actor.requestDeviceState(ctx)
	case pollTick:
		state.actor.requestDeviceState(ctx)
		if state.actor.pollInterval() > 0 {
			state.actor.scheduler.RequestOnce(state.actor.pollInterval(), ctx.Self(), pollTick{})
		}
	case domain.ActorHealthRequest:
		state.actor.respondHealth(ctx, true)
	case domain.ResetSessionRequest:
		ForRequest(msg).Respond(ctx, domain.ResetSessionResponse{Serial: state.actor.identity.Serial})
	case connectionLost:
		if msg.generation != state.actor.generation {
			return
		}
		state.actor.logger.Warn("device connection lost", zap.Error(msg.err))
		state.actor.attempts = 0
		state.actor.setStatus(domain.SessionReconnecting)
		state.actor.Become(DSConnectingState{actor: state.actor}.OnEnter(ctx))
	case *actor.Stopping:
		state.actor.shutdown()
	case *actor.Restarting:
		state.actor.shutdown()
	case sessionEstablished, sessionConnectFailed, connectTick:
	default:
		state.actor.logger.Debug("device@connected ignore", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// publishCommand validates against the capability profile, encodes and
// publishes off the actor loop. One command in flight at a time.
func (state *DeviceSessionActor) publishCommand(ctx actor.Context, msg domain.DeviceCommandRequest) {
	replyTo := ForRequest(msg).ReplyTo(ctx)
	payload, err := state.codec.Encode(dyson.CommandRequest{Feature: msg.Feature, Value: msg.Value})
	if err != nil {
		// invalid feature or value, nothing reaches the transport
		state.logger.Warn("rejected command", zap.String("feature", string(msg.Feature)), zap.Error(err))
		ctx.Send(replyTo, domain.DeviceCommandResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
			Serial:             state.identity.Serial,
			Feature:            msg.Feature,
		})
		return
	}
	transport := state.transport
	topic := state.identity.CommandTopic()
	self := ctx.Self()
	root := ctx.ActorSystem().Root
	feature := msg.Feature
	NewBackgroundTaskNoError(ctx, func() *commandPublished {
		err := transport.Publish(topic, payload)
		return &commandPublished{replyTo: replyTo, feature: feature, err: err}
	}).WithTimeout(state.commandTimeout() + time.Second).OnError(func(err error) {
		root.Send(self, commandPublished{replyTo: replyTo, feature: feature, err: err})
	}).PipeTo(ctx.Self())
	state.BecomeStacked(DSPublishingState{actor: state})
}

func (state *DeviceSessionActor) requestDeviceState(ctx actor.Context) {
	transport := state.transport
	topic := state.identity.CommandTopic()
	stateReq := state.codec.EncodeStateRequest()
	envReq := state.codec.EncodeTelemetryRequest()
	NewBackgroundTaskNoError(ctx, func() *commandPublished {
		if err := transport.Publish(topic, stateReq); err != nil {
			return &commandPublished{err: err}
		}
		err := transport.Publish(topic, envReq)
		return &commandPublished{err: err}
	}).WithTimeout(state.commandTimeout() + time.Second).Run()
}

// Publishing state, stacked on top of connected while one command is in
// flight

type DSPublishingState struct {
	ActorState
	actor *DeviceSessionActor
}

func (state DSPublishingState) Name() string {
	return "publishing"
}

func (state DSPublishingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case commandPublished:
		if msg.err != nil {
			state.actor.logger.Error("command publish failed", zap.String("feature", string(msg.feature)), zap.Error(msg.err))
		}
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, domain.DeviceCommandResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: msg.err},
				Serial:             state.actor.identity.Serial,
				Feature:            msg.feature,
			})
		}
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashOldest(ctx)
	case inboundMessage:
		state.actor.handleInbound(ctx, msg)
	default:
		state.actor.logger.Debug("device@publishing stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Failed state, terminal until an explicit reset

type DSFailedState struct {
	ActorState
	actor *DeviceSessionActor
}

func (state DSFailedState) Name() string {
	return "failed"
}

func (state DSFailedState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.DeviceCommandRequest:
		state.actor.respondNotConnected(ctx, msg)
	case domain.GetDeviceStateRequest:
		state.actor.respondState(ctx, msg)
	case domain.ActorHealthRequest:
		state.actor.respondHealth(ctx, false)
	case domain.ResetSessionRequest:
		state.actor.logger.Info("session reset requested")
		state.actor.attempts = 0
		ForRequest(msg).Respond(ctx, domain.ResetSessionResponse{Serial: state.actor.identity.Serial})
		state.actor.Become(DSConnectingState{actor: state.actor}.OnEnter(ctx))
	case *actor.Stopping:
		state.actor.shutdown()
	case *actor.Restarting:
		state.actor.shutdown()
	case connectionLost, inboundMessage, connectTick, pollTick:
	case sessionEstablished, sessionConnectFailed:
	default:
		state.actor.logger.Debug("device@failed ignore", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *DeviceSessionActor) shutdown() {
	old := state.teardownTransport()
	if old != nil {
		old.Disconnect()
	}
	state.setStatus(domain.SessionDisconnected)
}
