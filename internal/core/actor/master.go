package actor

import (
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"time"

	adactor "dyson2mqtt/internal/adapter/actor"
	"dyson2mqtt/internal/config"
	"dyson2mqtt/internal/core/domain"
	"dyson2mqtt/internal/core/events"
	"dyson2mqtt/internal/mqtt"
	. "dyson2mqtt/internal/util/actorutil"
	"dyson2mqtt/pkg/dyson"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type HostMQTTActorProvider func() *adactor.HostMQTTActor

type DeviceActorProvider func(session config.SessionConfig, identity dyson.DeviceIdentity, host string,
	eventStream *eventstream.EventStream) (actor.Actor, error)

type managedDevice struct {
	identity dyson.DeviceIdentity
	host     string
	profile  dyson.CapabilityProfile
	pid      *actor.PID
	status   domain.SessionStatus
}

type sensorRef struct {
	serial string
	flag   dyson.FeatureFlag
	spec   dyson.FeatureSpec
}

// MasterOfPuppetsActor supervises the host broker actor and one session
// actor per configured device, and routes between them: device events out
// to the host broker, host broker commands in to the right session.
type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck healthCheckResult
	eventStream        *eventstream.EventStream
	eventStreamSub     *eventstream.Subscription
	mqttActor          *actor.PID
	devices            map[string]*managedDevice
	sensorIndex        map[string]sensorRef
	mqttActorProvider  HostMQTTActorProvider
	deviceProvider     DeviceActorProvider
	logger             *zap.Logger
}

type healthCheckResult struct {
	expected       int
	checksReceived int
	unhealthy      int
	respondTo      *actor.PID
}

type OnEventStreamMessage struct {
	message any
}

func NewMasterOfPuppetsActor(config config.Config, mqttActorProvider HostMQTTActorProvider,
	deviceProvider DeviceActorProvider, logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:            config,
		behavior:          actor.NewBehavior(),
		stash:             &Stash{},
		logger:            ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:       &eventstream.EventStream{},
		devices:           make(map[string]*managedDevice),
		sensorIndex:       make(map[string]sensorRef),
		mqttActorProvider: mqttActorProvider,
		deviceProvider:    deviceProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		if err := state.resolveDevices(); err != nil {
			panic(err)
		}

		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		for _, dev := range state.devices {
			pid, err := state.startDeviceActor(ctx, dev)
			if err != nil {
				panic(err)
			}
			dev.pid = pid
		}

		if state.config.MQTT.HADiscoveryEnable {
			if _, err := state.startHADiscoveryActor(ctx); err != nil {
				panic(err)
			}
		}

		state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
			ctx.Send(ctx.Self(), OnEventStreamMessage{message: value})
		})

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// resolveDevices turns config entries into identities and capability
// profiles. A device that cannot be resolved is a config error, not a
// runtime condition.
func (state *MasterOfPuppetsActor) resolveDevices() error {
	for _, d := range state.config.Devices {
		if err := d.Validate(); err != nil {
			return err
		}
		identity, err := d.Resolve()
		if err != nil {
			return err
		}
		profile, err := dyson.Lookup(identity.Type)
		if err != nil {
			return err
		}
		state.devices[identity.Serial] = &managedDevice{
			identity: identity,
			host:     d.Host,
			profile:  profile,
			status:   domain.SessionDisconnected,
		}
		for flag, spec := range profile.Features {
			if spec.Writable {
				state.sensorIndex[events.SensorId(identity.Serial, flag)] = sensorRef{
					serial: identity.Serial,
					flag:   flag,
					spec:   spec,
				}
			}
		}
	}
	return nil
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Stopping:
		if state.eventStreamSub != nil {
			state.eventStream.Unsubscribe(state.eventStreamSub)
			state.eventStreamSub = nil
		}
	case OnEventStreamMessage:
		state.handleEventStreamMessage(ctx, msg.message)
	case adactor.ParsedCommand:
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command != nil {
			state.routeParsedCommand(ctx, *msg.Command)
		}
	case domain.DeviceCommandRequest:
		state.routeToDevice(ctx, msg.Serial, msg)
	case domain.GetDeviceStateRequest:
		state.routeToDevice(ctx, msg.Serial, msg)
	case domain.ResetSessionRequest:
		state.routeToDevice(ctx, msg.Serial, msg)
	case domain.ListDevicesRequest:
		summaries := make([]domain.DeviceSummary, 0, len(state.devices))
		for _, dev := range state.devices {
			summaries = append(summaries, domain.DeviceSummary{
				Serial: dev.identity.Serial,
				Type:   dev.identity.Type,
				Status: dev.status,
			})
		}
		ForRequest(msg).Respond(ctx, domain.ListDevicesResponse{Devices: summaries})
	case domain.RefreshDeviceStateRequest:
		// broadcast, sessions that are not connected ignore it
		state.logger.Debug("master@default refresh broadcast")
		for _, dev := range state.devices {
			ctx.Send(dev.pid, msg)
		}
	case domain.DeviceCommandResponse:
		if msg.HasResponseError() {
			state.logger.Warn("master@default device command failed",
				zap.String("serial", msg.Serial), zap.String("feature", string(msg.Feature)), zap.Error(msg.GetResponseError()))
		}
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.startHealthCheck(ctx)
	case *actor.Terminated:
		if msg.Who.Id == fmt.Sprintf("%s/%s", domain.ACTOR_ID_MASTER, domain.ACTOR_ID_HOST_MQTT) {
			state.logger.Error("master@default host mqtt terminated")
			panic(errors.New("host mqtt terminated"))
		}
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// handleEventStreamMessage fans device events out to the host broker as
// entity updates.
func (state *MasterOfPuppetsActor) handleEventStreamMessage(ctx actor.Context, message any) {
	switch ev := message.(type) {
	case domain.DeviceStateChangedEvent:
		dev, ok := state.devices[ev.Serial]
		if !ok {
			return
		}
		state.sendUpdateEvents(ctx, events.ChangedFieldsToUpdateEvents(ev.Serial, dev.profile, ev.Snapshot, ev.Changed), true)
	case domain.DeviceTelemetryEvent:
		dev, ok := state.devices[ev.Serial]
		if !ok {
			return
		}
		state.sendUpdateEvents(ctx, events.TelemetryToUpdateEvents(ev.Serial, dev.profile, ev), false)
	case domain.SessionStatusChangedEvent:
		if dev, ok := state.devices[ev.Serial]; ok {
			dev.status = ev.Current
		}
		state.sendUpdateEvents(ctx, events.SessionStatusToUpdateEvents(ev.Serial, ev.Current), true)
	}
}

func (state *MasterOfPuppetsActor) sendUpdateEvents(ctx actor.Context, updates []any, retain bool) {
	for _, update := range updates {
		if sue, ok := update.(domain.SensorUpdateEvent); ok {
			ctx.Send(state.mqttActor, domain.PublishSensorUpdateRequest{
				Retain: retain,
				Event:  sue,
			})
		}
	}
}

// routeParsedCommand maps a host broker command topic back to a device
// feature write.
func (state *MasterOfPuppetsActor) routeParsedCommand(ctx actor.Context, cmd mqtt.ParsedMQTTCommand) {
	ref, ok := state.sensorIndex[cmd.SensorId]
	if !ok {
		state.logger.Debug("master@default command for unknown sensor", zap.String("sensorId", cmd.SensorId))
		return
	}
	value, err := state.parseCommandValue(ref.spec, cmd.Command, cmd.Payload)
	if err != nil {
		state.logger.Warn("master@default unparseable command payload",
			zap.String("sensorId", cmd.SensorId), zap.String("payload", cmd.Payload), zap.Error(err))
		return
	}
	dev := state.devices[ref.serial]
	ctx.Request(dev.pid, domain.DeviceCommandRequest{
		Serial:  ref.serial,
		Feature: ref.flag,
		Value:   value,
	})
}

func (state *MasterOfPuppetsActor) parseCommandValue(spec dyson.FeatureSpec, command, payload string) (dyson.Value, error) {
	if command == "number" {
		// HA publishes numbers with decimals
		f, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return dyson.Value{}, err
		}
		return dyson.Int(int(math.Round(f))), nil
	}
	return dyson.ParseValue(spec, payload)
}

func (state *MasterOfPuppetsActor) routeToDevice(ctx actor.Context, serial string, msg any) {
	dev, ok := state.devices[serial]
	if !ok {
		err := fmt.Errorf("%w: no configured device with serial %s", dyson.ErrUnknownDeviceType, serial)
		switch req := msg.(type) {
		case domain.DeviceCommandRequest:
			ForRequest(req).Respond(ctx, domain.DeviceCommandResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
				Serial:             serial,
			})
		case domain.GetDeviceStateRequest:
			ForRequest(req).Respond(ctx, domain.GetDeviceStateResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
				Serial:             serial,
			})
		case domain.ResetSessionRequest:
			ForRequest(req).Respond(ctx, domain.ResetSessionResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
				Serial:             serial,
			})
		}
		return
	}
	ctx.RequestWithCustomSender(dev.pid, msg, ctx.Sender())
}

func (state *MasterOfPuppetsActor) startHealthCheck(ctx actor.Context) {
	state.currentHealthCheck = healthCheckResult{
		expected:  1 + len(state.devices),
		respondTo: ctx.Sender(),
	}
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
		return domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_HOST_MQTT,
			Healthy: false,
		}
	})
	for _, dev := range state.devices {
		id := domain.DeviceActorId(dev.identity.Serial)
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(dev.pid, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      id,
				Healthy: false,
			}
		})
	}
	ctx.SetReceiveTimeout(1 * time.Second)
	state.behavior.BecomeStacked(state.HealthCheckReceive)
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// a silent child counts as unhealthy
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if !msg.Healthy {
			state.currentHealthCheck.unhealthy++
		}
		if state.currentHealthCheck.allReceived() {
			state.currentHealthCheck.respond(ctx)
			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider()
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_HOST_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

func (state *MasterOfPuppetsActor) startDeviceActor(ctx actor.Context, dev *managedDevice) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	deviceProps := actor.PropsFromProducer(func() actor.Actor {
		act, err := state.deviceProvider(state.config.Session, dev.identity, dev.host, state.eventStream)
		if err != nil {
			panic(err)
		}
		return act
	}, actor.WithSupervisor(supervisor))
	devicePID, err := ctx.SpawnNamed(deviceProps, domain.DeviceActorId(dev.identity.Serial))
	if err != nil {
		return nil, err
	}

	return devicePID, nil
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	devices := make([]discoveredDevice, 0, len(state.devices))
	for _, dev := range state.devices {
		devices = append(devices, discoveredDevice{
			identity: dev.identity,
			profile:  dev.profile,
		})
	}

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, devices, state.mqttActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	haDiscPID, err := ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
	if err != nil {
		return nil, err
	}

	return haDiscPID, nil
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == state.expected
}

func (state *healthCheckResult) allHealthy() bool {
	return state.unhealthy == 0 && state.allReceived()
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
