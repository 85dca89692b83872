package actor

import (
	"errors"
	"fmt"
	"time"

	"dyson2mqtt/internal/config"
	"dyson2mqtt/internal/core/domain"
	"dyson2mqtt/internal/core/events"
	"dyson2mqtt/internal/util/actorutil"
	"dyson2mqtt/pkg/dyson"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

type discoveredDevice struct {
	identity dyson.DeviceIdentity
	profile  dyson.CapabilityProfile
}

// HADiscoveryActor publishes the Home Assistant discovery documents once
// the host broker connection is up, then goes quiet.
type HADiscoveryActor struct {
	config    *config.Config
	behavior  actor.Behavior
	stash     *actorutil.Stash
	devices   []discoveredDevice
	mqttActor *actor.PID

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, devices []discoveredDevice, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:    config,
		devices:   devices,
		mqttActor: mqttActor,
		behavior:  actor.NewBehavior(),
		stash:     &actorutil.Stash{},
		logger:    actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		// Check MQTT actor healthy. Discovery only needs the host broker,
		// entities derive from the capability profiles.
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_HOST_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			panic(errors.New("host MQTT actor is not healthy"))
		}
		state.publishDiscovery(ctx)
		state.behavior.Become(state.Done)
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {

}

func (state *HADiscoveryActor) publishDiscovery(ctx actor.Context) {

	var sensors []domain.GenericSensor
	var switches []domain.GenericSwitch
	var selects []domain.GenericSelect
	var inputNumbers []domain.GenericInputNumber

	bridgeDevice := events.BridgeDevice(state.config.MQTT.BaseTopic)
	bridgeSensors := events.BridgeSensors(bridgeDevice)
	sensors = append(sensors, bridgeSensors...)

	for _, dev := range state.devices {
		device := events.DysonDevice(dev.identity, bridgeDevice)
		devSensors, devSwitches, devSelects, devInputNumbers := events.DeviceEntities(device, dev.identity.Serial, dev.profile)

		// only the first entity carries the full device document
		first := true
		for i := range devSensors {
			if !first {
				devSensors[i].Device = events.IdDevice(device)
			}
			first = false
			sensors = append(sensors, devSensors[i])
		}
		for i := range devSwitches {
			if !first {
				devSwitches[i].Device = events.IdDevice(device)
			}
			first = false
			switches = append(switches, devSwitches[i])
		}
		for i := range devSelects {
			if !first {
				devSelects[i].Device = events.IdDevice(device)
			}
			first = false
			selects = append(selects, devSelects[i])
		}
		for i := range devInputNumbers {
			if !first {
				devInputNumbers[i].Device = events.IdDevice(device)
			}
			first = false
			inputNumbers = append(inputNumbers, devInputNumbers[i])
		}
	}

	ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
		Sensors:      sensors,
		Switches:     switches,
		Selects:      selects,
		InputNumbers: inputNumbers,
	})
}
