package actor

import (
	"fmt"
	"testing"
	"time"

	adactor "dyson2mqtt/internal/adapter/actor"
	"dyson2mqtt/internal/config"
	"dyson2mqtt/internal/core/domain"
	"dyson2mqtt/internal/util"
	"dyson2mqtt/pkg/dyson"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func spawnTestMaster(t *testing.T) (*actor.ActorSystem, *actor.RootContext, *actor.PID, config.Config) {
	as := actor.NewActorSystem()
	context := as.Root

	cfg := util.LoadTestConfig()
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, func() *adactor.HostMQTTActor {
			return adactor.NewTestHostMQTTActor(&cfg, logger)
		}, func(session config.SessionConfig, identity dyson.DeviceIdentity, host string,
			es *eventstream.EventStream) (actor.Actor, error) {
			return adactor.NewDeviceSessionActor(session, identity, host, es, dyson.CreateTestTransport, logger)
		}, logger)
	})
	pid, err := context.SpawnNamed(props, "master")
	if err != nil {
		t.Fatal(err)
	}
	return as, context, pid, cfg
}

func TestMasterActorHealthCheck(t *testing.T) {

	as, context, pid, _ := spawnTestMaster(t)
	defer as.Shutdown()

	time.Sleep(2 * time.Second)

	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		t.Error(err)
	}
	healthResp, ok := res.(domain.ActorHealthResponse)
	assert.True(t, ok)
	fmt.Printf("Health response: %+v\n", healthResp)
	assert.NotNil(t, healthResp)

	assert.True(t, healthResp.Healthy, "healthy is true")

	context.Stop(pid)
}

func TestMasterActorDeviceRouting(t *testing.T) {

	as, context, pid, _ := spawnTestMaster(t)
	defer as.Shutdown()

	time.Sleep(2 * time.Second)

	// device state through the master
	res, err := context.RequestFuture(pid, domain.GetDeviceStateRequest{Serial: "AB12CD"}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
	}
	stateResp, ok := res.(domain.GetDeviceStateResponse)
	assert.True(t, ok)
	assert.False(t, stateResp.HasResponseError())
	assert.Equal(t, domain.SessionConnected, stateResp.Status)
	power, ok := stateResp.Snapshot.Field(dyson.FeaturePower)
	assert.True(t, ok)
	assert.True(t, power.AsBool())

	// unknown serial
	res, err = context.RequestFuture(pid, domain.GetDeviceStateRequest{Serial: "ZZ99ZZ"}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
	}
	stateResp, ok = res.(domain.GetDeviceStateResponse)
	assert.True(t, ok)
	assert.True(t, stateResp.HasResponseError())

	// command through the master
	res, err = context.RequestFuture(pid, domain.DeviceCommandRequest{
		Serial:  "AB12CD",
		Feature: dyson.FeatureFanSpeed,
		Value:   dyson.Int(7),
	}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
	}
	cmdResp, ok := res.(domain.DeviceCommandResponse)
	assert.True(t, ok)
	assert.False(t, cmdResp.HasResponseError())
	assert.Equal(t, dyson.FeatureFanSpeed, cmdResp.Feature)

	context.Stop(pid)
}

func TestMasterActorListDevices(t *testing.T) {

	as, context, pid, _ := spawnTestMaster(t)
	defer as.Shutdown()

	time.Sleep(2 * time.Second)

	res, err := context.RequestFuture(pid, domain.ListDevicesRequest{}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
	}
	listResp, ok := res.(domain.ListDevicesResponse)
	assert.True(t, ok)
	assert.Len(t, listResp.Devices, 1)
	assert.Equal(t, "AB12CD", listResp.Devices[0].Serial)
	assert.Equal(t, dyson.DeviceTypeTP07, listResp.Devices[0].Type)
	assert.Equal(t, domain.SessionConnected, listResp.Devices[0].Status)

	context.Stop(pid)
}
