package actor

import (
	"context"
	"sync"
	"testing"
	"time"

	"dyson2mqtt/internal/core/domain"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type refreshRecorder struct {
	mu    sync.Mutex
	count int
}

func (r *refreshRecorder) Receive(ctx pactor.Context) {
	if _, ok := ctx.Message().(domain.RefreshDeviceStateRequest); ok {
		r.mu.Lock()
		r.count++
		r.mu.Unlock()
	}
}

func (r *refreshRecorder) broadcasts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func TestRefreshSchedulerBroadcasts(t *testing.T) {

	as := pactor.NewActorSystem()
	defer as.Shutdown()

	recorder := &refreshRecorder{}
	pid := as.Root.Spawn(pactor.PropsFromProducer(func() pactor.Actor {
		return recorder
	}))

	refresh := NewRefreshScheduler(as, pid, 200*time.Millisecond, zap.Must(zap.NewDevelopment()))
	if err := refresh.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	time.Sleep(1 * time.Second)
	refresh.Stop()

	seen := recorder.broadcasts()
	assert.GreaterOrEqual(t, seen, 2, "periodic refresh broadcasts")

	// no further broadcasts once stopped
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, seen, recorder.broadcasts(), "stopped scheduler is quiet")

	as.Root.Stop(pid)
}
