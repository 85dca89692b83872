package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"dyson2mqtt/internal/config"
	"dyson2mqtt/pkg/dyson"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
)

type Server struct {
	port        uint
	httpLog     bool
	rootContext *actor.RootContext
	masterActor *actor.PID
	profiles    map[string]dyson.CapabilityProfile
}

func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID) *http.Server {
	NewServer := &Server{
		port:        cfg.Port,
		rootContext: rootContext,
		masterActor: masterActor,
		httpLog:     cfg.HttpLog,
		profiles:    resolveProfiles(cfg),
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}

// resolveProfiles maps serials to capability profiles so command payloads
// can be validated without a round-trip to the session actor. Resolution is
// pure, config errors surface at actor startup.
func resolveProfiles(cfg config.Config) map[string]dyson.CapabilityProfile {
	profiles := make(map[string]dyson.CapabilityProfile, len(cfg.Devices))
	for _, d := range cfg.Devices {
		identity, err := d.Resolve()
		if err != nil {
			continue
		}
		profile, err := dyson.Lookup(identity.Type)
		if err != nil {
			continue
		}
		profiles[identity.Serial] = profile
	}
	return profiles
}

func (s *Server) profileFor(serial string) (dyson.CapabilityProfile, bool) {
	profile, ok := s.profiles[strings.ToUpper(serial)]
	return profile, ok
}
