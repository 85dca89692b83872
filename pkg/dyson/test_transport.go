package dyson

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

func CreateTestTransport(identity DeviceIdentity, host string, opts TransportOptions) Transport {
	return NewTestTransport(identity)
}

// TestTransport simulates a reachable pure cool device: state requests get a
// canned CURRENT-STATE report, telemetry requests a sensor data report, and
// STATE-SET commands echo back as STATE-CHANGE the way real firmware does.
type TestTransport struct {
	identity DeviceIdentity

	mu        sync.Mutex
	connected bool
	handler   MessageHandler
	published [][]byte
}

func NewTestTransport(identity DeviceIdentity) *TestTransport {
	return &TestTransport{identity: identity}
}

func (t *TestTransport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	return nil
}

func (t *TestTransport) Subscribe(topic string, handler MessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return ErrNotConnected
	}
	t.handler = handler
	return nil
}

func (t *TestTransport) Publish(topic string, payload []byte) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return ErrNotConnected
	}
	t.published = append(t.published, payload)
	handler := t.handler
	t.mu.Unlock()

	if handler == nil {
		return nil
	}
	if reply := t.replyFor(payload); reply != nil {
		go handler(t.identity.StatusTopic(), reply)
	}
	return nil
}

func (t *TestTransport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	t.handler = nil
}

func (t *TestTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *TestTransport) Published() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.published...)
}

func (t *TestTransport) replyFor(payload []byte) []byte {
	raw := string(payload)
	now := MQTTTime(time.Now())
	switch {
	case strings.Contains(raw, MessageRequestEnvironmental):
		reply, _ := json.Marshal(map[string]any{
			"msg":  MessageEnvironmental,
			"time": now,
			"data": map[string]string{
				"tact": "2950",
				"hact": "0042",
				"pm25": "0003",
				"pm10": "0005",
				"va10": "0004",
				"noxl": "0011",
				"sltm": "OFF",
			},
		})
		return reply
	case strings.Contains(raw, MessageRequestState):
		reply, _ := json.Marshal(map[string]any{
			"msg":  MessageCurrentState,
			"time": now,
			"product-state": map[string]string{
				"fpwr": "ON",
				"fnst": "FAN",
				"fnsp": "0004",
				"auto": "OFF",
				"nmod": "OFF",
				"oson": "OFF",
				"fdir": "ON",
				"rhtm": "ON",
				"nmdv": "0004",
				"osal": "0090",
				"osau": "0180",
				"cflr": "0088",
				"hflr": "0096",
				"ercd": "NONE",
				"wacd": "NONE",
			},
		})
		return reply
	case strings.Contains(raw, MessageStateSet):
		var cmd struct {
			Data map[string]string `json:"data"`
		}
		if err := json.Unmarshal(payload, &cmd); err != nil || len(cmd.Data) == 0 {
			return nil
		}
		changed := make(map[string][2]string, len(cmd.Data))
		for field, value := range cmd.Data {
			changed[field] = [2]string{"OFF", value}
		}
		reply, _ := json.Marshal(map[string]any{
			"msg":           MessageStateChange,
			"time":          now,
			"product-state": changed,
		})
		return reply
	default:
		return nil
	}
}
