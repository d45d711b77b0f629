package alerts

import (
	"fmt"
	"sync"

	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/repositories/models"
	"github.com/pondwatch/pond-monitor/internal/pkg/protocol"
)

//Transition is the outcome of evaluating one sample against its threshold setting
type Transition int

const (
	//None means the channel stayed on the same side of its bounds
	None Transition = iota
	//Entered means the channel just went out of range
	Entered
	//Cleared means the channel just returned to its configured range
	Cleared
)

//Evaluator tracks the out-of-range state per (device, channel) so that alerts
//fire on state transitions only, never once per sample.
type Evaluator struct {
	mu    sync.Mutex
	state map[string]bool
}

//NewEvaluator returns an evaluator with no channels out of range
func NewEvaluator() *Evaluator {
	return &Evaluator{state: make(map[string]bool)}
}

func stateKey(serialID string, t protocol.SensorType) string {
	return fmt.Sprintf("%s|%d", serialID, t)
}

//Evaluate compares a value against its setting and returns the edge transition,
//if any. A nil or disabled setting clears any tracked state for the channel so a
//later re-enable starts from "in range".
func (e *Evaluator) Evaluate(serialID string, t protocol.SensorType, value float64, setting *models.SensorSetting) Transition {
	key := stateKey(serialID, t)

	e.mu.Lock()
	defer e.mu.Unlock()

	if setting == nil || !setting.Enabled {
		delete(e.state, key)
		return None
	}

	out := value < setting.MinValue || value > setting.MaxValue
	prev := e.state[key]
	e.state[key] = out

	switch {
	case out && !prev:
		return Entered
	case !out && prev:
		return Cleared
	}
	return None
}
