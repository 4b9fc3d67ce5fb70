package auditlog

import (
	"mutation-audit/pkg/platform/audit/buffer"
	"mutation-audit/pkg/platform/audit/scheduler"
	"mutation-audit/pkg/platform/audit/uploader"
)

// State is either Inactive or *Active.
type State interface {
	isState()
}

// Inactive means no destination is configured or the subsystem was stopped.
// Producers must not buffer anything in this state.
type Inactive struct{}

// Active holds the running pieces of the subsystem.
type Active struct {
	Buffer      *buffer.LogBuffer
	Scheduler   *scheduler.Scheduler
	Destination string
	Identity    uploader.Identity
}

func (Inactive) isState() {}
func (*Active) isState()  {}
