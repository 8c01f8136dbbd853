package bus

import (
	"fmt"

	"github.com/kypseli/hive/internal/hive"
)

// Subject patterns for NATS pub/sub communication.

func SubjectDomain(d hive.Domain) string {
	return fmt.Sprintf("hive.events.%s", d)
}

func SubjectAgent(agentID string) string {
	return fmt.Sprintf("hive.agent.%s", agentID)
}

const (
	// SubjectEventsAll matches every domain channel.
	SubjectEventsAll = "hive.events.>"

	// SubjectIPC serves request/reply operations for hivectl.
	SubjectIPC = "hive.ipc"
)
