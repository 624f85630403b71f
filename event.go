package xwalk

import "time"

// EventType identifies the kind of event emitted by a Supervisor.
type EventType int

const (
	// EventStarting is emitted before each launch attempt.
	// Code contains the restart count so far.
	EventStarting EventType = iota

	// EventRunning is emitted once the engine process has been spawned.
	// Data contains the launched command line.
	EventRunning

	// EventStderr is emitted for each line the engine writes to stderr.
	// Data contains the line content.
	EventStderr

	// EventAlert is emitted after a hazard alert has been persisted.
	// Data contains the alert ID.
	EventAlert

	// EventPersistFailed is emitted when a hazard alert could not be persisted.
	// Data contains the error message.
	EventPersistFailed

	// EventExited is emitted when the engine terminates.
	// Code contains the exit code (-1 if it could not be determined).
	EventExited

	// EventRestartScheduled is emitted when a relaunch has been scheduled.
	// Delay contains the wait before the relaunch.
	EventRestartScheduled

	// EventSpawnFailed is emitted when the engine could not be launched.
	// Data contains the error message.
	EventSpawnFailed

	// EventStopped is emitted when supervision ends, for any reason.
	EventStopped
)

var eventTypeNames = map[EventType]string{
	EventStarting:         "starting",
	EventRunning:          "running",
	EventStderr:           "stderr",
	EventAlert:            "alert",
	EventPersistFailed:    "persist_failed",
	EventExited:           "exited",
	EventRestartScheduled: "restart_scheduled",
	EventSpawnFailed:      "spawn_failed",
	EventStopped:          "stopped",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Event is a lifecycle or diagnostic event emitted by a Supervisor.
//
// Ordering within one cycle:
//   - Healthy cycle:  Starting → Running → (Stderr|Alert|PersistFailed)* → Exited → RestartScheduled
//   - Spawn failure:  Starting → SpawnFailed → (RestartScheduled | Stopped)
//
// After EventStopped the channel is closed.
type Event struct {
	Time  time.Time
	Data  string
	Type  EventType
	Code  int
	Delay time.Duration
}
