package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskOutboxDispatch = "outbox:dispatch"

const TaskJobsSweepLeases = "jobs:sweep_leases"

// OutboxDispatchPayload bounds one dispatch pass. Zero uses the configured batch size.
type OutboxDispatchPayload struct {
	Limit int `json:"limit,omitempty"`
}

func NewOutboxDispatchTask(payload OutboxDispatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOutboxDispatch, data), nil
}

func ParseOutboxDispatchPayload(task *asynq.Task) (OutboxDispatchPayload, error) {
	var payload OutboxDispatchPayload
	if len(task.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return OutboxDispatchPayload{}, err
	}
	return payload, nil
}

func NewSweepLeasesTask() *asynq.Task {
	return asynq.NewTask(TaskJobsSweepLeases, nil)
}
