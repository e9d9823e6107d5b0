package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeConvertImage = "image:convert"

type ConvertImagePayload struct {
	JobID        string    `json:"job_id"`
	SourceType   string    `json:"source_type"`
	SourceFormat string    `json:"source_format"`
	WebhookURL   string    `json:"webhook_url,omitempty"`
	ObjectKey    string    `json:"object_key"`
	Targets      []string  `json:"targets"`
	RequestedAt  time.Time `json:"requested_at"`
}

func NewConvertImageTask(payload ConvertImagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal convert payload: %w", err)
	}
	return asynq.NewTask(TypeConvertImage, body), nil
}

func ParseConvertImagePayload(task *asynq.Task) (ConvertImagePayload, error) {
	var payload ConvertImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ConvertImagePayload{}, fmt.Errorf("unmarshal convert payload: %w", err)
	}
	return payload, nil
}
