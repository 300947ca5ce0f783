package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kapitalwerk/contract-api/internal/services"
)

// maxPushBodyBytes fits a base64 encoded job of MaxGenerationJobBytes plus the envelope.
const maxPushBodyBytes = (services.MaxGenerationJobBytes+2)/3*4 + 64<<10

// ErrInvalidPush indicates the request body is not a decodable Pub/Sub push envelope.
var ErrInvalidPush = errors.New("jobs: invalid push envelope")

// PushEnvelope is the body Pub/Sub POSTs to push subscriptions.
type PushEnvelope struct {
	Message struct {
		Data        []byte            `json:"data"`
		Attributes  map[string]string `json:"attributes"`
		MessageID   string            `json:"messageId"`
		PublishTime string            `json:"publishTime"`
	} `json:"message"`
	Subscription    string `json:"subscription"`
	DeliveryAttempt int    `json:"deliveryAttempt"`
}

// DecodeGenerationPush reads a push envelope and decodes the generation job it carries.
// The job id falls back to the jobId attribute when the payload omits it.
func DecodeGenerationPush(r io.Reader) (services.GenerationJob, PushEnvelope, error) {
	var env PushEnvelope
	body, err := io.ReadAll(io.LimitReader(r, maxPushBodyBytes+1))
	if err != nil {
		return services.GenerationJob{}, env, fmt.Errorf("%w: %v", ErrInvalidPush, err)
	}
	if len(body) > maxPushBodyBytes {
		return services.GenerationJob{}, env, fmt.Errorf("%w: body exceeds %d bytes", ErrInvalidPush, maxPushBodyBytes)
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return services.GenerationJob{}, env, fmt.Errorf("%w: %v", ErrInvalidPush, err)
	}
	if len(env.Message.Data) == 0 {
		return services.GenerationJob{}, env, fmt.Errorf("%w: message data is empty", ErrInvalidPush)
	}

	var job services.GenerationJob
	if err := json.Unmarshal(env.Message.Data, &job); err != nil {
		return services.GenerationJob{}, env, fmt.Errorf("%w: job payload: %v", ErrInvalidPush, err)
	}
	if strings.TrimSpace(job.JobID) == "" {
		job.JobID = strings.TrimSpace(env.Message.Attributes["jobId"])
	}
	return job, env, nil
}
