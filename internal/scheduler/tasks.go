package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskPaymentSessionExpire = "payments.session.expire"

const TaskOrdersLeasesReap = "orders.leases.reap"

type PaymentExpirePayload struct {
	Reference string `json:"reference"`
}

func NewPaymentExpireTask(payload PaymentExpirePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentSessionExpire, data), nil
}

func ParsePaymentExpirePayload(task *asynq.Task) (PaymentExpirePayload, error) {
	var payload PaymentExpirePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return PaymentExpirePayload{}, err
	}
	return payload, nil
}

func NewLeaseReapTask() *asynq.Task {
	return asynq.NewTask(TaskOrdersLeasesReap, nil)
}
