// Package store defines the authoritative queue state behind the simulated
// Queue Service.
package store

import (
	"context"
	"time"

	"qms/visit-queue/internal/models"
	"qms/visit-queue/internal/queue"
)

type CommandInput struct {
	RequestID  string
	QueueID    int64
	Action     queue.Action
	StaffName  string
	OccurredAt time.Time
}

type CreateQueueInput struct {
	RequestID string
	VN        string
	StaffID   int64
	CreatedAt time.Time
}

// QueueStore mutations return replayed=true when RequestID was already
// processed; the stored response is returned unchanged.
type QueueStore interface {
	GetByVN(ctx context.Context, vn string) (models.QueueEntry, bool, error)
	GetByPhone(ctx context.Context, phone string) (models.QueueEntry, bool, error)
	ListDepartment(ctx context.Context, departmentID int64) ([]models.QueueEntry, error)
	Login(ctx context.Context, username, password string) (models.StaffIdentity, error)
	Command(ctx context.Context, input CommandInput) (models.APIResponse, bool, error)
	CreateQueue(ctx context.Context, input CreateQueueInput) (models.APIResponse, bool, error)
}
