package queue

import "time"

// Status - вычисляемое состояние элемента очереди
type Status string

const (
	StatusPending    Status = "pending"
	StatusRetrying   Status = "retrying"
	StatusFailed     Status = "failed"
	StatusMaxRetries Status = "max_retries"
)

// DeriveStatus вычисляет статус элемента на момент now.
// Статус не хранится: он зависит от времени и пересчитывается при каждом чтении.
func DeriveStatus(it *Item, now time.Time) Status {
	switch {
	case it.Attempts >= MaxRetries:
		return StatusMaxRetries
	case it.Attempts > 0 && it.Error != "":
		if it.NextRetry != nil && it.NextRetry.After(now) {
			return StatusRetrying
		}
		return StatusFailed
	default:
		return StatusPending
	}
}

// Dispatchable сообщает, можно ли отправлять элемент на сервер в момент now
func Dispatchable(it *Item, now time.Time) bool {
	switch DeriveStatus(it, now) {
	case StatusPending, StatusFailed:
		return true
	default:
		return false
	}
}
