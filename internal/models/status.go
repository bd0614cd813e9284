package models

type NotificationStatus string

const (
	StatusPending   NotificationStatus = "pending"
	StatusSent      NotificationStatus = "sent"
	StatusDelivered NotificationStatus = "delivered"
	StatusFailed    NotificationStatus = "failed"
	StatusRead      NotificationStatus = "read"
	StatusExpired   NotificationStatus = "expired"
)

// transitions is keyed by the current status.
var transitions = map[NotificationStatus][]NotificationStatus{
	StatusPending:   {StatusSent, StatusExpired},
	StatusSent:      {StatusDelivered, StatusFailed, StatusExpired, StatusRead},
	StatusFailed:    {StatusSent},
	StatusDelivered: {StatusRead},
}

func (s NotificationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusFailed, StatusRead, StatusExpired:
		return true
	}
	return false
}

func (s NotificationStatus) CanTransitionTo(next NotificationStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends delivery processing. A failed
// record below the retry limit is still picked up by the retry sweep.
func (s NotificationStatus) Terminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusExpired, StatusRead:
		return true
	}
	return false
}

// Readable reports whether a recipient may mark a notification in this status as read.
func (s NotificationStatus) Readable() bool {
	return s.CanTransitionTo(StatusRead)
}
