package booking

type Status string

const (
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusConfirmed           Status = "confirmed"
	StatusCompleted           Status = "completed"
	StatusCancelledPatient    Status = "cancelled_patient"
	StatusCancelledProvider   Status = "cancelled_provider"
	StatusExpired             Status = "expired"
	StatusNoShow              Status = "no_show"
)

var transitions = map[Status][]Status{
	StatusPendingConfirmation: {StatusConfirmed, StatusCancelledPatient, StatusCancelledProvider, StatusExpired},
	StatusConfirmed:           {StatusCompleted, StatusCancelledPatient, StatusCancelledProvider, StatusNoShow},
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelledPatient, StatusCancelledProvider, StatusExpired, StatusNoShow:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	return s == StatusPendingConfirmation || s == StatusConfirmed || s.Terminal()
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
