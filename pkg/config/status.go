package config

type Weekday = string

// Appointment lifecycle. Pending and Booked are the two statuses that
// occupy a slot; Cancelled and Completed are terminal.
const (
	StatusPending   = "Pending"
	StatusBooked    = "Booked"
	StatusCancelled = "Cancelled"
	StatusCompleted = "Completed"
)

// ActiveStatuses are the statuses that make a (doctor, slot) pair
// unavailable to new reservations.
var ActiveStatuses = []string{StatusPending, StatusBooked}
