package model

import "medibook/pkg/config"

// Doctor is owned by the catalog collaborator; this service reads it
// for slot resolution only.
type Doctor struct {
	ID             string            `json:"id,omitempty" bson:"_id,omitempty"`
	Name           string            `json:"name" bson:"name"`
	Specialization string            `json:"specialization" bson:"specialization"`
	Mode           []string          `json:"mode,omitempty" bson:"mode,omitempty"`
	Availability   []DayAvailability `json:"availability" bson:"availability"`
}

// DayAvailability maps a weekday name to the ordered local times of
// day ("HH:MM") the doctor accepts appointments.
type DayAvailability struct {
	Day   config.Weekday `json:"day" bson:"day"`
	Slots []string       `json:"slots" bson:"slots"`
}
