// Package textgen produces the spoken text of reminder calls.
package textgen

import "context"

// Topics understood by the providers. They match the call types stored in
// call_log.
const (
	TopicWeeklyCheckin           = "weekly_checkin"
	TopicMedicationReminder      = "medication_reminder"
	TopicHighRiskMonitoring      = "high_risk_monitoring"
	TopicAppointmentNotification = "appointment_notification"
)

// PressOneSuffix closes every generated message.
const PressOneSuffix = "\n\nPress 1 if you'd like to leave a message for our medical team."

// Request carries everything a provider may personalise a message with.
// Nil slices and empty strings are valid.
type Request struct {
	Topic               string
	PatientName         string
	GestationalAgeWeeks int
	RiskFactors         []string
	RiskCategory        string
	Medications         []string
}

// Provider renders a Request into message text.
type Provider interface {
	Render(ctx context.Context, req Request) (string, error)
}
