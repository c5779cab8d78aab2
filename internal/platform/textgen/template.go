package textgen

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Template is a message body with {{key}} placeholders.
type Template struct {
	ID   string
	Body string
}

const highRiskAddendum = " Given your high-risk status, please be extra vigilant about any changes in your condition."

// TemplateProvider renders deterministic messages from built-in templates.
// It never calls out of process and never fails for built-in topics.
type TemplateProvider struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

func NewTemplateProvider() *TemplateProvider {
	p := &TemplateProvider{templates: make(map[string]*Template)}
	p.registerBuiltIn()
	return p
}

func (p *TemplateProvider) registerBuiltIn() {
	builtIn := []Template{
		{
			ID: "weekly_checkin.first_trimester",
			Body: "Hello {{patient_name}}, this is your week {{gestational_age}} pregnancy check-in. " +
				"During your first trimester, it's important to take your prenatal vitamins and get plenty of rest.",
		},
		{
			ID: "weekly_checkin.second_trimester",
			Body: "Hello {{patient_name}}, this is your week {{gestational_age}} pregnancy check-in. " +
				"You're in your second trimester. Continue with regular prenatal care and maintain a healthy diet.",
		},
		{
			ID: "weekly_checkin.third_trimester",
			Body: "Hello {{patient_name}}, this is your week {{gestational_age}} pregnancy check-in. " +
				"You're in your third trimester. Monitor for any signs of labor and stay in close contact with your healthcare provider.",
		},
		{
			ID: "medication_reminder",
			Body: "Hello {{patient_name}}, this is your reminder to take your medications: {{medications}}. " +
				"Please take your medications as prescribed by your healthcare provider.",
		},
		{
			ID: "medication_reminder.unnamed",
			Body: "Hello {{patient_name}}, this is your medication reminder. " +
				"Please take your medications as prescribed by your healthcare provider.",
		},
		{
			ID: "high_risk_monitoring",
			Body: "Hello {{patient_name}}, this is your high-risk pregnancy monitoring call. " +
				"Given your risk factors including {{risk_factors}}, it's important to monitor your symptoms closely " +
				"and contact your healthcare provider immediately if you experience any concerns.",
		},
		{
			ID: "high_risk_monitoring.no_factors",
			Body: "Hello {{patient_name}}, this is your high-risk pregnancy monitoring call. " +
				"It's important to monitor your symptoms closely and contact your healthcare provider immediately if you experience any concerns.",
		},
		{
			ID: "appointment_notification",
			Body: "Hello {{patient_name}}, this is a reminder about your upcoming prenatal appointment. " +
				"Please arrive 15 minutes early and bring your insurance card and a list of any questions you have.",
		},
		{
			ID: "generic",
			Body: "Hello {{patient_name}}, this is a message from your pregnancy care team. " +
				"Please stay in touch with your healthcare provider regarding your pregnancy care.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		p.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template.
func (p *TemplateProvider) RegisterTemplate(t Template) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.templates[t.ID] = &t
}

// templateID picks the template variant for a request.
func templateID(req Request) string {
	switch req.Topic {
	case TopicWeeklyCheckin:
		switch {
		case req.GestationalAgeWeeks < 12:
			return "weekly_checkin.first_trimester"
		case req.GestationalAgeWeeks < 28:
			return "weekly_checkin.second_trimester"
		default:
			return "weekly_checkin.third_trimester"
		}
	case TopicMedicationReminder:
		if len(req.Medications) == 0 {
			return "medication_reminder.unnamed"
		}
		return "medication_reminder"
	case TopicHighRiskMonitoring:
		if len(req.RiskFactors) == 0 {
			return "high_risk_monitoring.no_factors"
		}
		return "high_risk_monitoring"
	case TopicAppointmentNotification:
		return "appointment_notification"
	default:
		return "generic"
	}
}

// Body renders the message without the closing Press 1 line.
func (p *TemplateProvider) Body(req Request) (string, error) {
	id := templateID(req)
	p.mu.RLock()
	t, ok := p.templates[id]
	p.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template %q not found", id)
	}

	body := renderPlaceholders(t.Body, map[string]string{
		"patient_name":    req.PatientName,
		"gestational_age": strconv.Itoa(req.GestationalAgeWeeks),
		"medications":     strings.Join(req.Medications, ", "),
		"risk_factors":    strings.Join(req.RiskFactors, ", "),
		"risk_category":   req.RiskCategory,
	})
	if strings.EqualFold(req.RiskCategory, "high") {
		body += highRiskAddendum
	}
	return body, nil
}

func (p *TemplateProvider) Render(_ context.Context, req Request) (string, error) {
	body, err := p.Body(req)
	if err != nil {
		return "", err
	}
	return body + PressOneSuffix, nil
}

// renderPlaceholders replaces {{key}} occurrences. Unknown keys are left as-is.
func renderPlaceholders(s string, data map[string]string) string {
	for k, v := range data {
		s = strings.ReplaceAll(s, "{{"+k+"}}", v)
	}
	return s
}
