package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/sabcare/careline/internal/config"
	"github.com/sabcare/careline/internal/domain/ivr"
	"github.com/sabcare/careline/internal/platform/auth"
	"github.com/sabcare/careline/internal/platform/events"
	"github.com/sabcare/careline/internal/platform/textgen"
)

const profileYAML = `
name: Amina Otieno
phone: "+254700000001"
gestational_age_weeks: 38
risk_category: High
risk_factors:
  - preeclampsia
medications:
  - name: Aspirin
    dosage: 81mg
    frequency: [Mon]
    time: "08:00"
`

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type pingRoutes struct{}

func (pingRoutes) RegisterRoutes(api *echo.Group) {
	api.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, auth.UserIDFromContext(c.Request().Context()))
	})
}

func serve(e *echo.Echo, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestNewServer_Health(t *testing.T) {
	cfg := &config.Config{Env: "production", AuthSigningKey: "k"}
	e := newServer(cfg, zerolog.Nop(), fakePinger{}, pingRoutes{})

	rec := serve(e, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 without credentials, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("expected HSTS in production")
	}

	rec = serve(e, "/health/db", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected healthy db, got %d", rec.Code)
	}

	post := httptest.NewRecorder()
	e.ServeHTTP(post, httptest.NewRequest(http.MethodPost, "/health", nil))
	if post.Code != http.StatusUnauthorized {
		t.Errorf("expected only GET /health to skip auth, got %d", post.Code)
	}

	e = newServer(cfg, zerolog.Nop(), fakePinger{err: errors.New("down")})
	if rec := serve(e, "/health/db", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when ping fails, got %d", rec.Code)
	}
}

func TestNewServer_RequiresToken(t *testing.T) {
	cfg := &config.Config{Env: "production", AuthSigningKey: "test-signing-key", AuthIssuer: "careline"}
	e := newServer(cfg, zerolog.Nop(), fakePinger{}, pingRoutes{})

	if rec := serve(e, "/api/v1/ping", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}

	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "nurse-7",
			Issuer:    "careline",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{auth.RoleClinician},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	rec := serve(e, "/api/v1/ping", token)
	if rec.Code != http.StatusOK || rec.Body.String() != "nurse-7" {
		t.Errorf("expected 200 for nurse-7, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestNewServer_DevAuth(t *testing.T) {
	e := newServer(&config.Config{Env: "development"}, zerolog.Nop(), fakePinger{}, pingRoutes{})

	rec := serve(e, "/api/v1/ping", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "dev-user" {
		t.Errorf("expected dev user, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestNewPublisher(t *testing.T) {
	if _, ok := newPublisher(&config.Config{}, zerolog.Nop()).(events.NopPublisher); !ok {
		t.Error("expected NopPublisher without brokers")
	}
	p := newPublisher(&config.Config{KafkaBrokers: []string{"localhost:9092"}, KafkaTopic: "t"}, zerolog.Nop())
	if _, ok := p.(*events.KafkaPublisher); !ok {
		t.Errorf("expected KafkaPublisher, got %T", p)
	}
	p.Close()
}

func TestNewTextProvider(t *testing.T) {
	if _, ok := newTextProvider(&config.Config{TextProvider: "template"}, zerolog.Nop()).(*textgen.TemplateProvider); !ok {
		t.Error("expected template provider")
	}
	if _, ok := newTextProvider(&config.Config{TextProvider: "gemini", GeminiAPIKey: "k"}, zerolog.Nop()).(*textgen.GeminiProvider); !ok {
		t.Error("expected gemini provider")
	}
}

func TestLoadProfile(t *testing.T) {
	p, err := loadProfile(strings.NewReader(profileYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "Amina Otieno" || p.GestationalAgeWeeks != 38 || p.RiskCategory != ivr.RiskHigh {
		t.Errorf("unexpected profile %+v", p)
	}
	if len(p.Medications) != 1 || p.Medications[0].Weekdays[0] != "Mon" || p.Medications[0].Time != "08:00" {
		t.Errorf("unexpected medications %+v", p.Medications)
	}
}

func TestLoadProfile_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", ""},
		{"missing name", "gestational_age_weeks: 20\n"},
		{"unknown key", "name: A\nweeks: 20\n"},
		{"bad type", "name: A\ngestational_age_weeks: twenty\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadProfile(strings.NewReader(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadProfile_DefaultsRisk(t *testing.T) {
	p, err := loadProfile(strings.NewReader("name: A\ngestational_age_weeks: 20\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.RiskCategory != ivr.RiskLow {
		t.Errorf("expected low, got %q", p.RiskCategory)
	}
}

func TestSchedulePreviewCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patient.yaml")
	if err := os.WriteFile(path, []byte(profileYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"schedule", "preview", "--profile", path, "--at", "2026-10-16T06:00:00Z"})

	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, out.String())
	}

	got := out.String()
	want := "6 entries (2 weekly check-ins, 2 medication reminders, 2 high-risk), 0 skipped"
	if !strings.Contains(got, want) {
		t.Errorf("expected summary %q in output:\n%s", want, got)
	}
	if !strings.Contains(got, "2026-10-19T08:00:00Z") {
		t.Errorf("expected Monday aspirin reminder in output:\n%s", got)
	}
	if !strings.Contains(got, "Aspirin") {
		t.Errorf("expected medication column in output:\n%s", got)
	}
}

func TestSchedulePreviewCommand_BadAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patient.yaml")
	os.WriteFile(path, []byte(profileYAML), 0o600)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"schedule", "preview", "--profile", path, "--at", "tomorrow"})
	if err := root.ExecuteContext(context.Background()); err == nil {
		t.Error("expected error for invalid --at")
	}
}

func TestRenderCalls(t *testing.T) {
	med := "Iron"
	calls := []*ivr.CallEntry{
		{CallType: ivr.CallMedicationReminder, PatientName: "Amina", PatientPhone: "+254700000001",
			ScheduledTime: time.Date(2026, 10, 19, 8, 15, 0, 0, time.UTC), MedicationName: &med},
		{CallType: ivr.CallWeeklyCheckin, PatientName: "Wanjiru",
			ScheduledTime: time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)},
	}

	var out bytes.Buffer
	renderCalls(&out, calls)
	got := out.String()
	for _, want := range []string{"Amina", "Iron", "2026-10-19T08:15:00Z", "weekly_checkin", "Wanjiru"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in output:\n%s", want, got)
		}
	}
}

func TestRenderTick(t *testing.T) {
	var out bytes.Buffer
	renderTick(&out, ivr.TickResult{Selected: 3, Executed: 2, DeliveryFailures: 1})
	if !strings.Contains(out.String(), "DELIVERY FAILURES") {
		t.Errorf("expected header in output:\n%s", out.String())
	}
}
