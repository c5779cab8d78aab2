// Package telephony places outbound voice calls through Twilio's REST API.
package telephony

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotConfigured is returned by every call when credentials are missing.
var ErrNotConfigured = errors.New("telephony provider not configured")

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	// BaseURL defaults to https://api.twilio.com.
	BaseURL string
	Voice   string
	Timeout time.Duration
}

func (c TwilioConfig) configured() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.FromNumber != ""
}

type Twilio struct {
	cfg    TwilioConfig
	client *http.Client
	logger zerolog.Logger
}

func NewTwilio(cfg TwilioConfig, logger zerolog.Logger) *Twilio {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alice"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Twilio{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Say     twimlSay `xml:"Say"`
}

type twimlSay struct {
	Voice string `xml:"voice,attr,omitempty"`
	Text  string `xml:",chardata"`
}

// TwiML renders the inline instructions that speak message to the callee.
func TwiML(voice, message string) (string, error) {
	out, err := xml.Marshal(twimlResponse{Say: twimlSay{Voice: voice, Text: message}})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

type callResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// PlaceCall starts an outbound call and returns Twilio's call SID.
func (t *Twilio) PlaceCall(ctx context.Context, phone, message string, patientID uuid.UUID) (string, error) {
	if !t.cfg.configured() {
		return "", ErrNotConfigured
	}

	twiml, err := TwiML(t.cfg.Voice, message)
	if err != nil {
		return "", fmt.Errorf("render twiml: %w", err)
	}
	form := url.Values{}
	form.Set("To", phone)
	form.Set("From", t.cfg.FromNumber)
	form.Set("Twiml", twiml)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json",
		strings.TrimRight(t.cfg.BaseURL, "/"), url.PathEscape(t.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build twilio request: %w", err)
	}
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read twilio response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return "", fmt.Errorf("twilio status %d: %s (code %d)", resp.StatusCode, apiErr.Message, apiErr.Code)
		}
		return "", fmt.Errorf("twilio status %d", resp.StatusCode)
	}

	var out callResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode twilio response: %w", err)
	}
	if out.SID == "" {
		return "", errors.New("twilio response missing call sid")
	}

	t.logger.Debug().
		Str("patient_id", patientID.String()).
		Str("call_sid", out.SID).
		Str("status", out.Status).
		Msg("outbound call queued")
	return out.SID, nil
}
