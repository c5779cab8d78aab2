package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

const geminiKeyHeader = "x-goog-api-key"

// GeminiConfig configures the generateContent client.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// GeminiProvider asks a Gemini model for the message and falls back to
// another provider whenever the model call fails.
type GeminiProvider struct {
	cfg      GeminiConfig
	client   *http.Client
	fallback Provider
	logger   zerolog.Logger
}

func NewGeminiProvider(cfg GeminiConfig, fallback Provider, logger zerolog.Logger) *GeminiProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	return &GeminiProvider{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		fallback: fallback,
		logger:   logger,
	}
}

func (g *GeminiProvider) Render(ctx context.Context, req Request) (string, error) {
	text, err := g.generate(ctx, BuildPrompt(req))
	if err != nil {
		g.logger.Warn().Err(err).Str("topic", req.Topic).Msg("gemini generation failed, using template")
		if g.fallback == nil {
			return "", err
		}
		return g.fallback.Render(ctx, req)
	}
	return text + PressOneSuffix, nil
}

func (g *GeminiProvider) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(geminiRequest{
		Contents:         []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: &geminiGenerationConfig{Temperature: 0.7, MaxOutputTokens: 256},
	})
	if err != nil {
		return "", fmt.Errorf("marshal gemini request: %w", err)
	}

	// The key travels in a header; transport errors quote the URL verbatim.
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimRight(g.cfg.BaseURL, "/"), url.PathEscape(g.cfg.Model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(geminiKeyHeader, g.cfg.APIKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("gemini status %d", resp.StatusCode)
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	for _, c := range out.Candidates {
		for _, p := range c.Content.Parts {
			if t := strings.TrimSpace(p.Text); t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("gemini returned no text")
}

// BuildPrompt renders the instruction sent to the model.
func BuildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Generate a personalized, warm, and medically accurate IVR message for a pregnant patient.\n\n")
	b.WriteString("Patient Information:\n")
	fmt.Fprintf(&b, "- Name: %s\n", req.PatientName)
	fmt.Fprintf(&b, "- Gestational Age: %d weeks\n", req.GestationalAgeWeeks)
	fmt.Fprintf(&b, "- Risk Category: %s\n", orDefault(req.RiskCategory, "low"))
	fmt.Fprintf(&b, "- Risk Factors: %s\n", joinOrNone(req.RiskFactors))
	fmt.Fprintf(&b, "- Medications: %s\n\n", joinOrNone(req.Medications))
	fmt.Fprintf(&b, "Message Type: %s\n\n", req.Topic)
	b.WriteString("Guidelines:\n")
	b.WriteString("- Use a warm, supportive, and professional tone\n")
	b.WriteString("- Be concise (2-3 sentences maximum)\n")
	b.WriteString("- Include relevant medical information\n")
	b.WriteString("- Personalize based on gestational age and risk factors\n")
	b.WriteString("- Reply with the message text only\n\n")
	b.WriteString("Generate the IVR message:")
	return b.String()
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "None"
	}
	return strings.Join(items, ", ")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
