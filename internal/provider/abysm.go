package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/vortixworld/bypassgate/internal/settings"
)

const maxUpstreamBody = 1 << 20

// Transient messages Abysm embeds in otherwise successful payloads.
var abysmTransientMessages = []string{
	"This session is invalid, please copy a valid link from the application.",
	"This URL is already being processed. Please wait or check back shortly.",
}

// AbysmPaidOptions configures the paid Abysm client.
type AbysmPaidOptions struct {
	BaseURL   string
	APIKey    string
	UserAgent string
	Timeout   time.Duration
	Client    *http.Client
}

// AbysmPaid calls the paid Abysm bypass API.
type AbysmPaid struct {
	baseURL   string
	apiKey    string
	userAgent string
	client    *http.Client
}

// NewAbysmPaid constructs an AbysmPaid provider.
func NewAbysmPaid(opts AbysmPaidOptions) *AbysmPaid {
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = settings.DefaultAbysmBaseURL
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = settings.DefaultUserAgent
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = settings.DefaultUpstreamTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &AbysmPaid{
		baseURL:   baseURL,
		apiKey:    strings.TrimSpace(opts.APIKey),
		userAgent: userAgent,
		client:    client,
	}
}

// Kind implements Provider.
func (p *AbysmPaid) Kind() Kind { return KindAbysmPaid }

// Attempt asks Abysm to resolve targetURL.
func (p *AbysmPaid) Attempt(ctx context.Context, targetURL string) Outcome {
	endpoint, errParse := url.Parse(p.baseURL)
	if errParse != nil {
		return Failed(fmt.Sprintf("abysm: invalid base url: %v", errParse))
	}
	query := endpoint.Query()
	query.Set("url", targetURL)
	endpoint.RawQuery = query.Encode()

	req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if errReq != nil {
		return Failed(errReq.Error())
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set(settings.HeaderAPIKey, p.apiKey)
	}

	resp, errDo := p.client.Do(req)
	if errDo != nil {
		return Failed(errDo.Error())
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, errRead := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if errRead != nil {
		return Failed(errRead.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Failed(fmt.Sprintf("Request failed with status code %d", resp.StatusCode))
	}
	return classifyAbysm(body)
}

func classifyAbysm(body []byte) Outcome {
	if !gjson.ValidBytes(body) {
		return Failed("abysm: invalid response payload")
	}
	payload := gjson.ParseBytes(body)
	status := payload.Get("status").String()
	if status == "failed" {
		return Failed("Failed")
	}

	var result string
	if nested := payload.Get("data.result"); status == "success" && truthy(nested) {
		result = nested.String()
	} else if top := payload.Get("result"); truthy(top) {
		result = top.String()
	}

	for _, transient := range abysmTransientMessages {
		if result != "" && strings.Contains(result, transient) {
			return Failed(result)
		}
	}
	if result != "" {
		return Succeeded(result)
	}

	if msg := payload.Get("error"); truthy(msg) {
		return Failed(msg.String())
	}
	if msg := payload.Get("message"); truthy(msg) {
		return Failed(msg.String())
	}
	return Failed("")
}

// truthy mirrors a loose presence check: missing, null, false, 0 and "" are absent.
func truthy(value gjson.Result) bool {
	switch value.Type {
	case gjson.Null:
		return false
	case gjson.False:
		return false
	case gjson.Number:
		return value.Num != 0
	case gjson.String:
		return value.Str != ""
	default:
		return value.Exists()
	}
}
