package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ProviderGateway invokes named external APIs with resolved parameters.
// It performs exactly one attempt per Invoke and reports a classified
// failure; retry-with-backoff, if desired, belongs to the caller.
type ProviderGateway struct {
	l      *slog.Logger
	def    *WorkflowDefinition
	client *resty.Client
}

func NewProviderGateway(l *slog.Logger, def *WorkflowDefinition, timeout time.Duration) *ProviderGateway {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0)

	return &ProviderGateway{
		l:      l,
		def:    def,
		client: client,
	}
}

// Invoke calls the provider identified by providerID with the resolved
// payload and returns the decoded JSON response. Failures are classified
// transient (network, timeout, 5xx, 429) or permanent (other 4xx, non-JSON
// payload).
func (g *ProviderGateway) Invoke(ctx context.Context, providerID string, payload map[string]any) (any, error) {
	provider, ok := g.def.ProviderByID(providerID)
	if !ok {
		return nil, NewStepFailure(KindPermanent, CodeUnknownProvider,
			fmt.Sprintf("provider %q is not declared in the workflow definition", providerID), nil)
	}

	endpoint := resolveEnvRefs(provider.Endpoint)
	method := strings.ToUpper(provider.Method)
	if method == "" {
		method = http.MethodPost
	}

	req := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json")

	for name, value := range provider.Headers {
		req.SetHeader(name, resolveEnvRefs(value))
	}
	if provider.CredentialEnv != "" {
		if token := os.Getenv(provider.CredentialEnv); token != "" {
			req.SetHeader("Authorization", "Bearer "+token)
		}
	}
	if method == http.MethodGet {
		req.SetQueryParams(toStringValueMap(payload))
	} else {
		req.SetBody(payload)
	}

	resp, err := req.Execute(method, endpoint)
	if err != nil {
		g.l.ErrorContext(ctx, "Provider request failed",
			"provider", providerID,
			"endpoint", endpoint,
			"error", err)
		return nil, NewStepFailure(KindTransient, CodeProviderNetwork,
			fmt.Sprintf("provider %s unreachable: %v", providerID, err), err)
	}

	if resp.IsError() {
		kind := KindPermanent
		code := resp.StatusCode()
		if code >= 500 || code == http.StatusTooManyRequests {
			kind = KindTransient
		}
		g.l.ErrorContext(ctx, "Provider returned error status",
			"provider", providerID,
			"status", code)
		return nil, NewStepFailure(kind, CodeProviderStatus,
			fmt.Sprintf("provider %s returned status %d: %s", providerID, code, truncate(resp.String(), 200)), nil)
	}

	var value any
	if err := json.Unmarshal(resp.Body(), &value); err != nil {
		return nil, NewStepFailure(KindPermanent, CodeProviderPayload,
			fmt.Sprintf("provider %s returned invalid JSON", providerID), err)
	}

	g.l.InfoContext(ctx, "Provider call succeeded",
		"provider", providerID,
		"status", resp.StatusCode())
	return value, nil
}

// envRefPattern matches ${VAR} and ${VAR:default} references.
var envRefPattern = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)(:[^}]*)?\}`)

// resolveEnvRefs expands ${VAR} and ${VAR:default} references in endpoint
// and header values. Unset variables without a default are left as-is so
// that validation surfaces them instead of silently emptying the value.
func resolveEnvRefs(value string) string {
	return envRefPattern.ReplaceAllStringFunc(value, func(match string) string {
		groups := envRefPattern.FindStringSubmatch(match)
		if env, ok := os.LookupEnv(groups[1]); ok {
			return env
		}
		if groups[2] != "" {
			return strings.TrimPrefix(groups[2], ":")
		}
		return match
	})
}

func toStringValueMap(m map[string]any) map[string]string {
	result := make(map[string]string, len(m))
	for key, value := range m {
		result[key] = stringify(value)
	}
	return result
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
