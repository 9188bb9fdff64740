package enrich

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"socflow/internal/config"
)

// VirusTotalClient queries the VirusTotal v3 API for IP verdicts. It is the
// secondary intel source: its stats nest under the primary provider's payload.
type VirusTotalClient struct {
	client *HTTPClient
	log    *zap.Logger
}

// NewVirusTotalClient creates a client from service config.
func NewVirusTotalClient(cfg config.ServiceConfig, log *zap.Logger) *VirusTotalClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &VirusTotalClient{
		client: NewHTTPClient(HTTPClientConfig{
			BaseURL: cfg.BaseURL,
			Headers: map[string]string{"x-apikey": cfg.APIKey},
			Timeout: parseTimeout(cfg.Timeout),
			Logger:  log.Named("virustotal"),
		}),
		log: log,
	}
}

// Name identifies the provider in merged threat intel.
func (c *VirusTotalClient) Name() string { return "virustotal" }

type vtIPResponse struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats struct {
				Malicious  int `json:"malicious"`
				Suspicious int `json:"suspicious"`
				Harmless   int `json:"harmless"`
				Undetected int `json:"undetected"`
			} `json:"last_analysis_stats"`
			Reputation int    `json:"reputation"`
			Country    string `json:"country"`
			ASOwner    string `json:"as_owner"`
		} `json:"attributes"`
	} `json:"data"`
}

// IPReputation fetches engine verdicts for one IP.
func (c *VirusTotalClient) IPReputation(ctx context.Context, ip string) (map[string]interface{}, error) {
	var resp vtIPResponse
	if err := c.client.Get(ctx, "/ip_addresses/"+ip, nil, &resp); err != nil {
		if IsNotFound(err) {
			return map[string]interface{}{
				"source":     "virustotal",
				"ip":         ip,
				"reputation": "clean",
				"note":       "ip not found in virustotal",
			}, nil
		}
		return nil, fmt.Errorf("virustotal lookup failed: %w", err)
	}

	attrs := resp.Data.Attributes
	stats := attrs.LastAnalysisStats

	reputation := "clean"
	switch {
	case stats.Malicious >= 3:
		reputation = "malicious"
	case stats.Malicious >= 1 || stats.Suspicious >= 2:
		reputation = "suspicious"
	}

	c.log.Info("virustotal verdict",
		zap.String("ip", ip),
		zap.String("reputation", reputation),
		zap.Int("malicious_engines", stats.Malicious))

	return map[string]interface{}{
		"source":            "virustotal",
		"ip":                ip,
		"reputation":        reputation,
		"malicious_votes":   stats.Malicious,
		"suspicious_votes":  stats.Suspicious,
		"harmless_votes":    stats.Harmless,
		"undetected_votes":  stats.Undetected,
		"vendor_reputation": attrs.Reputation,
		"country":           attrs.Country,
		"as_owner":          attrs.ASOwner,
	}, nil
}
