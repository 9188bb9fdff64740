package enrich

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"socflow/internal/alert"
	"socflow/internal/config"
)

// SIEMClient queries the SIEM REST API for events, user activity, and
// endpoint posture around an alert.
type SIEMClient struct {
	client *HTTPClient
	log    *zap.Logger
}

// NewSIEMClient creates a client from service config.
func NewSIEMClient(cfg config.ServiceConfig, log *zap.Logger) *SIEMClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &SIEMClient{
		client: NewHTTPClient(HTTPClientConfig{
			BaseURL: cfg.BaseURL,
			Headers: map[string]string{"Authorization": "Bearer " + cfg.APIKey},
			Timeout: parseTimeout(cfg.Timeout),
			Logger:  log.Named("siem"),
		}),
		log: log,
	}
}

type siemEventsResponse struct {
	Events []map[string]interface{} `json:"events"`
}

// QueryEvents fetches events correlated with the alert in a one hour window
// around its timestamp.
func (c *SIEMClient) QueryEvents(ctx context.Context, a alert.Alert) ([]map[string]interface{}, error) {
	params := url.Values{}
	if a.SourceIP != "" {
		params.Set("source_ip", a.SourceIP)
	}
	if a.User != "" {
		params.Set("user", a.User)
	}
	if a.Hostname != "" {
		params.Set("hostname", a.Hostname)
	}
	at := a.Time()
	params.Set("from", at.Add(-30*time.Minute).Format(time.RFC3339))
	params.Set("to", at.Add(30*time.Minute).Format(time.RFC3339))
	params.Set("limit", "100")

	var resp siemEventsResponse
	if err := c.client.Get(ctx, "/api/events", params, &resp); err != nil {
		return nil, fmt.Errorf("siem event query failed: %w", err)
	}

	c.log.Info("siem events fetched",
		zap.String("alert_id", a.ID),
		zap.Int("count", len(resp.Events)))
	return resp.Events, nil
}

// UserActivity fetches a 24h activity summary for a user.
func (c *SIEMClient) UserActivity(ctx context.Context, user string) (map[string]interface{}, error) {
	params := url.Values{}
	params.Set("user", user)
	params.Set("window", "24h")

	var activity map[string]interface{}
	if err := c.client.Get(ctx, "/api/users/activity", params, &activity); err != nil {
		return nil, fmt.Errorf("siem user activity failed: %w", err)
	}
	return activity, nil
}

// EndpointData fetches posture and process data for a host.
func (c *SIEMClient) EndpointData(ctx context.Context, hostname string) (map[string]interface{}, error) {
	params := url.Values{}
	params.Set("hostname", hostname)

	var data map[string]interface{}
	if err := c.client.Get(ctx, "/api/endpoints", params, &data); err != nil {
		return nil, fmt.Errorf("siem endpoint query failed: %w", err)
	}
	return data, nil
}

func parseTimeout(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}
