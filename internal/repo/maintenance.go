package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/coolstack/crac-risk/internal/models"
)

// MaintenanceClient fetches the latest maintenance visit per serial from the
// field-service API.
type MaintenanceClient struct {
	baseURL     string
	recordsPath string
	httpClient  *http.Client
}

// NewMaintenanceClient constructs a client targeting the configured API.
// Returns nil when no base URL is configured; callers treat a nil client as
// "no maintenance source".
func NewMaintenanceClient(baseURL, recordsPath string, timeout time.Duration) *MaintenanceClient {
	if strings.TrimSpace(baseURL) == "" {
		return nil
	}
	if recordsPath == "" {
		recordsPath = "/api/v1/maintenance/records"
	}
	return &MaintenanceClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		recordsPath: recordsPath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// LastMaintenance returns the most recent maintenance record per serial.
// Records without a serial are skipped; duplicate serials keep the latest
// visit.
func (c *MaintenanceClient) LastMaintenance(ctx context.Context) (map[string]models.MaintenanceRecord, error) {
	if c == nil {
		return nil, fmt.Errorf("maintenance client not initialised")
	}

	var response struct {
		Records []struct {
			Serial    string    `json:"serial"`
			Client    string    `json:"client"`
			LastVisit time.Time `json:"last_visit"`
		} `json:"records"`
	}

	if err := c.getJSON(ctx, c.recordsURL(), &response); err != nil {
		return nil, fmt.Errorf("maintenance records request failed: %w", err)
	}

	records := make(map[string]models.MaintenanceRecord, len(response.Records))
	for _, r := range response.Records {
		if r.Serial == "" {
			continue
		}
		if existing, ok := records[r.Serial]; ok && existing.LastVisit.After(r.LastVisit) {
			continue
		}
		records[r.Serial] = models.MaintenanceRecord{
			Serial:    r.Serial,
			Client:    r.Client,
			LastVisit: r.LastVisit,
		}
	}
	return records, nil
}

func (c *MaintenanceClient) recordsURL() string {
	cleaned := "/" + strings.TrimLeft(c.recordsPath, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *MaintenanceClient) getJSON(ctx context.Context, endpoint string, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("maintenance API returned %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
