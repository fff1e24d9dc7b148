package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"golang.org/x/xerrors"

	"github.com/khaledhikmat/traffic-go/service/config"
)

type httpService struct {
	url    string
	client *http.Client
}

// NewHTTP posts JSON payloads to the configured webhook URL. With no URL
// configured it falls back to the fake.
func NewHTTP(cfgsvc config.IService) IService {
	url := cfgsvc.GetWebhookURL()
	if url == "" {
		return NewFake()
	}

	return &httpService{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (svc *httpService) Post(ctx context.Context, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return xerrors.Errorf("webhook marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.url, bytes.NewReader(body))
	if err != nil {
		return xerrors.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := svc.client.Do(req)
	if err != nil {
		return xerrors.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return xerrors.Errorf("webhook post: unexpected status %d", resp.StatusCode)
	}
	return nil
}
