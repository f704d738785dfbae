package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

// BMONSink posts readings to a BMON server's reading store endpoint.
type BMONSink struct {
	url      string
	storeKey string
	client   *http.Client
}

type bmonPayload struct {
	StoreKey string  `json:"storeKey"`
	Readings [][]any `json:"readings"`
}

func NewBMONSink(url, storeKey string, client *http.Client) *BMONSink {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &BMONSink{url: url, storeKey: storeKey, client: client}
}

func (s *BMONSink) Name() string { return "bmon" }

func (s *BMONSink) WriteBatch(ctx context.Context, readings []domain.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	payload := bmonPayload{
		StoreKey: s.storeKey,
		Readings: make([][]any, 0, len(readings)),
	}
	for _, r := range readings {
		payload.Readings = append(payload.Readings, []any{r.Timestamp, r.SensorID, r.Value})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal bmon payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build bmon request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("bmon status %d: %s: %w", resp.StatusCode, bytes.TrimSpace(msg), ports.ErrRejected)
	default:
		return fmt.Errorf("bmon status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
}

var _ ports.Sink = (*BMONSink)(nil)
