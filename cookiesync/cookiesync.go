// Package cookiesync mirrors the current access token into the server-set
// session cookie so server-side route guards can see it.
package cookiesync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Syncer posts {"token": ...} to the cookie endpoint. It never reads the
// cookie back.
type Syncer struct {
	http *http.Client
	url  string
}

func New(httpClient *http.Client, url string) *Syncer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Syncer{http: httpClient, url: url}
}

// Push reports failures to the caller for logging and metrics only; the
// in-memory session is unaffected either way.
func (s *Syncer) Push(ctx context.Context, accessToken string) error {
	body, err := json.Marshal(map[string]string{"token": accessToken})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("[Syncer Push] %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("[Syncer Push] %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("[Syncer Push] cookie endpoint returned %d", resp.StatusCode)
	}
	log.Debug().Str("url", s.url).Msg("session cookie updated")
	return nil
}
