package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"advsandbox/internal/apperrors"
)

// RemoteLoader produces handles backed by an external model service.
// Every handle POSTs to <baseURL>/predict; failures surface as
// apperrors.ErrUpstream.
type RemoteLoader struct {
	baseURL string
	client  *http.Client
}

// NewRemoteLoader creates a loader for a remote model service.
func NewRemoteLoader(baseURL string, timeout time.Duration) *RemoteLoader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteLoader{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Load returns a handle bound to one model identifier. The remote
// service loads weights lazily, so construction here is cheap; the
// expensive call is the first Predict.
func (l *RemoteLoader) Load(ctx context.Context, modelID string) (Handle, error) {
	return &remoteHandle{loader: l, modelID: modelID}, nil
}

type remoteHandle struct {
	loader  *RemoteLoader
	modelID string
}

type predictRequest struct {
	ModelID   string `json:"model_id"`
	InputData string `json:"input_data"`
}

func (h *remoteHandle) Predict(ctx context.Context, input string) (Prediction, error) {
	body, err := json.Marshal(predictRequest{ModelID: h.modelID, InputData: input})
	if err != nil {
		return Prediction{}, apperrors.Internal("inference.marshal", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.loader.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return Prediction{}, apperrors.Internal("inference.request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.loader.client.Do(req)
	if err != nil {
		return Prediction{}, apperrors.Upstream("inference.predict", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Prediction{}, apperrors.Upstream("inference.predict", fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	var pred Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return Prediction{}, apperrors.Upstream("inference.decode", err)
	}
	if err := validateLabel(pred.Label); err != nil {
		return Prediction{}, apperrors.Upstream("inference.decode", err)
	}
	return pred, nil
}
