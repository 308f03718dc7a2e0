// Package upload ships serialized measurements to a collector service.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/ridelog-data/ridelog/internal/httputil"
	"github.com/ridelog-data/ridelog/model"
)

// ErrRejected is returned when the collector answers with a non-success
// status.
var ErrRejected = errors.New("upload: rejected by collector")

// Metadata accompanies the opaque payload bytes so the collector can file
// them without decoding.
type Metadata struct {
	DeviceID      uuid.UUID
	MeasurementID model.MeasurementID
	Modality      string
	LocationCount int
	SensorCount   int
}

// Uploader accepts a serialized (optionally compressed) measurement
// payload. Implementations report success or failure; retry policy is the
// caller's concern.
type Uploader interface {
	Upload(ctx context.Context, payload []byte, meta Metadata) error
}

// HTTPUploader posts payloads to a collector endpoint as multipart form
// data.
type HTTPUploader struct {
	endpoint string
	client   *http.Client
}

// NewHTTPUploader creates an uploader for the given collector endpoint. A
// nil client falls back to a client with upload-sized timeouts.
func NewHTTPUploader(endpoint string, client *http.Client) *HTTPUploader {
	if client == nil {
		client = httputil.NewClient(httputil.DefaultTimeout)
	}
	return &HTTPUploader{endpoint: endpoint, client: client}
}

// Upload posts one measurement payload.
func (u *HTTPUploader) Upload(ctx context.Context, payload []byte, meta Metadata) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	fields := map[string]string{
		"deviceId":      meta.DeviceID.String(),
		"measurementId": strconv.FormatInt(int64(meta.MeasurementID), 10),
		"modality":      meta.Modality,
		"locationCount": strconv.Itoa(meta.LocationCount),
		"sensorCount":   strconv.Itoa(meta.SensorCount),
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return fmt.Errorf("write field %s: %w", name, err)
		}
	}

	part, err := w.CreateFormFile("payload", fmt.Sprintf("measurement-%d.bin", meta.MeasurementID))
	if err != nil {
		return fmt.Errorf("create payload part: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, &body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("post measurement: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return nil
}
