// Package analysis talks to the image-analysis backend: one multipart
// upload that yields a task id, then status queries against that id until
// the backend returns a result, reports an error, or the attempt budget
// runs out.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go_analyzer/logging"

	"go.uber.org/zap"
)

// Submitter uploads a file and returns the backend's task id.
type Submitter interface {
	Submit(ctx context.Context, file *File) (string, error)
}

// StatusQuerier performs a single status query for a task.
type StatusQuerier interface {
	PollOnce(ctx context.Context, taskID string) (Outcome, error)
}

// ClientConfig holds the backend address and upload limits.
type ClientConfig struct {
	// BackendURL is the base URL, e.g. http://localhost:5000. It may be
	// empty; Submit then fails with KindConfig.
	BackendURL string

	// MaxFileSize rejects larger uploads locally. Zero disables the check.
	MaxFileSize int64
}

// DefaultClientConfig returns a config with the standard upload limit and
// no backend.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{MaxFileSize: 50 << 20}
}

const (
	submitPath = "/process_image"
	resultPath = "/get_result/"

	// uploadField is the multipart part name the backend reads.
	uploadField = "image"

	// maxErrorBody bounds how much of an error reply is read.
	maxErrorBody = 1 << 20
)

// Client implements Submitter and StatusQuerier over HTTP. It is safe for
// concurrent use.
type Client struct {
	httpClient *http.Client
	logger     *logging.Logger
	config     ClientConfig

	// seq keeps cache-busting parameters unique within one process.
	seq atomic.Uint64
}

// NewClient creates a backend client.
func NewClient(httpClient *http.Client, logger *logging.Logger, config ClientConfig) (*Client, error) {
	if httpClient == nil {
		return nil, ErrNilClient
	}
	if logger == nil {
		return nil, ErrNilLogger
	}
	config.BackendURL = strings.TrimRight(strings.TrimSpace(config.BackendURL), "/")

	return &Client{
		httpClient: httpClient,
		logger:     logger.Named("analysis-client"),
		config:     config,
	}, nil
}

// Submit uploads file as the "image" part of a multipart form and returns
// the task id from the reply. It never retries.
func (c *Client) Submit(ctx context.Context, file *File) (string, error) {
	if c.config.BackendURL == "" {
		return "", &SubmitError{Kind: KindConfig, Message: "analysis backend is not configured"}
	}
	if err := c.validate(file); err != nil {
		return "", err
	}

	log := c.logger.With(
		zap.String("file", file.Name),
		zap.String("content_type", file.ContentType),
		zap.Int64("size_bytes", file.Size()),
	)
	start := time.Now()

	body, contentType, err := encodeUpload(file)
	if err != nil {
		return "", &SubmitError{Kind: KindValidation, Message: "could not encode upload", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BackendURL+submitPath, body)
	if err != nil {
		return "", &SubmitError{Kind: KindConfig, Message: "invalid backend address", Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	log.Debug("uploading file")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("upload transport error", zap.Error(err))
		}
		return "", &SubmitError{Kind: KindNetwork, Message: "could not reach the analysis service", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, err := readErrorField(resp.Body)
		if err != nil {
			log.Debug("upload error body is not JSON", zap.Int("status", resp.StatusCode), zap.Error(err))
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		if msg == "" {
			msg = fmt.Sprintf("upload failed with status %d", resp.StatusCode)
		}
		log.Warn("upload rejected", zap.Int("status", resp.StatusCode), zap.String("error", msg))
		return "", &SubmitError{Kind: KindBackend, Message: msg, StatusCode: resp.StatusCode}
	}

	var reply struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&reply); err != nil {
		return "", &SubmitError{Kind: KindProtocol, Message: "unexpected reply from the analysis service", StatusCode: resp.StatusCode, Err: err}
	}
	if strings.TrimSpace(reply.TaskID) == "" {
		return "", &SubmitError{Kind: KindProtocol, Message: "the analysis service did not return a task id", StatusCode: resp.StatusCode}
	}

	log.Info("upload accepted",
		zap.String("task_id", reply.TaskID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	return reply.TaskID, nil
}

func (c *Client) validate(file *File) error {
	if file == nil {
		return &SubmitError{Kind: KindValidation, Message: MsgNoFile}
	}
	if len(file.Content) == 0 {
		return &SubmitError{Kind: KindValidation, Message: "the selected file is empty"}
	}
	if c.config.MaxFileSize > 0 && file.Size() > c.config.MaxFileSize {
		return &SubmitError{
			Kind:    KindValidation,
			Message: fmt.Sprintf("the selected file is larger than %d bytes", c.config.MaxFileSize),
		}
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeUpload writes the multipart body. CreateFormFile would force
// application/octet-stream, so the part header is built by hand to carry
// the file's own content type.
func encodeUpload(file *File) (io.Reader, string, error) {
	var data bytes.Buffer
	w := multipart.NewWriter(&data)

	name := file.Name
	if name == "" {
		name = "upload"
	}
	contentType := file.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(file.Content)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, uploadField, quoteEscaper.Replace(name)))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file.Content); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &data, w.FormDataContentType(), nil
}

// PollOnce performs one status query and classifies the reply. The error
// is non-nil only when no reply was received.
func (c *Client) PollOnce(ctx context.Context, taskID string) (Outcome, error) {
	if c.config.BackendURL == "" {
		return Outcome{}, errors.New("analysis: backend is not configured")
	}

	u := c.config.BackendURL + resultPath + url.PathEscape(taskID) +
		"?_=" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + strconv.FormatUint(c.seq.Add(1), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("analysis: failed to create status request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("analysis: status request failed: %w", err)
	}
	defer resp.Body.Close()

	out, err := classify(resp, c.logger.With(zap.String("task_id", taskID)))
	if err != nil {
		return Outcome{}, err
	}
	c.logger.Debug("status reply",
		zap.String("task_id", taskID),
		zap.Int("status", resp.StatusCode),
		zap.Stringer("outcome", out.Kind),
	)
	return out, nil
}

// classify maps a status reply onto an Outcome. A JSON body on a 2xx reply
// is the backend's error channel, never a result.
func classify(resp *http.Response, log *logging.Logger) (Outcome, error) {
	switch {
	case resp.StatusCode == http.StatusAccepted:
		// Drained so the connection can be reused.
		if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody)); err != nil {
			log.Debug("could not drain pending reply", zap.Error(err))
		}
		return pending(), nil

	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, err := readErrorField(resp.Body)
		if err != nil {
			log.Debug("error reply is not JSON", zap.Int("status", resp.StatusCode), zap.Error(err))
		}
		if msg != "" {
			return failure(msg), nil
		}
		return failure(MsgProcessingFailed), nil

	case isJSON(resp.Header.Get("Content-Type")):
		var body struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body); err != nil {
			log.Debug("undecodable JSON error report", zap.Error(err))
		}
		switch {
		case body.Error != "":
			return failure(body.Error), nil
		case body.Message != "":
			return failure(body.Message), nil
		default:
			return failure(MsgProcessingFailed), nil
		}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{}, fmt.Errorf("analysis: failed to read result: %w", err)
	}
	if len(payload) == 0 {
		return failure(MsgEmptyResult), nil
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(payload)
	}
	return success(payload, contentType), nil
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "json")
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// readErrorField returns the "error" field of a JSON body. An empty or
// non-JSON body yields "" and the decode error.
func readErrorField(r io.Reader) (string, error) {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r, maxErrorBody)).Decode(&body); err != nil {
		return "", err
	}
	return strings.TrimSpace(body.Error), nil
}
