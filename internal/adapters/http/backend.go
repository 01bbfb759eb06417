package http

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bft-labs/claimship/internal/domain"
	"github.com/bft-labs/claimship/internal/ports"
)

const (
	createBatchEndpoint      = "/api/Batch/CreateBatchRequest"
	sendClaimEndpoint        = "/api/Claims/SendClaim"
	resumeEndpoint           = "/api/Claims/GetHISProIdClaimsByBcrId/"
	uploadAttachmentEndpoint = "/api/Batch/UploadAttachment"
	insertMissingEndpoint    = "/api/DomainMapping/InsertMissMappingDomain"
	providerMappingsEndpoint = "/api/DomainMapping/GetProviderDomainMappingsWithMissing/"

	// CorrelationHeader carries the per-request id echoed in api call logs.
	CorrelationHeader = "X-Correlation-Id"

	maxResponseBytes = 4 << 20
)

// Endpoint names stored in the api call log.
const (
	EndpointCreateBatch      = "Batch_Create"
	EndpointSendClaims       = "Claims_Send"
	EndpointResumeStatus     = "Claims_GetCompletedIds"
	EndpointUploadAttachment = "Batch_UploadAttachment"
	EndpointInsertMissing    = "DomainMapping_InsertMissing"
	EndpointProviderMappings = "DomainMapping_GetWithMissing"
)

// Config holds what every backend request needs.
type Config struct {
	ServiceURL string
	AuthKey    string
	Hostname   string
}

// Client implements ports.BackendClient, ports.AttachmentUploader and
// ports.MappingPoster against the claims backend. Request bodies are gzip
// compressed JSON. Every request, failed or not, produces one APICall on
// the recorder; request bodies never reach the log.
type Client struct {
	client   ports.HTTPClient
	cfg      Config
	recorder ports.APICallRecorder
	logger   ports.Logger
	now      func() time.Time
}

// NewClient creates a backend client. A nil recorder discards telemetry.
func NewClient(client ports.HTTPClient, cfg Config, recorder ports.APICallRecorder, logger ports.Logger) *Client {
	if recorder == nil {
		recorder = discardRecorder{}
	}
	return &Client{
		client:   client,
		cfg:      cfg,
		recorder: recorder,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type discardRecorder struct{}

func (discardRecorder) Record(domain.APICall) {}

// envelope is the common response wrapper of the backend.
type envelope struct {
	Succeeded  *bool           `json:"succeeded"`
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Errors     []string        `json:"errors"`
	Data       json.RawMessage `json:"data"`
}

func (e envelope) failed() bool {
	return e.Succeeded != nil && !*e.Succeeded
}

func (e envelope) errorText() string {
	if e.Message != "" {
		return e.Message
	}
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return ""
}

// idList accepts claim ids encoded as numbers or numeric strings.
type idList []int64

func (l *idList) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(idList, 0, len(raw))
	for _, r := range raw {
		var n int64
		if err := json.Unmarshal(r, &n); err == nil {
			out = append(out, n)
			continue
		}
		var s string
		if err := json.Unmarshal(r, &s); err != nil {
			continue
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			out = append(out, n)
		}
	}
	*l = out
	return nil
}

type createBatchItem struct {
	CompanyCode     string    `json:"companyCode"`
	BatchStartDate  time.Time `json:"batchStartDate"`
	BatchEndDate    time.Time `json:"batchEndDate"`
	TotalClaims     int       `json:"totalClaims"`
	ProviderDhsCode string    `json:"providerDhsCode"`
}

type createBatchResponse struct {
	Succeeded  bool   `json:"succeeded"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	BatchID    int64  `json:"batchId"`
}

// CreateBatch registers the batch upstream and returns its BcrID.
func (c *Client) CreateBatch(ctx context.Context, b domain.Batch, claimCount int) (string, error) {
	start, end, err := monthWindow(b.Key.MonthKey)
	if err != nil {
		return "", err
	}
	body := map[string][]createBatchItem{
		"batchRequests": {{
			CompanyCode:     b.Key.CompanyCode,
			BatchStartDate:  start,
			BatchEndDate:    end,
			TotalClaims:     claimCount,
			ProviderDhsCode: b.Key.ProviderDhsCode,
		}},
	}

	resp, err := c.do(ctx, apiRequest{
		method:   http.MethodPost,
		path:     createBatchEndpoint,
		endpoint: EndpointCreateBatch,
		provider: b.Key.ProviderDhsCode,
		body:     body,
	})
	if err != nil {
		return "", err
	}

	// The backend answers with a structured body even on 5xx.
	var parsed createBatchResponse
	if err := json.Unmarshal(resp.body, &parsed); err != nil {
		return "", fmt.Errorf("create batch: unexpected response body (HTTP %d)", resp.status)
	}
	if !parsed.Succeeded || parsed.StatusCode != http.StatusOK || parsed.BatchID <= 0 {
		msg := parsed.Message
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.status)
		}
		return "", fmt.Errorf("create batch: %s", msg)
	}
	return strconv.FormatInt(parsed.BatchID, 10), nil
}

type sendClaimData struct {
	Success idList `json:"successClaimsProidClaim"`
	Fail    idList `json:"failClaimsProidClaim"`
}

// SendClaims posts one dispatch as a JSON array of claim bundles. A
// non-200 status or an unreadable body is a rejection, not an error.
func (c *Client) SendClaims(ctx context.Context, req ports.SendRequest) (ports.SendResult, error) {
	bundles := make([]json.RawMessage, len(req.Claims))
	for i, sc := range req.Claims {
		if !json.Valid(sc.Payload) {
			return ports.SendResult{}, fmt.Errorf("claim %s: payload is not valid json", sc.Key)
		}
		bundles[i] = sc.Payload
	}

	resp, err := c.do(ctx, apiRequest{
		method:   http.MethodPost,
		path:     sendClaimEndpoint,
		endpoint: EndpointSendClaims,
		provider: req.ProviderDhsCode,
		body:     bundles,
		headers: map[string]string{
			"X-Dispatch-Id": req.DispatchID,
			"X-Bcr-Id":      req.BcrID,
		},
	})
	if err != nil {
		return ports.SendResult{}, err
	}

	result := ports.SendResult{StatusCode: resp.status, CorrelationID: resp.correlationID}
	if resp.status != http.StatusOK {
		result.Error = fmt.Sprintf("SendClaim failed (HTTP %d)", resp.status)
		return result, nil
	}

	var env envelope
	var data sendClaimData
	if err := json.Unmarshal(resp.body, &env); err != nil || len(env.Data) == 0 {
		result.Error = "SendClaim returned an unexpected response shape"
		return result, nil
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		result.Error = "SendClaim returned an unexpected response shape"
		return result, nil
	}

	failMsg := env.errorText()
	if failMsg == "" {
		failMsg = "rejected by backend"
	}
	verdict := make(map[int64]domain.ItemResult, len(data.Success)+len(data.Fail))
	for _, id := range data.Success {
		verdict[id] = domain.ItemSuccess
	}
	for _, id := range data.Fail {
		verdict[id] = domain.ItemFail
	}
	result.Items = make([]domain.ItemOutcome, len(req.Claims))
	for i, sc := range req.Claims {
		item := domain.ItemOutcome{Key: sc.Key, Result: verdict[sc.Key.ProIdClaim]}
		if item.Result == domain.ItemFail {
			item.ErrorMessage = failMsg
		}
		result.Items[i] = item
	}

	if env.failed() {
		result.Error = failMsg
		if env.Message == "" {
			result.Error = "SendClaim returned succeeded=false"
		}
		return result, nil
	}
	result.Succeeded = true
	return result, nil
}

type resumeData struct {
	HisProIdClaim idList `json:"hisProIdClaim"`
}

// ResumeStatus reports which Claims of the batch the backend has finished.
// The backend only lists finished Claims, so Incomplete is left empty.
func (c *Client) ResumeStatus(ctx context.Context, bcrID string) (ports.ResumeResult, error) {
	resp, err := c.do(ctx, apiRequest{
		method:   http.MethodGet,
		path:     resumeEndpoint + url.PathEscape(bcrID),
		endpoint: EndpointResumeStatus,
	})
	if err != nil {
		return ports.ResumeResult{}, err
	}
	if resp.status != http.StatusOK {
		return ports.ResumeResult{}, fmt.Errorf("resume status: server returned %d: %s", resp.status, snippet(resp.body))
	}

	var env envelope
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return ports.ResumeResult{}, fmt.Errorf("resume status: decode: %w", err)
	}
	if env.failed() {
		return ports.ResumeResult{}, fmt.Errorf("resume status: %s", env.errorText())
	}
	var data resumeData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return ports.ResumeResult{}, fmt.Errorf("resume status: decode data: %w", err)
		}
	}
	return ports.ResumeResult{Completed: data.HisProIdClaim}, nil
}

type uploadAttachmentRequest struct {
	ProviderDhsCode string `json:"providerDhsCode"`
	ProIdClaim      int64  `json:"proIdClaim"`
	FileName        string `json:"fileName"`
	ContentType     string `json:"contentType"`
	SHA256          string `json:"sha256"`
	Content         []byte `json:"contentBase64"`
}

type uploadAttachmentData struct {
	OnlineURL string `json:"onlineUrl"`
}

// UploadAttachment sends the attachment content and returns where the
// backend stored it.
func (c *Client) UploadAttachment(ctx context.Context, a domain.Attachment, content []byte) (string, error) {
	resp, err := c.do(ctx, apiRequest{
		method:   http.MethodPost,
		path:     uploadAttachmentEndpoint,
		endpoint: EndpointUploadAttachment,
		provider: a.Key.ProviderDhsCode,
		body: uploadAttachmentRequest{
			ProviderDhsCode: a.Key.ProviderDhsCode,
			ProIdClaim:      a.Key.ProIdClaim,
			FileName:        a.FileName,
			ContentType:     a.ContentType,
			SHA256:          a.SHA256,
			Content:         content,
		},
	})
	if err != nil {
		return "", err
	}
	if resp.status != http.StatusOK {
		return "", fmt.Errorf("upload attachment: server returned %d: %s", resp.status, snippet(resp.body))
	}

	var env envelope
	var data uploadAttachmentData
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return "", fmt.Errorf("upload attachment: decode: %w", err)
	}
	if env.failed() {
		return "", fmt.Errorf("upload attachment: %s", env.errorText())
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return "", fmt.Errorf("upload attachment: decode data: %w", err)
		}
	}
	if data.OnlineURL == "" {
		return "", errors.New("upload attachment: response carries no online url")
	}
	return data.OnlineURL, nil
}

type mismappedItem struct {
	ProviderCodeValue string `json:"providerCodeValue"`
	ProviderNameValue string `json:"providerNameValue"`
	DomainTableID     int    `json:"domainTableId"`
	DomainTableName   string `json:"domainTableName,omitempty"`
}

type insertMissingRequest struct {
	ProviderDhsCode string          `json:"providerDhsCode"`
	MismappedItems  []mismappedItem `json:"mismappedItems"`
}

type providerMapping struct {
	DomTableID          int    `json:"domTable_ID"`
	ProviderDomainCode  string `json:"providerDomainCode"`
	ProviderDomainValue string `json:"providerDomainValue"`
	DhsDomainValue      int    `json:"dhsDomainValue"`
}

type providerMappingsData struct {
	DomainMappings []providerMapping `json:"domainMappings"`
}

// PostMissingMappings inserts the missing mappings upstream, then reads the
// provider's mapping table back and returns the posted values that already
// have an approved translation.
func (c *Client) PostMissingMappings(ctx context.Context, providerDhsCode string, mappings []domain.MissingMapping) ([]domain.DomainMapping, error) {
	if len(mappings) == 0 {
		return nil, nil
	}
	items := make([]mismappedItem, len(mappings))
	for i, m := range mappings {
		items[i] = mismappedItem{
			ProviderCodeValue: m.Key.SourceValue,
			ProviderNameValue: m.Key.SourceValue,
			DomainTableID:     m.Key.DomainTableID,
			DomainTableName:   m.DomainName,
		}
	}

	resp, err := c.do(ctx, apiRequest{
		method:   http.MethodPost,
		path:     insertMissingEndpoint,
		endpoint: EndpointInsertMissing,
		provider: providerDhsCode,
		body:     insertMissingRequest{ProviderDhsCode: providerDhsCode, MismappedItems: items},
	})
	if err != nil {
		return nil, err
	}
	var env envelope
	decodeErr := json.Unmarshal(resp.body, &env)
	if resp.status != http.StatusOK && (decodeErr != nil || env.Succeeded == nil || env.failed()) {
		return nil, fmt.Errorf("insert missing mappings: server returned %d: %s", resp.status, snippet(resp.body))
	}
	if decodeErr == nil && env.failed() {
		return nil, fmt.Errorf("insert missing mappings: %s", env.errorText())
	}

	approved, err := c.providerMappings(ctx, providerDhsCode)
	if err != nil {
		// The insert went through; resolution is picked up on the next post.
		c.logger.Warn("failed to read provider domain mappings", ports.Err(err))
		return nil, nil
	}

	type lookup struct {
		table int
		value string
	}
	index := make(map[lookup]providerMapping, len(approved))
	for _, pm := range approved {
		index[lookup{pm.DomTableID, pm.ProviderDomainCode}] = pm
	}
	var resolved []domain.DomainMapping
	for _, m := range mappings {
		pm, ok := index[lookup{m.Key.DomainTableID, m.Key.SourceValue}]
		if !ok {
			continue
		}
		resolved = append(resolved, domain.DomainMapping{
			Key:         m.Key,
			DomainName:  m.DomainName,
			TargetValue: strconv.Itoa(pm.DhsDomainValue),
			Status:      domain.MappingApproved,
		})
	}
	return resolved, nil
}

func (c *Client) providerMappings(ctx context.Context, providerDhsCode string) ([]providerMapping, error) {
	resp, err := c.do(ctx, apiRequest{
		method:   http.MethodGet,
		path:     providerMappingsEndpoint + url.PathEscape(providerDhsCode),
		endpoint: EndpointProviderMappings,
		provider: providerDhsCode,
	})
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, fmt.Errorf("server returned %d: %s", resp.status, snippet(resp.body))
	}
	var env envelope
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	var data providerMappingsData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
	}
	return data.DomainMappings, nil
}

type apiRequest struct {
	method   string
	path     string
	endpoint string
	provider string
	body     any
	headers  map[string]string
}

type apiResponse struct {
	status        int
	body          []byte
	correlationID string
}

// do performs one request and records its outcome. Only transport failures
// are returned as errors; callers interpret the status code.
func (c *Client) do(ctx context.Context, r apiRequest) (apiResponse, error) {
	var payload []byte
	if r.body != nil {
		var err error
		payload, err = gzipJSON(r.body)
		if err != nil {
			return apiResponse{}, fmt.Errorf("%s: encode body: %w", r.endpoint, err)
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.cfg.ServiceURL+r.path, body)
	if err != nil {
		return apiResponse{}, fmt.Errorf("%s: create request: %w", r.endpoint, err)
	}

	correlationID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+c.cfg.AuthKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(CorrelationHeader, correlationID)
	req.Header.Set("X-Agent-Hostname", c.cfg.Hostname)
	req.Header.Set("X-Agent-OSArch", runtime.GOOS+"/"+runtime.GOARCH)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		req.Header.Set("Content-Encoding", "gzip")
	}
	for k, v := range r.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	call := domain.APICall{
		ProviderDhsCode: r.provider,
		EndpointName:    r.endpoint,
		CorrelationID:   correlationID,
		RequestUtc:      c.now(),
		RequestBytes:    int64(len(payload)),
		WasGzipRequest:  payload != nil,
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.finish(call, 0, 0, err)
		return apiResponse{}, fmt.Errorf("%s: send request: %w", r.endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.finish(call, resp.StatusCode, int64(len(respBody)), err)
		return apiResponse{}, fmt.Errorf("%s: read response: %w", r.endpoint, err)
	}
	c.finish(call, resp.StatusCode, int64(len(respBody)), nil)

	return apiResponse{status: resp.StatusCode, body: respBody, correlationID: correlationID}, nil
}

func (c *Client) finish(call domain.APICall, status int, respBytes int64, err error) {
	done := c.now()
	call.ResponseUtc = &done
	call.Duration = done.Sub(call.RequestUtc)
	call.HTTPStatusCode = status
	call.ResponseBytes = respBytes
	call.Succeeded = err == nil && status/100 == 2
	if err != nil {
		call.ErrorMessage = err.Error()
	}
	c.recorder.Record(call)

	c.logger.Debug("api call",
		ports.String("endpoint", call.EndpointName),
		ports.Int("status", status),
		ports.Duration("elapsed", call.Duration),
		ports.String("correlation_id", call.CorrelationID),
		ports.Bool("succeeded", call.Succeeded),
	)
}

func gzipJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// monthWindow turns a YYYYMM month key into the first and last day of the
// month.
func monthWindow(monthKey string) (time.Time, time.Time, error) {
	start, err := time.Parse("200601", monthKey)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("create batch: invalid month key %q", monthKey)
	}
	end := start.AddDate(0, 1, -1)
	return start, end, nil
}

func snippet(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
