// Package client is the Go SDK for the flight-log anchoring service.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is wrapped by APIError for 404 responses.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Message    string
	// Set when a checkpoint run stopped part-way.
	Component string
	LastSeq   int
}

func (e *APIError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("server returned %d: %s (component %s, last seq %d)", e.StatusCode, e.Message, e.Component, e.LastSeq)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap lets errors.Is(err, ErrNotFound) match 404s.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Checkpoint is the anchored statement for one chunk.
type Checkpoint struct {
	FlightID    string `json:"flightId"`
	SeqNo       int    `json:"seqNo"`
	TipHash     string `json:"tipHash"`
	S3Bucket    string `json:"s3Bucket"`
	S3Key       string `json:"s3Key"`
	S3VersionID string `json:"s3VersionId"`
}

// Receipt is the ledger's acknowledgement of a write.
type Receipt struct {
	MissionKey    string    `json:"mission_key"`
	TxHash        string    `json:"transaction_hash"`
	Status        string    `json:"status"`
	BlockNumber   uint64    `json:"block_number,omitempty"`
	PayloadDigest string    `json:"payload_digest,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// CheckpointResult pairs an emitted checkpoint with its receipt.
type CheckpointResult struct {
	Checkpoint        Checkpoint `json:"checkpoint"`
	Receipt           *Receipt   `json:"receipt"`
	CumulativeRecords int        `json:"cumulative_records"`
	JournalIndex      int        `json:"journal_index,omitempty"`
	JournalError      string     `json:"journal_error,omitempty"`
}

// EmitOptions controls a checkpoint run.
type EmitOptions struct {
	Chunks   int
	StartSeq int    // resume from this sequence number; 0 starts at 1
	PriorTip string // tip of StartSeq-1 when resuming; optional with a journal
}

// EmitResult is the response of a completed run.
type EmitResult struct {
	FlightID    string             `json:"flight_id"`
	Records     int                `json:"records"`
	Checkpoints []CheckpointResult `json:"checkpoints"`
}

// Mismatch is one disagreeing field of a verification.
type Mismatch struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// Verification is the report returned by Verify.
type Verification struct {
	FlightID       string     `json:"flight_id"`
	MissionKey     string     `json:"mission_key"`
	Status         string     `json:"status"`
	ExpectedTip    string     `json:"expected_tip,omitempty"`
	AnchoredTip    string     `json:"anchored_tip,omitempty"`
	RecomputedTip  string     `json:"recomputed_tip,omitempty"`
	SeqNo          int        `json:"seq_no,omitempty"`
	StorageKey     string     `json:"storage_key,omitempty"`
	StorageVersion string     `json:"storage_version,omitempty"`
	AnchoredAt     time.Time  `json:"anchored_at"`
	Uploader       string     `json:"uploader,omitempty"`
	Mismatches     []Mismatch `json:"mismatches,omitempty"`
	Cached         bool       `json:"cached,omitempty"`
}

// Match reports whether the flight verified.
func (v *Verification) Match() bool { return v.Status == "MATCH" }

// Mission is the content of a ledger slot.
type Mission struct {
	MissionID  string    `json:"mission_id"`
	MissionKey string    `json:"mission_key"`
	KeyKind    string    `json:"key_kind"`
	Exists     bool      `json:"exists"`
	S3Key      string    `json:"s3_key"`
	StorageKey string    `json:"storage_key,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Uploader   string    `json:"uploader,omitempty"`
	SeqNo      int       `json:"seq_no,omitempty"`
	TipHash    string    `json:"tip_hash,omitempty"`
}

// Version is one stored version of a flight log.
type Version struct {
	ID           string    `json:"version_id"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	IsLatest     bool      `json:"is_latest"`
}

// JournalEntry is one row of the checkpoint journal.
type JournalEntry struct {
	Index          int       `json:"index"`
	Timestamp      time.Time `json:"timestamp"`
	FlightID       string    `json:"flight_id"`
	SeqNo          int       `json:"seq_no"`
	TipHash        string    `json:"tip_hash"`
	StorageKey     string    `json:"storage_key"`
	StorageVersion string    `json:"storage_version"`
	MissionKey     string    `json:"mission_key"`
	TxHash         string    `json:"tx_hash"`
	RunID          string    `json:"run_id"`
	PrevHash       string    `json:"prev_hash"`
	Hash           string    `json:"hash"`
}

// JournalStatus summarises the journal.
type JournalStatus struct {
	Entries int    `json:"entries"`
	Root    string `json:"root"`
}

// ChainInfo describes the service's ledger connection.
type ChainInfo struct {
	Connected         bool   `json:"connected"`
	Backend           string `json:"backend"`
	RPCURL            string `json:"rpc_url,omitempty"`
	ConfiguredChainID int64  `json:"configured_chain_id,omitempty"`
	NodeChainID       int64  `json:"node_chain_id,omitempty"`
	LatestBlock       uint64 `json:"latest_block,omitempty"`
	ContractAddress   string `json:"contract_address,omitempty"`
	AccountAddress    string `json:"account_address"`
}

// Client talks to an anchord instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	cache      *missionCache
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client is nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		c.httpClient.Timeout = d
		return nil
	}
}

// WithAPIKey sends key as a Bearer token on every request, for deployments
// behind an authenticating proxy.
func WithAPIKey(key string) Option {
	return func(c *Client) error {
		c.apiKey = key
		return nil
	}
}

// WithCacheTTL caches GetMission results for ttl.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		c.cache = newMissionCache(ttl)
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development against a self-signed endpoint.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: c.httpClient.Timeout,
		}
		return nil
	}
}

// New creates a Client for the service at baseURL.
//
//	c, err := client.New("http://localhost:8080", client.WithTimeout(time.Minute))
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Emit uploads a flight log and runs the checkpoint pipeline over it. When
// the run stops part-way the checkpoints already anchored are returned with
// an *APIError naming the failing component.
func (c *Client) Emit(ctx context.Context, flightID string, log io.Reader, opts EmitOptions) (*EmitResult, error) {
	q := url.Values{}
	q.Set("chunks", strconv.Itoa(opts.Chunks))
	if opts.StartSeq > 0 {
		q.Set("start_seq", strconv.Itoa(opts.StartSeq))
	}
	if opts.PriorTip != "" {
		q.Set("prior_tip", opts.PriorTip)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/flights/"+url.PathEscape(flightID)+"/checkpoints?"+q.Encode(), log)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	status, body, err := c.send(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		var partial struct {
			Error       string             `json:"error"`
			Component   string             `json:"component"`
			LastSeq     int                `json:"last_seq"`
			Checkpoints []CheckpointResult `json:"checkpoints"`
		}
		_ = json.Unmarshal(body, &partial)
		apiErr := &APIError{StatusCode: status, Message: partial.Error, Component: partial.Component, LastSeq: partial.LastSeq}
		if apiErr.Message == "" {
			apiErr.Message = string(body)
		}
		return &EmitResult{FlightID: flightID, Checkpoints: partial.Checkpoints}, apiErr
	}

	var out EmitResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode emit response: %w", err)
	}
	return &out, nil
}

// Verify checks a flight against the ledger. An empty tip checks the
// anchored tip against storage.
func (c *Client) Verify(ctx context.Context, flightID, tip string) (*Verification, error) {
	path := "/api/v1/flights/" + url.PathEscape(flightID) + "/verify"
	if tip != "" {
		path += "?tip=" + url.QueryEscape(tip)
	}
	var out Verification
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListFlights returns the ids of all stored flights.
func (c *Client) ListFlights(ctx context.Context) ([]string, error) {
	var out struct {
		Flights []string `json:"flights"`
	}
	if err := c.getJSON(ctx, "/api/v1/flights", &out); err != nil {
		return nil, err
	}
	return out.Flights, nil
}

// Versions returns the stored versions of a flight log, newest first.
func (c *Client) Versions(ctx context.Context, flightID string) ([]Version, error) {
	var out struct {
		Versions []Version `json:"versions"`
	}
	if err := c.getJSON(ctx, "/api/v1/flights/"+url.PathEscape(flightID)+"/versions", &out); err != nil {
		return nil, err
	}
	return out.Versions, nil
}

// GetMission reads the ledger slot of a mission id.
func (c *Client) GetMission(ctx context.Context, missionID string) (*Mission, error) {
	if c.cache != nil {
		if m, ok := c.cache.get(missionID); ok {
			return m, nil
		}
	}
	var out Mission
	if err := c.getJSON(ctx, "/api/v1/missions/"+url.PathEscape(missionID), &out); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.set(missionID, &out)
	}
	return &out, nil
}

// LogMission writes s3Key to the mission's ledger slot as-is.
func (c *Client) LogMission(ctx context.Context, missionID, s3Key string) (*Receipt, error) {
	payload, err := json.Marshal(map[string]string{"s3_key": s3Key})
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/missions/"+url.PathEscape(missionID)+"/log", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		Receipt *Receipt `json:"receipt"`
	}
	if err := c.do(req, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.drop(missionID)
	}
	return out.Receipt, nil
}

// Chain reports the service's ledger connection.
func (c *Client) Chain(ctx context.Context) (*ChainInfo, error) {
	var out ChainInfo
	if err := c.getJSON(ctx, "/api/v1/chain", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Journal returns the journal length and root hash.
func (c *Client) Journal(ctx context.Context) (*JournalStatus, error) {
	var out JournalStatus
	if err := c.getJSON(ctx, "/api/v1/journal", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns the journal entries of one flight, oldest first.
func (c *Client) History(ctx context.Context, flightID string) ([]JournalEntry, error) {
	var out struct {
		Entries []JournalEntry `json:"entries"`
	}
	if err := c.getJSON(ctx, "/api/v1/journal?flight_id="+url.QueryEscape(flightID), &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// VerifyJournal asks the service to walk its journal. A broken chain is
// reported as a non-nil error.
func (c *Client) VerifyJournal(ctx context.Context) error {
	var out struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	if err := c.getJSON(ctx, "/api/v1/journal/verify", &out); err != nil {
		return err
	}
	if !out.Valid {
		return fmt.Errorf("journal integrity check failed: %s", out.Error)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, http.StatusOK, out)
}

// do executes req and decodes the body into out when the status matches want.
func (c *Client) do(req *http.Request, want int, out any) error {
	status, body, err := c.send(req)
	if err != nil {
		return err
	}
	if status != want {
		return newAPIError(status, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// send is a lower-level call that returns (statusCode, body, error) without
// failing on 4xx responses. The caller interprets the status code.
func (c *Client) send(req *http.Request) (int, []byte, error) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func newAPIError(status int, body []byte) *APIError {
	var e struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	return &APIError{StatusCode: status, Message: msg}
}

// --- simple in-memory mission cache ---

type cacheEntry struct {
	mission   *Mission
	expiresAt time.Time
}

type missionCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func newMissionCache(ttl time.Duration) *missionCache {
	return &missionCache{entries: make(map[string]*cacheEntry), ttl: ttl}
}

func (mc *missionCache) get(key string) (*Mission, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	e, ok := mc.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.mission, true
}

func (mc *missionCache) set(key string, m *Mission) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.entries[key] = &cacheEntry{mission: m, expiresAt: time.Now().Add(mc.ttl)}
}

func (mc *missionCache) drop(key string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.entries, key)
}
