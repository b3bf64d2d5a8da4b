// Package nethsm is a small client for the NetHSM REST API. It covers the
// calls the PKCS#11 module needs: key metadata, key and certificate
// import and removal, signing and random data.
package nethsm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	envPrefix       = "env:"
	maxResponseSize = 1 << 20

	contentTypeJSON = "application/json"
	contentTypePEM  = "application/x-pem-file"
)

// Credentials identify a NetHSM user. A password of the form env:NAME is
// read from the environment variable NAME every time it is resolved.
type Credentials struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

func (c Credentials) resolve() (string, string, error) {
	name, fromEnv := strings.CutPrefix(c.Password, envPrefix)
	if !fromEnv {
		return c.Username, c.Password, nil
	}
	value, ok := os.LookupEnv(name)
	if !ok {
		return "", "", errors.Errorf("nethsm: environment variable %s is not set", name)
	}
	return c.Username, value, nil
}

// Config describes how to reach one NetHSM instance.
type Config struct {
	URL         string
	Credentials Credentials
	Timeout     time.Duration
	Retries     int
	RetryWait   time.Duration
	Rate        float64
	Burst       int
	TLSInsecure bool
}

// Client talks to one NetHSM as one user. Clients derived with
// WithCredentials share the transport and the request limiter.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
	limiter *rate.Limiter
	log     *zap.SugaredLogger

	mu       sync.RWMutex
	source   Credentials
	username string
	password string
}

type noRetryKey struct{}

// checkRetry applies the default policy except for requests marked as
// not idempotent, which are sent exactly once.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Value(noRetryKey{}) != nil {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// NewClient returns a client for the instance described by conf.
func NewClient(conf Config, logger *zap.SugaredLogger) (*Client, error) {
	if conf.URL == "" {
		return nil, errors.New("nethsm: empty instance url")
	}
	if _, err := url.Parse(conf.URL); err != nil {
		return nil, errors.Wrap(err, "nethsm: bad instance url")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	logger = logger.With("instance", conf.URL)

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = conf.Retries
	if conf.RetryWait > 0 {
		httpClient.RetryWaitMin = conf.RetryWait
		httpClient.RetryWaitMax = 4 * conf.RetryWait
	}
	httpClient.CheckRetry = checkRetry
	httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	httpClient.Logger = leveledLogger{logger}
	if conf.Timeout > 0 {
		httpClient.HTTPClient.Timeout = conf.Timeout
	}
	if conf.TLSInsecure {
		if transport, ok := httpClient.HTTPClient.Transport.(*http.Transport); ok {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
	}

	limit := rate.Inf
	if conf.Rate > 0 {
		limit = rate.Limit(conf.Rate)
	}
	burst := conf.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		baseURL: strings.TrimRight(conf.URL, "/"),
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		log:     logger,
		source:  conf.Credentials,
	}
	if err := c.Reauthenticate(); err != nil {
		return nil, err
	}
	return c, nil
}

// WithCredentials returns a client for the same instance acting as
// another user.
func (c *Client) WithCredentials(creds Credentials) (*Client, error) {
	other := &Client{
		baseURL: c.baseURL,
		http:    c.http,
		limiter: c.limiter,
		log:     c.log,
		source:  creds,
	}
	if err := other.Reauthenticate(); err != nil {
		return nil, err
	}
	return other, nil
}

// Reauthenticate rebuilds the credentials from their source.
func (c *Client) Reauthenticate() error {
	username, password, err := c.source.resolve()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.username, c.password = username, password
	c.mu.Unlock()
	return nil
}

// Username returns the user the client acts as.
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// URL returns the base url of the instance.
func (c *Client) URL() string {
	return c.baseURL
}

// Health returns nil when the instance is operational.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, request{op: "health", method: http.MethodGet, path: "/health/ready", anonymous: true})
	return err
}

// Info returns the vendor and product of the instance.
func (c *Client) Info(ctx context.Context) (*InfoResponse, error) {
	var info InfoResponse
	if err := c.doJSON(ctx, request{op: "info", method: http.MethodGet, path: "/info", anonymous: true}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListKeys returns the identifiers of the stored keys. An empty filter
// lists every key visible to the user.
func (c *Client) ListKeys(ctx context.Context, filter string) ([]string, error) {
	path := "/keys"
	if filter != "" {
		path += "?filter=" + url.QueryEscape(filter)
	}
	var items []KeyItem
	if err := c.doJSON(ctx, request{op: "list_keys", method: http.MethodGet, path: path}, &items); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids, nil
}

// GetKey returns the metadata of a key.
func (c *Client) GetKey(ctx context.Context, id string) (*PublicKey, error) {
	var key PublicKey
	if err := c.doJSON(ctx, request{op: "get_key", method: http.MethodGet, path: keyPath(id)}, &key); err != nil {
		return nil, err
	}
	return &key, nil
}

// PutKey imports a private key under id.
func (c *Client) PutKey(ctx context.Context, id string, key *PrivateKey) error {
	body, err := json.Marshal(key)
	if err != nil {
		return errors.Wrap(err, "nethsm: encoding key")
	}
	_, err = c.do(ctx, request{
		op:          "put_key",
		method:      http.MethodPut,
		path:        keyPath(id),
		body:        body,
		contentType: contentTypeJSON,
		idempotent:  true,
	})
	return err
}

// DeleteKey removes a key and its certificate.
func (c *Client) DeleteKey(ctx context.Context, id string) error {
	_, err := c.do(ctx, request{op: "delete_key", method: http.MethodDelete, path: keyPath(id), idempotent: true})
	return err
}

// GetCertificate returns the DER certificate stored with a key.
func (c *Client) GetCertificate(ctx context.Context, id string) ([]byte, error) {
	data, err := c.do(ctx, request{
		op:     "get_cert",
		method: http.MethodGet,
		path:   keyPath(id) + "/cert",
		accept: contentTypePEM,
	})
	if err != nil {
		return nil, err
	}
	if block, _ := pem.Decode(data); block != nil {
		return block.Bytes, nil
	}
	return data, nil
}

// PutCertificate stores a DER certificate with a key.
func (c *Client) PutCertificate(ctx context.Context, id string, der []byte) error {
	body := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	_, err := c.do(ctx, request{
		op:          "put_cert",
		method:      http.MethodPut,
		path:        keyPath(id) + "/cert",
		body:        body,
		contentType: contentTypePEM,
		idempotent:  true,
	})
	return err
}

// DeleteCertificate removes the certificate stored with a key.
func (c *Client) DeleteCertificate(ctx context.Context, id string) error {
	_, err := c.do(ctx, request{op: "delete_cert", method: http.MethodDelete, path: keyPath(id) + "/cert", idempotent: true})
	return err
}

// Sign signs the base64 encoded message with a key and returns the
// base64 encoded signature. Sign requests are never retried.
func (c *Client) Sign(ctx context.Context, id string, mode SignMode, message string) (string, error) {
	body, err := json.Marshal(SignRequest{Mode: mode, Message: message})
	if err != nil {
		return "", errors.Wrap(err, "nethsm: encoding sign request")
	}
	var resp SignResponse
	err = c.doJSON(ctx, request{
		op:          "sign",
		method:      http.MethodPost,
		path:        keyPath(id) + "/sign",
		body:        body,
		contentType: contentTypeJSON,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Signature, nil
}

// Random returns n bytes from the instance's random generator.
func (c *Client) Random(ctx context.Context, n int) ([]byte, error) {
	body, err := json.Marshal(RandomRequest{Length: n})
	if err != nil {
		return nil, errors.Wrap(err, "nethsm: encoding random request")
	}
	var resp RandomResponse
	err = c.doJSON(ctx, request{
		op:          "random",
		method:      http.MethodPost,
		path:        "/random",
		body:        body,
		contentType: contentTypeJSON,
	}, &resp)
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(resp.Random)
	if err != nil {
		return nil, errors.Wrap(err, "nethsm: decoding random bytes")
	}
	return data, nil
}

func keyPath(id string) string {
	return "/keys/" + url.PathEscape(id)
}

type request struct {
	op          string
	method      string
	path        string
	body        []byte
	contentType string
	accept      string
	idempotent  bool
	anonymous   bool
}

func (c *Client) doJSON(ctx context.Context, r request, out interface{}) error {
	if r.accept == "" {
		r.accept = contentTypeJSON
	}
	if r.method == http.MethodGet {
		r.idempotent = true
	}
	data, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "nethsm: %s: decoding response", r.op)
	}
	return nil
}

func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrapf(err, "nethsm: %s: waiting for rate limiter", r.op)
	}
	if r.method == http.MethodGet {
		r.idempotent = true
	}
	if !r.idempotent {
		ctx = context.WithValue(ctx, noRetryKey{}, true)
	}

	var body interface{}
	if r.body != nil {
		body = r.body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return nil, errors.Wrapf(err, "nethsm: %s: building request", r.op)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.accept != "" {
		req.Header.Set("Accept", r.accept)
	}
	if !r.anonymous {
		c.mu.RLock()
		req.SetBasicAuth(c.username, c.password)
		c.mu.RUnlock()
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observe(r.op, 0, started)
		return nil, errors.Wrapf(err, "nethsm: %s", r.op)
	}
	defer resp.Body.Close()
	observe(r.op, resp.StatusCode, started)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errors.Wrapf(err, "nethsm: %s: reading response", r.op)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.log.Debugw("credentials rejected", "operation", r.op, "user", c.Username())
		return nil, errors.Wrapf(ErrAuthExpired, "%s", r.op)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, newAPIError(r.op, resp.StatusCode, data)
	}
	return data, nil
}

func newAPIError(op string, status int, body []byte) *APIError {
	apiErr := &APIError{Operation: op, Status: status}
	var msg ErrorResponse
	if json.Unmarshal(body, &msg) == nil {
		apiErr.Message = msg.Message
	} else {
		apiErr.Message = string(bytes.TrimSpace(body))
	}
	return apiErr
}

// leveledLogger adapts zap to the logger interface of retryablehttp.
type leveledLogger struct {
	log *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warnw(msg, keysAndValues...)
}
