package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/hlsvault/hlsvault/internal/config"
	"github.com/hlsvault/hlsvault/internal/models"
)

const (
	// Download URLs issued by the platform stay valid for about an hour.
	// Resolved paths are cached well under that.
	resolvedPathTTL     = 50 * time.Minute
	resolvedPathCleanup = 10 * time.Minute

	// The platform throttles per-chat sends to roughly one per three
	// seconds; metadata and download calls tolerate a higher rate.
	sendInterval  = 3 * time.Second
	queryRate     = 5
	queryBurst    = 5
	downloadRetry = 2 * time.Second
)

// FileInfo describes a stored blob as reported by the platform.
type FileInfo struct {
	FileID string
	Size   int64
	Path   string
}

// Client is an HTTP client for the bot file API. One Client serves all
// accounts; rate limiters and resolved-path caches are kept per account.
type Client struct {
	apiBase string
	logger  *slog.Logger

	uploadHTTP   *http.Client
	downloadHTTP *http.Client
	infoHTTP     *http.Client

	// resolved getFile paths, keyed by accountID/fileID
	resolved *gocache.Cache

	mu       sync.Mutex
	senders  map[string]*rate.Limiter
	queriers map[string]*rate.Limiter
}

// NewClient creates a blob client from configuration.
func NewClient(cfg config.BlobConfig, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		apiBase:      cfg.APIBase,
		logger:       log.With(slog.String("component", "blob")),
		uploadHTTP:   &http.Client{Timeout: cfg.UploadTimeout},
		downloadHTTP: &http.Client{Timeout: cfg.DownloadTimeout},
		infoHTTP:     &http.Client{Timeout: cfg.InfoTimeout},
		resolved:     gocache.New(resolvedPathTTL, resolvedPathCleanup),
		senders:      map[string]*rate.Limiter{},
		queriers:     map[string]*rate.Limiter{},
	}
}

func (c *Client) sendLimiter(accountID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.senders[accountID]
	if !ok {
		l = rate.NewLimiter(rate.Every(sendInterval), 1)
		c.senders[accountID] = l
	}
	return l
}

func (c *Client) queryLimiter(accountID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.queriers[accountID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(queryRate), queryBurst)
		c.queriers[accountID] = l
	}
	return l
}

// apiResponse is the envelope every bot API method returns.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Parameters  *responseParams `json:"parameters"`
	Result      json.RawMessage `json:"result"`
}

type responseParams struct {
	RetryAfter int `json:"retry_after"`
}

type uploadResult struct {
	MessageID int64 `json:"message_id"`
	Document  struct {
		FileID   string `json:"file_id"`
		FileSize int64  `json:"file_size"`
	} `json:"document"`
}

type fileResult struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size"`
	FilePath string `json:"file_path"`
}

func (c *Client) methodURL(token, method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.apiBase, token, method)
}

func (c *Client) fileURL(token, path string) string {
	return fmt.Sprintf("%s/file/bot%s/%s", c.apiBase, token, path)
}

// Upload streams one blob to the account's chat and returns its handle.
// The body is streamed through a pipe so uploads never buffer the whole
// segment in memory. Respects platform rate-limit responses by waiting the
// advertised interval once before giving up.
func (c *Client) Upload(ctx context.Context, account Account, filename string, r io.Reader, size int64) (string, error) {
	for attempt := 0; ; attempt++ {
		if err := c.sendLimiter(account.ID).Wait(ctx); err != nil {
			return "", models.Wrap(models.KindUploadFailed, err, "rate limit wait")
		}

		handle, retryAfter, err := c.uploadOnce(ctx, account, filename, r, size)
		if err == nil {
			return handle, nil
		}
		if retryAfter <= 0 || attempt > 0 {
			return "", err
		}

		c.logger.Warn("upload throttled by platform",
			slog.String("account", account.ID),
			slog.Duration("retry_after", retryAfter))
		select {
		case <-ctx.Done():
			return "", models.Wrap(models.KindUploadFailed, ctx.Err(), "waiting out throttle")
		case <-time.After(retryAfter):
		}
		// Uploads read the source once; a retry needs a rewindable reader.
		seeker, ok := r.(io.Seeker)
		if !ok {
			return "", err
		}
		if _, serr := seeker.Seek(0, io.SeekStart); serr != nil {
			return "", err
		}
	}
}

func (c *Client) uploadOnce(ctx context.Context, account Account, filename string, r io.Reader, size int64) (string, time.Duration, error) {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		err := func() error {
			if err := form.WriteField("chat_id", account.ChatID); err != nil {
				return err
			}
			if err := form.WriteField("disable_notification", "true"); err != nil {
				return err
			}
			part, err := form.CreateFormFile("document", filename)
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, r); err != nil {
				return err
			}
			return form.Close()
		}()
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(account.Token, "sendDocument"), pr)
	if err != nil {
		return "", 0, models.Wrap(models.KindUploadFailed, err, "building upload request")
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	start := time.Now()
	resp, err := c.uploadHTTP.Do(req)
	if err != nil {
		return "", 0, models.Wrap(models.KindUploadFailed, err, "uploading %s via %s", filename, account.ID)
	}
	defer resp.Body.Close()

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return "", 0, models.Wrap(models.KindUploadFailed, err, "decoding upload response")
	}
	if !env.OK {
		retryAfter := time.Duration(0)
		if env.Parameters != nil && env.Parameters.RetryAfter > 0 {
			retryAfter = time.Duration(env.Parameters.RetryAfter) * time.Second
		}
		return "", retryAfter, models.E(models.KindUploadFailed,
			"platform rejected upload via %s: %s (code %d)", account.ID, env.Description, env.ErrorCode)
	}

	var result uploadResult
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return "", 0, models.Wrap(models.KindUploadFailed, err, "decoding upload result")
	}
	if result.Document.FileID == "" {
		return "", 0, models.E(models.KindUploadFailed, "upload result missing file id")
	}

	c.logger.Debug("uploaded blob",
		slog.String("account", account.ID),
		slog.String("filename", filename),
		slog.Int64("bytes", size),
		slog.Duration("elapsed", time.Since(start)))

	return Handle{FileID: result.Document.FileID, MessageID: result.MessageID}.String(), 0, nil
}

// Info resolves a handle to its current file metadata, including the
// short-lived download path. Results are cached per account until shortly
// before the platform expires them.
func (c *Client) Info(ctx context.Context, account Account, handle string) (*FileInfo, error) {
	h, err := ParseHandle(handle)
	if err != nil {
		return nil, err
	}

	cacheKey := account.ID + "/" + h.FileID
	if cached, ok := c.resolved.Get(cacheKey); ok {
		info := cached.(FileInfo)
		return &info, nil
	}

	if err := c.queryLimiter(account.ID).Wait(ctx); err != nil {
		return nil, models.Wrap(models.KindFetchFailed, err, "rate limit wait")
	}

	url := fmt.Sprintf("%s?file_id=%s", c.methodURL(account.Token, "getFile"), h.FileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, models.Wrap(models.KindFetchFailed, err, "building getFile request")
	}

	resp, err := c.infoHTTP.Do(req)
	if err != nil {
		return nil, wrapFetchErr(err, "resolving handle via %s", account.ID)
	}
	defer resp.Body.Close()

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return nil, models.Wrap(models.KindFetchFailed, err, "decoding getFile response")
	}
	if !env.OK {
		if env.ErrorCode == http.StatusUnauthorized || env.ErrorCode == http.StatusForbidden {
			return nil, models.E(models.KindAccountUnavailable,
				"account %s rejected by platform: %s", account.ID, env.Description)
		}
		return nil, models.E(models.KindFetchFailed,
			"platform refused getFile via %s: %s (code %d)", account.ID, env.Description, env.ErrorCode)
	}

	var result fileResult
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return nil, models.Wrap(models.KindFetchFailed, err, "decoding getFile result")
	}
	if result.FilePath == "" {
		return nil, models.E(models.KindFetchFailed, "getFile result missing file path")
	}

	info := FileInfo{FileID: h.FileID, Size: result.FileSize, Path: result.FilePath}
	c.resolved.Set(cacheKey, info, gocache.DefaultExpiration)
	return &info, nil
}

// Download opens a streaming read of a stored blob. The returned reader is
// the response body; the caller must close it. Transient failures are
// retried once on a fresh resolve, still against the same account.
func (c *Client) Download(ctx context.Context, account Account, handle string) (io.ReadCloser, int64, error) {
	var body io.ReadCloser
	var size int64

	attempt := 0
	operation := func() error {
		attempt++
		info, err := c.Info(ctx, account, handle)
		if err != nil {
			if models.IsKind(err, models.KindAccountUnavailable) {
				return backoff.Permanent(err)
			}
			return err
		}

		rc, n, err := c.fetch(ctx, account, info.Path)
		if err != nil {
			// The cached path may have expired; the retry re-resolves.
			c.resolved.Delete(account.ID + "/" + mustFileID(handle))
			return err
		}
		if n < 0 {
			// Chunked responses carry no Content-Length; getFile reported
			// the size at resolve time.
			n = info.Size
		}
		body, size = rc, n
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(downloadRetry), 1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, 0, err
	}

	c.logger.Debug("downloading blob",
		slog.String("account", account.ID),
		slog.Int64("bytes", size),
		slog.Int("attempts", attempt))
	return body, size, nil
}

func (c *Client) fetch(ctx context.Context, account Account, path string) (io.ReadCloser, int64, error) {
	if err := c.queryLimiter(account.ID).Wait(ctx); err != nil {
		return nil, 0, models.Wrap(models.KindFetchFailed, err, "rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileURL(account.Token, path), nil)
	if err != nil {
		return nil, 0, models.Wrap(models.KindFetchFailed, err, "building download request")
	}

	resp, err := c.downloadHTTP.Do(req)
	if err != nil {
		return nil, 0, wrapFetchErr(err, "downloading via %s", account.ID)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, models.E(models.KindFetchFailed,
			"platform returned %d for download via %s", resp.StatusCode, account.ID)
	}
	return resp.Body, resp.ContentLength, nil
}

// Ping verifies the account's credentials are accepted by the platform.
func (c *Client) Ping(ctx context.Context, account Account) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.methodURL(account.Token, "getMe"), nil)
	if err != nil {
		return models.Wrap(models.KindAccountUnavailable, err, "building getMe request")
	}

	resp, err := c.infoHTTP.Do(req)
	if err != nil {
		return models.Wrap(models.KindAccountUnavailable, err, "pinging account %s", account.ID)
	}
	defer resp.Body.Close()

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return models.Wrap(models.KindAccountUnavailable, err, "decoding getMe response")
	}
	if !env.OK {
		return models.E(models.KindAccountUnavailable,
			"account %s rejected: %s (code %d)", account.ID, env.Description, env.ErrorCode)
	}
	return nil
}

// Delete removes the blob's carrier message. Best effort: handles recorded
// without a message id cannot be deleted remotely and return nil.
func (c *Client) Delete(ctx context.Context, account Account, handle string) error {
	h, err := ParseHandle(handle)
	if err != nil {
		return err
	}
	if h.MessageID == 0 {
		return nil
	}

	if err := c.queryLimiter(account.ID).Wait(ctx); err != nil {
		return models.Wrap(models.KindFetchFailed, err, "rate limit wait")
	}

	url := fmt.Sprintf("%s?chat_id=%s&message_id=%d",
		c.methodURL(account.Token, "deleteMessage"), account.ChatID, h.MessageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return models.Wrap(models.KindFetchFailed, err, "building deleteMessage request")
	}

	resp, err := c.infoHTTP.Do(req)
	if err != nil {
		return models.Wrap(models.KindFetchFailed, err, "deleting blob via %s", account.ID)
	}
	defer resp.Body.Close()

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return models.Wrap(models.KindFetchFailed, err, "decoding deleteMessage response")
	}
	if !env.OK {
		return models.E(models.KindFetchFailed,
			"platform refused delete via %s: %s (code %d)", account.ID, env.Description, env.ErrorCode)
	}
	return nil
}

func decodeEnvelope(r io.Reader) (*apiResponse, error) {
	var env apiResponse
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

func wrapFetchErr(err error, format string, args ...any) error {
	kind := models.KindFetchFailed
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = models.KindFetchTimeout
	}
	return models.Wrap(kind, err, format, args...)
}

func mustFileID(handle string) string {
	h, err := ParseHandle(handle)
	if err != nil {
		return handle
	}
	return h.FileID
}
