package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/order-sync-gateway/internal/logger"
	"github.com/ignatzorin/order-sync-gateway/internal/pkg/apperror"
)

const (
	defaultTokenTTL = 5 * time.Minute
	tokenExpirySkew = 30 * time.Second
)

// TokenCache хранит access токены партнёров между запросами.
type TokenCache interface {
	GetOrSet(ctx context.Context, key string, fn func(ctx context.Context) (interface{}, time.Duration, error)) (interface{}, error)
	Delete(key string)
}

// Options - параметры клиента API платформы.
type Options struct {
	Platform     string
	BaseURL      string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	Cache        TokenCache
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
}

// Client вызывает REST API платформы от имени шлюза (client credentials).
type Client struct {
	platform     string
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	cache        TokenCache
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
}

// StatusError - ответ API с кодом вне 2xx.
type StatusError struct {
	StatusCode int
	Message    string

	retryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: status=%d message=%s", e.StatusCode, e.Message)
}

// NewClient создаёт клиента.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return &Client{
		platform:     opts.Platform,
		baseURL:      strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		httpClient:   httpClient,
		cache:        opts.Cache,
		maxRetries:   maxRetries,
		baseDelay:    baseDelay,
		maxDelay:     maxDelay,
	}
}

// Platform возвращает имя платформы клиента.
func (c *Client) Platform() string {
	return c.platform
}

// UpdateOrderStatus передаёт платформе новый статус заказа.
func (c *Client) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	path := fmt.Sprintf("/orders/%d/status", orderID)
	return c.do(ctx, http.MethodPut, path, map[string]string{"status": status}, nil)
}

// UpdateItemStatus передаёт платформе новый статус позиции.
func (c *Client) UpdateItemStatus(ctx context.Context, orderID, subOrderID int64, status string) error {
	path := fmt.Sprintf("/orders/%d/items/%d/status", orderID, subOrderID)
	return c.do(ctx, http.MethodPut, path, map[string]string{"status": status}, nil)
}

// OrdersPage - страница списка заказов платформы. Заказы отдаются в исходном виде.
type OrdersPage struct {
	Orders     []json.RawMessage `json:"orders"`
	Page       int               `json:"page"`
	TotalPages int               `json:"total_pages"`
}

// HasMore сообщает, есть ли следующая страница.
func (p *OrdersPage) HasMore() bool {
	return p.Page < p.TotalPages
}

// ListOrders возвращает одну страницу заказов (страницы нумеруются с 1).
func (c *Client) ListOrders(ctx context.Context, status string, page, pageSize int) (*OrdersPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(pageSize))
	if status != "" {
		query.Set("status", status)
	}

	var out OrdersPage
	if err := c.do(ctx, http.MethodGet, "/orders?"+query.Encode(), nil, &out); err != nil {
		return nil, err
	}
	if out.Page == 0 {
		out.Page = page
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	if c.baseURL == "" {
		return apperror.New(apperror.ErrCodeUpstream, fmt.Sprintf("API платформы %s не настроен", c.platform))
	}

	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = encoded
	}

	policy := c.newBackOff()
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := c.send(ctx, method, path, body, out)

		var statusErr *StatusError
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case errors.As(err, &statusErr):
			if statusErr.StatusCode != http.StatusTooManyRequests && statusErr.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			policy.retryAfter = statusErr.retryAfter
		case !errors.Is(err, errTransport):
			return backoff.Permanent(err)
		}

		logger.Log.WithFields(logrus.Fields{
			"platform": c.platform,
			"path":     path,
			"attempt":  attempt,
		}).WithError(err).Warn("upstream: повтор запроса")
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx))
}

// errTransport помечает сетевые ошибки, после которых запрос можно повторить.
var errTransport = errors.New("upstream: транспортная ошибка")

// send выполняет одну попытку. Отозванный раньше exp токен забывается,
// и запрос сразу повторяется один раз с новым токеном.
func (c *Client) send(ctx context.Context, method, path string, body []byte, out any) error {
	for refreshed := false; ; refreshed = true {
		token, err := c.accessToken(ctx)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return apperror.Wrap(fmt.Errorf("%w: %w", errTransport, err), apperror.ErrCodeUpstream, "API платформы недоступен")
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return apperror.Wrap(fmt.Errorf("%w: %w", errTransport, readErr), apperror.ErrCodeUpstream, "API платформы недоступен")
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode <= 299:
			if out != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, out); err != nil {
					return fmt.Errorf("upstream: некорректный ответ %s %s: %w", method, path, err)
				}
			}
			return nil
		case resp.StatusCode == http.StatusUnauthorized && !refreshed:
			c.forgetToken()
			continue
		}

		return apperror.Wrap(&StatusError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
			retryAfter: parseRetryAfterSeconds(resp.Header.Get("Retry-After")),
		}, apperror.ErrCodeUpstream, fmt.Sprintf("API платформы %s вернул ошибку", c.platform))
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Client) tokenCacheKey() string {
	return "upstream_token:" + c.platform + ":" + c.clientID
}

func (c *Client) forgetToken() {
	if c.cache != nil {
		c.cache.Delete(c.tokenCacheKey())
	}
}

// accessToken возвращает токен из кэша или запрашивает новый.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	if c.cache == nil {
		token, _, err := c.fetchToken(ctx)
		return token, err
	}

	cached, err := c.cache.GetOrSet(ctx, c.tokenCacheKey(), func(ctx context.Context) (interface{}, time.Duration, error) {
		return c.fetchToken(ctx)
	})
	if err != nil {
		return "", err
	}
	token, _ := cached.(string)
	return token, nil
}

func (c *Client) fetchToken(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, apperror.Wrap(err, apperror.ErrCodeUpstream, "не удалось получить токен платформы")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, apperror.Wrap(&StatusError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)},
			apperror.ErrCodeUpstream, "не удалось получить токен платформы")
	}

	var tr tokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil || tr.AccessToken == "" {
		return "", 0, apperror.New(apperror.ErrCodeUpstream, "платформа вернула пустой токен")
	}
	return tr.AccessToken, tokenTTL(tr, time.Now()), nil
}

// tokenTTL берёт срок из exp самого JWT, затем из expires_in, иначе значение по умолчанию.
func tokenTTL(tr tokenResponse, now time.Time) time.Duration {
	if exp, err := TokenExpiry(tr.AccessToken); err == nil {
		return exp.Sub(now) - tokenExpirySkew
	}
	if tr.ExpiresIn > 0 {
		return time.Duration(tr.ExpiresIn)*time.Second - tokenExpirySkew
	}
	return defaultTokenTTL
}

// TokenExpiry читает exp из JWT партнёра без проверки подписи:
// ключа подписи у шлюза нет, значение нужно только для кэша.
func TokenExpiry(token string) (time.Time, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, err
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, errors.New("upstream: в токене нет exp")
	}
	return exp.Time, nil
}

// retryAfterBackOff - экспоненциальная пауза, которую заменяет Retry-After из ответа платформы.
type retryAfterBackOff struct {
	*backoff.ExponentialBackOff
	retryAfter time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.ExponentialBackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if b.retryAfter > 0 {
		next = b.retryAfter
		if next > b.MaxInterval {
			next = b.MaxInterval
		}
		b.retryAfter = 0
	}
	return next
}

func (c *Client) newBackOff() *retryAfterBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.baseDelay
	exp.MaxInterval = c.maxDelay
	exp.MaxElapsedTime = 0
	exp.Reset()
	return &retryAfterBackOff{ExponentialBackOff: exp}
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func errorMessage(body []byte) string {
	var parsed map[string]any
	if json.Unmarshal(body, &parsed) == nil {
		for _, key := range []string{"message", "error", "error_description"} {
			if msg, ok := parsed[key].(string); ok && strings.TrimSpace(msg) != "" {
				return msg
			}
		}
	}
	return strings.TrimSpace(string(body))
}
