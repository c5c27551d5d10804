package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"twitch-chat-analytics/model"
)

// leveledLogrus понижает ERROR клиента до WARN: после ошибки обычно идёт повтор.
type leveledLogrus struct {
	log *logrus.Entry
}

func (l leveledLogrus) fields(kv []any) *logrus.Entry {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return l.log.WithFields(f)
}

func (l leveledLogrus) Error(msg string, kv ...any) { l.fields(kv).Warn(msg) }
func (l leveledLogrus) Warn(msg string, kv ...any)  { l.fields(kv).Warn(msg) }
func (l leveledLogrus) Info(msg string, kv ...any)  { l.fields(kv).Info(msg) }
func (l leveledLogrus) Debug(msg string, kv ...any) { l.fields(kv).Debug(msg) }

// Client ходит в HTTP API с повторами на сетевых ошибках и 5xx.
type Client struct {
	base string
	http *retryablehttp.Client
}

// NewClient создаёт клиента для baseURL вида http://host:port.
func NewClient(baseURL string, retries int, log *logrus.Entry) *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = retries
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = 30 * time.Second
	c.Logger = retryablehttp.LeveledLogger(leveledLogrus{log: log.WithField("component", "api-client")})
	return &Client{base: strings.TrimRight(baseURL, "/"), http: c}
}

// StartSession открывает сессию на сервере. Для уже открытой сессии
// возвращает её идентификатор и предупреждение сервера.
func (c *Client) StartSession(ctx context.Context) (id, warning string, err error) {
	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/sessions", &resp); err != nil {
		return "", "", err
	}
	return resp.ID, resp.Warning, nil
}

// EndSession закрывает текущую сессию и возвращает её итог.
func (c *Client) EndSession(ctx context.Context) (model.SessionRecord, error) {
	var rec model.SessionRecord
	err := c.do(ctx, http.MethodDelete, "/api/sessions/current", &rec)
	return rec, err
}

// ExportSession копирует CSV сессии в w.
func (c *Client) ExportSession(ctx context.Context, id string, w io.Writer) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet,
		c.base+"/api/sessions/"+url.PathEscape(id)+"/export", nil)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return responseError(res)
	}
	_, err = io.Copy(w, res.Body)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		return responseError(res)
	}
	return json.NewDecoder(res.Body).Decode(out)
}

// StatusError описывает ответ сервера с кодом ошибки.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Code, http.StatusText(e.Code), e.Message)
}

func responseError(res *http.Response) error {
	var body errorResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 64<<10)).Decode(&body); err != nil || body.Error == "" {
		body.Error = http.StatusText(res.StatusCode)
	}
	return &StatusError{Code: res.StatusCode, Message: body.Error}
}
