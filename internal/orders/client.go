package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxResponseBody = 1 << 20 // 1MB

// errServerStatus marks a 5xx answer so the breaker counts it; callers still get the response.
var errServerStatus = errors.New("order service answered with a server error")

// Client talks JSON over HTTP to the external order service.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[*domain.ServiceResponse]
	log     *logrus.Entry
}

func NewClient(baseURL, token string, timeout time.Duration, log *logrus.Entry) *Client {
	log = log.WithField("component", "order_client")
	return &Client{
		baseURL: baseURL,
		token:   token,
		timeout: timeout,
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		cb: gobreaker.NewCircuitBreaker[*domain.ServiceResponse](gobreaker.Settings{
			Name:        "order-service",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
			},
		}),
		log: log,
	}
}

// CreateOrder submits the whole order in one request.
func (c *Client) CreateOrder(ctx context.Context, userID string, order domain.CheckoutOrder) (*domain.ServiceResponse, error) {
	if order.Order == nil {
		order.Order = []domain.CartLineItem{}
	}
	return c.do(ctx, "create order", http.MethodPost, "/api/order/create/"+url.PathEscape(userID), order)
}

func (c *Client) UpdateOrderItem(ctx context.Context, orderID string, upd domain.OrderItemUpdate) (*domain.ServiceResponse, error) {
	return c.do(ctx, "update order item", http.MethodPut, "/api/order/update/"+url.PathEscape(orderID), upd)
}

func (c *Client) DeleteOrderItem(ctx context.Context, orderID string, del domain.OrderItemDelete) (*domain.ServiceResponse, error) {
	return c.do(ctx, "delete order item", http.MethodDelete, "/api/order/delete/"+url.PathEscape(orderID), del)
}

// do returns any HTTP answer as a ServiceResponse. Only an unreachable service, an
// open breaker or an unreadable answer is an error.
func (c *Client) do(ctx context.Context, op, method, path string, payload any) (*domain.ServiceResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.cb.Execute(func() (*domain.ServiceResponse, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		httpResp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer httpResp.Body.Close()

		sr, err := readResponse(httpResp)
		if err != nil {
			return nil, err
		}
		if sr.Status >= http.StatusInternalServerError {
			return sr, errServerStatus
		}
		return sr, nil
	})
	if errors.Is(err, errServerStatus) {
		err = nil
	}
	if err != nil {
		c.log.WithError(err).WithField("op", op).Warn("order service call failed")
		return nil, &domain.TransportError{Op: op, Err: err}
	}
	return resp, nil
}

type responseEnvelope struct {
	Message string `json:"message"`
	OrderID string `json:"order_id"`
	ID      string `json:"id"`
}

func readResponse(resp *http.Response) (*domain.ServiceResponse, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	sr := &domain.ServiceResponse{Status: resp.StatusCode}
	if len(bytes.TrimSpace(raw)) == 0 {
		return sr, nil
	}
	if !json.Valid(raw) {
		sr.Message = string(raw)
		return sr, nil
	}
	sr.Body = raw

	var env responseEnvelope
	// non-object bodies (arrays, strings) carry no envelope fields
	if err := json.Unmarshal(raw, &env); err == nil {
		sr.Message = env.Message
		sr.OrderID = env.OrderID
		if sr.OrderID == "" {
			sr.OrderID = env.ID
		}
	}
	return sr, nil
}
