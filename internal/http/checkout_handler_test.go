package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type CheckoutMock struct {
	result *domain.CheckoutResult
	err    error
	got    domain.CheckoutRequest
}

func (c *CheckoutMock) Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutResult, error) {
	c.got = req
	return c.result, c.err
}

func postCheckout(t *testing.T, mock *CheckoutMock, key string) *httptest.ResponseRecorder {
	t.Helper()
	handler := NewCheckoutHandler(mock, 5*time.Second, logger.Discard())

	request := withUser(httptest.NewRequest("POST", "/checkout", nil))
	if key != "" {
		request.Header.Set("Idempotency-Key", key)
	}
	recorder := httptest.NewRecorder()
	handler.Checkout(recorder, request)
	return recorder
}

func TestCheckout_Completed(t *testing.T) {
	mock := &CheckoutMock{result: &domain.CheckoutResult{
		CheckoutID: "c1",
		Status:     domain.CheckoutStatusCompleted,
		OrderID:    "o1",
		Message:    "Successfully Checkout",
	}}

	recorder := postCheckout(t, mock, "key-1")

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "key-1", mock.got.IdempotencyKey)
	assert.Equal(t, "user-1", mock.got.Session.UserID)

	var res domain.CheckoutResult
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&res))
	assert.Equal(t, domain.CheckoutStatusCompleted, res.Status)
	assert.Equal(t, "o1", res.OrderID)
}

func TestCheckout_PartialIsAccepted(t *testing.T) {
	perr := &domain.PartialCheckoutError{CheckoutID: "c1", OrderID: "o1", Cause: errors.New("redis down")}
	mock := &CheckoutMock{
		result: &domain.CheckoutResult{
			CheckoutID: "c1",
			Status:     domain.CheckoutStatusPartiallyCompleted,
			OrderID:    "o1",
			Message:    domain.UserMessage(perr),
		},
		err: perr,
	}

	recorder := postCheckout(t, mock, "")

	assert.Equal(t, http.StatusAccepted, recorder.Code)
	var res domain.CheckoutResult
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&res))
	assert.Equal(t, domain.CheckoutStatusPartiallyCompleted, res.Status)
	assert.Equal(t, "o1", res.OrderID)
}

func TestCheckout_OrderRejected(t *testing.T) {
	mock := &CheckoutMock{
		result: &domain.CheckoutResult{CheckoutID: "c1", Status: domain.CheckoutStatusFailed},
		err:    &domain.TransportError{Op: "create order", Status: 500, Detail: "Out of stock"},
	}

	recorder := postCheckout(t, mock, "")

	assert.Equal(t, http.StatusBadGateway, recorder.Code)
	response := decodeError(t, recorder)
	assert.Equal(t, "upstream_failure", response.Code)
	assert.Equal(t, "Out of stock", response.Error)
	assert.Equal(t, "c1", response.CheckoutID, "a failed session can still be looked up")
}

func TestCheckout_FailureWithoutSession(t *testing.T) {
	mock := &CheckoutMock{err: errors.New("failed to create checkout session: postgres down")}

	recorder := postCheckout(t, mock, "")

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	response := decodeError(t, recorder)
	assert.Equal(t, "internal_error", response.Code)
	assert.Empty(t, response.CheckoutID)
}

func TestCheckout_ReplayStillRunningIsAccepted(t *testing.T) {
	for _, status := range []domain.CheckoutStatus{
		domain.CheckoutStatusSubmitting,
		domain.CheckoutStatusNeedsReconciliation,
	} {
		mock := &CheckoutMock{result: &domain.CheckoutResult{CheckoutID: "c1", Status: status, Replayed: true}}

		recorder := postCheckout(t, mock, "key-1")

		assert.Equal(t, http.StatusAccepted, recorder.Code, status.String())
		var res domain.CheckoutResult
		require.NoError(t, json.NewDecoder(recorder.Body).Decode(&res))
		assert.Equal(t, "c1", res.CheckoutID)
		assert.Equal(t, status, res.Status)
	}
}

func TestCheckout_Unauthorized(t *testing.T) {
	handler := NewCheckoutHandler(&CheckoutMock{}, 5*time.Second, logger.Discard())

	recorder := httptest.NewRecorder()
	handler.Checkout(recorder, httptest.NewRequest("POST", "/checkout", bytes.NewReader(nil)))

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}
