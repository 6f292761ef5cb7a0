package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/trackpay/trackpay-api/internal/model"
	"github.com/trackpay/trackpay-api/internal/tracking"
)

// --- モック定義 ---

type mockTrackingService struct {
	startSessionFn     func(ctx context.Context, providerID, clientID string) (*model.Session, error)
	stopSessionFn      func(ctx context.Context, providerID, sessionID string) (*model.Session, error)
	listSessionsFn     func(ctx context.Context, userID, counterpartID, status string) ([]*model.Session, error)
	getActiveSessionFn func(ctx context.Context, userID, counterpartID string) (*model.Session, error)
	deleteSessionFn    func(ctx context.Context, providerID, sessionID string) error
	requestPaymentFn   func(ctx context.Context, providerID, clientID string) (*tracking.PaymentRequestResult, error)
	summaryFn          func(ctx context.Context, userID, counterpartID string) (*model.SessionTotals, error)
}

func (m *mockTrackingService) StartSession(ctx context.Context, providerID, clientID string) (*model.Session, error) {
	if m.startSessionFn != nil {
		return m.startSessionFn(ctx, providerID, clientID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockTrackingService) StopSession(ctx context.Context, providerID, sessionID string) (*model.Session, error) {
	if m.stopSessionFn != nil {
		return m.stopSessionFn(ctx, providerID, sessionID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockTrackingService) ListSessions(ctx context.Context, userID, counterpartID, status string) ([]*model.Session, error) {
	if m.listSessionsFn != nil {
		return m.listSessionsFn(ctx, userID, counterpartID, status)
	}
	return nil, nil
}

func (m *mockTrackingService) GetActiveSession(ctx context.Context, userID, counterpartID string) (*model.Session, error) {
	if m.getActiveSessionFn != nil {
		return m.getActiveSessionFn(ctx, userID, counterpartID)
	}
	return nil, nil
}

func (m *mockTrackingService) DeleteSession(ctx context.Context, providerID, sessionID string) error {
	if m.deleteSessionFn != nil {
		return m.deleteSessionFn(ctx, providerID, sessionID)
	}
	return nil
}

func (m *mockTrackingService) RequestPayment(ctx context.Context, providerID, clientID string) (*tracking.PaymentRequestResult, error) {
	if m.requestPaymentFn != nil {
		return m.requestPaymentFn(ctx, providerID, clientID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockTrackingService) Summary(ctx context.Context, userID, counterpartID string) (*model.SessionTotals, error) {
	if m.summaryFn != nil {
		return m.summaryFn(ctx, userID, counterpartID)
	}
	return &model.SessionTotals{}, nil
}

var sessionStart = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func activeTestSession() *model.Session {
	return &model.Session{
		ID:              "session-1",
		ProviderID:      "provider-1",
		ClientID:        "client-1",
		StartTime:       sessionStart,
		HourlyRateCents: 4500,
		Status:          model.SessionStatusActive,
	}
}

// --- テスト ---

func TestSessionHandler_StartSession(t *testing.T) {
	svc := &mockTrackingService{
		startSessionFn: func(ctx context.Context, providerID, clientID string) (*model.Session, error) {
			if providerID != "provider-1" || clientID != "client-1" {
				t.Errorf("StartSession(%q, %q)", providerID, clientID)
			}
			return activeTestSession(), nil
		},
	}
	h := NewSessionHandler(svc)

	req := withUserID(httptest.NewRequest(http.MethodPost, "/api/clients/client-1/sessions", nil), "provider-1")
	req = withChiURLParam(req, "id", "client-1")
	w := httptest.NewRecorder()
	h.StartSession(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	var resp sessionResponse
	decodeBody(t, w, &resp)
	if resp.Status != "active" || resp.EndTime != nil || resp.AmountCents != nil {
		t.Errorf("response = %+v", resp)
	}
}

func TestSessionHandler_StartSession_AlreadyActive(t *testing.T) {
	svc := &mockTrackingService{
		startSessionFn: func(ctx context.Context, providerID, clientID string) (*model.Session, error) {
			return nil, model.NewActiveSessionExistsError()
		},
	}
	h := NewSessionHandler(svc)

	req := withUserID(httptest.NewRequest(http.MethodPost, "/api/clients/client-1/sessions", nil), "provider-1")
	req = withChiURLParam(req, "id", "client-1")
	w := httptest.NewRecorder()
	h.StartSession(w, req)

	assertAPIError(t, w, http.StatusConflict, model.ErrCodeActiveSessionExists)
}

func TestSessionHandler_StopSession(t *testing.T) {
	svc := &mockTrackingService{
		stopSessionFn: func(ctx context.Context, providerID, sessionID string) (*model.Session, error) {
			sess := activeTestSession()
			end := sessionStart.Add(90 * time.Minute)
			minutes := 90
			amount := int64(6750)
			sess.EndTime = &end
			sess.DurationMinutes = &minutes
			sess.AmountCents = &amount
			sess.Status = model.SessionStatusUnpaid
			return sess, nil
		},
	}
	h := NewSessionHandler(svc)

	req := withUserID(httptest.NewRequest(http.MethodPost, "/api/sessions/session-1/stop", nil), "provider-1")
	req = withChiURLParam(req, "id", "session-1")
	w := httptest.NewRecorder()
	h.StopSession(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp sessionResponse
	decodeBody(t, w, &resp)
	if resp.Status != "unpaid" || resp.AmountCents == nil || *resp.AmountCents != 6750 {
		t.Errorf("response = %+v", resp)
	}
	if resp.DurationMinutes == nil || *resp.DurationMinutes != 90 {
		t.Errorf("duration = %v, want 90", resp.DurationMinutes)
	}
}

func TestSessionHandler_DeleteSession_PaidIsConflict(t *testing.T) {
	svc := &mockTrackingService{
		deleteSessionFn: func(ctx context.Context, providerID, sessionID string) error {
			_, err := tracking.Transition(tracking.ActionDelete, model.SessionStatusPaid)
			return err
		},
	}
	h := NewSessionHandler(svc)

	req := withUserID(httptest.NewRequest(http.MethodDelete, "/api/sessions/session-1", nil), "provider-1")
	req = withChiURLParam(req, "id", "session-1")
	w := httptest.NewRecorder()
	h.DeleteSession(w, req)

	assertAPIError(t, w, http.StatusConflict, model.ErrCodeInvalidSessionTransition)
}

func TestSessionHandler_ListSessions_PassesStatusFilter(t *testing.T) {
	var gotStatus, gotCounterpart string
	svc := &mockTrackingService{
		listSessionsFn: func(ctx context.Context, userID, counterpartID, status string) ([]*model.Session, error) {
			gotStatus, gotCounterpart = status, counterpartID
			return []*model.Session{activeTestSession()}, nil
		},
	}
	h := NewSessionHandler(svc)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/providers/provider-1/sessions?status=unpaid", nil), "client-1")
	req = withChiURLParam(req, "id", "provider-1")
	w := httptest.NewRecorder()
	h.ListSessions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotStatus != "unpaid" || gotCounterpart != "provider-1" {
		t.Errorf("status = %q, counterpart = %q", gotStatus, gotCounterpart)
	}
	var resp []sessionResponse
	decodeBody(t, w, &resp)
	if len(resp) != 1 {
		t.Errorf("len = %d, want 1", len(resp))
	}
}

func TestSessionHandler_GetActiveSession(t *testing.T) {
	tests := []struct {
		name    string
		session *model.Session
		wantNil bool
	}{
		{"running", activeTestSession(), false},
		{"idle", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockTrackingService{
				getActiveSessionFn: func(ctx context.Context, userID, counterpartID string) (*model.Session, error) {
					return tt.session, nil
				},
			}
			h := NewSessionHandler(svc)

			req := withUserID(httptest.NewRequest(http.MethodGet, "/api/clients/client-1/sessions/active", nil), "provider-1")
			req = withChiURLParam(req, "id", "client-1")
			w := httptest.NewRecorder()
			h.GetActiveSession(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			var resp activeSessionResponse
			decodeBody(t, w, &resp)
			if (resp.Session == nil) != tt.wantNil {
				t.Errorf("session = %+v, wantNil = %v", resp.Session, tt.wantNil)
			}
		})
	}
}

func TestSessionHandler_Summary(t *testing.T) {
	svc := &mockTrackingService{
		summaryFn: func(ctx context.Context, userID, counterpartID string) (*model.SessionTotals, error) {
			return &model.SessionTotals{UnpaidCents: 6750, RequestedCents: 4500, PaidCents: 9000, TotalMinutes: 300}, nil
		},
	}
	h := NewSessionHandler(svc)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/clients/client-1/summary", nil), "provider-1")
	req = withChiURLParam(req, "id", "client-1")
	w := httptest.NewRecorder()
	h.Summary(w, req)

	var resp summaryResponse
	decodeBody(t, w, &resp)
	want := summaryResponse{UnpaidCents: 6750, RequestedCents: 4500, PaidCents: 9000, TotalMinutes: 300}
	if resp != want {
		t.Errorf("summary = %+v, want %+v", resp, want)
	}
}

func TestSessionHandler_RequestPayment(t *testing.T) {
	t.Run("requested", func(t *testing.T) {
		svc := &mockTrackingService{
			requestPaymentFn: func(ctx context.Context, providerID, clientID string) (*tracking.PaymentRequestResult, error) {
				return &tracking.PaymentRequestResult{SessionCount: 3, AmountCents: 13500}, nil
			},
		}
		h := NewSessionHandler(svc)

		req := withUserID(httptest.NewRequest(http.MethodPost, "/api/clients/client-1/payment-requests", nil), "provider-1")
		req = withChiURLParam(req, "id", "client-1")
		w := httptest.NewRecorder()
		h.RequestPayment(w, req)

		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201", w.Code)
		}
		var resp paymentRequestResponse
		decodeBody(t, w, &resp)
		if resp.SessionCount != 3 || resp.AmountCents != 13500 {
			t.Errorf("response = %+v", resp)
		}
	})

	t.Run("nothing to request", func(t *testing.T) {
		svc := &mockTrackingService{
			requestPaymentFn: func(ctx context.Context, providerID, clientID string) (*tracking.PaymentRequestResult, error) {
				return nil, model.NewNoUnpaidSessionsError()
			},
		}
		h := NewSessionHandler(svc)

		req := withUserID(httptest.NewRequest(http.MethodPost, "/api/clients/client-1/payment-requests", nil), "provider-1")
		req = withChiURLParam(req, "id", "client-1")
		w := httptest.NewRecorder()
		h.RequestPayment(w, req)

		assertAPIError(t, w, http.StatusConflict, model.ErrCodeNoUnpaidSessions)
	})
}
