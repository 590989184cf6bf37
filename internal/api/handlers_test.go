package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"github.com/transfa/peer-network-service/internal/app"
	"github.com/transfa/peer-network-service/internal/domain"
	"github.com/transfa/peer-network-service/internal/resilience"
	"github.com/transfa/peer-network-service/internal/store"
)

const (
	testSigningKey  = "test-signing-key"
	testInternalKey = "internal-key"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type profileStub map[string]domain.CustomerProfile

func (s profileStub) GetProfile(ctx context.Context, customerID string) (*domain.CustomerProfile, error) {
	p, ok := s[customerID]
	if !ok {
		return nil, domain.NewNotFound("customer", customerID, domain.ErrCustomerNotFound)
	}
	return &p, nil
}

func (s profileStub) ListProfiles(ctx context.Context) ([]domain.CustomerProfile, error) {
	out := make([]domain.CustomerProfile, 0, len(s))
	for _, p := range s {
		out = append(out, p)
	}
	return out, nil
}

type validatorStub struct {
	level string
}

func (s *validatorStub) Validate(ctx context.Context, customerID, method, address string, amount int64, purpose string) (*domain.ValidationResult, error) {
	level := s.level
	if level == "" {
		level = domain.RiskLevelLow
	}
	return &domain.ValidationResult{ValidationScore: 90, RiskLevel: level}, nil
}

type executorStub struct{}

func (executorStub) Execute(ctx context.Context, req domain.TransferRequest) (*domain.ExecutionResult, error) {
	return &domain.ExecutionResult{Success: true, Reference: "ref-" + req.TransactionID.String()}, nil
}

type formerStub struct {
	runs int
}

func (s *formerStub) AutoFormGroups(ctx context.Context) (*app.AutoGroupReport, error) {
	s.runs++
	return &app.AutoGroupReport{Created: 2}, nil
}

type testServer struct {
	handler   http.Handler
	validator *validatorStub
	former    *formerStub
}

func newTestServer(t *testing.T, allocation app.AllocationConfig) *testServer {
	t.Helper()
	logger := discardLogger()
	profiles := profileStub{
		"alice": {CustomerID: "alice", TrustScore: 85},
		"bob":   {CustomerID: "bob", TrustScore: 82},
		"carol": {CustomerID: "carol", TrustScore: 60},
	}
	rels := store.NewMemoryRelationshipStore()
	groups := store.NewMemoryGroupStore()
	ledger := store.NewMemoryLedger()
	validator := &validatorStub{}
	registry := app.NewGroupRegistry(groups, rels, profiles, nil, nil, logger)
	guard := resilience.NewGuard(
		resilience.NewMemoryRateLimiter(resilience.RateLimitConfig{Limit: 100, Window: time.Minute}, nil),
		resilience.NewBreaker(resilience.DefaultBreakerConfig()),
		resilience.GuardConfig{Retry: resilience.RetryConfig{MaxAttempts: 1}, AttemptTimeout: time.Second},
		logger,
	)
	service := app.NewService(app.Dependencies{
		Relationships: rels,
		Ledger:        ledger,
		Groups:        registry,
		Matcher:       app.NewMatcher(rels, groups, app.MatchConfig{}, nil, logger),
		Risk:          app.NewRiskAssessor(ledger, validator, nil, app.RiskConfig{}, nil, logger),
		Guard:         guard,
		Executor:      executorStub{},
		Allocation:    allocation,
		Logger:        logger,
	})
	former := &formerStub{}
	h := NewHandlers(service, former, nil, logger)
	return &testServer{
		handler: PeerNetworkRoutes(h, RouterConfig{
			JWTSigningKey:  testSigningKey,
			InternalAPIKey: testInternalKey,
		}),
		validator: validator,
		former:    former,
	}
}

func signToken(t *testing.T, key, subject string, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": expiresAt.Unix(),
	})
	signed, err := token.SignedString([]byte(key))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (s *testServer) do(t *testing.T, method, path, customerID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if customerID != "" {
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSigningKey, customerID, time.Now().Add(time.Hour)))
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) internal(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("X-Internal-API-Key", testInternalKey)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeTransfer(t *testing.T, rec *httptest.ResponseRecorder) transferResponse {
	t.Helper()
	var out transferResponse
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Transaction == nil {
		t.Fatalf("expected a transaction in the response, got %+v", out)
	}
	return out
}

func TestToKobo(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{input: "150.25", want: 15025},
		{input: "1000", want: 100000},
		{input: "0.1", want: 10},
		{input: "0.001", wantErr: true},
		{input: "0", wantErr: true},
		{input: "-5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := toKobo("amount", decimal.RequireFromString(tt.input))
			if tt.wantErr {
				var validation *domain.ValidationError
				if !errors.As(err, &validation) {
					t.Fatalf("expected a validation error, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("expected %d, got %d (%v)", tt.want, got, err)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: domain.NewValidationError("amount", "must be positive"), want: http.StatusBadRequest},
		{name: "trust", err: &domain.InsufficientTrustError{CustomerID: "a", Score: 60, Required: 70}, want: http.StatusForbidden},
		{name: "membership", err: &domain.MembershipError{Violations: []error{&domain.VipRequiredError{CustomerID: "a"}}}, want: http.StatusForbidden},
		{name: "blocked", err: &domain.RiskBlockedError{Score: 85}, want: http.StatusForbidden},
		{name: "not found", err: domain.NewNotFound("group", "g", domain.ErrGroupNotFound), want: http.StatusNotFound},
		{name: "transition", err: fmt.Errorf("%w: completed", domain.ErrInvalidTransition), want: http.StatusConflict},
		{name: "limit", err: &domain.LimitExceededError{Scope: domain.LimitScopeDaily}, want: http.StatusUnprocessableEntity},
		{name: "rate limited", err: &domain.RateLimitedError{Limit: 1}, want: http.StatusTooManyRequests},
		{name: "circuit", err: &domain.CircuitOpenError{Operation: "execute_transfer"}, want: http.StatusServiceUnavailable},
		{name: "execution", err: &domain.ExecutionError{Err: errors.New("503")}, want: http.StatusBadGateway},
		{name: "declined", err: fmt.Errorf("execute: %w", domain.ErrTransferDeclined), want: http.StatusBadGateway},
		{name: "unknown", err: errors.New("connection refused"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	var seen string
	handler := AuthMiddleware(testSigningKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetCustomerID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", want: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "wrong key", header: "Bearer " + signToken(t, "other-key", "alice", time.Now().Add(time.Hour)), want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signToken(t, testSigningKey, "alice", time.Now().Add(-time.Minute)), want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + signToken(t, testSigningKey, "alice", time.Now().Add(time.Hour)), want: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
			if tt.want == http.StatusNoContent && seen != "alice" {
				t.Fatalf("expected subject in context, got %q", seen)
			}
		})
	}
}

func TestInternalAuthMiddleware(t *testing.T) {
	handler := InternalAuthMiddleware(testInternalKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for key, want := range map[string]int{"": http.StatusUnauthorized, "wrong": http.StatusUnauthorized, testInternalKey: http.StatusNoContent} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if key != "" {
			req.Header.Set("X-Internal-API-Key", key)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("key %q: expected %d, got %d", key, want, rec.Code)
		}
	}
}

func TestProcessTransferHandler(t *testing.T) {
	srv := newTestServer(t, app.AllocationConfig{DailyLimit: 1_000_000})

	rec := srv.do(t, http.MethodPost, "/transfers", "", map[string]interface{}{"peer_id": "bob", "amount": "150.25", "payment_method": "bank_transfer"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthenticated request to be rejected, got %d", rec.Code)
	}

	rec = srv.do(t, http.MethodPost, "/transfers", "alice", map[string]interface{}{"peer_id": "bob", "amount": "150.25", "payment_method": "bank_transfer"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	completed := decodeTransfer(t, rec).Transaction
	if completed.Amount != 15025 || completed.Status != domain.StatusCompleted || completed.RequesterID != "alice" {
		t.Fatalf("unexpected transaction: %+v", completed)
	}

	rec = srv.do(t, http.MethodGet, "/transfers/"+completed.ID.String(), "bob", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected the peer to read the transfer, got %d", rec.Code)
	}
	rec = srv.do(t, http.MethodGet, "/transfers/"+completed.ID.String(), "carol", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected an outsider to get 404, got %d", rec.Code)
	}

	rec = srv.do(t, http.MethodPost, "/transfers", "alice", map[string]interface{}{"peer_id": "alice", "amount": 10, "payment_method": "bank_transfer"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected self transfer to be rejected, got %d", rec.Code)
	}

	rec = srv.do(t, http.MethodPost, "/transfers", "alice", map[string]interface{}{"peer_id": "bob", "amount": "9900", "payment_method": "bank_transfer"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected the daily cap to reject the transfer, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = srv.do(t, http.MethodGet, "/transfers?limit=10", "alice", nil)
	var list struct {
		Transactions []*domain.Transaction `json:"transactions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil || len(list.Transactions) != 1 {
		t.Fatalf("expected one stored transfer, got %d (%v)", len(list.Transactions), err)
	}
}

func TestReviewEndpoints(t *testing.T) {
	srv := newTestServer(t, app.AllocationConfig{})
	srv.validator.level = domain.RiskLevelMedium

	rec := srv.do(t, http.MethodPost, "/transfers", "alice", map[string]interface{}{"peer_id": "bob", "amount": 9500, "payment_method": "bank_transfer"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected the transfer to wait for review, got %d: %s", rec.Code, rec.Body.String())
	}
	pending := decodeTransfer(t, rec).Transaction
	if pending.Status != domain.StatusPendingReview {
		t.Fatalf("expected pending review, got %s", pending.Status)
	}

	path := "/internal/reviews/" + pending.ID.String() + "/approve"
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(`{"reviewer_id":"ops"}`)))
	unauthorized := httptest.NewRecorder()
	srv.handler.ServeHTTP(unauthorized, req)
	if unauthorized.Code != http.StatusUnauthorized {
		t.Fatalf("expected internal key to be required, got %d", unauthorized.Code)
	}

	rec = srv.internal(t, http.MethodGet, "/internal/reviews", nil)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(pending.ID.String())) {
		t.Fatalf("expected the pending transfer to be listed, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = srv.internal(t, http.MethodPost, path, map[string]string{"reviewer_id": "ops"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected approval to succeed, got %d: %s", rec.Code, rec.Body.String())
	}
	if approved := decodeTransfer(t, rec).Transaction; approved.Status != domain.StatusCompleted {
		t.Fatalf("expected completed transfer, got %s", approved.Status)
	}

	rec = srv.internal(t, http.MethodPost, "/internal/reviews/"+pending.ID.String()+"/cancel", map[string]string{"reviewer_id": "ops"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected a completed transfer not to be cancellable, got %d", rec.Code)
	}
}

func TestGroupEndpoints(t *testing.T) {
	srv := newTestServer(t, app.AllocationConfig{})

	rec := srv.do(t, http.MethodPost, "/groups", "carol", map[string]interface{}{"name": "Low", "type": "trust_circle"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected low-trust creator to be refused, got %d", rec.Code)
	}

	rec = srv.do(t, http.MethodPost, "/groups", "alice", map[string]interface{}{"name": "Close friends", "type": "trust_circle", "members": []string{"bob"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected group to be created, got %d: %s", rec.Code, rec.Body.String())
	}
	var group domain.PeerGroup
	if err := json.NewDecoder(rec.Body).Decode(&group); err != nil {
		t.Fatalf("decode group: %v", err)
	}
	if len(group.Members) != 2 {
		t.Fatalf("expected creator and bob, got %v", group.Members)
	}

	if rec = srv.do(t, http.MethodGet, "/groups/"+group.ID, "carol", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected non-member to get 404, got %d", rec.Code)
	}
	if rec = srv.do(t, http.MethodGet, "/groups/"+group.ID, "bob", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected member to read the group, got %d", rec.Code)
	}

	rec = srv.do(t, http.MethodPost, "/groups/"+group.ID+"/members", "bob", map[string]string{"customer_id": "carol"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected carol to fail the trust rule, got %d", rec.Code)
	}

	rec = srv.do(t, http.MethodGet, "/matches?type=groups&amount=100", "bob", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected matches, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec = srv.do(t, http.MethodGet, "/matches?type=nearby", "bob", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown match type to be rejected, got %d", rec.Code)
	}
}

func TestInternalOperations(t *testing.T) {
	srv := newTestServer(t, app.AllocationConfig{})

	rec := srv.internal(t, http.MethodPost, "/internal/groups/auto-form", nil)
	if rec.Code != http.StatusOK || srv.former.runs != 1 {
		t.Fatalf("expected one auto-grouping run, got %d (runs=%d)", rec.Code, srv.former.runs)
	}

	rec = srv.internal(t, http.MethodGet, "/internal/circuits", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected circuit status, got %d", rec.Code)
	}

	rec = srv.do(t, http.MethodGet, "/network/ties", "alice", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected ties to be unavailable without a graph, got %d", rec.Code)
	}

	rec = srv.do(t, http.MethodGet, "/dashboard", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected dashboard, got %d", rec.Code)
	}
}

func TestArchiveRelationshipEndpoint(t *testing.T) {
	srv := newTestServer(t, app.AllocationConfig{})
	pair := map[string]string{"customer_a": "bob", "customer_b": "alice"}

	rec := srv.internal(t, http.MethodPost, "/internal/relationships/archive", pair)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected unknown pair to be 404, got %d", rec.Code)
	}

	rec = srv.do(t, http.MethodPost, "/transfers", "alice", map[string]interface{}{"peer_id": "bob", "amount": "20", "payment_method": "bank_transfer"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = srv.internal(t, http.MethodPost, "/internal/relationships/archive", pair)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected archive to succeed, got %d: %s", rec.Code, rec.Body.String())
	}
	var rel domain.PeerRelationship
	if err := json.NewDecoder(rec.Body).Decode(&rel); err != nil {
		t.Fatalf("decode relationship: %v", err)
	}
	if !rel.Archived || rel.CustomerA != "alice" || rel.CustomerB != "bob" || rel.TotalTransactions != 1 {
		t.Fatalf("expected archived alice|bob with its history, got %+v", rel)
	}

	rec = srv.internal(t, http.MethodPost, "/internal/relationships/archive", map[string]string{"customer_a": "alice", "customer_b": "alice"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected self pair to be rejected, got %d", rec.Code)
	}
}
