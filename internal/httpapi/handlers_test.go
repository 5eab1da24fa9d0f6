package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"messaging-platform/internal/audit"
	"messaging-platform/internal/auth"
	"messaging-platform/internal/campaign"
	"messaging-platform/internal/config"
	"messaging-platform/internal/credit"
	"messaging-platform/internal/dispatch"
	"messaging-platform/internal/rbac"
	"messaging-platform/internal/session"

	"github.com/gin-gonic/gin"
)

type stubConn struct{}

func (stubConn) Events() <-chan session.Event { return nil }
func (stubConn) Send(ctx context.Context, address string, msg session.Payload) error {
	return nil
}
func (stubConn) CheckRegistered(ctx context.Context, address string) (bool, error) {
	return true, nil
}
func (stubConn) Close() error { return nil }

type stubDirectory struct{}

func (stubDirectory) ConnectedConn(ctx context.Context, sessionID string) (session.Conn, error) {
	return stubConn{}, nil
}

type stubDispatcher struct{}

func (stubDispatcher) Run(ctx context.Context, conn session.Conn, msg dispatch.Message, recipients []string, opts dispatch.Options) (dispatch.Result, error) {
	return dispatch.Result{Sent: len(recipients)}, nil
}

func testRouter(t *testing.T, balance int64) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ledger := credit.NewMemoryRepo()
	ledger.Seed("acct-1", balance)
	credits := credit.NewService(ledger)

	campaigns := campaign.NewService(
		campaign.NewMemoryStore(),
		credits,
		stubDirectory{},
		stubDispatcher{},
		audit.NewService(audit.NewMemoryRepo()),
		nil,
		nil,
		campaign.Config{},
	)

	mgr, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}
	pair, err := mgr.IssuePair(time.Now(), "user-1", "acct-1", rbac.RoleOwner)
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}

	h := Handlers{Auth: mgr, Campaigns: campaigns, Credits: credits}

	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(mgr))
	v1.Use(rbac.RequireAccount())
	v1.POST("/campaigns/send", h.SendCampaign)
	v1.POST("/campaigns/:campaign_id/cancel", h.CancelCampaign)
	v1.GET("/credits/balance", h.GetBalance)

	return r, pair.AccessToken
}

func doJSON(r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSendCampaignRequiresToken(t *testing.T) {
	r, _ := testRouter(t, 10)
	w := doJSON(r, http.MethodPost, "/v1/campaigns/send", "", gin.H{})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestSendCampaignSingleOK(t *testing.T) {
	r, token := testRouter(t, 10)
	w := doJSON(r, http.MethodPost, "/v1/campaigns/send", token, gin.H{
		"session_id": "sess-1",
		"recipients": []string{"+12025550100"},
		"text":       "hello",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}

	var out campaign.Campaign
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != campaign.StatusCompleted || out.Results.Sent != 1 {
		t.Fatalf("unexpected campaign: %+v", out)
	}

	// Cancel after completion is a conflict.
	w = doJSON(r, http.MethodPost, "/v1/campaigns/"+out.ID+"/cancel", token, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("cancel status = %d, want 409", w.Code)
	}
}

func TestSendCampaignBulkAccepted(t *testing.T) {
	r, token := testRouter(t, 10)
	w := doJSON(r, http.MethodPost, "/v1/campaigns/send", token, gin.H{
		"session_id": "sess-1",
		"recipients": []string{"a", "b", "c"},
		"text":       "hello",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", w.Code, w.Body.String())
	}
}

func TestSendCampaignInsufficientBalance(t *testing.T) {
	r, token := testRouter(t, 0)
	w := doJSON(r, http.MethodPost, "/v1/campaigns/send", token, gin.H{
		"session_id": "sess-1",
		"recipients": []string{"+12025550100"},
		"text":       "hello",
	})
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402, body %s", w.Code, w.Body.String())
	}
}

func TestGetBalance(t *testing.T) {
	r, token := testRouter(t, 42)
	w := doJSON(r, http.MethodGet, "/v1/credits/balance", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var out struct {
		Balance int64 `json:"balance"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Balance != 42 {
		t.Fatalf("balance = %d, want 42", out.Balance)
	}
}
