package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"messaging-platform/internal/audit"
	"messaging-platform/internal/auth"
	"messaging-platform/internal/campaign"
	"messaging-platform/internal/credit"
	"messaging-platform/internal/rbac"
	"messaging-platform/internal/reporting"
	"messaging-platform/internal/session"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth      *auth.Manager
	Campaigns *campaign.Service
	Credits   *credit.Service
	Sessions  *session.Supervisor
	Reports   *reporting.Service
	Audit     *audit.Service
}

// --- Auth ---

type loginRequest struct {
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`
	Role      string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.AccountID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, account_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.AccountID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Campaigns ---

type sendRequest struct {
	SessionID  string   `json:"session_id"`
	Recipients []string `json:"recipients"`
	Text       string   `json:"text,omitempty"`
	MediaRef   string   `json:"media_ref,omitempty"`
	Caption    string   `json:"caption,omitempty"`
}

// SendCampaign accepts single and bulk sends. Single sends block until the
// message is delivered or rejected; bulk sends return 202 with the accepted
// campaign and run detached.
func (h Handlers) SendCampaign(c *gin.Context) {
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
		return
	}

	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	out, err := h.Campaigns.Send(c.Request.Context(), campaign.SendRequest{
		AccountID:  accountID,
		SessionID:  req.SessionID,
		Recipients: req.Recipients,
		Text:       req.Text,
		MediaRef:   req.MediaRef,
		Caption:    req.Caption,
	})
	if err != nil {
		switch {
		case errors.Is(err, campaign.ErrValidation):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, credit.ErrInsufficientBalance):
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient credit balance"})
		case errors.Is(err, campaign.ErrBulkLimitReached):
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many concurrent bulk campaigns"})
		case errors.Is(err, session.ErrSessionNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		case errors.Is(err, session.ErrSessionNotConnected):
			// The campaign record carries the failure detail; return it.
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "session not connected", "campaign": out})
		default:
			// Single-send dispatch failures land here with a FAILED record.
			if out.ID != "" {
				c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "dispatch failed", "campaign": out})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "send failed"})
		}
		return
	}

	if out.Kind == campaign.KindBulk {
		c.JSON(http.StatusAccepted, out)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) GetCampaign(c *gin.Context) {
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
		return
	}
	out, err := h.Campaigns.Get(c.Request.Context(), accountID, c.Param("campaign_id"))
	if err != nil {
		switch {
		case errors.Is(err, campaign.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		case errors.Is(err, campaign.ErrValidation):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaign lookup failed"})
		}
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) ListCampaigns(c *gin.Context) {
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	out, err := h.Campaigns.List(c.Request.Context(), accountID, limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaign list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": out})
}

func (h Handlers) CancelCampaign(c *gin.Context) {
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
		return
	}
	out, err := h.Campaigns.Cancel(c.Request.Context(), accountID, c.Param("campaign_id"))
	if err != nil {
		switch {
		case errors.Is(err, campaign.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		case errors.Is(err, campaign.ErrAlreadyFinal):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "campaign already finished"})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "cancel failed"})
		}
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Sessions ---

type createSessionRequest struct {
	SessionID string `json:"session_id"`
}

func (h Handlers) CreateSession(c *gin.Context) {
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
		return
	}
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	rec, err := h.Sessions.Create(c.Request.Context(), accountID, req.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "session connect failed"})
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// sessionForAccount loads a session and enforces account ownership.
func (h Handlers) sessionForAccount(c *gin.Context) (session.Session, bool) {
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
		return session.Session{}, false
	}
	rec, err := h.Sessions.Status(c.Request.Context(), c.Param("session_id"))
	if err != nil || rec.AccountID != accountID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return session.Session{}, false
	}
	return rec, true
}

func (h Handlers) GetSession(c *gin.Context) {
	rec, ok := h.sessionForAccount(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) ListSessions(c *gin.Context) {
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
		return
	}
	out, err := h.Sessions.List(c.Request.Context(), accountID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// WaitForPairing blocks until the session pairs, a QR code is available, or
// the pairing window times out.
func (h Handlers) WaitForPairing(c *gin.Context) {
	rec, ok := h.sessionForAccount(c)
	if !ok {
		return
	}
	res, err := h.Sessions.WaitForPairing(c.Request.Context(), rec.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrPairingTimeout):
			c.AbortWithStatusJSON(http.StatusRequestTimeout, gin.H{"error": "pairing window expired"})
		case errors.Is(err, session.ErrSessionNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "pairing failed"})
		}
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) ReconnectSession(c *gin.Context) {
	rec, ok := h.sessionForAccount(c)
	if !ok {
		return
	}
	out, err := h.Sessions.Reconnect(c.Request.Context(), rec.SessionID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "reconnect failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// DeleteSession tears the connection down and purges stored credentials.
// The next pairing for this id starts from a fresh QR scan.
func (h Handlers) DeleteSession(c *gin.Context) {
	rec, ok := h.sessionForAccount(c)
	if !ok {
		return
	}
	if err := h.Sessions.Delete(c.Request.Context(), rec.SessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if h.Audit != nil {
		userID, _ := auth.UserID(c.Request.Context())
		_ = h.Audit.LogSessionDeleted(c.Request.Context(), rec.AccountID, userID, rec.SessionID)
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// --- Credits ---

func (h Handlers) GetBalance(c *gin.Context) {
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
		return
	}
	bal, err := h.Credits.Balance(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, credit.ErrAccountNotFound) {
			c.JSON(http.StatusOK, gin.H{"account_id": accountID, "balance": 0})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": accountID, "balance": bal})
}

func (h Handlers) ListTransactions(c *gin.Context) {
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	txns, err := h.Credits.Transactions(c.Request.Context(), accountID, limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "transaction list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}

// --- Reports ---

// CampaignReport summarizes delivery tallies and credit movement over a time
// range. Defaults to the trailing 30 days.
func (h Handlers) CampaignReport(c *gin.Context) {
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
		return
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	if v := c.Query("from"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			from = ts
		}
	}
	if v := c.Query("to"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			to = ts
		}
	}

	sum, err := h.Reports.CampaignSummary(c.Request.Context(), reporting.CampaignSummaryRequest{
		AccountID: accountID,
		Range:     reporting.Range{From: from, To: to},
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid time range"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// --- Admin ---

type adminAdjustRequest struct {
	AccountID string `json:"account_id"`
	Delta     int64  `json:"delta"`
	Reason    string `json:"reason"`
}

// AdminAdjustCredits applies a manual balance correction.
// RBAC: owner or super_admin. Every adjustment lands in the audit trail.
func (h Handlers) AdminAdjustCredits(c *gin.Context) {
	var req adminAdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.AccountID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "account_id required"})
		return
	}

	bal, err := h.Credits.Adjust(c.Request.Context(), req.AccountID, req.Delta, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, credit.ErrInvalidArgument):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, credit.ErrAccountNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "account not found"})
		case errors.Is(err, credit.ErrInsufficientBalance):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "adjustment would drive balance below zero"})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "adjustment failed"})
		}
		return
	}

	if h.Audit != nil {
		userID, _ := auth.UserID(c.Request.Context())
		role, _ := auth.Role(c.Request.Context())
		_ = h.Audit.LogAdminAdjust(c.Request.Context(), req.AccountID, userID, role, req.Reason, "")
	}
	c.JSON(http.StatusOK, gin.H{"account_id": req.AccountID, "balance": bal})
}

type adminRefillRequest struct {
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
	Note      string `json:"note,omitempty"`
}

// AdminRefillCredits tops an account up after a plan purchase.
func (h Handlers) AdminRefillCredits(c *gin.Context) {
	var req adminRefillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.AccountID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "account_id required"})
		return
	}
	bal, err := h.Credits.Refill(c.Request.Context(), req.AccountID, req.Amount, req.Note)
	if err != nil {
		if errors.Is(err, credit.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "refill failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": req.AccountID, "balance": bal})
}

// Convenience middleware bundles.

func RequireAccountAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireAccount(), rbac.RequireAnyRole(roles...)}
}
