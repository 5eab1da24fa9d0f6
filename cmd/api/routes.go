package main

import (
	"messaging-platform/internal/httpapi"
	"messaging-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	v1.Use(rbac.RequireAccount())
	{
		// SESSION routes
		sessions := v1.Group("/sessions")
		sessions.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator, rbac.RoleSuperAdmin))
		{
			sessions.POST("", h.CreateSession)
			sessions.GET("", h.ListSessions)
			sessions.GET("/:session_id", h.GetSession)
			sessions.POST("/:session_id/pair", h.WaitForPairing)
			sessions.POST("/:session_id/reconnect", h.ReconnectSession)
			sessions.DELETE("/:session_id", h.DeleteSession)
		}

		// CAMPAIGN routes
		campaigns := v1.Group("/campaigns")
		campaigns.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator, rbac.RoleSuperAdmin))
		{
			campaigns.POST("/send", h.SendCampaign)
			campaigns.GET("", h.ListCampaigns)
			campaigns.GET("/:campaign_id", h.GetCampaign)
			campaigns.POST("/:campaign_id/cancel", h.CancelCampaign)
		}

		// CREDIT routes (read-only for tenants)
		credits := v1.Group("/credits")
		credits.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator, rbac.RoleBilling, rbac.RoleSuperAdmin))
		{
			credits.GET("/balance", h.GetBalance)
			credits.GET("/transactions", h.ListTransactions)
		}

		// REPORT routes
		reports := v1.Group("/reports")
		reports.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleBilling, rbac.RoleSuperAdmin, rbac.RoleReconciler))
		{
			reports.GET("/campaigns", h.CampaignReport)
		}

		// ADMIN routes
		// Only owner/super_admin can mutate balances.
		// Hidden reconciler is intentionally NOT included unless explicitly desired.
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSuperAdmin))
		{
			admin.POST("/credits/adjust", h.AdminAdjustCredits)
			admin.POST("/credits/refill", h.AdminRefillCredits)
		}
	}
}
