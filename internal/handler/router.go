package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lumina-attendance-api/internal/middleware"
	"github.com/noah-isme/lumina-attendance-api/internal/models"
)

// Routes bundles the handlers and guards mounted under the API prefix.
type Routes struct {
	Auth        gin.HandlerFunc
	RedeemLimit gin.HandlerFunc
	Sessions    *SessionHandler
	Attendance  *AttendanceHandler
	Ledger      *LedgerHandler
}

// Register mounts every attendance route on group.
func (r Routes) Register(group *gin.RouterGroup) {
	secured := group.Group("")
	if r.Auth != nil {
		secured.Use(r.Auth)
	}

	staff := middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin)
	students := middleware.RequireRoles(models.RoleStudent)

	lectures := secured.Group("/lectures/:id")
	lectures.POST("/sessions", staff, r.Sessions.Open)
	lectures.GET("/sessions", staff, r.Sessions.List)
	lectures.GET("/sessions/active", staff, r.Sessions.Active)
	lectures.GET("/attendance", staff, r.Attendance.ListForLecture)
	lectures.POST("/attendance/manual", staff, r.Attendance.Manual)
	lectures.PUT("/attendance", staff, r.Attendance.Sync)
	lectures.POST("/ledger", staff, r.Ledger.SyncLecture)

	sessions := secured.Group("/sessions/:id", staff)
	sessions.PATCH("", r.Sessions.Extend)
	sessions.POST("/close", r.Sessions.Close)

	redeem := []gin.HandlerFunc{students}
	if r.RedeemLimit != nil {
		redeem = append(redeem, r.RedeemLimit)
	}
	redeem = append(redeem, r.Attendance.Redeem)
	secured.POST("/attendance/redeem", redeem...)
	secured.GET("/attendance/me", students, r.Attendance.Mine)

	secured.GET("/ledger/status", staff, r.Ledger.Status)
	secured.GET("/statistics/ledger", staff, r.Ledger.Statistics)
}
