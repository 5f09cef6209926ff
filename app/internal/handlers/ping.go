package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"powerwatch/app/internal/database"
	"powerwatch/app/internal/models"
)

func (a *API) ping(c *gin.Context) {
	key := presentedKey(c)
	if key == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	fp := fingerprint(key)
	if !a.limiter.Allow(fp) {
		if wait := a.limiter.RetryAfter(fp); wait > 0 {
			c.Header("Retry-After", strconv.Itoa(int(wait.Seconds())))
		}
		c.JSON(http.StatusTooManyRequests, gin.H{"error": a.limiter.ErrorMessage()})
		return
	}

	ctx := c.Request.Context()
	p, ok, err := a.resolve(ctx, key)
	if err != nil {
		a.log.Error("key lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	prior, err := a.monitor.Heartbeat(ctx, p.DeviceID)
	if database.IsNotFound(err) {
		a.keys.Delete(fp)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	if err != nil {
		a.log.Error("heartbeat failed", zap.String("device", p.DeviceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"device_id": p.DeviceID,
		"recovered": prior == models.StatusOffline,
	})
}

type registerRequest struct {
	Name  string `json:"name"`
	Group string `json:"group_name"`
}

func (a *API) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Group = strings.TrimSpace(req.Group)
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if req.Group == "" {
		req.Group = a.opts.DefaultGroup
	}

	d := models.Device{
		ID:        uuid.NewString(),
		Key:       database.NewDeviceKey(),
		Name:      req.Name,
		Group:     req.Group,
		Status:    models.StatusUnknown,
		CreatedAt: a.opts.Now(),
	}
	if err := a.store.CreateDevice(c.Request.Context(), d); err != nil {
		a.log.Error("register device failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register device"})
		return
	}

	a.log.Info("device registered", zap.String("device", d.ID), zap.String("group", d.Group))
	if err := a.store.InsertLog(database.LogLevelInfo, database.LogCategorySystem, d.ID,
		"Device registered", fmt.Sprintf("name=%s, group=%s", d.Name, d.Group)); err != nil {
		a.log.Warn("failed to write audit log", zap.Error(err))
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":         d.ID,
		"key":        d.Key,
		"name":       d.Name,
		"group_name": d.Group,
		"ping_url":   pingURL(c, d.Key),
	})
}

func pingURL(c *gin.Context, key string) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if p := c.GetHeader("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + c.Request.Host + "/ping?key=" + key
}
