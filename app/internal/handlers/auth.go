package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"powerwatch/app/internal/database"
	"powerwatch/app/internal/models"
)

// principal is what a verified key resolves to.
type principal struct {
	DeviceID string
	Admin    bool // the configured API key
}

// fingerprint keeps raw keys out of the cache and limiter maps.
func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// resolve maps a presented key to a principal. The API key heartbeats the
// default device; any other key must belong to a registered device.
func (a *API) resolve(ctx context.Context, key string) (principal, bool, error) {
	if key == "" {
		return principal{}, false, nil
	}
	fp := fingerprint(key)
	if p, ok := a.keys.Get(fp); ok {
		return p, true, nil
	}

	if a.opts.CheckAPIKey != nil && a.opts.CheckAPIKey(key) {
		p := principal{DeviceID: models.DefaultDeviceID, Admin: true}
		a.keys.Set(fp, p)
		return p, true, nil
	}

	d, err := a.store.GetDeviceByKey(ctx, key)
	if database.IsNotFound(err) {
		return principal{}, false, nil
	}
	if err != nil {
		return principal{}, false, err
	}
	p := principal{DeviceID: d.ID}
	a.keys.Set(fp, p)
	return p, true, nil
}

func (a *API) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok, err := a.resolve(c.Request.Context(), presentedKey(c))
		if err != nil {
			a.log.Error("key lookup failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !ok || !p.Admin {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}
