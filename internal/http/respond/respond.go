// Package respond shapes the JSON envelopes and reads caller identity from requests.
package respond

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/vortixworld/bypassgate/internal/ratelimit"
	"github.com/vortixworld/bypassgate/internal/settings"
)

const (
	startedAtKey = "bypassgate.startedAt"
	bodyKey      = "bypassgate.body"
	maxBodyBytes = 1 << 20
)

// MarkStart stamps the request entry time used for time_taken.
func MarkStart(c *gin.Context) {
	if _, exists := c.Get(startedAtKey); !exists {
		c.Set(startedAtKey, time.Now())
	}
}

// TimeTaken formats the elapsed time since MarkStart as seconds with two decimals.
func TimeTaken(c *gin.Context) string {
	started := time.Now()
	if v, exists := c.Get(startedAtKey); exists {
		if ts, ok := v.(time.Time); ok {
			started = ts
		}
	}
	return FormatDuration(time.Since(started))
}

// FormatDuration renders d like "1.23s".
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// Error writes the error envelope.
func Error(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"status":     "error",
		"result":     message,
		"time_taken": TimeTaken(c),
	})
}

// Success writes the bypass success envelope.
func Success(c *gin.Context, result, userID string) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"result":     result,
		"x_user_id":  userID,
		"time_taken": TimeTaken(c),
	})
}

// Body returns the request body, read once and cached on the context.
func Body(c *gin.Context) []byte {
	if v, exists := c.Get(bodyKey); exists {
		if raw, ok := v.([]byte); ok {
			return raw
		}
	}
	var raw []byte
	if c.Request != nil && c.Request.Body != nil {
		data, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if errRead == nil {
			raw = data
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	}
	c.Set(bodyKey, raw)
	return raw
}

// BodyField looks up a top-level field of a JSON or form-encoded body.
func BodyField(c *gin.Context, name string) gjson.Result {
	raw := Body(c)
	if len(raw) == 0 {
		return gjson.Result{}
	}
	if gjson.ValidBytes(raw) {
		return gjson.GetBytes(raw, gjson.Escape(name))
	}
	if strings.HasPrefix(c.ContentType(), "application/x-www-form-urlencoded") {
		if values, errParse := url.ParseQuery(string(raw)); errParse == nil {
			if vals, ok := values[name]; ok && len(vals) > 0 {
				return gjson.Result{Type: gjson.String, Str: vals[0], Raw: vals[0]}
			}
		}
	}
	return gjson.Result{}
}

// BodyString returns a body field as a trimmed string; non-string values are empty.
func BodyString(c *gin.Context, name string) string {
	field := BodyField(c, name)
	if field.Type != gjson.String {
		return ""
	}
	return field.Str
}

// UserID returns the caller-declared user id: body fields on POST, headers otherwise.
func UserID(c *gin.Context) string {
	if c.Request.Method == http.MethodPost {
		for _, field := range settings.UserIDBodyFields {
			if v := BodyString(c, field); v != "" {
				return v
			}
		}
		return ""
	}
	for _, header := range settings.UserIDHeaders {
		if v := c.GetHeader(header); v != "" {
			return v
		}
	}
	return ""
}

// RemoteIP returns the transport peer address without port.
func RemoteIP(c *gin.Context) string {
	addr := strings.TrimSpace(c.Request.RemoteAddr)
	if host, _, errSplit := net.SplitHostPort(addr); errSplit == nil {
		return host
	}
	return addr
}

// ClientAddress returns the first forwarded-for hop, else the peer address.
func ClientAddress(c *gin.Context) string {
	if hop := ratelimit.FirstForwardedHop(c.GetHeader(settings.HeaderForwardedFor)); hop != "" {
		return hop
	}
	return RemoteIP(c)
}

// Identity returns the rate limit identity of the caller.
func Identity(c *gin.Context, userID string) string {
	return ratelimit.Identity(userID, c.GetHeader(settings.HeaderForwardedFor), RemoteIP(c))
}
