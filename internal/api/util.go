package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/loykin/mineguard/internal/instance"
	"github.com/loykin/mineguard/internal/server"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// isSafeName accepts instance names and UUIDs: A-Z a-z 0-9 . _ - with no "..".
func isSafeName(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

// statusFor maps lifecycle errors onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, server.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, instance.ErrAlreadyRunning), errors.Is(err, instance.ErrNotRunning),
		errors.Is(err, instance.ErrStdinWriteFailed):
		return http.StatusConflict
	case errors.Is(err, instance.ErrEarlyCrash), errors.Is(err, instance.ErrStartAborted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
