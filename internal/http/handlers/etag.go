package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// taggedJSON is a response body encoded once, together with its strong ETag.
// It is what the dashboard cache stores, so a hit is served without
// re-encoding or re-hashing.
type taggedJSON struct {
	ETag string          `json:"etag"`
	Body json.RawMessage `json:"body"`
}

func newTaggedJSON(payload any) (taggedJSON, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return taggedJSON{}, err
	}

	sum := sha256.Sum256(b)
	return taggedJSON{ETag: `"` + hex.EncodeToString(sum[:]) + `"`, Body: b}, nil
}

// write answers 304 when the client already holds this body.
func (t taggedJSON) write(ctx *gin.Context, status int) {
	ctx.Header("ETag", t.ETag)

	if etagMatches(ctx.GetHeader("If-None-Match"), t.ETag) {
		ctx.Status(http.StatusNotModified)
		return
	}

	ctx.Data(status, "application/json; charset=utf-8", t.Body)
}

// etagMatches uses weak comparison, so W/"x" matches "x".
func etagMatches(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.TrimSpace(ifNoneMatch)
	if ifNoneMatch == "" {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}

	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		if strings.TrimPrefix(strings.TrimSpace(candidate), "W/") == etag {
			return true
		}
	}
	return false
}
