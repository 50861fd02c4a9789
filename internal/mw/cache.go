package mw

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// CacheKeyPrefix namespaces response entries so handlers can drop them with InvalidateResponses.
const CacheKeyPrefix = "resp:"

type cachedResponse struct {
	status  int
	headers http.Header
	body    []byte
}

// recordingWriter copies the body while it is written to the client.
type recordingWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w recordingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Cache serves repeated GET requests from store for ttl. X-Cache tells HIT from MISS;
// a request with "Cache-Control: no-cache" skips the stored copy and refreshes it.
func Cache(store *cache.Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := CacheKeyPrefix + c.Request.RequestURI
		if !strings.Contains(c.GetHeader("Cache-Control"), "no-cache") {
			if v, found := store.Get(key); found {
				replay(c, v.(cachedResponse))
				return
			}
		}

		c.Header("X-Cache", "MISS")
		rec := &recordingWriter{ResponseWriter: c.Writer, body: new(bytes.Buffer)}
		c.Writer = rec
		c.Next()

		if status := rec.Status(); status >= 200 && status < 300 {
			headers := rec.Header().Clone()
			headers.Del("X-Cache")
			store.Set(key, cachedResponse{status: status, headers: headers, body: rec.body.Bytes()}, ttl)
		}
	}
}

func replay(c *gin.Context, resp cachedResponse) {
	for k, v := range resp.headers {
		c.Writer.Header()[k] = v
	}
	c.Header("X-Cache", "HIT")
	c.Writer.WriteHeader(resp.status)
	c.Writer.Write(resp.body)
	c.Abort()
}

// InvalidateResponses drops every cached response whose path starts with pathPrefix.
func InvalidateResponses(store *cache.Cache, pathPrefix string) {
	prefix := CacheKeyPrefix + pathPrefix
	for key := range store.Items() {
		if strings.HasPrefix(key, prefix) {
			store.Delete(key)
		}
	}
}
