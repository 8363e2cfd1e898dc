package webhook

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const defaultMaxBodyBytes = 1 << 20

// Handler serves POST /webhook/:key.
func (in *Ingress) Handler() gin.HandlerFunc {
	limit := in.defaults.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, limit))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.Data(http.StatusRequestEntityTooLarge, gin.MIMEJSON, reject(http.StatusRequestEntityTooLarge, "bad_request", "body too large").Body)
				return
			}
			c.Data(http.StatusBadRequest, gin.MIMEJSON, reject(http.StatusBadRequest, "bad_request", "unreadable body").Body)
			return
		}

		resp, _ := in.Handle(c.Request.Context(), Request{
			Key:      c.Param("key"),
			Body:     body,
			Header:   c.Request.Header,
			ClientIP: c.ClientIP(),
		})
		c.Data(resp.Status, gin.MIMEJSON, resp.Body)
	}
}
