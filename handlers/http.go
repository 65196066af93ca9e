package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ServeDownload serve un file dalla cartella dei download.
// Nomi con separatori di percorso risultano non trovati.
func ServeDownload(media MediaStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		path, ok := media.Lookup(c.Param("filename"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "File non trovato"})
			return
		}
		c.File(path)
	}
}

// RequestLogger registra ogni richiesta HTTP con zerolog
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	log = log.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = log.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Richiesta HTTP")
	}
}
