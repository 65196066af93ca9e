package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"whatsapp-gateway/models"
	"whatsapp-gateway/whatsapp"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	qrImageSize         = 320
)

// StatusSource espone lo stato della sessione
type StatusSource interface {
	Status() models.Status
}

// MessageSender invia messaggi ed elenca le chat
type MessageSender interface {
	Send(ctx context.Context, req whatsapp.SendRequest) (string, error)
	ListChats(ctx context.Context) ([]models.ChatSummary, error)
}

// WebhookRegistry gestisce le registrazioni dei webhook
type WebhookRegistry interface {
	Register(url, filter string) (models.WebhookSubscription, error)
	Subscriptions() []models.WebhookSubscription
}

// MediaStore espone i file scaricati
type MediaStore interface {
	List() ([]models.DownloadedFile, error)
	Lookup(filename string) (string, bool)
}

// MessageHistory espone il giornale dei messaggi ricevuti
type MessageHistory interface {
	Recent(chatID string, limit int) ([]models.Message, error)
}

// APIDeps raccoglie i componenti usati dalle rotte. History e Hub sono opzionali.
type APIDeps struct {
	Status   StatusSource
	Sender   MessageSender
	Webhooks WebhookRegistry
	Media    MediaStore
	History  MessageHistory
	Hub      *Hub
	Log      zerolog.Logger
}

type sendRequest struct {
	Phone     string `json:"phone"`
	Message   string `json:"message"`
	MediaPath string `json:"mediaPath"`
	MediaType string `json:"mediaType"`
}

type registerRequest struct {
	URL    string `json:"url"`
	Filter string `json:"filter"`
}

// SetupAPIRoutes configura tutte le rotte API
func SetupAPIRoutes(router *gin.Engine, deps APIDeps) {
	log := deps.Log.With().Str("component", "api").Logger()

	// Abilita CORS
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Status.Status())
	})

	router.GET("/qr", func(c *gin.Context) {
		status := deps.Status.Status()
		if status.Status == models.StateQRPending && status.QRCode != nil {
			c.JSON(http.StatusOK, gin.H{"qr": *status.QRCode})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message": "Nessun codice QR disponibile",
			"status":  status.Status,
		})
	})

	router.GET("/qr/image", func(c *gin.Context) {
		status := deps.Status.Status()
		if status.Status != models.StateQRPending || status.QRCode == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Nessun codice QR disponibile"})
			return
		}
		png, err := whatsapp.RenderQRPNG(*status.QRCode, qrImageSize)
		if err != nil {
			log.Error().Err(err).Msg("Errore nella generazione del QR")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "image/png", png)
	})

	router.POST("/send", func(c *gin.Context) {
		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Richiesta non valida"})
			return
		}
		if req.Phone == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Il campo phone è obbligatorio"})
			return
		}

		id, err := deps.Sender.Send(c.Request.Context(), whatsapp.SendRequest{
			Phone:     req.Phone,
			Message:   req.Message,
			MediaPath: req.MediaPath,
			MediaType: req.MediaType,
		})
		if err != nil {
			status := sendErrorStatus(err)
			if status == http.StatusInternalServerError {
				log.Error().Err(err).Str("phone", req.Phone).Msg("Errore nell'invio del messaggio")
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "messageId": id})
	})

	router.GET("/chats", func(c *gin.Context) {
		chats, err := deps.Sender.ListChats(c.Request.Context())
		if err != nil {
			if errors.Is(err, whatsapp.ErrNotConnected) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
				return
			}
			log.Error().Err(err).Msg("Errore nel caricamento delle chat")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, chats)
	})

	router.POST("/webhook/register", func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Richiesta non valida"})
			return
		}
		sub, err := deps.Webhooks.Register(req.URL, req.Filter)
		if err != nil {
			if errors.Is(err, ErrMissingURL) || errors.Is(err, ErrInvalidFilter) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Webhook registrato",
			"id":      sub.ID,
		})
	})

	router.GET("/webhooks", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Webhooks.Subscriptions())
	})

	router.GET("/downloads", func(c *gin.Context) {
		files, err := deps.Media.List()
		if err != nil {
			log.Error().Err(err).Msg("Errore nella lettura dei download")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, files)
	})

	router.GET("/downloads/:filename", ServeDownload(deps.Media))

	if deps.History != nil {
		router.GET("/messages", func(c *gin.Context) {
			limit := defaultHistoryLimit
			if raw := c.Query("limit"); raw != "" {
				parsed, err := strconv.Atoi(raw)
				if err != nil || parsed < 1 {
					c.JSON(http.StatusBadRequest, gin.H{"error": "limit non valido"})
					return
				}
				limit = min(parsed, maxHistoryLimit)
			}
			messages, err := deps.History.Recent(c.Query("chat"), limit)
			if err != nil {
				log.Error().Err(err).Msg("Errore nella lettura del giornale")
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, messages)
		})
	}

	if deps.Hub != nil {
		router.GET("/ws", func(c *gin.Context) {
			deps.Hub.HandleWebSocket(c.Writer, c.Request, deps.Status.Status())
		})
	}
}

func sendErrorStatus(err error) int {
	switch {
	case errors.Is(err, whatsapp.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, whatsapp.ErrInvalidTarget), errors.Is(err, whatsapp.ErrEmptyMessage):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
