// Package bot はボットのスラッシュコマンドに対応する HTTP エンドポイントと、完了通知の送信ループを提供します。
package bot

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/yourusername/session-scribe/internal/jobs"
	"github.com/yourusername/session-scribe/internal/storage"
)

// Service は Handler が利用するジョブ操作です。
type Service interface {
	Submit(ctx context.Context, guildID string, req jobs.SubmitRequest) (jobs.SubmitResult, error)
	Status(guildID, jobID string) (jobs.Job, error)
	List(guildID string) []jobs.Job
	Cancel(guildID, jobID string) (jobs.Job, error)
	Subscribe(guildID, jobID string, target jobs.Target) error
}

// Handler は /api/guilds/:guildId/transcriptions 以下のハンドラーです。
type Handler struct {
	service  Service
	sessions *storage.Local
	logger   kitlog.Logger
}

// NewHandler は Handler を作成します。
func NewHandler(service Service, sessions *storage.Local, logger kitlog.Logger) *Handler {
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	return &Handler{service: service, sessions: sessions, logger: logger}
}

// Register はルートを登録します。
func (h *Handler) Register(group *gin.RouterGroup) {
	routes := group.Group("/guilds/:guildId/transcriptions")
	{
		routes.POST("", h.submit)
		routes.GET("", h.list)
		routes.GET("/:jobId", h.status)
		routes.POST("/:jobId/subscribe", h.subscribe)
		routes.POST("/:jobId/cancel", h.cancel)
	}
}

type submitRequest struct {
	AudioPath    string       `json:"audioPath"`
	MetadataPath string       `json:"metadataPath"`
	Model        string       `json:"model"`
	Language     string       `json:"language"`
	Diarization  *bool        `json:"diarization"`
	Notify       *jobs.Target `json:"notify"`
}

type subscribeRequest struct {
	ChannelID string `json:"channelId" binding:"required"`
	UserID    string `json:"userId"`
}

// submit は transcribe_async コマンドに相当します。音声パスを省略するとギルドの最新録音を使います。
// 指定されたパスはギルドのセッションディレクトリ配下に限ります。
func (h *Handler) submit(c *gin.Context) {
	guildID := c.Param("guildId")

	var req submitRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    string(jobs.CodeInvalidInput),
				"message": "リクエストボディの JSON が不正です",
			})
			return
		}
	}

	audioPath, metadataPath := req.AudioPath, req.MetadataPath
	if strings.TrimSpace(audioPath) == "" {
		audio, err := h.sessions.AudioPath(guildID)
		if err != nil {
			writeError(c, &jobs.Error{Code: jobs.CodeInvalidInput, Message: err.Error()})
			return
		}
		audioPath = audio
		if strings.TrimSpace(metadataPath) == "" {
			metadataPath, _ = h.sessions.MetadataPath(guildID)
		}
	}

	audioPath, err := h.sessions.Resolve(guildID, audioPath)
	if err != nil {
		writeError(c, &jobs.Error{Code: jobs.CodeInvalidInput, Message: err.Error()})
		return
	}
	if strings.TrimSpace(metadataPath) != "" {
		metadataPath, err = h.sessions.Resolve(guildID, metadataPath)
		if err != nil {
			writeError(c, &jobs.Error{Code: jobs.CodeInvalidInput, Message: err.Error()})
			return
		}
	}

	res, err := h.service.Submit(c.Request.Context(), guildID, jobs.SubmitRequest{
		AudioPath:    audioPath,
		MetadataPath: metadataPath,
		Model:        req.Model,
		Language:     req.Language,
		Diarization:  req.Diarization,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	payload := gin.H{
		"jobId":   res.JobID,
		"status":  res.Status,
		"created": res.Created,
	}
	if req.Notify != nil && req.Notify.ChannelID != "" {
		if err := h.service.Subscribe(guildID, res.JobID, *req.Notify); err != nil {
			level.Warn(h.logger).Log("msg", "subscribe on submit failed", "guild_id", guildID, "job_id", res.JobID, "err", err)
			payload["subscribed"] = false
		} else {
			payload["subscribed"] = true
		}
	}

	status := http.StatusAccepted
	if !res.Created {
		status = http.StatusOK
	}
	c.JSON(status, payload)
}

// list はギルドのジョブ一覧を返します。
func (h *Handler) list(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.service.List(c.Param("guildId"))})
}

// status は transcription_status コマンドに相当します。
func (h *Handler) status(c *gin.Context) {
	job, err := h.service.Status(c.Param("guildId"), c.Param("jobId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// subscribe は notify_on_completion コマンドに相当します。
func (h *Handler) subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    string(jobs.CodeInvalidInput),
			"message": "channelId を JSON で送ってください",
		})
		return
	}
	target := jobs.Target{ChannelID: req.ChannelID, UserID: req.UserID}
	if err := h.service.Subscribe(c.Param("guildId"), c.Param("jobId"), target); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscribed": true})
}

func (h *Handler) cancel(c *gin.Context) {
	job, err := h.service.Cancel(c.Param("guildId"), c.Param("jobId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// writeError は jobs.Error を HTTP ステータスへ対応付けて返します。
func writeError(c *gin.Context, err error) {
	var jerr *jobs.Error
	if !errors.As(err, &jerr) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "処理中にエラーが発生しました",
		})
		return
	}

	status := http.StatusInternalServerError
	switch jerr.Code {
	case jobs.CodeNotFound:
		status = http.StatusNotFound
	case jobs.CodeConflict:
		status = http.StatusConflict
	case jobs.CodeInvalidInput:
		status = http.StatusBadRequest
	case jobs.CodeUnavailable:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"code":    string(jerr.Code),
		"message": jerr.Message,
	})
}
