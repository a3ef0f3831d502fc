package router

import (
	"context"
	"errors"
	"strconv"

	"cv-evaluator-go/internal/api/handler"
	"cv-evaluator-go/internal/api/middleware"
	"cv-evaluator-go/internal/config"
	"cv-evaluator-go/internal/storage"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"gorm.io/gorm"
)

// Handlers 路由依赖的全部处理器
type Handlers struct {
	Auth       *handler.AuthHandler
	Candidate  *handler.CandidateHandler
	Job        *handler.JobHandler
	Evaluation *handler.EvaluationHandler
}

// RegisterRoutes 注册 API 路由
func RegisterRoutes(h *server.Hertz, cfg *config.Config, handlers Handlers) {
	api := h.Group("/api/v1")

	// 健康检查与登录不需要认证
	api.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	api.POST("/auth/login", func(c context.Context, ctx *app.RequestContext) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := ctx.BindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "需要username和password"})
			return
		}

		resp, err := handlers.Auth.Login(c, req.Username, req.Password)
		if err != nil {
			if errors.Is(err, handler.ErrInvalidCredentials) {
				ctx.JSON(consts.StatusUnauthorized, utils.H{"error": err.Error()})
				return
			}
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, resp)
	})

	protected := api.Group("", middleware.JWTAuth(cfg.Auth.JWTSecret))

	// 候选人材料上传
	protected.POST("/candidates", func(c context.Context, ctx *app.RequestContext) {
		cvHeader, err := ctx.FormFile("cv_file")
		if err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "缺少cv_file文件"})
			return
		}
		projectHeader, err := ctx.FormFile("project_file")
		if err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "缺少project_file文件"})
			return
		}

		cvFile, err := cvHeader.Open()
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "打开简历文件失败"})
			return
		}
		defer cvFile.Close()
		projectFile, err := projectHeader.Open()
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "打开项目报告失败"})
			return
		}
		defer projectFile.Close()

		resp, err := handlers.Candidate.HandleCandidateUpload(c,
			ctx.PostForm("name"), ctx.PostForm("email"), ctx.PostForm("phone"),
			handler.UploadedFile{Reader: cvFile, Size: cvHeader.Size, Filename: cvHeader.Filename},
			handler.UploadedFile{Reader: projectFile, Size: projectHeader.Size, Filename: projectHeader.Filename},
		)
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, resp)
	})

	protected.GET("/candidates", func(c context.Context, ctx *app.RequestContext) {
		limit, _ := strconv.Atoi(ctx.Query("limit"))
		offset, _ := strconv.Atoi(ctx.Query("offset"))
		candidates, err := handlers.Candidate.ListCandidates(c, limit, offset)
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, utils.H{"candidates": candidates})
	})

	protected.GET("/candidates/:id", func(c context.Context, ctx *app.RequestContext) {
		candidate, err := handlers.Candidate.GetCandidate(c, ctx.Param("id"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				ctx.JSON(consts.StatusNotFound, utils.H{"error": "候选人不存在"})
				return
			}
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, candidate)
	})

	// 岗位管理
	protected.POST("/jobs", func(c context.Context, ctx *app.RequestContext) {
		var req handler.CreateJobRequest
		if err := ctx.BindJSON(&req); err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
			return
		}
		resp, err := handlers.Job.CreateJob(c, req)
		if err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, resp)
	})

	protected.GET("/jobs", func(c context.Context, ctx *app.RequestContext) {
		limit, _ := strconv.Atoi(ctx.Query("limit"))
		offset, _ := strconv.Atoi(ctx.Query("offset"))
		jobs, err := handlers.Job.ListJobs(c, limit, offset)
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, utils.H{"jobs": jobs})
	})

	protected.GET("/jobs/:id", func(c context.Context, ctx *app.RequestContext) {
		job, err := handlers.Job.GetJob(c, ctx.Param("id"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				ctx.JSON(consts.StatusNotFound, utils.H{"error": "岗位不存在"})
				return
			}
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, job)
	})

	// 评估任务
	protected.POST("/evaluate", func(c context.Context, ctx *app.RequestContext) {
		var req handler.EvaluateRequest
		if err := ctx.BindJSON(&req); err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
			return
		}
		resp, err := handlers.Evaluation.HandleEvaluate(c, req)
		if err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, resp)
	})

	protected.GET("/result/:id", func(c context.Context, ctx *app.RequestContext) {
		resp, err := handlers.Evaluation.HandleResult(c, ctx.Param("id"))
		if err != nil {
			if errors.Is(err, storage.ErrEvaluationNotFound) {
				ctx.JSON(consts.StatusNotFound, utils.H{"error": "评估记录不存在"})
				return
			}
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, resp)
	})
}
