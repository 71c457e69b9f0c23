/*
 * @module api/routes
 * @description API路由配置模块，负责初始化和配置所有HTTP路由
 * @architecture RESTful API架构
 * @documentReference ai_docs/requirements.md
 * @stateFlow 无状态HTTP请求处理
 * @rules 遵循RESTful API设计规范，统一错误处理和响应格式
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/cors, github.com/go-chi/render
 * @refs ai_docs/model.md
 */

package api

import (
	"devmonitor-service/api/controllers"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

// InitRoute 初始化所有API路由
func InitRoute(r *chi.Mux) {
	// 基础中间件
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	// CORS配置
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Webhook-Secret"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// 健康检查
	healthController := controllers.NewHealthController()
	r.Get("/health", healthController.Health)
	r.Get("/ready", healthController.Ready)

	// SSE事件订阅
	eventController := controllers.NewEventController()
	r.Get("/sse/{user_name}", eventController.HandleSSE)

	// 事件管理
	r.Route("/events", func(r chi.Router) {
		r.Post("/send", eventController.SendEvent)
		r.Post("/broadcast", eventController.BroadcastEvent)
		r.Get("/connections", eventController.GetSSEConnectionList)
		r.Get("/history", eventController.GetEventHistoryList)
	})

	// 元数据
	r.Route("/meta", func(r chi.Router) {
		metaController := controllers.NewMetaController()
		r.Get("/decision-rules", metaController.GetDecisionRuleMeta)
		r.Get("/workflows", metaController.GetWorkflowMeta)
	})

	// 系统配置
	r.Route("/config", func(r chi.Router) {
		configController := controllers.NewConfigController()
		r.Get("/", configController.GetAllConfigs)
		r.Get("/{key}", configController.GetConfig)
		r.Put("/{key}", configController.UpdateConfig)
		r.Post("/batch", configController.BatchUpdateConfigs)
	})

	r.Route("/api/v2", func(r chi.Router) {
		// 决策规则管理
		r.Route("/decision-rules", func(r chi.Router) {
			decisionRuleController := controllers.NewDecisionRuleController()

			r.Get("/", decisionRuleController.GetRuleList)
			r.Post("/", decisionRuleController.CreateRule)
			r.Post("/validate", decisionRuleController.ValidateRule)
			r.Post("/reload", decisionRuleController.ReloadRules)
			r.Get("/audit-logs", decisionRuleController.GetAuditLogs)
			r.Get("/audit-statistics", decisionRuleController.GetAuditStatistics)

			r.Route("/{rule_id}", func(r chi.Router) {
				r.Get("/", decisionRuleController.GetRule)
				r.Put("/", decisionRuleController.UpdateRule)
				r.Delete("/", decisionRuleController.DeleteRule)
				r.Post("/enable", decisionRuleController.EnableRule)
				r.Post("/disable", decisionRuleController.DisableRule)
				r.Post("/test", decisionRuleController.TestRule)
			})
		})

		// 工作流管理
		r.Route("/workflows", func(r chi.Router) {
			workflowController := controllers.NewWorkflowController()

			r.Get("/", workflowController.GetWorkflowList)
			r.Post("/", workflowController.CreateWorkflow)
			r.Post("/import", workflowController.ImportWorkflow)
			r.Get("/statistics", workflowController.GetStatistics)

			// 执行记录（跨工作流按执行ID访问）
			r.Route("/executions/{execution_id}", func(r chi.Router) {
				r.Get("/", workflowController.GetExecutionDetail)
				r.Post("/cancel", workflowController.CancelExecution)
				r.Post("/retry", workflowController.RetryExecution)
			})

			// 工作流模板
			r.Route("/templates", func(r chi.Router) {
				r.Get("/", workflowController.GetTemplateList)
				r.Post("/", workflowController.CreateTemplate)
				r.Delete("/{id}", workflowController.DeleteTemplate)
				r.Post("/{id}/use", workflowController.UseTemplate)
			})

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", workflowController.GetWorkflow)
				r.Put("/", workflowController.UpdateWorkflow)
				r.Delete("/", workflowController.DeleteWorkflow)
				r.Post("/toggle", workflowController.ToggleWorkflow)
				r.Post("/publish", workflowController.PublishWorkflow)
				r.Post("/unpublish", workflowController.UnpublishWorkflow)
				r.Post("/duplicate", workflowController.DuplicateWorkflow)
				r.Put("/design", workflowController.SaveDesign)
				r.Post("/validate", workflowController.ValidateWorkflow)
				r.Post("/execute", workflowController.ExecuteWorkflow)
				r.Post("/webhook", workflowController.TriggerWebhook)
				r.Get("/executions", workflowController.GetExecutionList)
				r.Get("/versions", workflowController.GetWorkflowVersions)
				r.Post("/save-as-template", workflowController.SaveAsTemplate)
				r.Get("/export", workflowController.ExportWorkflow)
			})
		})
	})
}
