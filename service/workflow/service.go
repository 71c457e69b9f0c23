/*
 * @module service/workflow/service
 * @description 工作流管理服务，提供定义CRUD、发布/版本、执行触发、执行历史、模板与导入导出
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/workflow_engine_req.md
 * @stateFlow 设计 -> 校验 -> 发布（版本快照） -> 触发执行 -> 历史查询/取消
 * @rules 发布必须通过图校验；webhook密钥以bcrypt哈希入库；删除工作流前必须没有运行中的执行
 * @dependencies gorm.io/gorm, golang.org/x/crypto/bcrypt, service/models, service/meta
 * @refs api/controllers/workflow_controller.go, service/workflow/engine.go
 */

package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"devmonitor-service/service/meta"
	"devmonitor-service/service/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Service 工作流管理服务
type Service struct {
	db     *gorm.DB
	engine *Engine
}

// NewService 创建工作流管理服务
func NewService(db *gorm.DB, engine *Engine) *Service {
	return &Service{db: db, engine: engine}
}

// Engine 暴露执行引擎（事件触发与调度器使用）
func (s *Service) Engine() *Engine {
	return s.engine
}

// CreateWorkflow 创建工作流，保存前做基础校验并哈希webhook密钥
func (s *Service) CreateWorkflow(workflow *models.Workflow) error {
	var count int64
	s.db.Model(&models.Workflow{}).Where("code = ?", workflow.Code).Count(&count)
	if count > 0 {
		return fmt.Errorf("工作流编码已存在: %s", workflow.Code)
	}
	if err := s.prepareTriggerConfig(workflow); err != nil {
		return err
	}
	if _, err := models.ParseExecutionConfig(workflow.ExecutionConfig); err != nil {
		return err
	}
	// 新建的工作流不允许直接处于已发布状态
	workflow.IsPublished = false
	if err := s.db.Create(workflow).Error; err != nil {
		return fmt.Errorf("创建工作流失败: %w", err)
	}
	return nil
}

// prepareTriggerConfig 校验触发配置；webhook密钥明文入参时转为bcrypt哈希存储
func (s *Service) prepareTriggerConfig(workflow *models.Workflow) error {
	triggerConfig, err := models.ParseTriggerConfig(workflow.TriggerConfig)
	if err != nil {
		return err
	}
	switch workflow.TriggerType {
	case meta.TriggerTypeSchedule:
		if triggerConfig.CronExpression == "" {
			return errors.New("schedule触发必须配置cron_expression")
		}
	case meta.TriggerTypeEvent:
		if triggerConfig.EventType == "" {
			return errors.New("event触发必须配置event_type")
		}
	case meta.TriggerTypeWebhook:
		if triggerConfig.WebhookSecret == "" {
			return errors.New("webhook触发必须配置webhook_secret")
		}
		if !isBcryptHash(triggerConfig.WebhookSecret) {
			hashed, err := bcrypt.GenerateFromPassword([]byte(triggerConfig.WebhookSecret), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("webhook密钥哈希失败: %w", err)
			}
			workflow.TriggerConfig["webhook_secret"] = string(hashed)
		}
	}
	return nil
}

func isBcryptHash(value string) bool {
	return len(value) == 60 && (value[:4] == "$2a$" || value[:4] == "$2b$" || value[:4] == "$2y$")
}

// VerifyWebhookSecret 校验webhook触发请求携带的密钥
func (s *Service) VerifyWebhookSecret(workflow *models.Workflow, secret string) error {
	triggerConfig, err := models.ParseTriggerConfig(workflow.TriggerConfig)
	if err != nil {
		return err
	}
	if workflow.TriggerType != meta.TriggerTypeWebhook {
		return errors.New("工作流不是webhook触发类型")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(triggerConfig.WebhookSecret), []byte(secret)); err != nil {
		return errors.New("webhook密钥不正确")
	}
	return nil
}

// GetWorkflowByID 按ID查询工作流
func (s *Service) GetWorkflowByID(id string) (*models.Workflow, error) {
	var workflow models.Workflow
	if err := s.db.Where("id = ?", id).First(&workflow).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("工作流不存在")
		}
		return nil, err
	}
	return &workflow, nil
}

// GetWorkflowList 分页查询工作流列表，支持类型/关键字/状态过滤
func (s *Service) GetWorkflowList(page, pageSize int, workflowType, keyword string, isActive, isPublished *bool) ([]models.Workflow, int64, error) {
	var workflows []models.Workflow
	var total int64

	query := s.db.Model(&models.Workflow{})
	if workflowType != "" {
		query = query.Where("type = ?", workflowType)
	}
	if keyword != "" {
		pattern := "%" + keyword + "%"
		query = query.Where("name ILIKE ? OR code ILIKE ? OR description ILIKE ?", pattern, pattern, pattern)
	}
	if isActive != nil {
		query = query.Where("is_active = ?", *isActive)
	}
	if isPublished != nil {
		query = query.Where("is_published = ?", *isPublished)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * pageSize
	if err := query.Session(&gorm.Session{}).Order("updated_at DESC").Offset(offset).Limit(pageSize).Find(&workflows).Error; err != nil {
		return nil, 0, err
	}
	return workflows, total, nil
}

// UpdateWorkflow 更新工作流定义，定义变更后回到未发布状态
func (s *Service) UpdateWorkflow(id string, updates map[string]interface{}) error {
	workflow, err := s.GetWorkflowByID(id)
	if err != nil {
		return err
	}

	if name, ok := updates["name"].(string); ok && name == "" {
		return errors.New("工作流名称不能为空")
	}
	if wfType, ok := updates["type"].(string); ok && !meta.IsValidWorkflowType(wfType) {
		return errors.New("无效的工作流类型: " + wfType)
	}
	if triggerType, ok := updates["trigger_type"].(string); ok && !meta.IsValidTriggerType(triggerType) {
		return errors.New("无效的触发类型: " + triggerType)
	}

	// 节点或连接变更会使已发布的版本失效
	definitionChanged := false
	for _, key := range []string{"nodes", "connections", "trigger_type", "trigger_config", "execution_config"} {
		if _, ok := updates[key]; ok {
			definitionChanged = true
			break
		}
	}

	if rawTrigger, ok := updates["trigger_config"]; ok {
		triggerJSONB, err := toJSONB(rawTrigger)
		if err != nil {
			return fmt.Errorf("触发配置格式无效: %w", err)
		}
		probe := *workflow
		probe.TriggerConfig = triggerJSONB
		if triggerType, ok := updates["trigger_type"].(string); ok {
			probe.TriggerType = triggerType
		}
		if err := s.prepareTriggerConfig(&probe); err != nil {
			return err
		}
		updates["trigger_config"] = probe.TriggerConfig
	}
	if rawExecution, ok := updates["execution_config"]; ok {
		executionJSONB, err := toJSONB(rawExecution)
		if err != nil {
			return fmt.Errorf("执行配置格式无效: %w", err)
		}
		if _, err := models.ParseExecutionConfig(executionJSONB); err != nil {
			return err
		}
		updates["execution_config"] = executionJSONB
	}
	if definitionChanged {
		updates["is_published"] = false
	}
	updates["updated_at"] = time.Now()

	result := s.db.Model(&models.Workflow{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("更新工作流失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.New("工作流不存在")
	}
	return nil
}

func toJSONB(value interface{}) (models.JSONB, error) {
	if jsonb, ok := value.(models.JSONB); ok {
		return jsonb, nil
	}
	if m, ok := value.(map[string]interface{}); ok {
		return models.JSONB(m), nil
	}
	return nil, errors.New("必须是JSON对象")
}

// DeleteWorkflow 删除工作流，存在运行中的执行时拒绝
func (s *Service) DeleteWorkflow(id string) error {
	var runningCount int64
	s.db.Model(&models.WorkflowExecution{}).
		Where("workflow_id = ? AND status IN ?", id, []string{meta.ExecutionStatusPending, meta.ExecutionStatusRunning}).
		Count(&runningCount)
	if runningCount > 0 {
		return fmt.Errorf("存在%d个运行中的执行，不能删除", runningCount)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", id).Delete(&models.Workflow{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errors.New("工作流不存在")
		}
		if err := tx.Where("workflow_id = ?", id).Delete(&models.WorkflowSchedule{}).Error; err != nil {
			return err
		}
		return tx.Where("workflow_id = ?", id).Delete(&models.WorkflowVersion{}).Error
	})
}

// ToggleWorkflow 启用/停用工作流
func (s *Service) ToggleWorkflow(id string, isActive bool) error {
	result := s.db.Model(&models.Workflow{}).Where("id = ?", id).
		Updates(map[string]interface{}{"is_active": isActive, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("工作流不存在")
	}
	return nil
}

// ValidateWorkflowByID 对已保存的工作流执行发布前校验
func (s *Service) ValidateWorkflowByID(id string) (*ValidationResult, error) {
	workflow, err := s.GetWorkflowByID(id)
	if err != nil {
		return nil, err
	}
	return ValidateWorkflow(workflow), nil
}

// PublishWorkflow 发布工作流：图校验通过后写版本快照并置为已发布
func (s *Service) PublishWorkflow(id, remark string) (*ValidationResult, error) {
	workflow, err := s.GetWorkflowByID(id)
	if err != nil {
		return nil, err
	}
	validation := ValidateWorkflow(workflow)
	if !validation.Valid {
		return validation, errors.New("工作流校验未通过，不能发布")
	}

	version := nextVersion(workflow.Version, workflow.IsPublished)
	err = s.db.Transaction(func(tx *gorm.DB) error {
		snapshot := &models.WorkflowVersion{
			WorkflowID:  workflow.ID,
			Version:     version,
			Nodes:       workflow.Nodes,
			Connections: workflow.Connections,
			Remark:      remark,
		}
		if err := tx.Create(snapshot).Error; err != nil {
			return err
		}
		return tx.Model(&models.Workflow{}).Where("id = ?", id).
			Updates(map[string]interface{}{
				"is_published": true,
				"version":      version,
				"updated_at":   time.Now(),
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("发布失败: %w", err)
	}
	return validation, nil
}

// nextVersion 已发布过的工作流再次发布时递增次版本号
func nextVersion(current string, wasPublished bool) string {
	if !wasPublished {
		return current
	}
	var major, minor, patch int
	if _, err := fmt.Sscanf(current, "%d.%d.%d", &major, &minor, &patch); err != nil {
		return current
	}
	return fmt.Sprintf("%d.%d.%d", major, minor+1, 0)
}

// UnpublishWorkflow 下线工作流，停止被触发
func (s *Service) UnpublishWorkflow(id string) error {
	result := s.db.Model(&models.Workflow{}).Where("id = ?", id).
		Updates(map[string]interface{}{"is_published": false, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("工作流不存在")
	}
	return nil
}

// GetWorkflowVersions 查询工作流的发布版本历史
func (s *Service) GetWorkflowVersions(workflowID string) ([]models.WorkflowVersion, error) {
	var versions []models.WorkflowVersion
	err := s.db.Where("workflow_id = ?", workflowID).Order("created_at DESC").Find(&versions).Error
	return versions, err
}

// DuplicateWorkflow 复制工作流，副本回到未激活未发布状态
func (s *Service) DuplicateWorkflow(id, newName, newCode string) (*models.Workflow, error) {
	source, err := s.GetWorkflowByID(id)
	if err != nil {
		return nil, err
	}
	duplicate := &models.Workflow{
		Name:            newName,
		Code:            newCode,
		Description:     source.Description,
		Type:            source.Type,
		Nodes:           source.Nodes,
		Connections:     source.Connections,
		TriggerType:     source.TriggerType,
		TriggerConfig:   source.TriggerConfig,
		ExecutionConfig: source.ExecutionConfig,
		IsActive:        false,
		IsPublished:     false,
		AccentColor:     source.AccentColor,
	}
	if err := s.CreateWorkflow(duplicate); err != nil {
		return nil, err
	}
	return duplicate, nil
}

// ExecuteWorkflow 手动触发一次执行
func (s *Service) ExecuteWorkflow(id string, triggerType string, triggerData map[string]interface{}) (*models.WorkflowExecution, error) {
	workflow, err := s.GetWorkflowByID(id)
	if err != nil {
		return nil, err
	}
	if triggerType == "" {
		triggerType = meta.TriggerTypeManual
	}
	return s.engine.Execute(workflow, triggerType, triggerData)
}

// GetExecutionList 分页查询执行历史
func (s *Service) GetExecutionList(workflowID string, page, pageSize int, status string) ([]models.WorkflowExecution, int64, error) {
	var executions []models.WorkflowExecution
	var total int64

	query := s.db.Model(&models.WorkflowExecution{})
	if workflowID != "" {
		query = query.Where("workflow_id = ?", workflowID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * pageSize
	if err := query.Session(&gorm.Session{}).Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&executions).Error; err != nil {
		return nil, 0, err
	}
	return executions, total, nil
}

// ExecutionDetail 执行详情，含节点执行记录
type ExecutionDetail struct {
	Execution *models.WorkflowExecution      `json:"execution"`
	Nodes     []models.WorkflowNodeExecution `json:"nodes"`
}

// GetExecutionDetail 查询单次执行的详情与节点轨迹
func (s *Service) GetExecutionDetail(executionID string) (*ExecutionDetail, error) {
	var execution models.WorkflowExecution
	if err := s.db.Where("execution_id = ?", executionID).First(&execution).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("执行记录不存在")
		}
		return nil, err
	}
	var nodes []models.WorkflowNodeExecution
	if err := s.db.Where("execution_id = ?", executionID).Order("created_at ASC").Find(&nodes).Error; err != nil {
		return nil, err
	}
	return &ExecutionDetail{Execution: &execution, Nodes: nodes}, nil
}

// CancelExecution 取消运行中的执行
func (s *Service) CancelExecution(executionID string) error {
	var execution models.WorkflowExecution
	if err := s.db.Where("execution_id = ?", executionID).First(&execution).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.New("执行记录不存在")
		}
		return err
	}
	if !execution.CanCancel() {
		return fmt.Errorf("执行已处于终态: %s", execution.Status)
	}
	if err := s.engine.CancelExecution(executionID); err != nil {
		// 不在本实例运行（实例重启后遗留的running记录），直接落终态
		return s.db.Model(&models.WorkflowExecution{}).
			Where("execution_id = ?", executionID).
			Updates(map[string]interface{}{
				"status":        meta.ExecutionStatusCancelled,
				"error_message": "执行已被取消",
				"completed_at":  time.Now(),
			}).Error
	}
	return nil
}

// RetryExecution 重试失败的执行：原记录retry_count加一并以相同触发数据重新运行
func (s *Service) RetryExecution(executionID string) (*models.WorkflowExecution, error) {
	var execution models.WorkflowExecution
	if err := s.db.Where("execution_id = ?", executionID).First(&execution).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("执行记录不存在")
		}
		return nil, err
	}
	if execution.Status != meta.ExecutionStatusFailed {
		return nil, fmt.Errorf("只有失败的执行可以重试，当前状态: %s", execution.Status)
	}
	workflow, err := s.GetWorkflowByID(execution.WorkflowID)
	if err != nil {
		return nil, err
	}

	s.db.Model(&models.WorkflowExecution{}).Where("execution_id = ?", executionID).
		Update("retry_count", gorm.Expr("retry_count + 1"))

	retried, err := s.engine.Execute(workflow, execution.TriggerType, map[string]interface{}(execution.TriggerData))
	if err != nil {
		return nil, err
	}
	parentID := execution.ID
	s.db.Model(&models.WorkflowExecution{}).Where("execution_id = ?", retried.ExecutionID).
		Update("parent_execution_id", parentID)
	return retried, nil
}

// CreateTemplate 创建工作流模板
func (s *Service) CreateTemplate(template *models.WorkflowTemplate) error {
	if template.Name == "" {
		return errors.New("模板名称不能为空")
	}
	if !meta.IsValidWorkflowType(template.Type) {
		return errors.New("无效的工作流类型: " + template.Type)
	}
	return s.db.Create(template).Error
}

// GetTemplateList 分页查询模板列表
func (s *Service) GetTemplateList(page, pageSize int, category string) ([]models.WorkflowTemplate, int64, error) {
	var templates []models.WorkflowTemplate
	var total int64

	query := s.db.Model(&models.WorkflowTemplate{})
	if category != "" {
		query = query.Where("category = ?", category)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * pageSize
	if err := query.Session(&gorm.Session{}).Order("use_count DESC, created_at DESC").Offset(offset).Limit(pageSize).Find(&templates).Error; err != nil {
		return nil, 0, err
	}
	return templates, total, nil
}

// DeleteTemplate 删除模板
func (s *Service) DeleteTemplate(id string) error {
	result := s.db.Where("id = ?", id).Delete(&models.WorkflowTemplate{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("模板不存在")
	}
	return nil
}

// CreateWorkflowFromTemplate 从模板实例化工作流并累加模板使用计数
func (s *Service) CreateWorkflowFromTemplate(templateID, name, code string) (*models.Workflow, error) {
	var template models.WorkflowTemplate
	if err := s.db.Where("id = ?", templateID).First(&template).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("模板不存在")
		}
		return nil, err
	}
	workflow := &models.Workflow{
		Name:        name,
		Code:        code,
		Description: template.Description,
		Type:        template.Type,
		Nodes:       template.Nodes,
		Connections: template.Connections,
		TriggerType: meta.TriggerTypeManual,
		IsActive:    false,
	}
	if err := s.CreateWorkflow(workflow); err != nil {
		return nil, err
	}
	s.db.Model(&models.WorkflowTemplate{}).Where("id = ?", templateID).
		Update("use_count", gorm.Expr("use_count + 1"))
	return workflow, nil
}

// SaveAsTemplate 把工作流定义保存为模板
func (s *Service) SaveAsTemplate(workflowID, name, category string) (*models.WorkflowTemplate, error) {
	workflow, err := s.GetWorkflowByID(workflowID)
	if err != nil {
		return nil, err
	}
	template := &models.WorkflowTemplate{
		Name:        name,
		Description: workflow.Description,
		Category:    category,
		Type:        workflow.Type,
		Nodes:       workflow.Nodes,
		Connections: workflow.Connections,
	}
	if err := s.CreateTemplate(template); err != nil {
		return nil, err
	}
	return template, nil
}

// WorkflowExport 导出格式，不携带执行统计与发布状态
type WorkflowExport struct {
	Name            string            `json:"name"`
	Code            string            `json:"code"`
	Description     string            `json:"description,omitempty"`
	Type            string            `json:"type"`
	Nodes           models.JSONBArray `json:"nodes"`
	Connections     models.JSONBArray `json:"connections"`
	TriggerType     string            `json:"trigger_type"`
	TriggerConfig   models.JSONB      `json:"trigger_config,omitempty"`
	ExecutionConfig models.JSONB      `json:"execution_config,omitempty"`
	ExportedAt      time.Time         `json:"exported_at"`
}

// ExportWorkflow 导出工作流定义为JSON
func (s *Service) ExportWorkflow(id string) (*WorkflowExport, error) {
	workflow, err := s.GetWorkflowByID(id)
	if err != nil {
		return nil, err
	}
	export := &WorkflowExport{
		Name:            workflow.Name,
		Code:            workflow.Code,
		Description:     workflow.Description,
		Type:            workflow.Type,
		Nodes:           workflow.Nodes,
		Connections:     workflow.Connections,
		TriggerType:     workflow.TriggerType,
		TriggerConfig:   workflow.TriggerConfig,
		ExecutionConfig: workflow.ExecutionConfig,
		ExportedAt:      time.Now(),
	}
	// webhook密钥哈希不导出
	if export.TriggerConfig != nil {
		sanitized := make(models.JSONB, len(export.TriggerConfig))
		for key, value := range export.TriggerConfig {
			if key == "webhook_secret" {
				continue
			}
			sanitized[key] = value
		}
		export.TriggerConfig = sanitized
	}
	return export, nil
}

// ImportWorkflow 从导出JSON导入工作流，编码冲突时报错
func (s *Service) ImportWorkflow(payload []byte) (*models.Workflow, error) {
	var export WorkflowExport
	if err := json.Unmarshal(payload, &export); err != nil {
		return nil, fmt.Errorf("导入内容解析失败: %w", err)
	}
	workflow := &models.Workflow{
		Name:            export.Name,
		Code:            export.Code,
		Description:     export.Description,
		Type:            export.Type,
		Nodes:           export.Nodes,
		Connections:     export.Connections,
		TriggerType:     export.TriggerType,
		TriggerConfig:   export.TriggerConfig,
		ExecutionConfig: export.ExecutionConfig,
		IsActive:        false,
	}
	if workflow.TriggerType == "" {
		workflow.TriggerType = meta.TriggerTypeManual
	}
	if workflow.TriggerType == meta.TriggerTypeWebhook {
		// 导出时密钥已剥离，导入方必须重新配置
		workflow.TriggerType = meta.TriggerTypeManual
		delete(workflow.TriggerConfig, "webhook_secret")
	}
	if err := s.CreateWorkflow(workflow); err != nil {
		return nil, err
	}
	return workflow, nil
}

// WorkflowStatistics 工作流维度的统计
type WorkflowStatistics struct {
	TotalWorkflows     int64 `json:"total_workflows"`
	ActiveWorkflows    int64 `json:"active_workflows"`
	PublishedWorkflows int64 `json:"published_workflows"`
	TotalExecutions    int64 `json:"total_executions"`
	RunningExecutions  int64 `json:"running_executions"`
	SucceededToday     int64 `json:"succeeded_today"`
	FailedToday        int64 `json:"failed_today"`
}

// GetStatistics 汇总工作流与执行的统计信息
func (s *Service) GetStatistics() (*WorkflowStatistics, error) {
	stats := &WorkflowStatistics{}
	s.db.Model(&models.Workflow{}).Count(&stats.TotalWorkflows)
	s.db.Model(&models.Workflow{}).Where("is_active = ?", true).Count(&stats.ActiveWorkflows)
	s.db.Model(&models.Workflow{}).Where("is_published = ?", true).Count(&stats.PublishedWorkflows)
	s.db.Model(&models.WorkflowExecution{}).Count(&stats.TotalExecutions)
	s.db.Model(&models.WorkflowExecution{}).
		Where("status IN ?", []string{meta.ExecutionStatusPending, meta.ExecutionStatusRunning}).
		Count(&stats.RunningExecutions)

	todayStart := time.Now().Truncate(24 * time.Hour)
	s.db.Model(&models.WorkflowExecution{}).
		Where("status = ? AND created_at >= ?", meta.ExecutionStatusSucceeded, todayStart).
		Count(&stats.SucceededToday)
	s.db.Model(&models.WorkflowExecution{}).
		Where("status = ? AND created_at >= ?", meta.ExecutionStatusFailed, todayStart).
		Count(&stats.FailedToday)
	return stats, nil
}
