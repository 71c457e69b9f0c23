/*
 * @module service/database/migrate
 * @description 数据库迁移模块，负责创建和更新数据库表结构
 * @architecture 数据访问层 - 迁移管理
 * @documentReference dev_docs/model.md
 * @stateFlow 应用启动时执行数据库迁移
 * @rules 确保数据库结构与模型定义保持一致
 * @dependencies devmonitor-service/service/models, gorm.io/gorm
 * @refs dev_docs/backend_requirements.md
 */

package database

import (
	"devmonitor-service/service/models"
	"log"

	"gorm.io/gorm"
)

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB) error {
	log.Println("开始数据库迁移...")

	// 决策规则相关表
	err := db.AutoMigrate(
		&models.DecisionRule{},
		&models.DecisionAuditLog{},
	)
	if err != nil {
		return err
	}

	// 工作流相关表
	err = db.AutoMigrate(
		&models.Workflow{},
		&models.WorkflowExecution{},
		&models.WorkflowNodeExecution{},
		&models.WorkflowTemplate{},
		&models.WorkflowSchedule{},
		&models.WorkflowVersion{},
	)
	if err != nil {
		return err
	}

	// 事件与系统配置相关表
	err = db.AutoMigrate(
		&models.SSEEvent{},
		&models.SSEConnection{},
		&models.SystemConfig{},
	)
	if err != nil {
		return err
	}

	log.Println("数据库迁移完成")
	return nil
}

// InitializeData 初始化基础数据
func InitializeData(db *gorm.DB) error {
	log.Println("开始初始化基础数据...")

	// 内置工作流模板：只在空表时写入
	var templateCount int64
	if err := db.Model(&models.WorkflowTemplate{}).Count(&templateCount).Error; err != nil {
		return err
	}
	if templateCount == 0 {
		templates := builtinTemplates()
		for i := range templates {
			if err := db.Create(&templates[i]).Error; err != nil {
				log.Printf("内置模板创建失败 [%s]: %v", templates[i].Name, err)
			}
		}
		log.Printf("已写入 %d 个内置工作流模板", len(templates))
	}

	log.Println("基础数据初始化完成")
	return nil
}

// builtinTemplates 内置工作流模板
func builtinTemplates() []models.WorkflowTemplate {
	return []models.WorkflowTemplate{
		{
			Name:        "设备温度告警处理",
			Description: "温度越限事件触发，判断级别后告警通知",
			Category:    "device_monitor",
			Type:        "device_monitor",
			Nodes: models.JSONBArray{
				map[string]interface{}{"id": "start", "type": "start", "name": "开始", "x": 80, "y": 200},
				map[string]interface{}{"id": "check", "type": "condition", "name": "温度判断", "x": 260, "y": 200,
					"config": map[string]interface{}{"expression": map[string]interface{}{
						"field": "temperature", "operator": "gt", "value": 85,
					}}},
				map[string]interface{}{"id": "notify", "type": "api", "name": "告警通知", "x": 440, "y": 120,
					"config": map[string]interface{}{"url": "http://alert-gateway/notify", "method": "POST"}},
				map[string]interface{}{"id": "end", "type": "end", "name": "结束", "x": 620, "y": 200},
			},
			Connections: models.JSONBArray{
				map[string]interface{}{"id": "c1", "fromNodeId": "start", "toNodeId": "check"},
				map[string]interface{}{"id": "c2", "fromNodeId": "check", "toNodeId": "notify", "label": "true"},
				map[string]interface{}{"id": "c3", "fromNodeId": "check", "toNodeId": "end", "label": "false"},
				map[string]interface{}{"id": "c4", "fromNodeId": "notify", "toNodeId": "end"},
			},
		},
		{
			Name:        "定时数据采集",
			Description: "定时拉取设备接口数据并转换入库",
			Category:    "data_collection",
			Type:        "data_collection",
			Nodes: models.JSONBArray{
				map[string]interface{}{"id": "start", "type": "start", "name": "开始", "x": 80, "y": 200},
				map[string]interface{}{"id": "fetch", "type": "api", "name": "拉取数据", "x": 260, "y": 200,
					"config": map[string]interface{}{"url": "http://device-gateway/metrics", "method": "GET", "output_var": "metrics"}},
				map[string]interface{}{"id": "transform", "type": "transform", "name": "数据转换", "x": 440, "y": 200,
					"config": map[string]interface{}{"script": "\treturn map[string]interface{}{\"collected\": vars[\"metrics\"]}, nil"}},
				map[string]interface{}{"id": "end", "type": "end", "name": "结束", "x": 620, "y": 200},
			},
			Connections: models.JSONBArray{
				map[string]interface{}{"id": "c1", "fromNodeId": "start", "toNodeId": "fetch"},
				map[string]interface{}{"id": "c2", "fromNodeId": "fetch", "toNodeId": "transform"},
				map[string]interface{}{"id": "c3", "fromNodeId": "transform", "toNodeId": "end"},
			},
		},
	}
}
