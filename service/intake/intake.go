/*
 * @module service/intake/intake
 * @description 遥测事件接入服务：解码设备报文，送入决策运行时并触发event类型工作流
 * @architecture 事件驱动架构 - 接入层
 * @documentReference ai_docs/telemetry_intake_req.md
 * @stateFlow MQTT/Kafka消息到达 -> 解码 -> 决策规则评估 -> 匹配事件工作流触发执行
 * @rules event_filter用决策条件树语法对事件数据求值，不匹配的工作流不触发
 * @dependencies service/decision, service/workflow, service/utils
 * @refs service/intake/mqtt_source.go, service/intake/kafka_source.go
 */

package intake

import (
	"context"
	"log"
	"time"

	"devmonitor-service/service/decision"
	"devmonitor-service/service/meta"
	"devmonitor-service/service/models"
	"devmonitor-service/service/utils"
	"devmonitor-service/service/workflow"

	"github.com/spf13/cast"
	"gorm.io/gorm"
)

// Source 遥测事件来源
type Source interface {
	Start() error
	Stop() error
	Name() string
}

// Service 遥测接入服务
type Service struct {
	db      *gorm.DB
	runtime *decision.Runtime
	engine  *workflow.Engine
	sources []Source
}

// NewService 创建接入服务
func NewService(db *gorm.DB, runtime *decision.Runtime, engine *workflow.Engine) *Service {
	return &Service{db: db, runtime: runtime, engine: engine}
}

// AddSource 注册事件来源
func (s *Service) AddSource(source Source) {
	s.sources = append(s.sources, source)
}

// Start 启动全部事件来源
func (s *Service) Start() {
	for _, source := range s.sources {
		if err := source.Start(); err != nil {
			log.Printf("遥测来源启动失败 [%s]: %v", source.Name(), err)
			continue
		}
		log.Printf("遥测来源已启动: %s", source.Name())
	}
}

// Stop 停止全部事件来源
func (s *Service) Stop() {
	for _, source := range s.sources {
		if err := source.Stop(); err != nil {
			log.Printf("遥测来源停止失败 [%s]: %v", source.Name(), err)
		}
	}
}

// HandleTelemetry 处理一条遥测报文：解码后走决策评估与事件工作流触发
func (s *Service) HandleTelemetry(eventType string, payload []byte) {
	facts, err := utils.DecodeTelemetryPayload(payload)
	if err != nil {
		log.Printf("遥测报文解码失败: %v", err)
		return
	}
	s.HandleEvent(eventType, facts)
}

// HandleEvent 处理一条已解码的事件
func (s *Service) HandleEvent(eventType string, facts map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	event := &decision.Event{
		AssetID:      cast.ToString(facts["asset_id"]),
		PredictionID: cast.ToString(facts["prediction_id"]),
		Facts:        facts,
	}
	if _, err := s.runtime.OnEvent(ctx, event); err != nil {
		log.Printf("决策评估失败: %v", err)
	}

	s.triggerEventWorkflows(eventType, facts)
}

// triggerEventWorkflows 触发订阅该事件类型且过滤条件匹配的工作流
func (s *Service) triggerEventWorkflows(eventType string, facts map[string]interface{}) {
	if eventType == "" {
		return
	}

	var workflows []models.Workflow
	err := s.db.Where("trigger_type = ? AND is_active = ? AND is_published = ?",
		meta.TriggerTypeEvent, true, true).Find(&workflows).Error
	if err != nil {
		log.Printf("查询事件工作流失败: %v", err)
		return
	}

	for i := range workflows {
		wf := &workflows[i]
		triggerConfig, err := models.ParseTriggerConfig(wf.TriggerConfig)
		if err != nil {
			log.Printf("工作流触发配置无效，跳过 [%s]: %v", wf.ID, err)
			continue
		}
		if triggerConfig.EventType != eventType {
			continue
		}
		if len(triggerConfig.EventFilter) > 0 {
			tree, err := decision.ParseConditionTree(models.JSONB(triggerConfig.EventFilter))
			if err != nil {
				log.Printf("工作流事件过滤条件无效，跳过 [%s]: %v", wf.ID, err)
				continue
			}
			if !decision.Evaluate(tree, facts) {
				continue
			}
		}

		execution, err := s.engine.Execute(wf, meta.TriggerTypeEvent, facts)
		if err != nil {
			log.Printf("事件工作流触发失败 [%s]: %v", wf.ID, err)
			continue
		}
		log.Printf("事件工作流已触发 [%s]: execution_id=%s, event_type=%s", wf.ID, execution.ExecutionID, eventType)
	}
}
