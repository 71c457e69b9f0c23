/*
 * @module service/event/processors
 * @description 数据库变更处理器：规则表变更触发注册表热加载，工作流表变更触发调度刷新
 * @architecture 事件驱动架构 - 业务服务层
 * @documentReference ai_docs/event_push_req.md
 * @stateFlow NOTIFY到达 -> 按表名路由 -> 目标组件Reload
 * @rules 处理器只做刷新触发，不解析变更内容，保持幂等
 * @dependencies service/models
 * @refs service/decision/registry.go, service/workflow/scheduler.go
 */

package event

import "log"

// ReloadProcessor 表变更后触发组件热加载的通用处理器
type ReloadProcessor struct {
	table  string
	reload func() error
}

// NewReloadProcessor 创建变更处理器
func NewReloadProcessor(table string, reload func() error) *ReloadProcessor {
	return &ReloadProcessor{table: table, reload: reload}
}

// TableName 监听的表名
func (p *ReloadProcessor) TableName() string {
	return p.table
}

// ProcessDBChangeEvent 表变更后刷新目标组件
func (p *ReloadProcessor) ProcessDBChangeEvent(changeData map[string]interface{}) error {
	log.Printf("表 %s 发生变更，触发热加载", p.table)
	return p.reload()
}
