/*
 * @module service/workflow/scheduler
 * @description 工作流定时调度器，按schedule触发类型的cron表达式触发执行，多实例下用Redis锁防重
 * @architecture 基于Go协程和定时器的调度器模式
 * @documentReference ai_docs/workflow_engine_req.md
 * @stateFlow 启动时加载已发布的schedule工作流 -> 注册cron条目 -> 到期抢锁触发执行
 * @rules 同一工作流同一触发时刻只允许一个实例触发；工作流发布/下线后需调用Reload刷新注册
 * @dependencies github.com/robfig/cron/v3, gorm.io/gorm, service/distributed_lock
 * @refs service/workflow/service.go, service/distributed_lock/redis_lock.go
 */

package workflow

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"devmonitor-service/service/distributed_lock"
	"devmonitor-service/service/meta"
	"devmonitor-service/service/models"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// Scheduler 工作流定时调度器
type Scheduler struct {
	db           *gorm.DB
	service      *Service
	cron         *cron.Cron
	lockExecutor *distributed_lock.LockExecutor

	mu      sync.Mutex
	entries map[string]cron.EntryID // workflowID -> cron条目
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler 创建调度器，lockExecutor可为nil（单实例部署）
func NewScheduler(db *gorm.DB, service *Service, lockExecutor *distributed_lock.LockExecutor) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		db:           db,
		service:      service,
		cron:         cron.New(cron.WithSeconds()),
		lockExecutor: lockExecutor,
		entries:      make(map[string]cron.EntryID),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start 启动调度器并加载已发布的定时工作流
func (s *Scheduler) Start() error {
	log.Println("启动工作流调度器")
	s.cron.Start()
	if err := s.loadScheduledWorkflows(); err != nil {
		log.Printf("加载定时工作流失败: %v", err)
		return err
	}
	log.Println("工作流调度器启动完成")
	return nil
}

// Stop 停止调度器
func (s *Scheduler) Stop() {
	log.Println("停止工作流调度器")
	s.cancel()
	if s.cron != nil {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
	}
	log.Println("工作流调度器已停止")
}

// Reload 工作流发布/下线/启停后刷新cron注册
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	for workflowID, entryID := range s.entries {
		s.cron.Remove(entryID)
		delete(s.entries, workflowID)
	}
	s.mu.Unlock()
	return s.loadScheduledWorkflows()
}

// loadScheduledWorkflows 把已激活已发布的schedule工作流注册到cron
func (s *Scheduler) loadScheduledWorkflows() error {
	var workflows []models.Workflow
	err := s.db.Where("trigger_type = ? AND is_active = ? AND is_published = ?",
		meta.TriggerTypeSchedule, true, true).Find(&workflows).Error
	if err != nil {
		return fmt.Errorf("查询定时工作流失败: %w", err)
	}

	registered := 0
	for i := range workflows {
		if err := s.register(&workflows[i]); err != nil {
			log.Printf("工作流注册到调度器失败 [%s]: %v", workflows[i].ID, err)
			continue
		}
		registered++
	}
	log.Printf("调度器加载了 %d 个定时工作流", registered)
	return nil
}

// register 注册单个工作流的cron条目并登记下次触发时间
func (s *Scheduler) register(workflow *models.Workflow) error {
	triggerConfig, err := models.ParseTriggerConfig(workflow.TriggerConfig)
	if err != nil {
		return err
	}
	if triggerConfig.CronExpression == "" {
		return fmt.Errorf("缺少cron表达式")
	}

	workflowID := workflow.ID
	entryID, err := s.cron.AddFunc(triggerConfig.CronExpression, func() {
		s.fire(workflowID)
	})
	if err != nil {
		return fmt.Errorf("cron表达式无效 %q: %w", triggerConfig.CronExpression, err)
	}

	s.mu.Lock()
	s.entries[workflowID] = entryID
	s.mu.Unlock()

	s.upsertSchedule(workflowID, triggerConfig.CronExpression, s.cron.Entry(entryID).Next)
	return nil
}

// upsertSchedule 维护t_sys_workflow_schedule登记表
func (s *Scheduler) upsertSchedule(workflowID, cronExpression string, nextFireAt time.Time) {
	var schedule models.WorkflowSchedule
	err := s.db.Where("workflow_id = ?", workflowID).First(&schedule).Error
	if err == gorm.ErrRecordNotFound {
		schedule = models.WorkflowSchedule{
			WorkflowID:     workflowID,
			CronExpression: cronExpression,
			IsEnabled:      true,
			NextFireAt:     &nextFireAt,
		}
		if createErr := s.db.Create(&schedule).Error; createErr != nil {
			log.Printf("调度登记创建失败 [%s]: %v", workflowID, createErr)
		}
		return
	}
	if err != nil {
		log.Printf("调度登记查询失败 [%s]: %v", workflowID, err)
		return
	}
	s.db.Model(&models.WorkflowSchedule{}).Where("id = ?", schedule.ID).
		Updates(map[string]interface{}{
			"cron_expression": cronExpression,
			"is_enabled":      true,
			"next_fire_at":    nextFireAt,
		})
}

// fire 到期触发：多实例下抢分布式锁，抢不到说明其他实例已触发
func (s *Scheduler) fire(workflowID string) {
	if s.ctx.Err() != nil {
		return
	}

	trigger := func() error {
		workflow, err := s.service.GetWorkflowByID(workflowID)
		if err != nil {
			return err
		}
		if !workflow.CanExecute() {
			log.Printf("定时工作流已不可执行，跳过触发 [%s]", workflowID)
			return nil
		}
		execution, err := s.service.Engine().Execute(workflow, meta.TriggerTypeSchedule, map[string]interface{}{
			"fired_at": time.Now().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}

		now := time.Now()
		s.mu.Lock()
		entryID, ok := s.entries[workflowID]
		s.mu.Unlock()
		updates := map[string]interface{}{"last_fired_at": now}
		if ok {
			updates["next_fire_at"] = s.cron.Entry(entryID).Next
		}
		s.db.Model(&models.WorkflowSchedule{}).Where("workflow_id = ?", workflowID).Updates(updates)

		log.Printf("定时工作流已触发 [%s]: execution_id=%s", workflowID, execution.ExecutionID)
		return nil
	}

	var err error
	if s.lockExecutor != nil {
		lockKey := "fire:" + workflowID + ":" + time.Now().Truncate(time.Second).Format("20060102150405")
		err = s.lockExecutor.ExecuteWithLock(s.ctx, lockKey, 30*time.Second, trigger)
	} else {
		err = trigger()
	}
	if err != nil {
		log.Printf("定时工作流触发失败 [%s]: %v", workflowID, err)
	}
}
