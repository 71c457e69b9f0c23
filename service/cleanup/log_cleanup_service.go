/*
 * @module service/cleanup/log_cleanup_service
 * @description 历史数据清理服务，定期清理过期的决策审计日志、工作流执行记录与SSE事件
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/retention_req.md
 * @stateFlow 定时触发 -> 读取保留天数配置 -> 按表清理 -> 记录结果
 * @rules 清理节点执行记录时同步删除其所属已过期执行；清理不影响运行中的执行
 * @dependencies devmonitor-service/service/config, gorm.io/gorm, github.com/robfig/cron/v3
 * @refs service/config/config_service.go
 */

package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"devmonitor-service/service/config"
	"devmonitor-service/service/meta"
	"devmonitor-service/service/models"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// LogCleanupService 历史数据清理服务
type LogCleanupService struct {
	db            *gorm.DB
	configService *config.ConfigService
	cron          *cron.Cron
	ctx           context.Context
	cancel        context.CancelFunc
	started       bool
}

// NewLogCleanupService 创建清理服务实例
func NewLogCleanupService(db *gorm.DB, configService *config.ConfigService) *LogCleanupService {
	ctx, cancel := context.WithCancel(context.Background())

	return &LogCleanupService{
		db:            db,
		configService: configService,
		cron:          cron.New(cron.WithSeconds()),
		ctx:           ctx,
		cancel:        cancel,
		started:       false,
	}
}

// CleanupExpiredData 清理所有过期历史数据
func (s *LogCleanupService) CleanupExpiredData(ctx context.Context) error {
	slog.Info("开始清理过期历史数据")
	startTime := time.Now()

	auditRetentionDays := s.configService.GetAuditLogRetentionDays()
	auditDeleted, err := s.CleanupAuditLogs(ctx, auditRetentionDays)
	if err != nil {
		slog.Error("清理决策审计日志失败", "error", err)
	} else {
		slog.Info("清理决策审计日志完成", "deleted_count", auditDeleted, "retention_days", auditRetentionDays)
	}

	executionRetentionDays := s.configService.GetExecutionRetentionDays()
	executionDeleted, err := s.CleanupExecutions(ctx, executionRetentionDays)
	if err != nil {
		slog.Error("清理工作流执行记录失败", "error", err)
	} else {
		slog.Info("清理工作流执行记录完成", "deleted_count", executionDeleted, "retention_days", executionRetentionDays)
	}

	sseRetentionDays := s.configService.GetSSEEventRetentionDays()
	sseDeleted, err := s.CleanupSSEEvents(ctx, sseRetentionDays)
	if err != nil {
		slog.Error("清理SSE事件历史失败", "error", err)
	} else {
		slog.Info("清理SSE事件历史完成", "deleted_count", sseDeleted, "retention_days", sseRetentionDays)
	}

	slog.Info("历史数据清理完成",
		"audit_deleted", auditDeleted,
		"execution_deleted", executionDeleted,
		"sse_deleted", sseDeleted,
		"duration_ms", time.Since(startTime).Milliseconds())

	return nil
}

// CleanupAuditLogs 清理过期的决策审计日志
func (s *LogCleanupService) CleanupAuditLogs(ctx context.Context, retentionDays int) (int64, error) {
	cutoffDate := time.Now().AddDate(0, 0, -retentionDays)

	result := s.db.WithContext(ctx).
		Where("trigger_time < ?", cutoffDate).
		Delete(&models.DecisionAuditLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("删除决策审计日志失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CleanupExecutions 清理过期的工作流执行记录，运行中的执行不清理
func (s *LogCleanupService) CleanupExecutions(ctx context.Context, retentionDays int) (int64, error) {
	cutoffDate := time.Now().AddDate(0, 0, -retentionDays)

	var executionIDs []string
	err := s.db.WithContext(ctx).Model(&models.WorkflowExecution{}).
		Where("created_at < ? AND status IN ?", cutoffDate,
			[]string{meta.ExecutionStatusSucceeded, meta.ExecutionStatusFailed, meta.ExecutionStatusCancelled}).
		Pluck("execution_id", &executionIDs).Error
	if err != nil {
		return 0, fmt.Errorf("查询过期执行记录失败: %w", err)
	}
	if len(executionIDs) == 0 {
		return 0, nil
	}

	var deleted int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("execution_id IN ?", executionIDs).Delete(&models.WorkflowNodeExecution{}).Error; err != nil {
			return err
		}
		result := tx.Where("execution_id IN ?", executionIDs).Delete(&models.WorkflowExecution{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("删除工作流执行记录失败: %w", err)
	}
	return deleted, nil
}

// CleanupSSEEvents 清理过期的SSE事件与断开的连接记录
func (s *LogCleanupService) CleanupSSEEvents(ctx context.Context, retentionDays int) (int64, error) {
	cutoffDate := time.Now().AddDate(0, 0, -retentionDays)

	result := s.db.WithContext(ctx).Where("created_at < ?", cutoffDate).Delete(&models.SSEEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("删除SSE事件失败: %w", result.Error)
	}
	s.db.WithContext(ctx).
		Where("is_active = ? AND connected_at < ?", false, cutoffDate).
		Delete(&models.SSEConnection{})
	return result.RowsAffected, nil
}

// StartScheduledCleanup 启动定时清理任务
func (s *LogCleanupService) StartScheduledCleanup() error {
	if s.started {
		return fmt.Errorf("清理调度器已经启动")
	}

	slog.Info("启动历史数据清理调度器")

	// 每天凌晨2点执行清理任务
	_, err := s.cron.AddFunc("0 0 2 * * *", func() {
		if err := s.CleanupExpiredData(s.ctx); err != nil {
			slog.Error("定时清理任务失败", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("添加定时任务失败: %w", err)
	}

	s.cron.Start()
	s.started = true

	// 启动时立即执行一次清理
	go func() {
		if err := s.CleanupExpiredData(s.ctx); err != nil {
			slog.Error("首次历史数据清理失败", "error", err)
		}
	}()

	return nil
}

// StopScheduledCleanup 停止定时清理任务
func (s *LogCleanupService) StopScheduledCleanup() {
	if !s.started {
		return
	}

	s.cancel()
	if s.cron != nil {
		s.cron.Stop()
	}
	s.started = false

	slog.Info("历史数据清理调度器已停止")
}
