/*
 * @module service/event_service
 * @description 事件管理服务，提供SSE事件推送和数据库变更监听功能
 * @architecture 事件驱动架构 - 业务服务层
 * @documentReference ai_docs/event_push_req.md
 * @stateFlow 数据库NOTIFY -> 变更处理器（规则热加载/调度刷新） -> SSE推送到客户端
 * @rules 规则表与工作流表的变更通过触发器广播，多实例各自收到通知并刷新本地状态
 * @dependencies devmonitor-service/service/models, gorm.io/gorm, github.com/lib/pq
 * @refs service/decision/registry.go, service/workflow/scheduler.go
 */

package event

import (
	"context"
	"devmonitor-service/service/models"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// 数据库变更广播使用的NOTIFY通道
const notifyChannel = "devmonitor_changes"

// getEnvWithDefault 获取环境变量，如果不存在则返回默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// EventService 事件管理服务
type EventService struct {
	db                *gorm.DB
	connections       map[string]map[string]*SSEClient // userName -> connectionID -> client
	mu                sync.RWMutex
	dbEventProcessors map[string]models.DBEventProcessor
	dbListener        *pq.Listener
	ctx               context.Context
	cancel            context.CancelFunc
	functionCreated   bool // 标记通知函数是否已创建
}

// SSEClient SSE客户端连接
type SSEClient struct {
	ID       string
	UserName string
	Channel  chan *models.SSEEvent
	Done     chan bool
	ClientIP string
}

// NewEventService 创建事件服务实例
func NewEventService(db *gorm.DB) *EventService {
	ctx, cancel := context.WithCancel(context.Background())

	service := &EventService{
		db:                db,
		connections:       make(map[string]map[string]*SSEClient),
		dbEventProcessors: make(map[string]models.DBEventProcessor),
		ctx:               ctx,
		cancel:            cancel,
		functionCreated:   false,
	}

	go service.startDBListener()
	go service.startConnectionJanitor()

	return service
}

// === SSE连接管理 ===

// AddSSEConnection 添加SSE连接
func (s *EventService) AddSSEConnection(userName, connectionID, clientIP string) *SSEClient {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connections[userName] == nil {
		s.connections[userName] = make(map[string]*SSEClient)
	}

	client := &SSEClient{
		ID:       connectionID,
		UserName: userName,
		Channel:  make(chan *models.SSEEvent, 100), // 缓冲100个事件
		Done:     make(chan bool),
		ClientIP: clientIP,
	}

	s.connections[userName][connectionID] = client

	connection := &models.SSEConnection{
		UserName:     userName,
		ConnectionID: connectionID,
		ClientIP:     clientIP,
		ConnectedAt:  time.Now(),
		LastPingAt:   time.Now(),
		IsActive:     true,
	}
	s.db.Create(connection)

	log.Printf("SSE连接已建立: 用户=%s, 连接ID=%s, IP=%s", userName, connectionID, clientIP)
	return client
}

// RemoveSSEConnection 移除SSE连接
func (s *EventService) RemoveSSEConnection(userName, connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if userConnections, exists := s.connections[userName]; exists {
		if client, exists := userConnections[connectionID]; exists {
			close(client.Done)
			delete(userConnections, connectionID)

			if len(userConnections) == 0 {
				delete(s.connections, userName)
			}

			s.db.Model(&models.SSEConnection{}).
				Where("connection_id = ?", connectionID).
				Update("is_active", false)

			log.Printf("SSE连接已断开: 用户=%s, 连接ID=%s", userName, connectionID)
		}
	}
}

// SendEventToUser 向指定用户发送事件
func (s *EventService) SendEventToUser(userName string, event *models.SSEEvent) error {
	s.mu.RLock()
	userConnections, exists := s.connections[userName]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("用户 %s 没有活跃的SSE连接", userName)
	}

	if err := s.db.Create(event).Error; err != nil {
		log.Printf("保存SSE事件失败: %v", err)
		return err
	}

	for _, client := range userConnections {
		select {
		case client.Channel <- event:
		default:
			log.Printf("用户 %s 的连接 %s 事件队列已满，跳过发送", userName, client.ID)
		}
	}

	return nil
}

// BroadcastEvent 广播事件给所有用户
func (s *EventService) BroadcastEvent(event *models.SSEEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.db.Create(event).Error; err != nil {
		log.Printf("保存广播事件失败: %v", err)
		return err
	}

	for userName, userConnections := range s.connections {
		for _, client := range userConnections {
			eventCopy := *event
			eventCopy.UserName = userName

			select {
			case client.Channel <- &eventCopy:
			default:
				log.Printf("用户 %s 的连接 %s 事件队列已满，跳过广播", userName, client.ID)
			}
		}
	}

	return nil
}

// BroadcastExecutionEvent 广播一条执行相关事件（引擎与决策运行时使用）
func (s *EventService) BroadcastExecutionEvent(eventType string, data map[string]interface{}) {
	event := &models.SSEEvent{
		EventType: eventType,
		UserName:  "system",
		Data:      data,
	}
	if err := s.BroadcastEvent(event); err != nil {
		log.Printf("广播执行事件失败 [%s]: %v", eventType, err)
	}
}

// === 数据库监听管理 ===

// RegisterDBEventProcessor 按表名注册数据库变更处理器，注册时确保触发器存在
func (s *EventService) RegisterDBEventProcessor(processor models.DBEventProcessor) error {
	s.mu.Lock()
	s.dbEventProcessors[processor.TableName()] = processor
	s.mu.Unlock()

	log.Printf("数据库事件监听器已创建: %s", processor.TableName())
	if err := s.ensureTableTrigger(processor.TableName()); err != nil {
		log.Printf("创建表 %s 的变更触发器失败: %v", processor.TableName(), err)
	}
	return nil
}

// startDBListener 启动数据库监听器
func (s *EventService) startDBListener() {
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		host := getEnvWithDefault("DB_HOST", "localhost")
		port := getEnvWithDefault("DB_PORT", "5432")
		user := getEnvWithDefault("DB_USER", "postgres")
		password := getEnvWithDefault("DB_PASSWORD", "things2024")
		dbname := getEnvWithDefault("DB_NAME", "postgres")
		sslmode := getEnvWithDefault("DB_SSLMODE", "disable")

		connStr = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host, port, user, password, dbname, sslmode)
	}

	s.dbListener = pq.NewListener(connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("PostgreSQL监听器事件: %v, 错误: %v", ev, err)
		}
	})

	if err := s.dbListener.Listen(notifyChannel); err != nil {
		log.Printf("监听数据库通知失败: %v", err)
		return
	}

	log.Println("数据库监听器已启动")

	for {
		select {
		case notification := <-s.dbListener.Notify:
			if notification != nil {
				s.handleDBNotification(notification)
			}
		case <-s.ctx.Done():
			log.Println("数据库监听器已停止")
			return
		}
	}
}

// handleDBNotification 处理数据库通知
func (s *EventService) handleDBNotification(notification *pq.Notification) {
	var changeData map[string]interface{}
	if err := json.Unmarshal([]byte(notification.Extra), &changeData); err != nil {
		log.Printf("解析数据库通知失败: %v", err)
		return
	}

	tableName, _ := changeData["table"].(string)
	eventType, _ := changeData["type"].(string)
	recordID, _ := changeData["record_id"].(string)

	log.Printf("收到数据库变更通知: 表=%s, 类型=%s, 记录ID=%s", tableName, eventType, recordID)

	s.mu.RLock()
	processor, ok := s.dbEventProcessors[tableName]
	s.mu.RUnlock()
	if !ok {
		return
	}

	if err := processor.ProcessDBChangeEvent(changeData); err != nil {
		log.Printf("变更事件处理失败 [%s]: %v", tableName, err)
	}
}

// startConnectionJanitor 周期清理已断开的SSE连接
func (s *EventService) startConnectionJanitor() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupInactiveConnections()
		case <-s.ctx.Done():
			return
		}
	}
}

// cleanupInactiveConnections 清理不活跃的连接
func (s *EventService) cleanupInactiveConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for userName, userConnections := range s.connections {
		for connectionID, client := range userConnections {
			select {
			case <-client.Done:
				delete(userConnections, connectionID)
				log.Printf("清理已断开的连接: 用户=%s, 连接ID=%s", userName, connectionID)
			default:
				// 连接仍然活跃
			}
		}

		if len(userConnections) == 0 {
			delete(s.connections, userName)
		}
	}
}

// Stop 停止事件服务
func (s *EventService) Stop() {
	s.cancel()

	if s.dbListener != nil {
		s.dbListener.Close()
	}

	s.mu.Lock()
	for _, userConnections := range s.connections {
		for _, client := range userConnections {
			close(client.Done)
		}
	}
	s.connections = make(map[string]map[string]*SSEClient)
	s.mu.Unlock()

	log.Println("事件服务已停止")
}

// ensureTableTrigger 为指定表幂等创建变更广播触发器
func (s *EventService) ensureTableTrigger(tableName string) error {
	if err := s.createNotifyFunction(); err != nil {
		return fmt.Errorf("创建通知函数失败: %v", err)
	}

	triggerName := tableName + "_notify"
	createTriggerSQL := fmt.Sprintf(`
		CREATE OR REPLACE TRIGGER %s
		AFTER INSERT OR UPDATE OR DELETE ON %s
		FOR EACH ROW
		EXECUTE FUNCTION notify_devmonitor_changes();
	`, triggerName, tableName)

	if err := s.db.Exec(createTriggerSQL).Error; err != nil {
		return fmt.Errorf("执行创建触发器SQL失败: %v", err)
	}
	log.Printf("表 %s 的变更触发器 %s 已就绪", tableName, triggerName)
	return nil
}

// createNotifyFunction 创建数据库通知函数
func (s *EventService) createNotifyFunction() error {
	if s.functionCreated {
		return nil
	}

	createFunctionSQL := `
CREATE OR REPLACE FUNCTION notify_devmonitor_changes()
RETURNS TRIGGER AS $$
DECLARE
    record_id TEXT;
    table_name TEXT;
    event_type TEXT;
    payload JSON;
BEGIN
    table_name := TG_TABLE_NAME;
    event_type := TG_OP;

    IF TG_OP = 'DELETE' THEN
        record_id := OLD.id;
        payload := json_build_object(
            'table', table_name,
            'type', event_type,
            'record_id', record_id,
            'timestamp', extract(epoch from now())
        );
    ELSE
        record_id := NEW.id;
        payload := json_build_object(
            'table', table_name,
            'type', event_type,
            'record_id', record_id,
            'timestamp', extract(epoch from now())
        );
    END IF;

    PERFORM pg_notify('devmonitor_changes', payload::text);

    IF TG_OP = 'DELETE' THEN
        RETURN OLD;
    ELSE
        RETURN NEW;
    END IF;
END;
$$ LANGUAGE plpgsql;`

	if err := s.db.Exec(createFunctionSQL).Error; err != nil {
		return fmt.Errorf("执行创建函数SQL失败: %v", err)
	}

	log.Println("数据库通知函数 notify_devmonitor_changes() 已创建")
	s.functionCreated = true
	return nil
}

// GetSSEConnectionList 获取SSE连接列表
func (s *EventService) GetSSEConnectionList(page, pageSize int, userName, clientIP string, isActive *bool) ([]models.SSEConnection, int64, error) {
	var connections []models.SSEConnection
	var total int64

	query := s.db.Model(&models.SSEConnection{})
	if userName != "" {
		query = query.Where("user_name = ?", userName)
	}
	if clientIP != "" {
		query = query.Where("client_ip = ?", clientIP)
	}
	if isActive != nil {
		query = query.Where("is_active = ?", *isActive)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Session(&gorm.Session{}).Order("connected_at DESC").
		Offset(offset).Limit(pageSize).Find(&connections).Error

	return connections, total, err
}

// GetEventHistoryList 获取事件历史列表
func (s *EventService) GetEventHistoryList(page, pageSize int, userName, eventType string, sent, read *bool) ([]models.SSEEvent, int64, error) {
	var events []models.SSEEvent
	var total int64

	query := s.db.Model(&models.SSEEvent{})
	if userName != "" {
		query = query.Where("user_name = ?", userName)
	}
	if eventType != "" {
		query = query.Where("event_type = ?", eventType)
	}
	if sent != nil {
		query = query.Where("sent = ?", *sent)
	}
	if read != nil {
		query = query.Where("read = ?", *read)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Session(&gorm.Session{}).Order("created_at DESC").
		Offset(offset).Limit(pageSize).Find(&events).Error

	return events, total, err
}
