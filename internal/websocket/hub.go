package websocket

import (
	"context"
	"sync"

	"github.com/rl-arena/code-arena-backend/pkg/metrics"
	"go.uber.org/zap"
)

// CommandHandler 클라이언트 명령과 연결 상태 변화를 처리하는 쪽 (api/handlers.Realtime)
type CommandHandler interface {
	HandleCommand(ctx context.Context, userID string, cmd Command)
	HandleConnect(userID string)
	HandleDisconnect(userID string)
}

// Hub WebSocket 연결 관리 및 사용자별 전송
// 모든 전송이 Run goroutine 하나를 거치므로 한 사용자에게 가는 메시지 순서가 유지된다.
type Hub struct {
	// 사용자별 연결 저장 (userID -> *Client)
	clients map[string]*Client
	mu      sync.RWMutex

	// 전송 채널
	broadcast chan *Message

	// 등록/해제 채널
	register   chan *Client
	unregister chan *Client

	// 연결/해제 알림은 별도 goroutine에서 순서대로 처리한다
	presence chan presenceEvent

	handler CommandHandler
	metrics *metrics.Metrics
	logger  *zap.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// Message WebSocket 메시지
type Message struct {
	UserID  string      `json:"-"`       // 수신자
	Type    string      `json:"type"`    // 메시지 타입
	Payload interface{} `json:"payload"` // 메시지 내용
}

type presenceEvent struct {
	userID    string
	connected bool
}

// NewHub Hub 생성
func NewHub(m *metrics.Metrics, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan *Message, 1024),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		presence:   make(chan presenceEvent, 1024),
		metrics:    m,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// SetHandler sets the command handler (to avoid circular dependency)
func (h *Hub) SetHandler(handler CommandHandler) {
	h.handler = handler
}

// Run Hub 실행. ctx가 끝나면 모든 연결을 닫는다.
func (h *Hub) Run(ctx context.Context) {
	go h.presenceLoop()
	defer h.shutdown()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)

		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for id, client := range h.clients {
			close(client.send)
			delete(h.clients, id)
		}
		h.mu.Unlock()
		h.metrics.SetConnectedPlayers(0)
		h.logger.Info("WebSocket hub stopped")
	})
}

func (h *Hub) presenceLoop() {
	for {
		select {
		case ev := <-h.presence:
			if h.handler == nil {
				continue
			}
			if ev.connected {
				h.handler.HandleConnect(ev.userID)
			} else {
				h.handler.HandleDisconnect(ev.userID)
			}
		case <-h.done:
			return
		}
	}
}

func (h *Hub) notifyPresence(userID string, connected bool) {
	select {
	case h.presence <- presenceEvent{userID: userID, connected: connected}:
	default:
		h.logger.Warn("Presence queue full, dropping event",
			zap.String("userId", userID),
			zap.Bool("connected", connected))
	}
}

// registerClient 클라이언트 등록
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()

	// 기존 연결이 있으면 닫기
	replaced := false
	if oldClient, exists := h.clients[client.userID]; exists {
		close(oldClient.send)
		replaced = true
		h.logger.Info("Replaced existing WebSocket connection",
			zap.String("userId", client.userID))
	}

	h.clients[client.userID] = client
	total := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetConnectedPlayers(total)
	h.logger.Info("WebSocket client registered",
		zap.String("userId", client.userID),
		zap.Int("totalClients", total))
	if !replaced {
		h.notifyPresence(client.userID, true)
	}
}

// unregisterClient 클라이언트 해제. 이미 새 연결로 교체된 클라이언트는 무시한다.
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	current, exists := h.clients[client.userID]
	if !exists || current != client {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.userID)
	close(client.send)
	total := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetConnectedPlayers(total)
	h.logger.Info("WebSocket client unregistered",
		zap.String("userId", client.userID),
		zap.Int("totalClients", total))
	h.notifyPresence(client.userID, false)
}

// broadcastMessage 메시지 전송. 연결이 없는 사용자에게 온 메시지는 버린다.
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if client, exists := h.clients[message.UserID]; exists {
		h.deliver(client, message)
	}
}

// deliver 보낼 수 없을 만큼 밀린 연결은 끊는다. 순서가 깨진 채로 계속 보내지 않는다.
func (h *Hub) deliver(client *Client, message *Message) {
	select {
	case client.send <- message:
	default:
		h.logger.Warn("Client send channel full, unregistering",
			zap.String("userId", client.userID))
		go func(c *Client) {
			select {
			case h.unregister <- c:
			case <-h.done:
			}
		}(client)
	}
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// SendToUser 특정 사용자에게 메시지 전송
func (h *Hub) SendToUser(userID string, msgType string, payload interface{}) {
	h.enqueue(&Message{
		UserID:  userID,
		Type:    msgType,
		Payload: payload,
	})
}

// SendToUsers 여러 사용자에게 같은 메시지 전송
func (h *Hub) SendToUsers(userIDs []string, msgType string, payload interface{}) {
	for _, id := range userIDs {
		h.SendToUser(id, msgType, payload)
	}
}

// IsConnected 사용자가 열린 연결을 가지고 있는지
func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// ConnectedCount 열린 연결 수
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
