package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/avdeyev/holst/internal/auth"
	"github.com/avdeyev/holst/internal/models"
	"github.com/avdeyev/holst/internal/room"
	"github.com/avdeyev/holst/internal/validation"
	"github.com/avdeyev/holst/pkg/api"
)

// Config параметры менеджера сессий.
type Config struct {
	HandshakeTimeout time.Duration // ожидание hello после установки соединения
	HeartbeatTimeout time.Duration // без pong дольше - соединение мертво
	WriteTimeout     time.Duration // дедлайн записи одного кадра
	MaxMessageSize   int64         // потолок входящего кадра
}

// DefaultConfig возвращает параметры по умолчанию.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		HeartbeatTimeout: 60 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxMessageSize:   1 << 20,
	}
}

// pingPeriod возвращает период пингов: заметно чаще таймаута,
// чтобы живое соединение никогда его не выбирало.
func (c Config) pingPeriod() time.Duration {
	return c.HeartbeatTimeout * 9 / 10
}

// Manager аутентифицирует подключения и привязывает их к комнатам.
type Manager struct {
	registry   *room.Registry
	authorizer auth.Authorizer
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	cfg        Config

	sessions map[string]*Session
	mu       sync.Mutex
}

// NewManager создает менеджер сессий.
func NewManager(registry *room.Registry, authorizer auth.Authorizer, cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		registry:   registry,
		authorizer: authorizer,
		logger:     logger,
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin проверяет внешний периметр; движок принимает
			// подключения от любого фронта редактора.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
	}
}

// Sessions возвращает число живых сессий.
func (m *Manager) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ServeWS обрабатывает GET /ws/{documentID}: апгрейд до WebSocket и
// запуск жизненного цикла сессии в собственной горутине пары pump'ов.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["documentID"]

	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed",
			"remote_addr", r.RemoteAddr, "error", err)
		return
	}

	// После Upgrade соединение перехвачено у net/http, и контекст
	// запроса отменяется при возврате хендлера; жизненный цикл сессии
	// живет дольше запроса.
	go m.handle(context.WithoutCancel(r.Context()), ws, documentID)
}

// handle ведет сессию через весь жизненный цикл:
// connecting -> authenticating -> joined -> active -> disconnecting -> closed.
func (m *Manager) handle(ctx context.Context, ws *websocket.Conn, documentID string) {
	sess := newSession(uuid.New().String())

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	defer func() {
		sess.setState(StateClosed)
		m.mu.Lock()
		delete(m.sessions, sess.ID)
		m.mu.Unlock()
		_ = ws.Close()
	}()

	c := &conn{
		ws:     ws,
		sess:   sess,
		cfg:    m.cfg,
		logger: m.logger,
		sendC:  make(chan *api.Frame, 64),
	}

	// Рукопожатие: первый кадр - hello, в пределах HandshakeTimeout.
	sess.setState(StateAuthenticating)
	hello, err := c.readHello()
	if err != nil {
		m.logger.Warn("handshake failed", "session_id", sess.ID, "error", err)
		c.reject(api.RejectUnauthenticated, "hello expected")
		return
	}

	if err := validation.ValidateDocumentID(documentID); err != nil {
		c.reject(api.RejectDocumentNotFound, err.Error())
		return
	}

	identity, err := m.authorizer.Authorize(ctx, hello.Token, documentID)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrForbidden):
			c.reject(api.RejectUnauthorized, "access to document denied")
		default:
			c.reject(api.RejectUnauthenticated, "invalid credential")
		}
		m.logger.Warn("session rejected",
			"session_id", sess.ID, "document_id", documentID, "error", err)
		return
	}
	sess.Identity = *identity

	// Привязка к комнате.
	rm, err := m.registry.Acquire(ctx, documentID)
	if err != nil {
		m.logger.Error("failed to acquire room",
			"session_id", sess.ID, "document_id", documentID, "error", err)
		c.reject(api.RejectDocumentNotFound, "document unavailable")
		return
	}
	defer m.registry.Release(documentID)

	member, err := rm.Join(sess.ID)
	if err != nil {
		c.reject(api.RejectDocumentNotFound, "room is closing")
		return
	}
	defer rm.Leave(sess.ID)

	sess.RoomID = documentID
	sess.setState(StateJoined)
	c.room = rm
	c.member = member
	c.registry = m.registry

	// Начальная синхронизация: полное состояние либо дельта после
	// предъявленного клиентом watermark.
	if err := c.acceptSync(ctx, hello.LastSeq); err != nil {
		m.logger.Error("initial sync failed",
			"session_id", sess.ID, "document_id", documentID, "error", err)
		return
	}

	sess.setState(StateActive)
	m.logger.Info("session joined",
		"session_id", sess.ID,
		"document_id", documentID,
		"user_id", identity.UserID,
		"delta_from", hello.LastSeq,
	)

	// Пара pump'ов: writePump уходит в горутину, readPump блокирует
	// текущую до разрыва соединения.
	done := make(chan struct{})
	go c.writePump(done)
	c.readPump(ctx)

	sess.setState(StateDisconnecting)
	close(done)

	m.logger.Info("session closed",
		"session_id", sess.ID,
		"document_id", documentID,
		"acked_seq", sess.AckedSeq(),
	)
}

// acceptSync отправляет accept с полным состоянием или дельтой.
// Дельта валидна, только когда журнал непрерывно покрывает интервал
// (lastSeq, watermark] - усеченный компакцией промежуток превращает
// переподключение в полную синхронизацию.
func (c *conn) acceptSync(ctx context.Context, lastSeq int64) error {
	accept := &api.Accept{
		SessionID: c.sess.ID,
		Watermark: c.room.Watermark(),
		Presence:  rosterToAPI(c.room.Presence().Roster()),
	}

	if records, ok := c.deltaSince(ctx, lastSeq, accept.Watermark); ok {
		accept.Records = recordsToAPI(records)
	} else {
		accept.Document = NodeToAPI(c.room.Document().Tree())
	}

	frame, err := api.NewFrame(api.MsgAccept, accept)
	if err != nil {
		return err
	}
	return c.write(frame)
}

func (c *conn) deltaSince(ctx context.Context, lastSeq, watermark int64) ([]*models.OpRecord, bool) {
	if lastSeq <= 0 || lastSeq > watermark {
		return nil, false
	}
	if lastSeq == watermark {
		return nil, true
	}

	records, err := c.room.RecordsSince(ctx, lastSeq)
	if err != nil {
		c.logger.Warn("delta read failed, falling back to full sync",
			"session_id", c.sess.ID, "error", err)
		return nil, false
	}
	if len(records) == 0 || records[0].Seq != lastSeq+1 || records[len(records)-1].Seq != watermark {
		return nil, false
	}
	return records, true
}
