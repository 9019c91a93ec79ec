package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/autobiz/abp/backend/internal/platform/retry"
)

var errConnClosed = errors.New("worker connection closed")

// ConnectionPoolOptions 连接池配置选项
type ConnectionPoolOptions struct {
	ConnectionTimeout time.Duration // 握手超时时间
	ReadTimeout       time.Duration // 读取超时时间，收到 pong 后续期
	WriteTimeout      time.Duration // 写入超时时间
	PingInterval      time.Duration // Ping间隔
	MaxRetries        int           // 最大重试次数
}

// DefaultConnectionPoolOptions 默认连接池选项
func DefaultConnectionPoolOptions() ConnectionPoolOptions {
	return ConnectionPoolOptions{
		ConnectionTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		PingInterval:      20 * time.Second,
		MaxRetries:        2,
	}
}

// HeaderFunc supplies dial headers, typically a fresh bearer token.
type HeaderFunc func() (http.Header, error)

// ConnectionPool keeps one multiplexed WebSocket per worker endpoint.
type ConnectionPool struct {
	options ConnectionPoolOptions
	header  HeaderFunc
	logger  *zap.Logger

	mu    sync.Mutex
	conns map[string]*workerConn
}

// NewConnectionPool 创建连接池
func NewConnectionPool(options ConnectionPoolOptions, header HeaderFunc, logger *zap.Logger) *ConnectionPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionPool{
		options: options,
		header:  header,
		logger:  logger,
		conns:   make(map[string]*workerConn),
	}
}

// get returns a live connection to endpoint, dialing if needed.
func (cp *ConnectionPool) get(ctx context.Context, endpoint string) (*workerConn, error) {
	cp.mu.Lock()
	if wc, ok := cp.conns[endpoint]; ok && wc.alive() {
		cp.mu.Unlock()
		return wc, nil
	}
	cp.mu.Unlock()

	wc, err := cp.connectWithRetry(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()
	// 并发拨号时保留先建立的连接
	if existing, ok := cp.conns[endpoint]; ok && existing.alive() {
		wc.close(nil)
		return existing, nil
	}
	cp.conns[endpoint] = wc
	return wc, nil
}

// connectWithRetry 带重试的连接建立
func (cp *ConnectionPool) connectWithRetry(ctx context.Context, endpoint string) (*workerConn, error) {
	policy := retry.Policy{
		MaxRetries:  cp.options.MaxRetries,
		Initial:     250 * time.Millisecond,
		Multiplier:  2,
		MaxInterval: 2 * time.Second,
	}
	return retry.Do(ctx, policy, "dial "+endpoint, func(ctx context.Context) (*workerConn, error) {
		return cp.connect(ctx, endpoint)
	})
}

// connect 建立单次连接
func (cp *ConnectionPool) connect(ctx context.Context, endpoint string) (*workerConn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: cp.options.ConnectionTimeout}

	var header http.Header
	if cp.header != nil {
		h, err := cp.header()
		if err != nil {
			return nil, retry.Permanent(err)
		}
		header = h
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, retry.Permanent(fmt.Errorf("websocket dial %s rejected: status %d", endpoint, resp.StatusCode))
		}
		return nil, fmt.Errorf("websocket dial %s failed: %w", endpoint, err)
	}

	wc := &workerConn{
		endpoint: endpoint,
		conn:     conn,
		options:  cp.options,
		pending:  make(map[string]chan Response),
		done:     make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(cp.options.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(cp.options.ReadTimeout))
	})

	go wc.readLoop(cp.logger)
	go wc.pingLoop()

	cp.logger.Info("connected to worker", zap.String("endpoint", endpoint))
	return wc, nil
}

// Remove drops and closes the connection for endpoint.
func (cp *ConnectionPool) Remove(endpoint string) {
	cp.mu.Lock()
	wc, ok := cp.conns[endpoint]
	delete(cp.conns, endpoint)
	cp.mu.Unlock()
	if ok {
		wc.close(nil)
	}
}

// CloseAll 关闭所有连接
func (cp *ConnectionPool) CloseAll() {
	cp.mu.Lock()
	conns := cp.conns
	cp.conns = make(map[string]*workerConn)
	cp.mu.Unlock()

	for _, wc := range conns {
		wc.close(nil)
	}
}

// workerConn multiplexes requests over one socket, matching responses by id.
type workerConn struct {
	endpoint string
	conn     *websocket.Conn
	options  ConnectionPoolOptions

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Response
	done    chan struct{}
	once    sync.Once
	err     error
}

func (wc *workerConn) alive() bool {
	select {
	case <-wc.done:
		return false
	default:
		return true
	}
}

func (wc *workerConn) write(v any) error {
	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()
	wc.conn.SetWriteDeadline(time.Now().Add(wc.options.WriteTimeout))
	return wc.conn.WriteJSON(v)
}

// call sends req and waits for its response.
func (wc *workerConn) call(ctx context.Context, req Request) (Response, error) {
	ch := make(chan Response, 1)

	wc.mu.Lock()
	if !wc.alive() {
		err := wc.err
		wc.mu.Unlock()
		return Response{}, connErr(err)
	}
	wc.pending[req.ID] = ch
	wc.mu.Unlock()

	defer func() {
		wc.mu.Lock()
		delete(wc.pending, req.ID)
		wc.mu.Unlock()
	}()

	if err := wc.write(req); err != nil {
		wc.close(err)
		return Response{}, fmt.Errorf("send request: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-wc.done:
		return Response{}, connErr(wc.err)
	case <-ctx.Done():
		// 尽力通知 worker 取消
		_ = wc.write(Request{Type: MessageCancel, ID: req.ID})
		return Response{}, ctx.Err()
	}
}

func connErr(err error) error {
	if err == nil {
		return errConnClosed
	}
	return fmt.Errorf("%w: %v", errConnClosed, err)
}

// readLoop dispatches responses until the socket fails.
func (wc *workerConn) readLoop(logger *zap.Logger) {
	for {
		var resp Response
		if err := wc.conn.ReadJSON(&resp); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("worker connection lost", zap.String("endpoint", wc.endpoint), zap.Error(err))
			}
			wc.close(err)
			return
		}
		wc.conn.SetReadDeadline(time.Now().Add(wc.options.ReadTimeout))

		wc.mu.Lock()
		ch, ok := wc.pending[resp.ID]
		wc.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// pingLoop 定期发送ping消息
func (wc *workerConn) pingLoop() {
	ticker := time.NewTicker(wc.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wc.done:
			return
		case <-ticker.C:
			wc.writeMu.Lock()
			err := wc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wc.options.WriteTimeout))
			wc.writeMu.Unlock()
			if err != nil {
				wc.close(err)
				return
			}
		}
	}
}

func (wc *workerConn) close(err error) {
	wc.once.Do(func() {
		wc.mu.Lock()
		wc.err = err
		close(wc.done)
		wc.mu.Unlock()

		_ = wc.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		wc.conn.Close()
	})
}
