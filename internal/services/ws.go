package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Riboost-Studio/printer-bridge/internal/model"
	"github.com/Riboost-Studio/printer-bridge/internal/state"
	"github.com/Riboost-Studio/printer-bridge/internal/utils"
)

const (
	pusherProtocol         = "7"
	defaultActivityTimeout = 120 * time.Second
	pongWait               = 30 * time.Second
	writeWait              = 10 * time.Second
)

// ChannelAuthorizer signs private channel subscriptions through the
// broadcasting auth endpoint.
type ChannelAuthorizer interface {
	AuthorizeChannel(ctx context.Context, endpoint, socketID, channel string) (string, error)
}

// --- Push listener ---

// PushListener keeps a Pusher-protocol (Laravel Reverb) connection to the
// instance's private job channel and turns its events into PushSignals.
type PushListener struct {
	config  *state.ConfigStore
	auth    ChannelAuthorizer
	dialer  *websocket.Dialer
	logger  *slog.Logger
	version string
}

func NewPushListener(config *state.ConfigStore, auth ChannelAuthorizer, logger *slog.Logger, version string) *PushListener {
	return &PushListener{
		config:  config,
		auth:    auth,
		dialer:  &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger:  logger.With("component", "push-listener"),
		version: version,
	}
}

// ChannelName is the private channel jobs for instance are broadcast on.
func ChannelName(instance string) string {
	return "private-print_job." + instance
}

// PushURL builds the websocket endpoint for the configured app.
func PushURL(cfg model.PushConfig, version string) string {
	scheme := "ws"
	if cfg.UseTLS {
		scheme = "wss"
	}
	q := url.Values{}
	q.Set("protocol", pusherProtocol)
	q.Set("client", "printer-bridge")
	q.Set("version", version)
	q.Set("flash", "false")
	u := url.URL{
		Scheme:   scheme,
		Host:     cfg.Host,
		Path:     "/app/" + cfg.AppKey,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// SignChannel computes the Pusher private channel signature.
func SignChannel(appKey, appSecret, socketID, channel string) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write([]byte(socketID + ":" + channel))
	return appKey + ":" + hex.EncodeToString(mac.Sum(nil))
}

// Run connects, listens and reconnects after a fixed delay until ctx is
// cancelled.
func (l *PushListener) Run(ctx context.Context, out chan<- model.PushSignal) {
	for ctx.Err() == nil {
		err := l.session(ctx, out)
		if ctx.Err() != nil {
			return
		}
		delay := l.config.Get().ReconnectDelay()
		l.logger.Warn("push connection lost, reconnecting", "error", err, "delay", delay)
		if !utils.Sleep(ctx, delay) {
			return
		}
	}
}

type pushConn struct {
	conn     *websocket.Conn
	mu       sync.Mutex
	lastRecv atomic.Int64
	pinging  atomic.Bool
}

// claimPinger reports whether the caller should start the pinger. Only the
// first call on a connection returns true.
func (c *pushConn) claimPinger() bool {
	return c.pinging.CompareAndSwap(false, true)
}

func (c *pushConn) send(event model.MessageType, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(model.WSMessage{Event: event, Data: raw})
}

func (l *PushListener) session(ctx context.Context, out chan<- model.PushSignal) error {
	cfg := l.config.Get()
	channel := ChannelName(cfg.InstanceName)
	endpoint := PushURL(cfg.Push, l.version)

	l.logger.Info("connecting to push channel", "host", cfg.Push.Host, "channel", channel)
	conn, _, err := l.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.Push.Host, err)
	}
	defer conn.Close()
	// Unblocks the read below when shutdown begins.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	pc := &pushConn{conn: conn}
	pc.lastRecv.Store(time.Now().UnixNano())
	activity := defaultActivityTimeout
	pingerDone := make(chan struct{})
	defer close(pingerDone)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(activity + pongWait))
		var msg model.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		pc.lastRecv.Store(time.Now().UnixNano())

		switch {
		case msg.Event == model.MessageTypeConnectionEstablished:
			var est model.ConnectionEstablished
			if err := msg.Decode(&est); err != nil {
				return err
			}
			if est.ActivityTimeout > 0 {
				activity = time.Duration(est.ActivityTimeout) * time.Second
			}
			if pc.claimPinger() {
				go l.pinger(pc, activity, pingerDone)
			}

			auth, err := l.authorize(ctx, cfg, est.SocketID, channel)
			if err != nil {
				return fmt.Errorf("authorize %s: %w", channel, err)
			}
			if err := pc.send(model.MessageTypeSubscribe, model.SubscribeData{Channel: channel, Auth: auth}); err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
			l.logger.Debug("connection established", "socket_id", est.SocketID, "activity_timeout", activity)

		case msg.Event == model.MessageTypeSubscribed:
			l.logger.Info("subscribed to push channel, running catch-up", "channel", msg.Channel)
			if !emit(ctx, out, model.PushSignal{CatchUp: true}) {
				return nil
			}

		case msg.Event == model.MessageTypePing:
			if err := pc.send(model.MessageTypePong, struct{}{}); err != nil {
				return fmt.Errorf("pong: %w", err)
			}

		case msg.Event == model.MessageTypePong:

		case msg.Event == model.MessageTypeError:
			var perr model.PushError
			if err := msg.Decode(&perr); err != nil {
				l.logger.Warn("push error frame", "data", string(msg.Data))
				continue
			}
			l.logger.Warn("push error", "code", perr.Code, "message", perr.Message)
			if perr.Code >= 4000 && perr.Code < 4100 {
				return fmt.Errorf("push server refused connection: %d %s", perr.Code, perr.Message)
			}

		case msg.IsJobCreated():
			var ev model.JobCreatedEvent
			if err := msg.Decode(&ev); err != nil {
				l.logger.Warn("skipping undecodable job event", "error", err)
				continue
			}
			if ev.Model.ID == 0 {
				l.logger.Warn("skipping job event without id", "data", string(msg.Data))
				continue
			}
			l.logger.Info("job created event", "job_id", ev.Model.ID)
			if !emit(ctx, out, model.PushSignal{JobID: ev.Model.ID}) {
				return nil
			}

		default:
			l.logger.Debug("ignoring push event", "event", msg.Event, "channel", msg.Channel)
		}
	}
}

// pinger sends pusher:ping when the server has been quiet for a full
// activity period.
func (l *PushListener) pinger(pc *pushConn, activity time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(activity)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			last := time.Unix(0, pc.lastRecv.Load())
			if time.Since(last) < activity {
				continue
			}
			if err := pc.send(model.MessageTypePing, struct{}{}); err != nil {
				l.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

func (l *PushListener) authorize(ctx context.Context, cfg model.Config, socketID, channel string) (string, error) {
	if socketID == "" {
		return "", errors.New("connection established without socket id")
	}
	if cfg.Push.AppSecret != "" {
		return SignChannel(cfg.Push.AppKey, cfg.Push.AppSecret, socketID, channel), nil
	}
	if l.auth == nil || cfg.Push.AuthEndpoint == "" {
		return "", errors.New("no app secret or auth endpoint configured")
	}
	return l.auth.AuthorizeChannel(ctx, cfg.Push.AuthEndpoint, socketID, channel)
}

func emit(ctx context.Context, out chan<- model.PushSignal, sig model.PushSignal) bool {
	select {
	case out <- sig:
		return true
	case <-ctx.Done():
		return false
	}
}

// --- Dispatcher ---

// Dispatcher consumes push signals and runs each in its own goroutine: a
// catch-up polls all pending jobs, a job signal fetches and processes that
// one job.
type Dispatcher struct {
	api      JobsAPI
	poller   *Poller
	tracker  *Tracker
	registry *state.Registry
	config   *state.ConfigStore
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(api JobsAPI, poller *Poller, tracker *Tracker, registry *state.Registry, config *state.ConfigStore, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		api:      api,
		poller:   poller,
		tracker:  tracker,
		registry: registry,
		config:   config,
		logger:   logger.With("component", "push-dispatch"),
	}
}

// Run dispatches signals until ctx is done or in is closed, then waits for
// the dispatched work to finish.
func (d *Dispatcher) Run(ctx context.Context, in <-chan model.PushSignal) {
	defer d.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-in:
			if !ok {
				return
			}
			d.dispatch(ctx, sig)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, sig model.PushSignal) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		err := utils.Safe(func() {
			if sig.CatchUp {
				d.poller.RunOnce(ctx)
				return
			}
			d.handleJob(ctx, sig.JobID)
		})
		if err != nil {
			d.logger.Error("dispatched work panicked", "job_id", sig.JobID, "error", err)
		}
	}()
}

func (d *Dispatcher) handleJob(ctx context.Context, id int64) {
	log := d.logger.With("job_id", id)
	if d.registry.Contains(id) {
		log.Debug("job already in flight")
		return
	}
	job, err := d.api.FetchJob(ctx, id)
	if err != nil {
		log.Error("failed to fetch job", "error", err)
		return
	}
	if !belongsTo(job, d.config.Get().InstanceName) {
		log.Debug("job does not need printing here")
		return
	}
	if job.Tracked() {
		if d.tracker.Adopt(job) {
			log.Info("adopted in-flight job", "handle", job.CupsJobID)
		}
		return
	}
	if err := d.tracker.Process(ctx, job); err != nil {
		log.Error("failed to process job", "error", err)
	}
}
