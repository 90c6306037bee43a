package receiver

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"go.uber.org/zap"

	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/config"
	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/model"
	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/store"
)

const (
	connectTimeout   = 10 * time.Second
	subscribeTimeout = 5 * time.Second
	defaultClientID  = "weewx-mqtt"

	// Well-known payload fields identifying the sender.
	fieldModel = "model"
	fieldID    = "id"
)

var ErrBadCredentials = errors.New("broker rejected credentials")

// Stats is a point-in-time snapshot of the receiver's message counters.
type Stats struct {
	Received          uint64
	DroppedMalformed  uint64
	DroppedIncomplete uint64
}

// Receiver holds one subscription to the configured topic and writes each
// parsed message into the latest-value store. It is the store's only writer.
// Message-level failures are counted and dropped, never propagated; only
// connection-level failures reach the Fatal channel.
type Receiver struct {
	cfg    config.BrokerConfig
	store  *store.Store
	client paho.Client
	logger *zap.Logger
	fatal  chan error
	now    func() time.Time
	policy func(ctx context.Context) backoff.BackOff

	received          atomic.Uint64
	droppedMalformed  atomic.Uint64
	droppedIncomplete atomic.Uint64
}

func New(cfg config.BrokerConfig, st *store.Store) (*Receiver, error) {
	r := &Receiver{
		cfg:    cfg,
		store:  st,
		logger: zap.L(),
		fatal:  make(chan error, 1),
		now:    time.Now,
		policy: func(ctx context.Context) backoff.BackOff {
			return backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
		},
	}

	opts := paho.NewClientOptions()
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
		tlsCfg, err := tlsConfig(cfg.CACert)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = defaultClientID
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetOrderMatters(false)

	// Runs on every (re)connect, so a dropped connection resubscribes
	// transparently. While disconnected the store simply goes stale.
	opts.SetOnConnectHandler(r.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		r.logger.Warn("broker connection lost", zap.Error(err))
	})

	r.client = paho.NewClient(opts)
	return r, nil
}

// Connect dials the broker, retrying with exponential backoff until ctx is
// cancelled or the policy is exhausted. Rejected credentials are not retried.
// After Connect returns, reconnects are handled by the client itself.
func (r *Receiver) Connect(ctx context.Context) error {
	attempt := func() error {
		token := r.client.Connect()
		if !token.WaitTimeout(connectTimeout) {
			return fmt.Errorf("connect to %s: timed out", r.cfg.Host)
		}
		if err := token.Error(); err != nil {
			if errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) ||
				errors.Is(err, packets.ErrorRefusedNotAuthorised) {
				return backoff.Permanent(fmt.Errorf("%w: %v", ErrBadCredentials, err))
			}
			return err
		}
		return nil
	}

	if err := backoff.Retry(attempt, r.policy(ctx)); err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	return nil
}

// onConnect resubscribes after every successful (re)connect. A subscribe
// failure on a live connection means a bad topic filter or a broker-side
// restriction, which the host cannot recover from.
func (r *Receiver) onConnect(c paho.Client) {
	r.logger.Info("connected to broker", zap.String("host", r.cfg.Host))
	if err := r.subscribe(c); err != nil {
		r.sendFatal(err)
	}
}

func (r *Receiver) subscribe(c paho.Client) error {
	token := c.Subscribe(r.cfg.Topic, r.cfg.QoS, r.handleMessage)
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("subscribe to %s: timed out", r.cfg.Topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", r.cfg.Topic, err)
	}
	r.logger.Info("subscribed", zap.String("topic", r.cfg.Topic), zap.Uint8("qos", r.cfg.QoS))
	return nil
}

// handleMessage runs on the paho delivery goroutine. It never returns an
// error upward: anything unusable is counted and dropped so a bad publisher
// cannot disturb the subscription or the poll loop.
func (r *Receiver) handleMessage(_ paho.Client, msg paho.Message) {
	r.received.Add(1)

	var fields map[string]any
	if err := json.Unmarshal(msg.Payload(), &fields); err != nil {
		r.droppedMalformed.Add(1)
		r.logger.Debug("dropping malformed payload",
			zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}

	mdl := stringField(fields, fieldModel)
	id := stringField(fields, fieldID)
	if mdl == "" || id == "" {
		r.droppedIncomplete.Add(1)
		r.logger.Debug("dropping payload without model/id",
			zap.String("topic", msg.Topic()))
		return
	}

	key := model.DeviceKey{Model: mdl, ID: id}
	r.store.Put(key, model.RawObservation{
		Fields:     fields,
		ReceivedAt: r.now(),
	})
	r.logger.Debug("stored reading", zap.String("device", key.String()),
		zap.Int("fields", len(fields)))
}

// Disconnect unsubscribes and releases the connection. Safe to call when
// never connected.
func (r *Receiver) Disconnect() {
	if r.client.IsConnected() {
		r.client.Unsubscribe(r.cfg.Topic).WaitTimeout(2 * time.Second)
	}
	r.client.Disconnect(250)
	r.logger.Info("receiver disconnected")
}

// Fatal delivers unrecoverable subscription failures. The host has no
// recovery path for these, so the run loop should stop on receipt.
func (r *Receiver) Fatal() <-chan error {
	return r.fatal
}

func (r *Receiver) Stats() Stats {
	return Stats{
		Received:          r.received.Load(),
		DroppedMalformed:  r.droppedMalformed.Load(),
		DroppedIncomplete: r.droppedIncomplete.Load(),
	}
}

func (r *Receiver) sendFatal(err error) {
	select {
	case r.fatal <- err:
	default:
	}
}

// stringField reads a payload field that may arrive as a string or a number;
// rtl_433-style publishers emit numeric ids.
func stringField(fields map[string]any, name string) string {
	switch v := fields[name].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func tlsConfig(caCert string) (*tls.Config, error) {
	if caCert == "" {
		return &tls.Config{}, nil
	}
	pem, err := os.ReadFile(caCert)
	if err != nil {
		return nil, fmt.Errorf("reading ca cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caCert)
	}
	return &tls.Config{RootCAs: pool}, nil
}
