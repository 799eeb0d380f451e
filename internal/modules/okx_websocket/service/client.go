package service

import (
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultURL = "wss://ws.okx.com:8443/ws/v5/public"

// PriceSink receives every mark price pushed by the stream.
type PriceSink interface {
	Set(symbol string, px decimal.Decimal, at time.Time)
}

// ConnState is told whether the stream is connected.
type ConnState interface {
	SetWSConnected(v bool)
}

// SymbolSource lists the instruments that should be subscribed right now.
type SymbolSource func() []string

type Config struct {
	URL string
	// PingEvery keeps OKX from dropping an idle connection (it closes after 30s).
	PingEvery time.Duration
	// ResyncEvery is how often the subscription set follows SymbolSource.
	ResyncEvery time.Duration
}

type Client struct {
	cfg     Config
	dialer  *websocket.Dialer
	symbols SymbolSource
	sink    PriceSink
	state   ConnState
	log     *zap.Logger

	newBackoff func() backoff.BackOff
}

func NewClient(cfg Config, symbols SymbolSource, sink PriceSink, state ConnState, log *zap.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.PingEvery <= 0 {
		cfg.PingEvery = 20 * time.Second
	}
	if cfg.ResyncEvery <= 0 {
		cfg.ResyncEvery = 10 * time.Second
	}
	return &Client{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		symbols: symbols,
		sink:    sink,
		state:   state,
		log:     log.Named("okx_ws"),
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
}
