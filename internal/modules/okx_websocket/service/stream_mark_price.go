package service

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	channelMarkPrice = "mark-price"
	// OKX rejects very large subscribe frames; stay well under its limit.
	subscribeChunk = 100
)

// Run keeps a mark-price subscription open until ctx is done. A dropped
// connection is redialled with exponential backoff; the backoff resets after
// a connection that lived longer than a minute.
func (c *Client) Run(ctx context.Context) {
	b := c.newBackoff()
	for {
		started := time.Now()
		err := c.session(ctx)
		c.state.SetWSConnected(false)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > time.Minute {
			b.Reset()
		}
		wait := b.NextBackOff()
		c.log.Warn("mark-price stream dropped", zap.Error(err), zap.Duration("retry_in", wait))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// session runs one connection: subscribe, then read until the connection
// breaks. Pings and resubscriptions happen in a second goroutine, the only
// writer after the initial subscribe.
func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessCtx.Done()
		_ = conn.Close()
	}()

	subscribed := make(map[string]bool)
	if err := c.resync(conn, subscribed); err != nil {
		return err
	}
	c.state.SetWSConnected(true)
	c.log.Info("mark-price stream connected", zap.Int("symbols", len(subscribed)))

	go c.keepalive(sessCtx, cancel, conn, subscribed)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(2*c.cfg.PingEvery + 5*time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read")
		}
		c.handle(msg)
	}
}

func (c *Client) keepalive(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, subscribed map[string]bool) {
	ping := time.NewTicker(c.cfg.PingEvery)
	defer ping.Stop()
	resync := time.NewTicker(c.cfg.ResyncEvery)
	defer resync.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			err = conn.WriteMessage(websocket.TextMessage, []byte("ping"))
		case <-resync.C:
			err = c.resync(conn, subscribed)
		}
		if err != nil {
			c.log.Warn("mark-price write failed", zap.Error(err))
			cancel()
			return
		}
	}
}

type wsArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type wsRequest struct {
	Op   string  `json:"op"`
	Args []wsArg `json:"args"`
}

// resync subscribes new symbols and unsubscribes the ones no longer wanted.
func (c *Client) resync(conn *websocket.Conn, subscribed map[string]bool) error {
	want := make(map[string]bool)
	for _, s := range c.symbols() {
		want[s] = true
	}

	var add, drop []string
	for s := range want {
		if !subscribed[s] {
			add = append(add, s)
		}
	}
	for s := range subscribed {
		if !want[s] {
			drop = append(drop, s)
		}
	}
	sort.Strings(add)
	sort.Strings(drop)

	if err := c.send(conn, "subscribe", add); err != nil {
		return err
	}
	if err := c.send(conn, "unsubscribe", drop); err != nil {
		return err
	}
	for _, s := range add {
		subscribed[s] = true
	}
	for _, s := range drop {
		delete(subscribed, s)
	}
	if len(add)+len(drop) > 0 {
		c.log.Debug("mark-price subscriptions changed", zap.Strings("add", add), zap.Strings("drop", drop))
	}
	return nil
}

func (c *Client) send(conn *websocket.Conn, op string, symbols []string) error {
	for start := 0; start < len(symbols); start += subscribeChunk {
		end := min(start+subscribeChunk, len(symbols))
		req := wsRequest{Op: op, Args: make([]wsArg, 0, end-start)}
		for _, s := range symbols[start:end] {
			req.Args = append(req.Args, wsArg{Channel: channelMarkPrice, InstID: s})
		}
		b, err := sonic.Marshal(req)
		if err != nil {
			return errors.Wrap(err, op)
		}
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return errors.Wrap(err, op)
		}
	}
	return nil
}

type markPriceFrame struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   wsArg  `json:"arg"`
	Data  []struct {
		InstID string `json:"instId"`
		MarkPx string `json:"markPx"`
		Ts     string `json:"ts"`
	} `json:"data"`
}

type markTick struct {
	symbol string
	px     decimal.Decimal
	at     time.Time
}

// parseFrame extracts mark prices from one frame; event frames yield none.
func parseFrame(msg []byte) ([]markTick, *markPriceFrame, error) {
	if string(msg) == "pong" {
		return nil, nil, nil
	}
	var f markPriceFrame
	if err := sonic.Unmarshal(msg, &f); err != nil {
		return nil, nil, err
	}
	if f.Event != "" || f.Arg.Channel != channelMarkPrice {
		return nil, &f, nil
	}

	out := make([]markTick, 0, len(f.Data))
	for _, d := range f.Data {
		px, err := decimal.NewFromString(d.MarkPx)
		if err != nil || !px.IsPositive() {
			continue
		}
		at := time.Now()
		if ms, err := strconv.ParseInt(d.Ts, 10, 64); err == nil && ms > 0 {
			at = time.UnixMilli(ms)
		}
		out = append(out, markTick{symbol: d.InstID, px: px, at: at})
	}
	return out, &f, nil
}

func (c *Client) handle(msg []byte) {
	ticks, f, err := parseFrame(msg)
	if err != nil {
		c.log.Debug("unparsable frame", zap.Error(err))
		return
	}
	if f != nil && f.Event == "error" {
		c.log.Warn("okx ws error", zap.String("code", f.Code), zap.String("msg", f.Msg))
		return
	}
	for _, t := range ticks {
		c.sink.Set(t.symbol, t.px, t.at)
	}
}
