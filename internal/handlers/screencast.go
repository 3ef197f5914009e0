package handlers

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// HandleScreencast upgrades to WebSocket and streams JPEG frames of a
// tab. Query params: quality (1-100, default 40), maxWidth (default
// 800), fps (1-30, default 5), everyNthFrame (default 1).
//
// @Endpoint GET /api/tabs/screencast/{tabId}
func (h *Handlers) HandleScreencast(w http.ResponseWriter, r *http.Request) {
	tabID := r.PathValue("tabId")
	tabCtx, err := h.Registry.TabContext(tabID)
	if err != nil {
		respondErr(w, err)
		return
	}

	quality := queryParamInt(r, "quality", 40)
	maxWidth := queryParamInt(r, "maxWidth", 800)
	everyNth := queryParamInt(r, "everyNthFrame", 1)
	fps := queryParamInt(r, "fps", 5)
	if fps > 30 {
		fps = 30
	}
	minFrameInterval := time.Second / time.Duration(fps)

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	frameCh := make(chan []byte, 3)
	var once sync.Once
	done := make(chan struct{})

	// The listener drops off when the handler returns, not when the tab
	// closes.
	lcCtx, lcCancel := context.WithCancel(tabCtx)
	defer lcCancel()

	var lastFrame time.Time
	chromedp.ListenTarget(lcCtx, func(ev interface{}) {
		e, ok := ev.(*page.EventScreencastFrame)
		if !ok {
			return
		}
		go func() {
			_ = chromedp.Run(tabCtx,
				chromedp.ActionFunc(func(c context.Context) error {
					return page.ScreencastFrameAck(e.SessionID).Do(c)
				}),
			)
		}()

		now := time.Now()
		if now.Sub(lastFrame) < minFrameInterval {
			return
		}
		lastFrame = now

		data, err := base64.StdEncoding.DecodeString(e.Data)
		if err != nil {
			return
		}

		select {
		case frameCh <- data:
		default:
		}
	})

	err = chromedp.Run(tabCtx,
		chromedp.ActionFunc(func(c context.Context) error {
			return page.StartScreencast().
				WithFormat(page.ScreencastFormatJpeg).
				WithQuality(int64(quality)).
				WithMaxWidth(int64(maxWidth)).
				WithMaxHeight(int64(maxWidth * 3 / 4)).
				WithEveryNthFrame(int64(everyNth)).
				Do(c)
		}),
	)
	if err != nil {
		slog.Error("start screencast failed", "err", err, "tabId", tabID)
		return
	}

	defer func() {
		once.Do(func() { close(done) })
		_ = chromedp.Run(tabCtx,
			chromedp.ActionFunc(func(c context.Context) error {
				return page.StopScreencast().Do(c)
			}),
		)
	}()

	slog.Info("screencast started", "tabId", tabID, "quality", quality, "maxWidth", maxWidth, "fps", fps)

	go func() {
		for {
			_, _, err := wsutil.ReadClientData(conn)
			if err != nil {
				once.Do(func() { close(done) })
				return
			}
		}
	}()

	for {
		select {
		case frame := <-frameCh:
			if err := wsutil.WriteServerBinary(conn, frame); err != nil {
				return
			}
		case <-tabCtx.Done():
			return
		case <-done:
			return
		case <-time.After(10 * time.Second):
			if err := wsutil.WriteServerMessage(conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}

func queryParamInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n <= 0 {
		return def
	}
	return n
}
