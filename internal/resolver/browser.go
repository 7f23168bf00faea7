package resolver

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

var m3u8Re = regexp.MustCompile(`.*\.m3u8.*`)

const browserWait = 15 * time.Second

// stripchatPlayerState reads the embedded player's last known stream config
// without waiting for network traffic. Cheaper than interception, so it runs
// first for stripchat rooms.
func (r *Resolver) stripchatPlayerState(ctx context.Context, roomURL string) (string, error) {
	bctx, cancel := r.newBrowser(ctx)
	defer cancel()

	const playerStateJS = `(() => {
		try {
			const cfg = window.__PLAYER__ && window.__PLAYER__._lastKnownStreamConfig;
			if (cfg && cfg.hlsStreamUrl) return cfg.hlsStreamUrl;
			for (const k of Object.keys(window)) {
				const v = window[k];
				if (v && v._lastKnownStreamConfig && v._lastKnownStreamConfig.hlsStreamUrl) {
					return v._lastKnownStreamConfig.hlsStreamUrl;
				}
			}
		} catch (e) {}
		return "";
	})()`

	var url string
	err := chromedp.Run(bctx,
		chromedp.Navigate(roomURL),
		chromedp.Sleep(3*time.Second),
		chromedp.Evaluate(playerStateJS, &url),
	)
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", fmt.Errorf("player state had no hls url")
	}
	return url, nil
}

// browserIntercept navigates to the room and waits for any response whose
// URL looks like an HLS playlist, preferring chunklist/index variants.
func (r *Resolver) browserIntercept(ctx context.Context, roomURL string) (string, error) {
	bctx, cancel := r.newBrowser(ctx)
	defer cancel()

	matches := make(chan string, 16)
	chromedp.ListenTarget(bctx, func(ev any) {
		if resp, ok := ev.(*network.EventResponseReceived); ok {
			if m3u8Re.MatchString(resp.Response.URL) {
				select {
				case matches <- resp.Response.URL:
				default:
				}
			}
		}
	})

	if err := chromedp.Run(bctx, network.Enable(), chromedp.Navigate(roomURL)); err != nil {
		return "", err
	}

	deadline := time.NewTimer(browserWait)
	defer deadline.Stop()

	var first string
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case url := <-matches:
			if strings.Contains(url, "chunklist") || strings.Contains(url, "index") {
				return url, nil
			}
			if first == "" {
				first = url
			}
		case <-deadline.C:
			if first != "" {
				return first, nil
			}
			return "", fmt.Errorf("no m3u8 response within %s", browserWait)
		}
	}
}

func (r *Resolver) newBrowser(ctx context.Context) (context.Context, context.CancelFunc) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.UserAgent(resolverUA),
	)
	if addr := r.pool.Random(ctx); addr != "" {
		opts = append(opts, chromedp.ProxyServer("http://"+addr))
	}

	actx, acancel := chromedp.NewExecAllocator(ctx, opts...)
	bctx, bcancel := chromedp.NewContext(actx)
	return bctx, func() {
		bcancel()
		acancel()
	}
}
